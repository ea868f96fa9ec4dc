package lm

import "context"

var bertSpec = familySpec{
	family:       FamilyBert,
	segmentIDs:   true,
	defaultUnkID: 100,
}

// Bert adapts a BERT encoder. Segment ids are passed through and the pooled
// output is the encoder's own pooler.
type Bert struct {
	*transformer
}

// LoadBert loads a saved model directory, a local HF export or a hub id.
func LoadBert(ctx context.Context, nameOrPath string, opts ...Option) (*Bert, error) {
	t, err := loadTransformer(ctx, bertSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Bert{t}, nil
}
