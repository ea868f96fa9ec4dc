package lm

import "context"

var robertaSpec = familySpec{
	family:       FamilyRoberta,
	segmentIDs:   true,
	defaultUnkID: 3,
}

// Roberta adapts a RoBERTa encoder.
type Roberta struct {
	*transformer
}

func LoadRoberta(ctx context.Context, nameOrPath string, opts ...Option) (*Roberta, error) {
	t, err := loadTransformer(ctx, robertaSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Roberta{t}, nil
}
