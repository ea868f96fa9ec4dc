package lm

import "context"

var distilBertSpec = familySpec{
	family:       FamilyDistilBert,
	segmentIDs:   false,
	summary:      true,
	summaryToken: SummaryFirst,
	summaryTanh:  true,
	defaultUnkID: 100,
}

// DistilBert adapts a DistilBERT encoder. DistilBERT takes no segment ids and
// has no pooler, so the pooled output is a dense + tanh projection of the
// first token.
type DistilBert struct {
	*transformer
}

func LoadDistilBert(ctx context.Context, nameOrPath string, opts ...Option) (*DistilBert, error) {
	t, err := loadTransformer(ctx, distilBertSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &DistilBert{t}, nil
}
