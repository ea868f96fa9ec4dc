package lm

import "context"

var albertSpec = familySpec{
	family:       FamilyAlbert,
	segmentIDs:   true,
	defaultUnkID: 1,
}

// Albert adapts an ALBERT encoder.
type Albert struct {
	*transformer
}

func LoadAlbert(ctx context.Context, nameOrPath string, opts ...Option) (*Albert, error) {
	t, err := loadTransformer(ctx, albertSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &Albert{t}, nil
}
