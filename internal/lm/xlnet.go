package lm

import "context"

var xlnetSpec = familySpec{
	family:       FamilyXLNet,
	segmentIDs:   true,
	summary:      true,
	summaryToken: SummaryLast,
	summaryTanh:  true,
	defaultUnkID: 0,
}

// XLNet adapts an XLNet encoder. The pooled output is a tanh dense projection
// of the last unpadded token.
type XLNet struct {
	*transformer
}

func LoadXLNet(ctx context.Context, nameOrPath string, opts ...Option) (*XLNet, error) {
	t, err := loadTransformer(ctx, xlnetSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &XLNet{t}, nil
}
