package lm

import "context"

// xlmrAddedTokens is the size difference between the XLM-RoBERTa tokenizer
// and the embedding matrix of the released checkpoints.
const xlmrAddedTokens = 3

var xlmRobertaSpec = familySpec{
	family:       FamilyXLMRoberta,
	segmentIDs:   true,
	defaultUnkID: 3,
}

// XLMRoberta adapts a multilingual XLM-RoBERTa encoder.
type XLMRoberta struct {
	*transformer
}

// LoadXLMRoberta loads the encoder. Load additionally grows the vocabulary by
// three tokens for models that were not saved by this package.
func LoadXLMRoberta(ctx context.Context, nameOrPath string, opts ...Option) (*XLMRoberta, error) {
	t, err := loadTransformer(ctx, xlmRobertaSpec, nameOrPath, newLoadOptions(opts))
	if err != nil {
		return nil, err
	}
	return &XLMRoberta{t}, nil
}
