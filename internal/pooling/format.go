package pooling

import "fmt"

// Prediction is the extracted vector of one input paired with its tokens.
// Vec is set for every strategy except per_token, which sets TokenVecs.
type Prediction struct {
	Context   []string    `json:"context"`
	Vec       []float32   `json:"vec,omitempty"`
	TokenVecs [][]float32 `json:"token_vecs,omitempty"`
}

// Input is one forward pass, already narrowed to the extraction layer.
type Input struct {
	// Sequence holds the token vectors of the extraction layer.
	Sequence [][][]float32
	// Pooled is the model's pooled output, used by the pooled strategy.
	Pooled      [][]float32
	PaddingMask [][]int32
	// Contexts are the token lists of the inputs, in batch order.
	Contexts [][]string
}

// FormatPredictions applies the extraction to a forward pass and returns one
// prediction per input.
func FormatPredictions(in *Input, e Extraction) ([]Prediction, error) {
	if err := ValidateLayer(e.Strategy, e.Layer, 0); err != nil {
		return nil, err
	}
	if len(in.Contexts) != len(in.Sequence) {
		return nil, fmt.Errorf("%w: %d contexts for %d sequences", ErrShapeMismatch, len(in.Contexts), len(in.Sequence))
	}

	var vecs [][]float32
	var err error
	switch e.Strategy {
	case Pooled:
		if len(in.Pooled) != len(in.Sequence) {
			return nil, fmt.Errorf("%w: %d pooled vectors for %d sequences", ErrShapeMismatch, len(in.Pooled), len(in.Sequence))
		}
		vecs = in.Pooled
	case CLSToken:
		vecs = CLS(in.Sequence)
	case ReduceMean, ReduceMax:
		if vecs, err = Pool(in.Sequence, in.PaddingMask, e.Strategy, e.IgnoreFirstToken); err != nil {
			return nil, err
		}
	case PerToken:
		preds := make([]Prediction, len(in.Sequence))
		for i, tokens := range in.Sequence {
			preds[i] = Prediction{Context: in.Contexts[i], TokenVecs: tokens}
		}
		return preds, nil
	}

	preds := make([]Prediction, len(vecs))
	for i, v := range vecs {
		preds[i] = Prediction{Context: in.Contexts[i], Vec: v}
	}
	return preds, nil
}
