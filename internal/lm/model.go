package lm

import (
	"context"
	"fmt"
)

// LanguageModel is the shared capability of every supported family: it reads
// tokenized batches and returns one vector per token plus one per sequence.
type LanguageModel interface {
	Family() Family
	Name() string
	Language() string
	Config() *ModelConfig
	OutputDims() (int, error)
	NumLayers() int

	// Forward runs the model over a padded batch.
	Forward(ctx context.Context, batch *Batch) (*Output, error)

	EnableHiddenStates()
	DisableHiddenStates()
	HiddenStatesEnabled() bool

	// ResizeTokenEmbeddings sets the vocabulary size and returns the new size.
	// n <= 0 leaves it unchanged and returns the current size.
	ResizeTokenEmbeddings(n int) (int, error)

	// Save writes the model in the sidecar format so Load can read it back.
	Save(dir string) error
	Close() error
}

// Batch is a padded batch of token ids, shaped [batch][seq].
type Batch struct {
	InputIDs    [][]int32
	SegmentIDs  [][]int32
	PaddingMask [][]int32
}

// Size returns the number of sequences.
func (b *Batch) Size() int {
	return len(b.InputIDs)
}

// SeqLen returns the padded sequence length.
func (b *Batch) SeqLen() int {
	if len(b.InputIDs) == 0 {
		return 0
	}
	return len(b.InputIDs[0])
}

// Validate checks that the batch is rectangular and the mask is binary.
// SegmentIDs may be nil.
func (b *Batch) Validate() error {
	if b == nil || len(b.InputIDs) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidInput)
	}
	seqLen := len(b.InputIDs[0])
	if seqLen == 0 {
		return fmt.Errorf("%w: empty sequence", ErrInvalidInput)
	}
	if len(b.PaddingMask) != len(b.InputIDs) {
		return fmt.Errorf("%w: padding mask has %d rows, want %d", ErrInvalidInput, len(b.PaddingMask), len(b.InputIDs))
	}
	if b.SegmentIDs != nil && len(b.SegmentIDs) != len(b.InputIDs) {
		return fmt.Errorf("%w: segment ids have %d rows, want %d", ErrInvalidInput, len(b.SegmentIDs), len(b.InputIDs))
	}
	for i := range b.InputIDs {
		if len(b.InputIDs[i]) != seqLen || len(b.PaddingMask[i]) != seqLen {
			return fmt.Errorf("%w: row %d is not padded to length %d", ErrInvalidInput, i, seqLen)
		}
		if b.SegmentIDs != nil && len(b.SegmentIDs[i]) != seqLen {
			return fmt.Errorf("%w: segment row %d is not padded to length %d", ErrInvalidInput, i, seqLen)
		}
		for _, m := range b.PaddingMask[i] {
			if m != 0 && m != 1 {
				return fmt.Errorf("%w: padding mask must be 0 or 1, got %d", ErrInvalidInput, m)
			}
		}
		for _, id := range b.InputIDs[i] {
			if id < 0 {
				return fmt.Errorf("%w: negative token id %d", ErrInvalidInput, id)
			}
		}
	}
	return nil
}

// Output is the result of a forward pass.
type Output struct {
	// Sequence is the final layer, one vector per token: [batch][seq][hidden].
	Sequence [][][]float32
	// Pooled is one vector per sequence: [batch][hidden].
	Pooled [][]float32
	// HiddenStates holds every layer including the embedding output first:
	// [layers+1][batch][seq][hidden]. Nil unless hidden states are enabled.
	HiddenStates [][][][]float32
}

// Layer returns the per-token vectors of a layer. -1 is the final layer and
// other negative indexes count from the end of HiddenStates.
func (o *Output) Layer(index int) ([][][]float32, error) {
	if index == -1 {
		return o.Sequence, nil
	}
	if o.HiddenStates == nil {
		return nil, fmt.Errorf("%w: layer %d requested but hidden states are disabled", ErrInvalidInput, index)
	}
	n := len(o.HiddenStates)
	i := index
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: layer %d out of range for %d hidden states", ErrInvalidInput, index, n)
	}
	return o.HiddenStates[i], nil
}
