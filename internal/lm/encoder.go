package lm

import (
	"context"

	"go.uber.org/zap"
)

// Encoder is a pluggable backend running the transformer math of a family.
// Implementations may use ONNX Runtime or any other engine.
type Encoder interface {
	// Encode runs a single inference over the batch.
	Encode(ctx context.Context, batch *Batch, opts EncodeOptions) (*EncoderOutput, error)
	// VocabSize is the size of the embedding matrix inside the backend, 0 if unknown.
	VocabSize() int
	// HasPooledOutput reports whether Encode fills EncoderOutput.Pooled.
	HasPooledOutput() bool
	// Close releases any native resources.
	Close() error
}

// EncodeOptions selects optional inputs and outputs.
type EncodeOptions struct {
	UseSegmentIDs bool
	HiddenStates  bool
}

// EncoderOutput is the raw backend output.
type EncoderOutput struct {
	LastHidden   [][][]float32
	Pooled       [][]float32
	HiddenStates [][][][]float32
}

// EncoderFactory opens an encoder for a weights file.
type EncoderFactory func(weightsPath string, cfg *ModelConfig, logger *zap.Logger) (Encoder, error)

// DefaultEncoderFactory is NewOnnxEncoder. Builds without the onnx tag get a
// factory returning ErrBackendUnavailable.
var DefaultEncoderFactory EncoderFactory = NewOnnxEncoder
