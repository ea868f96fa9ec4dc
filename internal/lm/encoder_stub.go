//go:build !onnx
// +build !onnx

package lm

import (
	"go.uber.org/zap"
)

// NewOnnxEncoder is the stub used when the 'onnx' build tag is not set.
func NewOnnxEncoder(weightsPath string, cfg *ModelConfig, logger *zap.Logger) (Encoder, error) {
	logger.Warn("ONNX Runtime backend not compiled in", zap.String("weights", weightsPath))
	return nil, ErrBackendUnavailable
}
