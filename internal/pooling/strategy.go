package pooling

import (
	"fmt"
	"strings"
)

// Strategy selects how token vectors become the extracted output.
type Strategy string

const (
	Pooled     Strategy = "pooled"
	PerToken   Strategy = "per_token"
	ReduceMean Strategy = "reduce_mean"
	ReduceMax  Strategy = "reduce_max"
	CLSToken   Strategy = "cls_token"
)

// FinalLayer is the layer index of the last transformer layer.
const FinalLayer = -1

// Error is a typed pooling error
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidStrategy = &Error{Type: "invalid_strategy", Message: "unknown extraction strategy", Code: 3001}
	ErrInvalidLayer    = &Error{Type: "invalid_layer", Message: "invalid extraction layer", Code: 3002}
	ErrShapeMismatch   = &Error{Type: "shape_mismatch", Message: "vectors and mask shapes differ", Code: 3003}
)

// Strategies returns every strategy.
func Strategies() []Strategy {
	return []Strategy{Pooled, PerToken, ReduceMean, ReduceMax, CLSToken}
}

// ParseStrategy parses a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q (valid: pooled, per_token, reduce_mean, reduce_max, cls_token)", ErrInvalidStrategy, s)
	}
	return st, nil
}

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case Pooled, PerToken, ReduceMean, ReduceMax, CLSToken:
		return true
	}
	return false
}

// Extraction is a strategy applied to one layer.
type Extraction struct {
	Strategy         Strategy `json:"strategy" yaml:"strategy" mapstructure:"strategy"`
	Layer            int      `json:"layer" yaml:"layer" mapstructure:"layer"`
	IgnoreFirstToken bool     `json:"ignore_first_token" yaml:"ignore_first_token" mapstructure:"ignore_first_token"`
}

// IsFinalLayer reports whether layer addresses the last layer of a model with
// numLayers transformer layers. numLayers <= 0 means unknown.
func IsFinalLayer(layer, numLayers int) bool {
	return layer == FinalLayer || (numLayers > 0 && layer == numLayers)
}

// ValidateLayer checks a strategy/layer pair. The pooled output only exists
// for the final layer. Layers index the hidden states, embedding output
// first, so a model with numLayers layers has numLayers+1 of them.
func ValidateLayer(strategy Strategy, layer, numLayers int) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	if strategy == Pooled && !IsFinalLayer(layer, numLayers) {
		return fmt.Errorf("%w: pooled output is only available for the final layer (-1), got %d", ErrInvalidLayer, layer)
	}
	if numLayers > 0 {
		states := numLayers + 1
		if layer >= states || layer < -states {
			return fmt.Errorf("%w: layer %d out of range for a model with %d layers", ErrInvalidLayer, layer, numLayers)
		}
	}
	return nil
}

// Validate checks the extraction against a model with numLayers layers.
func (e Extraction) Validate(numLayers int) error {
	return ValidateLayer(e.Strategy, e.Layer, numLayers)
}

func (e Extraction) String() string {
	return fmt.Sprintf("%s@%d", e.Strategy, e.Layer)
}
