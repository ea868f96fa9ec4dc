package lm

import "github.com/raaihank/langmodel/internal/wordembed"

// Error is a typed language model error. Values declared below are used as
// sentinels with errors.Is; callers add context with fmt.Errorf("...: %w").
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

// Common error types
var (
	ErrUnknownFamily      = &Error{Type: "unknown_family", Message: "unknown language model family", Code: 2001}
	ErrModelNotLoaded     = &Error{Type: "model_not_loaded", Message: "model not loaded", Code: 2002}
	ErrInvalidInput       = &Error{Type: "invalid_input", Message: "invalid model input", Code: 2003}
	ErrInferenceFailed    = &Error{Type: "inference_failed", Message: "inference failed", Code: 2004}
	ErrConfigError        = &Error{Type: "config_error", Message: "configuration error", Code: 2005}
	ErrLanguageAmbiguous  = &Error{Type: "language_ambiguous", Message: "could not detect language from model name", Code: 2007}
	ErrBackendUnavailable = &Error{Type: "backend_unavailable", Message: "transformer backend not available in this build (rebuild with -tags onnx)", Code: 2008}
	ErrNotImplemented     = &Error{Type: "not_implemented", Message: "operation not implemented", Code: 2009}
)

// ErrMissingUnknownToken is returned when a word embedding vocabulary lacks [UNK].
var ErrMissingUnknownToken = wordembed.ErrMissingUnknownToken
