package wordembed

// Error is a typed word embedding error
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
	ErrMissingUnknownToken = &Error{Type: "missing_unknown_token", Message: "no [UNK] symbol in word embedding vocabulary", Code: 2101}
	ErrNoVectors           = &Error{Type: "no_vectors", Message: "no valid vectors found in embeddings file", Code: 2102}
	ErrInvalidResize       = &Error{Type: "invalid_resize", Message: "embedding table can only grow", Code: 2103}
	ErrInvalidInput        = &Error{Type: "invalid_input", Message: "invalid word embedding input", Code: 2104}
)
