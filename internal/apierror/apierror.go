// Package apierror centralizes the HTTP control plane's error envelope so
// every handler returns the same {"hint": "..."} JSON shape with the
// right status code, instead of ad hoc gin.H{} literals per handler.
package apierror

import "net/http"

// Kind classifies an API error onto an HTTP status code.
type Kind int

const (
	ErrValidation Kind = iota
	ErrConflict
	ErrNotFound
	ErrMethodNotAllowed
	ErrNotAcceptable
	ErrUnavailable
	ErrInternal
)

// Error is the typed error every HTTP handler returns; it carries both the
// machine-readable Kind and a human-readable Hint rendered to the client.
type Error struct {
	Kind Kind
	Hint string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Hint + ": " + e.err.Error()
	}
	return e.Hint
}

func (e *Error) Unwrap() error { return e.err }

// New builds an Error with no wrapped cause.
func New(kind Kind, hint string) *Error {
	return &Error{Kind: kind, Hint: hint}
}

// Wrap builds an Error around an underlying cause, keeping the cause out
// of the client-facing Hint but available to logs via errors.Unwrap.
func Wrap(kind Kind, hint string, err error) *Error {
	return &Error{Kind: kind, Hint: hint, err: err}
}

// StatusCode maps a Kind to the HTTP status the control plane responds
// with.
func (k Kind) StatusCode() int {
	switch k {
	case ErrValidation:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrNotAcceptable:
		return http.StatusNotAcceptable
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the JSON body shape for every error response.
type Envelope struct {
	Hint string `json:"hint"`
}
