package errorsx

import (
	"errors"
	"net/http"
)

// Kind is a short machine-readable error class.
type Kind string

const (
	KindUnknown     Kind = "unknown"
	KindInput       Kind = "input"
	KindNotFound    Kind = "not_found"
	KindTranscode   Kind = "transcode"
	KindRecognition Kind = "recognition"
	KindValidation  Kind = "validation"
	KindSynthesis   Kind = "synthesis"
)

// Error carries a Kind and a user-facing message, optionally wrapping a cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error returns the user-facing message; the cause stays reachable through Unwrap.
func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to err.
func Wrap(err error, kind Kind, message string) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the outermost kind found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of the outermost classified error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// HTTPStatus maps an error to the status used for pre-stream failures.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInput, KindTranscode, KindRecognition, KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
