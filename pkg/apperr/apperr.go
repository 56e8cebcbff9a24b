package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies failures surfaced to callers.
type Kind string

const (
	InputError     Kind = "InputError"
	NotFound       Kind = "NotFound"
	Timeout        Kind = "Timeout"
	SpawnError     Kind = "SpawnError"
	RunnerError    Kind = "RunnerError"
	ParseError     Kind = "ParseError"
	ServerError    Kind = "ServerError"
	IndicatorError Kind = "IndicatorError"
)

// Error carries a Kind alongside a human readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if msg != "" {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, ServerError for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e.Kind != "" {
		return e.Kind
	}
	return ServerError
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InputError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Body is the wire shape of an error response.
type Body struct {
	OK    bool   `json:"ok"`
	Error Detail `json:"error"`
}

// Detail names the failure kind and message.
type Detail struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Response converts err into a status code and body.
func Response(err error) (int, Body) {
	kind := KindOf(err)
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return HTTPStatus(kind), Body{OK: false, Error: Detail{Type: kind, Message: msg}}
}
