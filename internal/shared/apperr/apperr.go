// Package apperr defines the error taxonomy shared by the HTTP surface,
// the websocket gateway and the execution sandbox.
//
// Every error that crosses a component boundary is either an *Error with a
// Kind, or is treated as KindInternal. Transports map kinds to their own
// vocabulary (HTTP status codes, websocket error codes) in one place.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUnsupportedLanguage
	KindTimeout
	KindInfra
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not-found"
	case KindUnsupportedLanguage:
		return "unsupported-language"
	case KindTimeout:
		return "timeout"
	case KindInfra:
		return "infra"
	default:
		return "internal"
	}
}

// ParseKind is the inverse of Kind.String; unknown names are KindInternal.
func ParseKind(name string) Kind {
	for _, k := range []Kind{KindValidation, KindNotFound, KindUnsupportedLanguage, KindTimeout, KindInfra} {
		if k.String() == name {
			return k
		}
	}
	return KindInternal
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "session.join"
	Msg  string // message safe to show to clients
	Err  error  // underlying cause, never shown to clients
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.NotFound("", ""))
// style checks work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

// New creates a classified error
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Validation reports a malformed or missing request field.
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

// NotFound reports an unknown session or member.
func NotFound(op, format string, args ...interface{}) *Error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...))
}

// UnsupportedLanguage reports a language tag outside the configured profile set.
func UnsupportedLanguage(op, language string) *Error {
	return New(KindUnsupportedLanguage, op, fmt.Sprintf("unsupported language %q", language))
}

// Timeout reports an execution that exceeded its wall-clock bound.
func Timeout(op, format string, args ...interface{}) *Error {
	return New(KindTimeout, op, fmt.Sprintf(format, args...))
}

// Infra reports a sandbox or runtime failure unrelated to user input.
func Infra(op string, err error, msg string) *Error {
	return Wrap(KindInfra, op, err, msg)
}

// Internal reports an unexpected failure.
func Internal(op string, err error) *Error {
	return Wrap(KindInternal, op, err, "internal error")
}

// Sentinels for errors.Is checks.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnsupportedLanguage = &Error{Kind: KindUnsupportedLanguage}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrInfra               = &Error{Kind: KindInfra}
	ErrInternal            = &Error{Kind: KindInternal}
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		if e.Kind == KindInternal {
			return "internal error"
		}
		return e.Msg
	}
	return "internal error"
}
