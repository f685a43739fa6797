// Package fault carries the error taxonomy shared by every lifecycle
// operation. The transport layer maps kinds to HTTP status codes; the
// managers decide the kind at the point where they know why an
// operation cannot proceed.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindUnknown is an internal failure with no better classification.
	KindUnknown Kind = iota
	// KindValidation marks malformed or incomplete input.
	KindValidation
	// KindAuthorization marks an actor acting outside their rights.
	KindAuthorization
	// KindConflict marks a state race lost: someone else already acted.
	KindConflict
	// KindNotFound marks an id that does not resolve.
	KindNotFound
	// KindDependency marks an unavailable collaborator (store, broker).
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, unwrapping as needed. Errors without
// a fault kind report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }
func IsConflict(err error) bool      { return KindOf(err) == KindConflict }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsDependency(err error) bool    { return KindOf(err) == KindDependency }
