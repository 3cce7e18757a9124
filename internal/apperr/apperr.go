// Package apperr defines the error taxonomy shared by the registry, the
// health monitor and the webhook hub. Every error that crosses a package
// boundary carries a Kind so callers can decide how to surface it without
// string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindCapacity   Kind = "capacity"
	KindNotFound   Kind = "not_found"
	KindProbe      Kind = "probe"
	KindDelivery   Kind = "delivery"
	KindInternal   Kind = "internal"
)

// Error is a classified error. Op names the operation that failed,
// for example "registry.Register".
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New classifies err. It returns nil when err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf classifies a formatted message.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost Kind found in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
