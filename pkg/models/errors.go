package models

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfig               = errors.New("configuration error")
	ErrTransientFetch       = errors.New("transient fetch error")
	ErrFatalFetch           = errors.New("fatal fetch error")
	ErrMalformedModelOutput = errors.New("malformed model output")
	ErrObjectCreation       = errors.New("object creation failed")
	ErrRefUpdateConflict    = errors.New("ref update conflict")
	ErrTimeout              = errors.New("timeout")
	ErrUnsafeContent        = errors.New("unsafe content")
)

// Error carries an error kind, the failing operation and the underlying cause
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap builds an *Error. Deadline errors are reported as ErrTimeout regardless of kind.
// An error that already carries a kind keeps it.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an *Error from a formatted message
func Newf(kind error, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the name of the first known kind err matches, or "unknown"
func KindOf(err error) string {
	for _, k := range []error{
		ErrTimeout, ErrConfig, ErrTransientFetch, ErrFatalFetch, ErrMalformedModelOutput,
		ErrObjectCreation, ErrRefUpdateConflict, ErrUnsafeContent,
	} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "unknown"
}
