package grading

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindEmptyInput    Kind = "empty_input"
	KindShapeMismatch Kind = "shape_mismatch"
	KindInference     Kind = "inference"
)

// UserFacing reports whether the failure was caused by the submitted image
// rather than by the system.
func (k Kind) UserFacing() bool {
	return k == KindDecode || k == KindEmptyInput
}

// Error is a pipeline failure with a kind and a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Sentinels for errors.Is; they match any Error of the same kind.
var (
	ErrDecode        = &Error{Kind: KindDecode}
	ErrEmptyInput    = &Error{Kind: KindEmptyInput}
	ErrShapeMismatch = &Error{Kind: KindShapeMismatch}
	ErrInference     = &Error{Kind: KindInference}
)

// NewError builds an Error.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so wrapped errors compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
