package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrTransient        = errors.New("transient resolution failure")
)

// Error carries a kind, the failing operation and a caller-facing message.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err may succeed if the caller tries again.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

func validationf(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func denied(op, msg string) error {
	return &Error{Kind: ErrPermissionDenied, Op: op, Msg: msg}
}

func notFound(op, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: "task " + id}
}

func transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}
