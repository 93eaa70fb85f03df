package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeNotAssigned       ErrorCode = "NOT_ASSIGNED"
	CodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeNotFound          ErrorCode = "NOT_FOUND"
)

// Error is the engine's user-facing error. Two errors match under errors.Is
// when their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrNotAssigned       = &Error{Code: CodeNotAssigned, Message: "not assigned"}
	ErrIllegalTransition = &Error{Code: CodeIllegalTransition, Message: "illegal transition"}
	ErrBadRequest        = &Error{Code: CodeBadRequest, Message: "bad request"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
)

// Store level conditions. Only ErrVersionConflict reaches callers, once the
// append retries are spent.
var (
	ErrVersionConflict      = errors.New("event version conflict")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTrackingIDTaken      = errors.New("tracking id already taken")
)

func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
