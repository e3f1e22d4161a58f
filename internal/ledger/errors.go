package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies ledger-level rejections
type ErrorCode string

const (
	CodeInsufficientBalance ErrorCode = "insufficient_balance"
	CodeInvalidAuthority    ErrorCode = "invalid_authority"
	CodeMalformed           ErrorCode = "malformed"
	CodeNotFound            ErrorCode = "not_found"
	CodeConflict            ErrorCode = "conflict"
	CodeUnavailable         ErrorCode = "unavailable"
)

// Error is returned by ledger clients.
// Ambiguous is set when the submission outcome is unknown (timeout or
// disconnect after the request left the client).
type Error struct {
	Code      ErrorCode
	Message   string
	Ambiguous bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Ambiguous {
		msg += " (outcome unknown)"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a definite ledger error
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AmbiguousError wraps a transport failure whose effect may have landed
func AmbiguousError(op string, err error) *Error {
	return &Error{
		Code:      CodeUnavailable,
		Message:   fmt.Sprintf("%s submission did not confirm", op),
		Ambiguous: true,
		Err:       err,
	}
}

// CodeOf returns the ledger error code carried by err, or "" if none
func CodeOf(err error) ErrorCode {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsNotFound reports whether err is a ledger lookup miss
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsAmbiguous reports whether err leaves the submission outcome unknown.
// A context deadline hit while waiting for confirmation counts as ambiguous.
func IsAmbiguous(err error) bool {
	if err == nil {
		return false
	}
	var le *Error
	if errors.As(err, &le) && le.Ambiguous {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
