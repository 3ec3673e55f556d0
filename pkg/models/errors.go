package models

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors that callers may act on
type ErrorCode string

const (
	CodeNotFound                ErrorCode = "NOT_FOUND"
	CodeInvalidForkPoint        ErrorCode = "INVALID_FORK_POINT"
	CodeQueueMismatch           ErrorCode = "QUEUE_MISMATCH"
	CodeInvalidOption           ErrorCode = "INVALID_OPTION"
	CodeInvalidArgument         ErrorCode = "INVALID_ARGUMENT"
	CodeAgentFailure            ErrorCode = "AGENT_FAILURE"
	CodeConcurrentStateConflict ErrorCode = "CONCURRENT_STATE_CONFLICT"
	CodeUnavailable             ErrorCode = "UNAVAILABLE"
	CodeInternal                ErrorCode = "INTERNAL"
)

// Error is a coded error. Two errors match with errors.Is when their codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrInvalidForkPoint        = &Error{Code: CodeInvalidForkPoint}
	ErrQueueMismatch           = &Error{Code: CodeQueueMismatch}
	ErrInvalidOption           = &Error{Code: CodeInvalidOption}
	ErrInvalidArgument         = &Error{Code: CodeInvalidArgument}
	ErrAgentFailure            = &Error{Code: CodeAgentFailure}
	ErrConcurrentStateConflict = &Error{Code: CodeConcurrentStateConflict}
	ErrUnavailable             = &Error{Code: CodeUnavailable}
)

// Errorf builds a coded error with a formatted message
func Errorf(code ErrorCode, format string, args ...interface{}) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity of the given kind
func NotFound(kind, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// CodeOf returns the code carried by err, or CodeInternal when err is uncoded
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}
