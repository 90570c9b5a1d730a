package board

import (
	"errors"
	"fmt"
)

// Error is a board rejection with a machine-readable code.
type Error struct {
	Code    string
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

// Is matches any *Error with the same code, so errors.Is(err, ErrSlotTaken)
// works no matter which message the rejection carries.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeInvalidTime = "INVALID_TIME"
	CodePastTime    = "PAST_TIME"
	CodeSlotTaken   = "SLOT_TAKEN"
	CodeStorage     = "STORAGE_ERROR"
)

var (
	ErrValidation  = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrInvalidTime = &Error{Code: CodeInvalidTime, Message: "Invalid schedule time."}
	ErrPastTime    = &Error{Code: CodePastTime, Message: "Schedule time must be in the future."}
	ErrSlotTaken   = &Error{Code: CodeSlotTaken, Message: "A message is already scheduled for that minute."}
	ErrStorage     = &Error{Code: CodeStorage, Message: "storage failure"}
)

func newError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// ValidationError reports a malformed mutation request.
func ValidationError(message string) *Error {
	return newError(CodeValidation, message, nil)
}

// CodeOf returns the board error code of err, or "" when err is not a board error.
func CodeOf(err error) string {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
