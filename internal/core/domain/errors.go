package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeValidation            ErrorCode = "VALIDATION"
	CodeNotFound              ErrorCode = "NOT_FOUND"
	CodeInvalidTransition     ErrorCode = "INVALID_TRANSITION"
	CodeAlreadyExecuted       ErrorCode = "ALREADY_EXECUTED"
	CodeNotExecuted           ErrorCode = "NOT_EXECUTED"
	CodeConfigurationNotFound ErrorCode = "CONFIGURATION_NOT_FOUND"
	CodeStorageUnavailable    ErrorCode = "STORAGE_UNAVAILABLE"
)

// Error is the typed failure returned by every engine operation.
//
// Current and Requested are only set for INVALID_TRANSITION. Err carries the
// underlying cause for STORAGE_UNAVAILABLE.
type Error struct {
	Code      ErrorCode
	Message   string
	Current   OrderStatus
	Requested OrderStatus
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so the bare sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrValidation            = &Error{Code: CodeValidation}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrInvalidTransition     = &Error{Code: CodeInvalidTransition}
	ErrAlreadyExecuted       = &Error{Code: CodeAlreadyExecuted}
	ErrNotExecuted           = &Error{Code: CodeNotExecuted}
	ErrConfigurationNotFound = &Error{Code: CodeConfigurationNotFound}
	ErrStorageUnavailable    = &Error{Code: CodeStorageUnavailable}
)

func Validationf(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind, id string) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

func InvalidTransition(current, requested OrderStatus) error {
	return &Error{
		Code:      CodeInvalidTransition,
		Message:   fmt.Sprintf("cannot move order from %s to %s", current, requested),
		Current:   current,
		Requested: requested,
	}
}

func AlreadyExecuted(cabinetOrderID string) error {
	return &Error{Code: CodeAlreadyExecuted, Message: fmt.Sprintf("cabinet order %s already executed", cabinetOrderID)}
}

func NotExecuted(cabinetOrderID string) error {
	return &Error{Code: CodeNotExecuted, Message: fmt.Sprintf("cabinet order %s is not executed", cabinetOrderID)}
}

func ConfigurationNotFound(ref CabinetRef) error {
	return &Error{Code: CodeConfigurationNotFound, Message: fmt.Sprintf("no planogram configured for cabinet %s", ref)}
}

func StorageUnavailable(err error) error {
	return &Error{Code: CodeStorageUnavailable, Message: "storage unavailable", Err: err}
}

// CodeOf returns the error code carried by err, or "" when err is not an engine error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
