package models

import (
	"errors"
	"fmt"
)

// Error codes used in tool responses and internal error handling.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeBrowserCrash  = "BROWSER_CRASH"
	ErrCodeNoChallenge   = "NO_CHALLENGE"
	ErrCodeLoginTimeout  = "LOGIN_TIMEOUT"
	ErrCodeNotify        = "NOTIFY_FAILED"
	ErrCodeIntercept     = "INTERCEPT_FAILED"
	ErrCodeReplay        = "REPLAY_FAILED"
	ErrCodeSecurityCheck = "SECURITY_CHECK"
	ErrCodeEmptyResult   = "EMPTY_RESULT"
)

// FetchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type FetchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError.
func NewFetchError(code, message string, err error) *FetchError {
	return &FetchError{Code: code, Message: message, Err: err}
}

// IsCode reports whether err is (or wraps) a FetchError with the given code.
func IsCode(err error, code string) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// UserMessage returns the operator-facing message for err: the FetchError
// message when available, otherwise the plain error text.
func UserMessage(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
