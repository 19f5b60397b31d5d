package clamav

import (
	"errors"
	"fmt"
)

// Error codes for machine-readable error classification.
const (
	CodeConnectFailed   = "connect_failed"
	CodeSendFailed      = "send_failed"
	CodeReadFailed      = "read_failed"
	CodeResponseTimeout = "response_timeout"
	CodeValidation      = "validation_error"
)

// Error is the base error type for all scan errors.
type Error struct {
	// Code is a machine-readable error code.
	Code string
	// Message is a human-readable error description.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewConnectError creates an error indicating the daemon could not be reached.
func NewConnectError(msg string, cause error) *Error {
	return &Error{Code: CodeConnectFailed, Message: msg, Cause: cause}
}

// NewSendError creates an error indicating a frame could not be written.
func NewSendError(msg string, cause error) *Error {
	return &Error{Code: CodeSendFailed, Message: msg, Cause: cause}
}

// NewReadError creates an error indicating the reply or the input stream could not be read.
func NewReadError(msg string, cause error) *Error {
	return &Error{Code: CodeReadFailed, Message: msg, Cause: cause}
}

// NewResponseTimeoutError creates an error indicating the daemon did not reply in time.
func NewResponseTimeoutError(msg string, cause error) *Error {
	return &Error{Code: CodeResponseTimeout, Message: msg, Cause: cause}
}

// NewValidationError creates an error indicating an invalid setting value.
func NewValidationError(msg string, cause error) *Error {
	return &Error{Code: CodeValidation, Message: msg, Cause: cause}
}

// IsConnectError reports whether err is or wraps a connect error.
func IsConnectError(err error) bool {
	return hasCode(err, CodeConnectFailed)
}

// IsSendError reports whether err is or wraps a send error.
func IsSendError(err error) bool {
	return hasCode(err, CodeSendFailed)
}

// IsReadError reports whether err is or wraps a read error.
func IsReadError(err error) bool {
	return hasCode(err, CodeReadFailed)
}

// IsResponseTimeoutError reports whether err is or wraps a response timeout.
func IsResponseTimeoutError(err error) bool {
	return hasCode(err, CodeResponseTimeout)
}

// IsValidationError reports whether err is or wraps a validation error.
func IsValidationError(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsTransportError reports whether err is any failure talking to the daemon.
func IsTransportError(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeConnectFailed, CodeSendFailed, CodeReadFailed, CodeResponseTimeout:
		return true
	}
	return false
}

func hasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
