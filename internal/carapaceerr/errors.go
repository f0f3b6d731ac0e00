// Package carapaceerr defines the flat error taxonomy shared by the agent
// and server. Every error that can surface to a caller carries a stable
// Code so ingress adapters can map it to an HTTP status or CLI exit code
// without inspecting message text.
package carapaceerr

import "fmt"

// Code is a machine-readable error classification.
type Code string

const (
	CodeConnectionRefused   Code = "connection_refused"
	CodeConnectionLost      Code = "connection_lost"
	CodeReconnectionFailed  Code = "reconnection_failed"
	CodeRequestTimeout      Code = "request_timeout"
	CodeRequestNotFound     Code = "request_not_found"
	CodeInvalidMessage      Code = "invalid_message"
	CodeSocketBindFailed    Code = "socket_bind_failed"
	CodeConfigError         Code = "config_error"
	CodePolicyViolation     Code = "policy_violation"
	CodeShellInjection      Code = "shell_injection"
	CodeInvalidBinaryPath   Code = "invalid_binary_path"
	CodeProcessFailed       Code = "process_failed"
	CodeRateLimited         Code = "rate_limited"
	CodeToolNotFound        Code = "tool_not_found"
	CodeInvalidToolType     Code = "invalid_tool_type"
	CodeIOError             Code = "io_error"
	CodeSerializationError  Code = "serialization_error"
)

// Error is the error type used across the core pipeline. It carries a
// stable Code alongside a human-readable Message and an optional wrapped
// cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that records an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps a code to the status spec.md §7 assigns it. Codes with no
// HTTP-facing meaning fall back to 500.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidMessage, CodeSerializationError:
		return 400
	case CodePolicyViolation, CodeShellInjection, CodeInvalidBinaryPath:
		return 403
	case CodeRateLimited:
		return 429
	case CodeRequestTimeout:
		return 504
	default:
		return 500
	}
}
