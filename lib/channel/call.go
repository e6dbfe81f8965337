package channel

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by host-side invocations when the plugin
// has no handler for the method (or no handler bound to the channel at
// all). Callers treat it as absence of functionality, not as failure.
var ErrNotImplemented = errors.New("method not implemented")

// MethodCall is a named request sent over a channel. Arguments are
// optional and untyped; the channel's codec fixes their wire form.
type MethodCall struct {
	Method    string
	Arguments any
}

// MethodResult is the outcome of handling a method call. Exactly one of
// the three states applies: a success value, an error with a code and
// message, or not-implemented.
type MethodResult struct {
	Status  Status
	Value   any
	Code    string
	Message string
	Details any
}

// Success builds an OK result carrying value.
func Success(value any) MethodResult {
	return MethodResult{Status: StatusOK, Value: value}
}

// Failure builds an error result with a machine-readable code and a
// human-readable message.
func Failure(code, message string) MethodResult {
	return MethodResult{Status: StatusError, Code: code, Message: message}
}

// FailureWithDetails is Failure with an extra codec-encodable details value.
func FailureWithDetails(code, message string, details any) MethodResult {
	return MethodResult{Status: StatusError, Code: code, Message: message, Details: details}
}

// NotImplemented builds the result signaling the method is unsupported.
func NotImplemented() MethodResult {
	return MethodResult{Status: StatusNotImplemented}
}

// OK reports whether the result is a success.
func (r MethodResult) OK() bool {
	return r.Status == StatusOK
}

// MethodError is the host-side form of an error result: what Invoke
// returns when the plugin answered with StatusError.
type MethodError struct {
	Code    string
	Message string
	Details any
}

// Error implements the error interface.
func (e *MethodError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("method error %s", e.Code)
	}
	return fmt.Sprintf("method error %s: %s", e.Code, e.Message)
}
