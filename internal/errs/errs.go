// Package errs defines the error taxonomy shared by HTTP handlers, the
// command dispatcher, and the protection workers. Every error that crosses a
// component boundary carries exactly one Kind so callers can map it to an
// HTTP status or a retry decision without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error for transport and retry policy.
type Kind string

const (
	KindAuth           Kind = "AUTH"
	KindValidation     Kind = "VALIDATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindConflict       Kind = "CONFLICT"
	KindTransient      Kind = "TRANSIENT"
	KindBrokerRejected Kind = "BROKER_REJECTED"
	KindTimeout        Kind = "TIMEOUT"
	KindInternal       Kind = "INTERNAL"
)

// Error is a kinded error. Msg is safe to return to the EA; Err carries the
// wrapped cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a kinded error. The cause is optional.
func E(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Ef builds a kinded error with a formatted message and no cause.
func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the transport-safe message from an error chain, falling
// back to the raw error text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// HTTPStatus maps a Kind to the status code the EA transport uses.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation, KindBrokerRejected:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// retriableFragments are the error-text markers the EA and broker bridge
// produce for conditions worth retrying. Matching is case-insensitive.
var retriableFragments = []string{
	"timeout",
	"connection",
	"network",
	"temporary",
	"try again",
}

// Retriable reports whether a command error text indicates a transient
// condition. Kinded Transient/Timeout errors are always retriable.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindTransient, KindTimeout:
		return true
	case KindValidation, KindBrokerRejected, KindAuth:
		return false
	}
	return RetriableText(err.Error())
}

// RetriableText applies the substring rule to a raw error string, e.g. the
// error_message field of a command response.
func RetriableText(text string) bool {
	lower := strings.ToLower(text)
	for _, fragment := range retriableFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
