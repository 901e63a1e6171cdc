package providers

import (
	"errors"
	"fmt"
)

// Code classifies a provider failure.
type Code string

const (
	CodeConfig              Code = "provider_config_error"
	CodeTransient           Code = "provider_transient_error"
	CodeTimeout             Code = "provider_timeout"
	CodeNetwork             Code = "provider_network_error"
	CodeRequestFailed       Code = "provider_request_failed"
	CodeRetriesExhausted    Code = "provider_retries_exhausted"
	CodeProviderUnsupported Code = "provider_unsupported"
	CodeResourceUnsupported Code = "resource_unsupported"
)

// Error is returned by every adapter operation. Retryable errors never
// escape an adapter: once retries are exhausted they are wrapped in an
// Error with CodeRetriesExhausted whose Err is the last classified failure.
type Error struct {
	Code       Code
	Provider   Name
	HTTPStatus int
	Retryable  bool
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Provider != "" {
		msg = string(e.Provider) + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by code, so errors.Is(err, ErrRetriesExhausted)
// holds for any provider.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Provider == "" || t.Provider == e.Provider)
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfig              = &Error{Code: CodeConfig}
	ErrTransient           = &Error{Code: CodeTransient}
	ErrTimeout             = &Error{Code: CodeTimeout}
	ErrNetwork             = &Error{Code: CodeNetwork}
	ErrRequestFailed       = &Error{Code: CodeRequestFailed}
	ErrRetriesExhausted    = &Error{Code: CodeRetriesExhausted}
	ErrProviderUnsupported = &Error{Code: CodeProviderUnsupported}
	ErrResourceUnsupported = &Error{Code: CodeResourceUnsupported}
)

// ConfigError reports missing or invalid adapter configuration.
func ConfigError(provider Name, format string, args ...any) *Error {
	return &Error{Code: CodeConfig, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// RequestFailed reports a non-retryable failure such as an invalid request
// or a vendor business error embedded in a successful response.
func RequestFailed(provider Name, format string, args ...any) *Error {
	return &Error{Code: CodeRequestFailed, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// Unsupported reports a provider or resource without an adapter.
func Unsupported(provider Name, resource Resource) *Error {
	if !Known(provider) {
		return &Error{Code: CodeProviderUnsupported, Provider: provider, Message: fmt.Sprintf("unsupported provider %q", provider)}
	}
	return &Error{Code: CodeResourceUnsupported, Provider: provider, Message: fmt.Sprintf("unsupported resource %q", resource)}
}

// IsRetryable reports whether a job that failed with err may succeed when the
// queue redelivers it. Exhausted retries qualify because the upstream may
// recover; configuration, request and dispatch errors do not. Errors that are
// not provider errors are assumed retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return true
	}
	switch pe.Code {
	case CodeRetriesExhausted, CodeTransient, CodeTimeout, CodeNetwork:
		return true
	default:
		return false
	}
}
