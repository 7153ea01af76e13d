// Package errs implements the error taxonomy from the runtime's failure
// model: a small set of typed error kinds that every component returns so
// callers can branch on Kind instead of parsing messages. Errors preserve
// their cause chain for errors.Is/As while remaining safe to serialize onto
// a run record's last_error field.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error into a stable, user-facing category.
type Kind string

const (
	KindConfiguration       Kind = "configuration_error"
	KindValidation          Kind = "validation_error"
	KindLLM                 Kind = "llm_error"
	KindToolNotFound        Kind = "tool_not_found"
	KindToolArgument        Kind = "tool_argument_error"
	KindToolExecution       Kind = "tool_execution_error"
	KindStorage             Kind = "storage_error"
	KindContextOverflow     Kind = "context_overflow"
	KindCancelled           Kind = "cancelled"
	KindContinuationLimit   Kind = "continuation_limit_exceeded"
)

// LLMSub classifies the sub-kind of an LLMError.
type LLMSub string

const (
	LLMSubAPI            LLMSub = "api"
	LLMSubRateLimit      LLMSub = "rate_limit"
	LLMSubAuthentication LLMSub = "authentication"
	LLMSubInvalidRequest LLMSub = "invalid_request"
	LLMSubSDK            LLMSub = "sdk"
	LLMSubNetwork        LLMSub = "network"
	LLMSubTimeout        LLMSub = "timeout"
)

// ToolExecSub classifies the sub-kind of a ToolExecutionError.
type ToolExecSub string

const (
	ToolExecSubHTTP    ToolExecSub = "http"
	ToolExecSubAuth    ToolExecSub = "auth"
	ToolExecSubTimeout ToolExecSub = "timeout"
	ToolExecSubUnknown ToolExecSub = "unknown"
)

// Error is a structured runtime failure. It carries a stable Kind, a
// human-readable Message, an optional Sub-classification, a Details map for
// machine-readable context, and an optional wrapped Cause.
type Error struct {
	Kind    Kind
	Sub     string
	Message string
	Details map[string]any
	Cause   error
}

// New constructs an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithSub attaches a sub-classification and returns the receiver for chaining.
func (e *Error) WithSub(sub string) *Error {
	e.Sub = sub
	return e
}

// WithDetail attaches a machine-readable detail and returns the receiver for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Sub != "" {
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Sub, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Code returns the stable machine-readable code for the error, combining
// Kind and Sub when present (e.g. "llm_error.rate_limit").
func (e *Error) Code() string {
	if e.Sub != "" {
		return string(e.Kind) + "." + e.Sub
	}
	return string(e.Kind)
}

// As retrieves the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
