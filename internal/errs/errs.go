// Package errs implements the error taxonomy shared by every component:
// Validation, NotFound, Permission, Timeout, Provider, Channel, Tool, and
// Panic. Only Provider and Timeout kinds carry retry semantics; the rest
// are surfaced to the caller (often the LLM, as a tool result) as-is.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for propagation and retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindPermission Kind = "permission"
	KindTimeout    Kind = "timeout"
	KindProvider   Kind = "provider"
	KindChannel    Kind = "channel"
	KindTool       Kind = "tool"
	KindPanic      Kind = "panic"
)

// Retryable reports whether errors of this kind may succeed if retried.
// Only Timeout and transient Provider errors are retryable; callers that
// need the transient/terminal distinction within KindProvider should check
// a *Error's Transient field.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindProvider:
		return true
	default:
		return false
	}
}

// Error is a structured, typed error carrying enough context for the
// runtime to decide whether to retry, report to the LLM, or abort the
// turn with a user-visible apology.
type Error struct {
	Kind      Kind
	Message   string
	Transient bool  // only meaningful for KindProvider/KindTimeout
	Cause     error // wrapped underlying error, if any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparison by Kind: errors.Is(err, errs.New(KindTimeout, ""))
// matches any *Error with the same Kind, regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs a bare *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a *Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validation, NotFound, Permission, Timeout, Channel, Tool, and Panic are
// convenience constructors for the non-retryable (or fixed-transience)
// kinds.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func Permission(format string, args ...any) *Error {
	return New(KindPermission, fmt.Sprintf(format, args...))
}

func Timeout(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...), Transient: true}
}

func Channel(cause error, format string, args ...any) *Error {
	return Wrap(KindChannel, fmt.Sprintf(format, args...), cause)
}

func Tool(cause error, format string, args ...any) *Error {
	return Wrap(KindTool, fmt.Sprintf(format, args...), cause)
}

func Panic(recovered any) *Error {
	return &Error{Kind: KindPanic, Message: fmt.Sprintf("recovered: %v", recovered)}
}

// Provider constructs a provider error; transient marks it eligible for
// bounded retry by the runtime (rate limits, 5xx, malformed-but-retryable
// responses). Non-transient provider errors end the turn.
func Provider(transient bool, cause error, format string, args ...any) *Error {
	return &Error{Kind: KindProvider, Message: fmt.Sprintf(format, args...), Transient: transient, Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error, and
// whether extraction succeeded.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsRetryable reports whether err should be retried per the runtime's
// failure model: a *Error of KindTimeout, or a KindProvider error marked
// Transient.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTimeout:
		return true
	case KindProvider:
		return e.Transient
	default:
		return false
	}
}
