package core

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies errors crossing the adapter boundary. Core logic only ever
// inspects errors through their Kind; native framework errors are translated
// into one of these before they leave an adapter.
type Kind string

const (
	// KindUnsupportedFormat signals a provider tag without a registered message codec.
	KindUnsupportedFormat Kind = "UNSUPPORTED_FORMAT"
	// KindUnsupportedProvider signals a provider tag missing from the registry.
	KindUnsupportedProvider Kind = "UNSUPPORTED_PROVIDER"
	// KindCapabilityUnsupported signals a capability the agent's descriptor does not advertise.
	KindCapabilityUnsupported Kind = "CAPABILITY_UNSUPPORTED"
	// KindAdapterBinding signals a native object that cannot be wrapped (fatal, construction time).
	KindAdapterBinding Kind = "ADAPTER_BINDING"
	// KindProvider signals an LLM backend failure (see Error.Transient).
	KindProvider Kind = "PROVIDER_ERROR"
	// KindToolInvocation signals a failure of the agent behind a bridged tool.
	KindToolInvocation Kind = "TOOL_INVOCATION"
	// KindMemory signals read/append/clear failures of the underlying store.
	KindMemory Kind = "MEMORY_ERROR"
	// KindToolNameCollision signals a duplicate tool registration.
	KindToolNameCollision Kind = "TOOL_NAME_COLLISION"
	// KindInvalidMessage signals a message violating the message invariants.
	KindInvalidMessage Kind = "INVALID_MESSAGE"
	// KindInvalidConfig signals a configuration that failed validation.
	KindInvalidConfig Kind = "INVALID_CONFIG"
)

// Sentinels usable with errors.Is. Any *Error of the same Kind matches.
var (
	ErrUnsupportedFormat     = &Error{Kind: KindUnsupportedFormat}
	ErrUnsupportedProvider   = &Error{Kind: KindUnsupportedProvider}
	ErrCapabilityUnsupported = &Error{Kind: KindCapabilityUnsupported}
	ErrAdapterBinding        = &Error{Kind: KindAdapterBinding}
	ErrProvider              = &Error{Kind: KindProvider}
	ErrToolInvocation        = &Error{Kind: KindToolInvocation}
	ErrMemory                = &Error{Kind: KindMemory}
	ErrToolNameCollision     = &Error{Kind: KindToolNameCollision}
	ErrInvalidMessage        = &Error{Kind: KindInvalidMessage}
	ErrInvalidConfig         = &Error{Kind: KindInvalidConfig}
)

// Error is the typed error of the interoperability core. It implements
// errors.Is (by Kind) and errors.Unwrap so callers can match either the kind
// or the underlying cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "openai.complete"
	Message string
	Err     error
	// Transient is only meaningful for KindProvider: true for rate limits,
	// timeouts and 5xx-equivalents, false for bad credentials or invalid requests.
	Transient bool
	// Context carries non-sensitive diagnostic fields (never credentials).
	Context map[string]any
}

func (e *Error) Error() string {
	kind := string(e.Kind)
	if e.Kind == KindProvider {
		if e.Transient {
			kind += "{transient}"
		} else {
			kind += "{permanent}"
		}
	}

	msg := e.Message
	if e.Op != "" {
		if msg == "" {
			msg = e.Op
		} else {
			msg = e.Op + ": " + msg
		}
	}

	switch {
	case e.Err != nil && msg != "":
		return fmt.Sprintf("[%s] %s: %v", kind, msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("[%s] %v", kind, e.Err)
	default:
		return fmt.Sprintf("[%s] %s", kind, msg)
	}
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// WithContext adds a diagnostic key/value and returns the error for chaining.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates an *Error of the given kind.
func NewError(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: cause}
}

// UnsupportedFormat reports a message codec lookup failure.
func UnsupportedFormat(tag string) *Error {
	return NewError(KindUnsupportedFormat, "format", fmt.Sprintf("no message format registered for %q", tag), nil)
}

// UnsupportedProvider reports a provider registry lookup failure.
func UnsupportedProvider(tag string) *Error {
	return NewError(KindUnsupportedProvider, "provider", fmt.Sprintf("provider %q is not registered", tag), nil)
}

// CapabilityUnsupported reports a capability the agent does not advertise.
func CapabilityUnsupported(agent, capability string) *Error {
	return NewError(KindCapabilityUnsupported, capability, fmt.Sprintf("agent %q does not support %s", agent, capability), nil)
}

// AdapterBindingError reports a native object that lacks the surface an adapter needs.
func AdapterBindingError(framework, msg string, cause error) *Error {
	return NewError(KindAdapterBinding, framework, msg, cause)
}

// TransientProviderError reports a retryable provider failure.
func TransientProviderError(op string, cause error) *Error {
	e := NewError(KindProvider, op, "", cause)
	e.Transient = true
	return e
}

// PermanentProviderError reports a non-retryable provider failure.
func PermanentProviderError(op string, cause error) *Error {
	return NewError(KindProvider, op, "", cause)
}

// ToolInvocationError reports a failure of the agent behind a bridged tool.
func ToolInvocationError(tool string, cause error) *Error {
	return NewError(KindToolInvocation, tool, "wrapped agent failed", cause)
}

// MemoryError reports a failure of the underlying memory store.
func MemoryError(op string, cause error) *Error {
	return NewError(KindMemory, op, "", cause)
}

// KindOf returns the Kind of the outermost *Error in the chain, or "" when
// the chain contains none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether the chain contains a transient provider error.
// Every *Error in the chain is inspected, so a ToolInvocationError wrapping a
// transient provider failure is itself considered transient.
func IsTransient(err error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindProvider {
			return e.Transient
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if IsTransient(inner) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}
	return false
}

// IsCancellation reports whether err stems from context cancellation or expiry.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
