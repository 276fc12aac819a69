// Package hangarerr implements the error taxonomy from spec §7: a closed
// set of ErrorKind values, a HangarError carrying one of them plus a
// human-readable message, and the CountsAsFailure policy shared by the
// Health Tracker and Circuit Breaker.
package hangarerr

import "fmt"

// ErrorKind is one of the closed set of outcomes a dispatch can report.
type ErrorKind int

const (
	// Unknown is the zero value; never returned to a caller.
	Unknown ErrorKind = iota
	UnknownTarget
	UnknownTool
	InvalidArgument
	ProviderColdStartFailed
	TransportError
	Timeout
	Cancelled
	RateLimited
	CircuitOpen
	GroupUnavailable
	ToolError
)

// String returns the wire-stable kind name used as the JSON-RPC error code
// tag and in metrics labels.
func (k ErrorKind) String() string {
	switch k {
	case UnknownTarget:
		return "unknown_target"
	case UnknownTool:
		return "unknown_tool"
	case InvalidArgument:
		return "invalid_argument"
	case ProviderColdStartFailed:
		return "provider_cold_start_failed"
	case TransportError:
		return "transport_error"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case RateLimited:
		return "rate_limited"
	case CircuitOpen:
		return "circuit_open"
	case GroupUnavailable:
		return "group_unavailable"
	case ToolError:
		return "tool_error"
	default:
		return "unknown"
	}
}

// IsRetriable reports whether a caller may reasonably retry the call as-is.
// "policy-dependent"/"caller-decided" kinds (§7 table) are treated as
// retriable since bounded retry already happened inside the Manager before
// the kind reached the caller.
func (k ErrorKind) IsRetriable() bool {
	switch k {
	case UnknownTarget, UnknownTool, InvalidArgument, Cancelled:
		return false
	case ProviderColdStartFailed, TransportError, Timeout, RateLimited, CircuitOpen, GroupUnavailable, ToolError:
		return true
	default:
		return false
	}
}

// CountsAsFailure resolves spec §9's open question conservatively: tool_error
// is an application-level outcome and never counts against Health or the
// Circuit Breaker; transport-ish failures always do.
func CountsAsFailure(k ErrorKind) bool {
	switch k {
	case TransportError, Timeout, ProviderColdStartFailed:
		return true
	default:
		return false
	}
}

// Code returns a stable small integer for JSON-RPC error objects, distinct
// per kind and independent of iota ordering so it is safe to reorder the
// const block above without breaking wire compatibility.
func (k ErrorKind) Code() int {
	switch k {
	case UnknownTarget:
		return -32001
	case UnknownTool:
		return -32002
	case InvalidArgument:
		return -32003
	case ProviderColdStartFailed:
		return -32004
	case TransportError:
		return -32005
	case Timeout:
		return -32006
	case Cancelled:
		return -32007
	case RateLimited:
		return -32008
	case CircuitOpen:
		return -32009
	case GroupUnavailable:
		return -32010
	case ToolError:
		return -32011
	default:
		return -32000
	}
}

// HangarError is the concrete error type returned from every public
// operation in the core; it always carries one ErrorKind.
type HangarError struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Cause   error
}

func (e *HangarError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *HangarError) Unwrap() error {
	return e.Cause
}

// New builds a HangarError of the given kind.
func New(kind ErrorKind, message string) *HangarError {
	return &HangarError{Kind: kind, Message: message}
}

// Wrap builds a HangarError of the given kind around a lower-level cause.
func Wrap(kind ErrorKind, message string, cause error) *HangarError {
	return &HangarError{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields (e.g. for batch results)
// and returns the receiver for chaining.
func (e *HangarError) WithDetails(details map[string]any) *HangarError {
	e.Details = details
	return e
}

// KindOf extracts the ErrorKind from err, defaulting to TransportError for
// any error that didn't originate as a *HangarError (an unexpected error
// from a backend library is treated as a transport-level failure, per §7's
// "transport surfaces a typed error").
func KindOf(err error) ErrorKind {
	if err == nil {
		return Unknown
	}
	var he *HangarError
	if ok := asHangarError(err, &he); ok {
		return he.Kind
	}
	return TransportError
}

func asHangarError(err error, target **HangarError) bool {
	for err != nil {
		if he, ok := err.(*HangarError); ok {
			*target = he
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
