package native

import "fmt"

// Code classifies errors crossing the native boundary.
// Codes are stable identifiers: callers branch on them with errors.Is against
// the sentinel values below rather than matching message text.
type Code string

// Boundary error codes.
const (
	// CodeNativeUnavailable means the boundary itself is not loadable.
	// Fatal at startup, never retried.
	CodeNativeUnavailable Code = "native_unavailable"

	// CodeInitConfigInvalid means subsystem construction rejected the
	// configuration. Fatal for the attempt, surfaced to the caller.
	CodeInitConfigInvalid Code = "init_config_invalid"

	// CodeCallTimeout means a single call exceeded its budget.
	// Per-call and transient: it does not change the lifecycle state.
	CodeCallTimeout Code = "call_timeout"

	// CodeCallCancelled means the caller's context was cancelled, or the
	// subsystem was torn down while the call was in flight.
	CodeCallCancelled Code = "call_cancelled"

	// CodeNativeError wraps an error reported by the subsystem itself.
	CodeNativeError Code = "native_error"

	// CodeProtocolViolation means the chunk stream broke its ordering
	// contract (gap or duplicate sequence number).
	CodeProtocolViolation Code = "protocol_violation"

	// CodeNotInitialized means a call was attempted with no handle and no
	// fallback available. Should not occur in normal operation.
	CodeNotInitialized Code = "not_initialized"
)

// Error is the error type carried across the bridge.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches two boundary errors by code, so wrapped errors can be checked
// with errors.Is(err, native.ErrCallTimeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError builds a boundary error with the given code and message.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinel values for errors.Is checks. Matching is by Code only.
var (
	ErrNativeUnavailable = &Error{Code: CodeNativeUnavailable}
	ErrInitConfigInvalid = &Error{Code: CodeInitConfigInvalid}
	ErrCallTimeout       = &Error{Code: CodeCallTimeout}
	ErrCallCancelled     = &Error{Code: CodeCallCancelled}
	ErrNativeError       = &Error{Code: CodeNativeError}
	ErrProtocolViolation = &Error{Code: CodeProtocolViolation}
	ErrNotInitialized    = &Error{Code: CodeNotInitialized}
)
