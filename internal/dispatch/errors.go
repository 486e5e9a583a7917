package dispatch

import (
	"fmt"
)

// Error codes for dispatch operations
const (
	// Configuration errors
	ErrCodeCloudNotInitialized = "CLOUD_NOT_INITIALIZED"
	ErrCodeInvalidTopology     = "INVALID_TOPOLOGY"

	// Lookup errors
	ErrCodeIndexOutOfRange = "INDEX_OUT_OF_RANGE"

	// Delivery errors
	ErrCodePeerUnreachable  = "PEER_UNREACHABLE"
	ErrCodeCloudUnreachable = "CLOUD_UNREACHABLE"
	ErrCodeDeviceFailed     = "DEVICE_SEND_FAILED"

	// Protocol errors
	ErrCodeUnsupportedMessage = "UNSUPPORTED_MESSAGE"
	ErrCodeInvalidTask        = "INVALID_TASK"
)

// Sentinels for errors.Is. Matching is by code, so errors built with the
// constructors below compare equal to these regardless of context.
var (
	ErrCloudNotInitialized = NewDispatchError(ErrCodeCloudNotInitialized, "cloud address not initialized")
	ErrIndexOutOfRange     = NewDispatchError(ErrCodeIndexOutOfRange, "index out of range")
	ErrUnsupportedMessage  = NewDispatchError(ErrCodeUnsupportedMessage, "unsupported message kind")
	ErrCloudUnreachable    = NewDispatchError(ErrCodeCloudUnreachable, "cloud unreachable")
	ErrInvalidTopology     = NewDispatchError(ErrCodeInvalidTopology, "invalid topology")
)

// DispatchError is an error type with a code for programmatic handling and
// free-form context.
type DispatchError struct {
	Code    string
	Message string
	Context map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *DispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// Is matches any DispatchError with the same code.
func (e *DispatchError) Is(target error) bool {
	t, ok := target.(*DispatchError)
	return ok && t.Code == e.Code
}

// WithContext adds context to the error
func (e *DispatchError) WithContext(key string, value interface{}) *DispatchError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDispatchError creates a new dispatch error
func NewDispatchError(code, message string) *DispatchError {
	return &DispatchError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with dispatch error context
func WrapError(code, message string, cause error) *DispatchError {
	return &DispatchError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Common error constructors

func errIndexOutOfRange(index, size int) *DispatchError {
	return NewDispatchError(ErrCodeIndexOutOfRange, "index out of range").
		WithContext("index", index).
		WithContext("size", size)
}

func errPeerUnreachable(peer string, cause error) *DispatchError {
	return WrapError(ErrCodePeerUnreachable, "peer unreachable", cause).
		WithContext("peer", peer)
}

func errCloudUnreachable(cloud string, cause error) *DispatchError {
	return WrapError(ErrCodeCloudUnreachable, "cloud unreachable", cause).
		WithContext("cloud", cloud)
}

func errDeviceFailed(device string, cause error) *DispatchError {
	return WrapError(ErrCodeDeviceFailed, "device send failed", cause).
		WithContext("device", device)
}

func errUnsupportedMessage(kind string, node string) *DispatchError {
	return NewDispatchError(ErrCodeUnsupportedMessage, "unsupported message kind").
		WithContext("kind", kind).
		WithContext("node", node)
}

func errInvalidTask(cause error) *DispatchError {
	return WrapError(ErrCodeInvalidTask, "invalid task", cause)
}
