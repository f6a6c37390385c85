// pkg/errors/errors.go
// Centralized error definitions for resmem
//
// LEARN: Sentinel errors are package-level variables that callers can
// compare against using errors.Is(). Only misuse and management errors
// live here. Capacity and absence are signalled through return values
// (bool / (v, ok)) because they are part of normal operation.

package errors

import (
	stderrors "errors"
	"fmt"
)

// Re-export stdlib errors functions for convenience.
// This allows callers to use errors.Is() without importing both packages.
var (
	Is     = stderrors.Is
	As     = stderrors.As
	Unwrap = stderrors.Unwrap
	New    = stderrors.New
	Join   = stderrors.Join
)

// === Sentinel Errors ===
// Use errors.Is(err, ErrX) to check for these errors.

var (
	// Misuse: operating on a component after it was torn down.
	// Components panic with an error wrapping ErrClosed.
	ErrClosed = stderrors.New("component is closed")

	// Shared buffer management
	ErrBufferExists      = stderrors.New("buffer already exists")
	ErrBufferNotFound    = stderrors.New("buffer not found")
	ErrInvalidCapacity   = stderrors.New("invalid buffer capacity")
	ErrFrameTooLarge     = stderrors.New("frame larger than buffer capacity")
	ErrSharedUnsupported = stderrors.New("shared memory segments not supported on this platform")

	// Cleanup scheduling
	ErrTaskNotFound     = stderrors.New("cleanup task not found")
	ErrTaskFailed       = stderrors.New("cleanup task failed")
	ErrDependencyNotMet = stderrors.New("cleanup dependency has not run")
	ErrDependencyCycle  = stderrors.New("cleanup dependency cycle")

	// Monitoring and configuration
	ErrAlertNotFound  = stderrors.New("alert not found")
	ErrInvalidConfig  = stderrors.New("invalid configuration")
	ErrInvalidRequest = stderrors.New("invalid request")
)

// === Wrapped Errors ===

// WrapMisuse builds the error a component panics with when it is used
// after teardown.
func WrapMisuse(component, operation string) error {
	return fmt.Errorf("%s: %s: %w", component, operation, ErrClosed)
}

// WrapTaskError wraps an error returned (or a panic raised) by a cleanup action.
func WrapTaskError(task string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTaskFailed, task, err)
}

// WrapBufferError adds the buffer key to a ring management error.
func WrapBufferError(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("buffer %q: %w", key, err)
}

// WrapValidationError wraps a validation error with field context.
func WrapValidationError(field string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("validation error for %s: %w", field, err)
}

// === Error Codes ===
// Machine-readable error codes for the operator HTTP surface and the journal.

const (
	CodeMisuse        = "RESMEM_MISUSE"
	CodeBuffer        = "RESMEM_BUFFER"
	CodeTask          = "RESMEM_TASK"
	CodeAlertNotFound = "RESMEM_ALERT_NOT_FOUND"
	CodeInvalidConfig = "RESMEM_INVALID_CONFIG"
	CodeBadRequest    = "RESMEM_BAD_REQUEST"
	CodeInternal      = "RESMEM_INTERNAL"
)

// ErrorCode returns the appropriate error code for a given error.
//
// LEARN: Using errors.Is() allows matching wrapped errors.
// Order matters: check most specific errors first.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrClosed):
		return CodeMisuse
	case Is(err, ErrBufferExists), Is(err, ErrBufferNotFound),
		Is(err, ErrInvalidCapacity), Is(err, ErrFrameTooLarge), Is(err, ErrSharedUnsupported):
		return CodeBuffer
	case Is(err, ErrTaskNotFound), Is(err, ErrTaskFailed),
		Is(err, ErrDependencyNotMet), Is(err, ErrDependencyCycle):
		return CodeTask
	case Is(err, ErrAlertNotFound):
		return CodeAlertNotFound
	case Is(err, ErrInvalidConfig):
		return CodeInvalidConfig
	case Is(err, ErrInvalidRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// IsMisuse reports whether err signals a collaborator contract violation.
func IsMisuse(err error) bool {
	return err != nil && Is(err, ErrClosed)
}
