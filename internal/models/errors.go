package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure kinds of a localization run. Every
// FrameError matches exactly one of them with errors.Is.
var (
	// ErrNoFrame means no seed slice was found in the search window
	ErrNoFrame = errors.New("no frame detected")

	// ErrInvalidGeometry means a candidate count or a distance constraint was violated
	ErrInvalidGeometry = errors.New("invalid frame geometry")

	// ErrEmptyTable means a transform or error computation was requested before detection succeeded
	ErrEmptyTable = errors.New("empty marker table")

	// ErrIO means persisting or loading failed
	ErrIO = errors.New("frame i/o error")
)

// FrameError is a structured pipeline error
type FrameError struct {
	Kind    error
	Slice   int // -1 when not tied to a slice
	Message string
	Cause   error
}

// Error implements the error interface
func (e *FrameError) Error() string {
	msg := e.Kind.Error()
	if e.Slice >= 0 {
		msg = fmt.Sprintf("%s: slice %d", msg, e.Slice)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FrameError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the kind sentinel of this error
func (e *FrameError) Is(target error) bool {
	return target == e.Kind
}

// NewGeometryError creates an InvalidGeometry error for a slice
func NewGeometryError(slice int, format string, args ...interface{}) *FrameError {
	return &FrameError{
		Kind:    ErrInvalidGeometry,
		Slice:   slice,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNoFrameError creates a NoFrame error wrapping the last per-slice failure
func NewNoFrameError(message string, cause error) *FrameError {
	return &FrameError{
		Kind:    ErrNoFrame,
		Slice:   -1,
		Message: message,
		Cause:   cause,
	}
}

// NewEmptyTableError creates an EmptyTable error
func NewEmptyTableError(message string) *FrameError {
	return &FrameError{
		Kind:    ErrEmptyTable,
		Slice:   -1,
		Message: message,
	}
}

// NewIOError creates an IOError wrapping the failing operation
func NewIOError(message string, cause error) *FrameError {
	return &FrameError{
		Kind:    ErrIO,
		Slice:   -1,
		Message: message,
		Cause:   cause,
	}
}
