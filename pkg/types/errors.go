package types

import "errors"

// Sentinel errors for common error conditions.
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig is returned when configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrParseError is returned when the parser rejects a file.
	ErrParseError = errors.New("parse error")

	// ErrOutOfRange is returned when a position falls outside a text buffer.
	// The walker only passes positions from a tree built over the same
	// buffer, so this indicates a programming error.
	ErrOutOfRange = errors.New("position out of range")

	// ErrCancelled is returned when an operation is cancelled.
	ErrCancelled = errors.New("operation cancelled")
)
