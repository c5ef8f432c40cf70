package gpio

import "errors"

// Domain-specific errors for GPIO operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrHostInit is returned when the GPIO subsystem cannot be initialised.
	// This is fatal at startup: no line access is possible.
	ErrHostInit = errors.New("gpio: host initialisation failed")

	// ErrLineUnavailable is returned when a requested line does not exist
	// or is already owned.
	ErrLineUnavailable = errors.New("gpio: line unavailable")

	// ErrLineClosed is returned when operating on a released line.
	ErrLineClosed = errors.New("gpio: line closed")

	// ErrRead is returned when a line level cannot be read.
	ErrRead = errors.New("gpio: read failed")

	// ErrWrite is returned when a line level cannot be set.
	ErrWrite = errors.New("gpio: write failed")
)
