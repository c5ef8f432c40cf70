package actuator

import "errors"

// Domain-specific errors for driver operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnknownActuator is returned for an actuator ID that was not
	// configured at startup.
	ErrUnknownActuator = errors.New("actuator: unknown actuator")

	// ErrInvalidDirection is returned when Activate is called with a
	// direction other than extend or retract.
	ErrInvalidDirection = errors.New("actuator: invalid activation direction")

	// ErrInterlockViolation is returned when a direction switch is
	// attempted while the opposite output is asserted or before the
	// dead-time since the opposing motion has elapsed. The request has
	// no effect on the outputs.
	ErrInterlockViolation = errors.New("actuator: interlock violation")

	// ErrFaulted is returned when activating an actuator in Fault.
	// Only an explicit reset clears Fault.
	ErrFaulted = errors.New("actuator: actuator is faulted")

	// ErrHardware is returned when an output line cannot be driven.
	// The actuator is forced to Fault with both outputs released.
	ErrHardware = errors.New("actuator: hardware i/o failure")
)
