package safety

import "errors"

var (
	// ErrHalted indicates the supervisor is latched in the halted state
	// and refusing motion commands.
	ErrHalted = errors.New("motion halted")

	// ErrTooManyActive indicates activating the target would exceed the
	// configured cap on simultaneously moving actuators.
	ErrTooManyActive = errors.New("too many actuators active")
)
