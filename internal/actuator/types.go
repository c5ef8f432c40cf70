package actuator

import (
	"time"

	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/gpio"
)

// State is the single state an actuator occupies at any moment.
type State int

const (
	// StateIdle means both outputs are released.
	StateIdle State = iota

	// StateExtending means the extend output is asserted.
	StateExtending

	// StateRetracting means the retract output is asserted.
	StateRetracting

	// StateFault means the actuator has been isolated after a hardware
	// failure or runaway. Only an explicit reset returns it to Idle.
	StateFault
)

// String returns the wire name of the state, as published on state topics.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExtending:
		return "extending"
	case StateRetracting:
		return "retracting"
	case StateFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Moving reports whether the state has an output asserted.
func (s State) Moving() bool {
	return s == StateExtending || s == StateRetracting
}

// Lines binds an actuator ID to its pair of output lines and run ceiling.
// Constructed once at startup from configuration.
type Lines struct {
	// ID is the actuator identifier (e.g. "head", "foot").
	ID string

	// Extend and Retract are the motor direction outputs. The driver
	// owns them exclusively; they are never both asserted.
	Extend  gpio.OutputLine
	Retract gpio.OutputLine

	// MaxRun is the hard ceiling on a single activation. Every
	// activation is clamped to it regardless of who issued the command.
	MaxRun time.Duration
}

// RunRecord describes one completed motion, measured from activation to
// whichever stop ended it (release, auto-stop, or a forced fault).
type RunRecord struct {
	// Actuator is the actuator ID.
	Actuator string

	// Direction is the direction the actuator was moving in.
	Direction command.Direction

	// Ran is the elapsed time the output was actually asserted.
	Ran time.Duration
}

// Snapshot is the published representation of one actuator's state.
// The driver emits one on every state transition.
type Snapshot struct {
	// Actuator is the actuator ID.
	Actuator string

	// State is the current state.
	State State

	// Remaining is the time left until auto-stop while moving. It goes
	// negative if the actuator is overdue (runaway), which the safety
	// supervisor watches for. Zero when not moving.
	Remaining time.Duration

	// UpdatedAt is when this snapshot was taken.
	UpdatedAt time.Time
}
