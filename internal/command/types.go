package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source indicates where a command originated.
type Source int

const (
	// SourcePhysical is a command from a button at the bed.
	// Physical commands outrank network commands for the same actuator.
	SourcePhysical Source = iota

	// SourceNetwork is a command received over the message bus.
	SourceNetwork
)

// String returns the source name for logging and payloads.
func (s Source) String() string {
	switch s {
	case SourcePhysical:
		return "physical"
	case SourceNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Direction is the requested actuator action.
type Direction int

const (
	// DirectionStop halts the actuator.
	DirectionStop Direction = iota

	// DirectionExtend drives the actuator's extend output.
	DirectionExtend

	// DirectionRetract drives the actuator's retract output.
	DirectionRetract

	// DirectionReset clears a Fault back to Idle. It is the only way out
	// of Fault; normal direction commands never clear it.
	DirectionReset
)

// String returns the wire name of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionStop:
		return "stop"
	case DirectionExtend:
		return "extend"
	case DirectionRetract:
		return "retract"
	case DirectionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// ParseDirection converts a wire direction name to a Direction.
//
// Returns:
//   - Direction: The parsed direction
//   - error: If the name is not one of extend, retract, stop, reset
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "extend":
		return DirectionExtend, nil
	case "retract":
		return DirectionRetract, nil
	case "stop":
		return DirectionStop, nil
	case "reset":
		return DirectionReset, nil
	default:
		return DirectionStop, fmt.Errorf("unknown direction %q", s)
	}
}

// Command is one request to move, stop, or reset an actuator.
//
// Commands are ephemeral: created on edge detection or message arrival,
// consumed by the router, and discarded after being applied or dropped
// as stale. Nothing persists them.
type Command struct {
	// ID uniquely identifies the command for log correlation.
	ID string

	// Source is who issued the command.
	Source Source

	// Actuator is the target actuator ID.
	Actuator string

	// Direction is the requested action.
	Direction Direction

	// Duration optionally overrides the actuator's run duration.
	// Zero means "use the actuator's configured maximum". The driver
	// clamps it to the maximum either way.
	Duration time.Duration

	// IssuedAt is when the command was created.
	IssuedAt time.Time

	// TTL is how long the command stays valid. Commands older than
	// their TTL are discarded before dispatch so delayed network
	// traffic cannot move the bed long after the request.
	TTL time.Duration
}

// New creates a Command stamped with a fresh ID and the current time.
func New(source Source, actuator string, direction Direction, duration, ttl time.Duration) Command {
	return Command{
		ID:        uuid.NewString(),
		Source:    source,
		Actuator:  actuator,
		Direction: direction,
		Duration:  duration,
		IssuedAt:  time.Now(),
		TTL:       ttl,
	}
}

// Expired reports whether the command is stale at the given instant.
// A zero TTL means the command never expires.
func (c Command) Expired(now time.Time) bool {
	if c.TTL <= 0 {
		return false
	}
	return now.Sub(c.IssuedAt) > c.TTL
}
