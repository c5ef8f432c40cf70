// Package command defines the command values exchanged between the button
// monitor, the message bus bridge, and the command router.
//
// A Command names a target actuator, a direction (extend, retract, stop,
// reset), its source (physical or network), and a time-to-live after which
// it is discarded as stale. Physical commands always outrank network
// commands for the same actuator; the router enforces that ordering.
package command
