// Package safety enforces the bed-wide motion policies that sit above
// individual actuator interlocks: the emergency-stop halt latch, the cap
// on simultaneously moving actuators, and a watchdog that faults any
// actuator still running past its deadline.
package safety
