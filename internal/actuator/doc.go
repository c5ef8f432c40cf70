// Package actuator implements the motor output driver: a per-actuator
// state machine (Idle, Extending, Retracting, Fault) with hard mutual
// exclusion between the extend and retract outputs, a dead-time interlock
// on direction reversal, and an auto-stop timer clamped to each actuator's
// configured maximum run duration.
//
// The driver is the only component that writes output lines. Every state
// transition emits a Snapshot through the registered callback; the bridge
// publishes them and the safety supervisor watches them for runaway.
//
// Fault is sticky: hardware failures and runaway detection latch it, and
// only an explicit reset command returns the actuator to Idle.
package actuator
