package mqtt

import "fmt"

// Topic layout for one bed. All topics are rooted at the bed ID so that
// several beds can share a broker without colliding:
//
//	<bed>/<actuator>/set    command payloads (inbound)
//	<bed>/<actuator>/state  retained actuator state (outbound)
//	<bed>/estop             emergency stop engage/clear (inbound)
//	<bed>/halted            retained emergency-stop latch state (outbound)
//	<bed>/errors            diagnostics for rejected/malformed input (outbound)
//	<bed>/status            retained online/offline status + LWT (outbound)
//
// The bed ID is configuration, not protocol: remote clients discover the
// layout from the retained state topics.

// Topics builds MQTT topics for a single bed.
//
// Using these helpers ensures consistent topic naming across the codebase:
//
//	topics := mqtt.Topics{Bed: "bed-1"}
//	topics.ActuatorState("head") // "bed-1/head/state"
type Topics struct {
	// Bed is the topic prefix, normally the configured bed ID.
	Bed string
}

// ActuatorSet returns the command topic for an actuator.
//
// Example: bed-1/head/set
func (t Topics) ActuatorSet(actuatorID string) string {
	return fmt.Sprintf("%s/%s/set", t.Bed, actuatorID)
}

// ActuatorState returns the retained state topic for an actuator.
//
// Example: bed-1/head/state
func (t Topics) ActuatorState(actuatorID string) string {
	return fmt.Sprintf("%s/%s/state", t.Bed, actuatorID)
}

// EStop returns the emergency-stop command topic.
//
// Example: bed-1/estop
func (t Topics) EStop() string {
	return fmt.Sprintf("%s/estop", t.Bed)
}

// Halted returns the retained emergency-stop latch topic.
//
// Example: bed-1/halted
func (t Topics) Halted() string {
	return fmt.Sprintf("%s/halted", t.Bed)
}

// Errors returns the diagnostics topic for malformed or rejected input.
//
// Example: bed-1/errors
func (t Topics) Errors() string {
	return fmt.Sprintf("%s/errors", t.Bed)
}

// Status returns the retained online/offline status topic.
// The Last Will and Testament is published here on unexpected disconnect.
//
// Example: bed-1/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.Bed)
}

// AllSets returns a wildcard pattern matching every actuator command topic.
//
// Pattern: bed-1/+/set
func (t Topics) AllSets() string {
	return fmt.Sprintf("%s/+/set", t.Bed)
}
