// Package bridge is the MQTT face of the controller. Inbound set and
// e-stop messages are decoded into commands for the router; outbound
// state transitions and the halt flag are published retained so any
// subscriber sees current state immediately, including after broker
// reconnects.
package bridge
