package router

import "errors"

var (
	// ErrExpired indicates a command outlived its TTL before it could be
	// dispatched.
	ErrExpired = errors.New("command expired")

	// ErrPhysicalOverride indicates a network command was refused because
	// a physical control currently holds the actuator.
	ErrPhysicalOverride = errors.New("physical control has priority")
)
