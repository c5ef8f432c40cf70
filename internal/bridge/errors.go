package bridge

import "errors"

var (
	// ErrMalformedPayload indicates a received payload could not be
	// decoded.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnknownTopic indicates a message arrived on a topic the bridge
	// cannot map to an actuator.
	ErrUnknownTopic = errors.New("unknown topic")
)
