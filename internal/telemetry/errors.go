package telemetry

import "errors"

var (
	// ErrDisabled indicates telemetry is turned off in the configuration.
	ErrDisabled = errors.New("telemetry disabled")

	// ErrConnectionFailed indicates the InfluxDB server could not be
	// reached or reported unhealthy.
	ErrConnectionFailed = errors.New("influxdb connection failed")

	// ErrNotConnected indicates an operation on a closed client.
	ErrNotConnected = errors.New("influxdb not connected")
)
