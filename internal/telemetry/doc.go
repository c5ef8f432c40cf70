// Package telemetry ships motion metrics to InfluxDB: one point per
// state transition plus run-duration samples for duty-cycle analysis.
// Entirely optional; the controller runs identically with it disabled.
package telemetry
