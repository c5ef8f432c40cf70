// Package gpio abstracts digital line access behind capability interfaces
// so control logic can be tested against a simulated backend instead of
// real hardware.
//
// Two implementations are provided:
//
//   - Periph: real GPIO via periph.io, lines addressed by BCM number.
//   - Sim: in-memory lines with injectable levels and failures.
//
// The backend is selected by gpio.backend in config.yaml. Line ownership is
// exclusive: the actuator driver owns its output lines and the button
// monitor owns its input lines; nothing else touches them.
package gpio
