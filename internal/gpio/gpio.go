package gpio

import "time"

// InputLine is a single digital input.
//
// Read returns the electrical level (true = high). Interpretation of the
// level (active-low buttons and so on) belongs to the caller.
type InputLine interface {
	// Read returns the current level of the line.
	Read() (bool, error)

	// WaitForEdge blocks until the line changes level or the timeout
	// expires. It returns true if an edge occurred.
	WaitForEdge(timeout time.Duration) bool

	// Close releases the line.
	Close() error
}

// OutputLine is a single digital output.
type OutputLine interface {
	// Set drives the line high (true) or low (false).
	Set(high bool) error

	// Close releases the line, driving it low first.
	Close() error
}

// Chip hands out exclusive access to numbered GPIO lines.
//
// Implementations: Periph (real hardware via periph.io) and Sim (in-memory,
// for tests and desktop runs). A line may be requested at most once; the
// requester owns it until Close.
type Chip interface {
	OpenInput(line int) (InputLine, error)
	OpenOutput(line int) (OutputLine, error)

	// Close releases every line handed out by this chip.
	Close() error
}
