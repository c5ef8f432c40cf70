package buttons

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/gpio"
)

// edgeTimeout bounds WaitForEdge so watchers notice shutdown promptly.
const edgeTimeout = 250 * time.Millisecond

// Spec describes one wired button: which line it sits on and what
// motion a press requests. Hold-to-run: press starts the motion,
// release stops it.
type Spec struct {
	Line      int
	Actuator  string
	Direction command.Direction
	ActiveLow bool
}

// CommandSink receives commands originating from physical controls.
// Satisfied by *router.Router.
type CommandSink interface {
	SubmitPhysical(cmd command.Command)
}

// FaultReporter receives hardware faults from failed input lines.
// Satisfied by *safety.Supervisor.
type FaultReporter interface {
	ReportHardwareFault(id string, cause error)
}

// Logger defines the logging interface for the monitor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Monitor watches button lines and translates debounced press/release
// edges into physical commands. Each line gets its own watcher; a
// failed line faults only its own actuator and the rest keep running.
type Monitor struct {
	chip     gpio.Chip
	specs    []Spec
	debounce time.Duration
	ttl      time.Duration

	sink     CommandSink
	reporter FaultReporter

	estopLine *int

	callbackMu sync.RWMutex
	onEStop    func()

	mu     sync.Mutex
	lines  []gpio.InputLine
	closed bool

	wg     sync.WaitGroup
	logger Logger
}

// New creates a monitor for the given button specs.
//
// Parameters:
//   - chip: GPIO backend to open input lines on
//   - specs: Button wiring, one entry per line
//   - debounce: Settle time after an edge before the line is re-read
//   - ttl: TTL stamped on emitted commands
//   - sink: Destination for emitted commands
//   - reporter: Receives faults for lines that stop reading
func New(chip gpio.Chip, specs []Spec, debounce, ttl time.Duration, sink CommandSink, reporter FaultReporter) *Monitor {
	return &Monitor{
		chip:     chip,
		specs:    specs,
		debounce: debounce,
		ttl:      ttl,
		sink:     sink,
		reporter: reporter,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger. Safe to call before Start only.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetEmergencyStop wires an optional dedicated e-stop line. fn runs on
// every debounced press. Must be called before Start.
func (m *Monitor) SetEmergencyStop(line int, fn func()) {
	l := line
	m.estopLine = &l
	m.callbackMu.Lock()
	m.onEStop = fn
	m.callbackMu.Unlock()
}

// Start opens every configured line and launches its watcher. Watchers
// run until ctx is cancelled or Close is called.
func (m *Monitor) Start(ctx context.Context) error {
	for _, spec := range m.specs {
		line, err := m.chip.OpenInput(spec.Line)
		if err != nil {
			m.Close()
			return fmt.Errorf("opening button line %d: %w", spec.Line, err)
		}
		m.track(line)

		m.wg.Add(1)
		go func(spec Spec, line gpio.InputLine) {
			defer m.wg.Done()
			m.watchButton(ctx, spec, line)
		}(spec, line)

		m.logger.Info("button watcher started",
			"line", spec.Line, "actuator", spec.Actuator, "direction", spec.Direction.String())
	}

	if m.estopLine != nil {
		line, err := m.chip.OpenInput(*m.estopLine)
		if err != nil {
			m.Close()
			return fmt.Errorf("opening e-stop line %d: %w", *m.estopLine, err)
		}
		m.track(line)

		m.wg.Add(1)
		go func(lineNum int, line gpio.InputLine) {
			defer m.wg.Done()
			m.watchEStop(ctx, lineNum, line)
		}(*m.estopLine, line)

		m.logger.Info("e-stop watcher started", "line", *m.estopLine)
	}
	return nil
}

// Close releases every opened line and waits for the watchers to exit.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	lines := m.lines
	m.lines = nil
	m.mu.Unlock()

	for _, line := range lines {
		_ = line.Close()
	}
	m.wg.Wait()
}

func (m *Monitor) track(line gpio.InputLine) {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
}

func (m *Monitor) done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// watchButton runs the debounce loop for one button. An edge is only
// acted on once the line has settled and the debounced level actually
// differs from the tracked press state, so contact bounce produces a
// single command.
func (m *Monitor) watchButton(ctx context.Context, spec Spec, line gpio.InputLine) {
	level, err := line.Read()
	if err != nil {
		m.failLine(spec, err)
		return
	}
	pressed := pressedLevel(level, spec.ActiveLow)

	for {
		if !line.WaitForEdge(edgeTimeout) {
			if ctx.Err() != nil || m.done() {
				return
			}
			continue
		}
		if ctx.Err() != nil || m.done() {
			return
		}

		time.Sleep(m.debounce)

		level, err := line.Read()
		if err != nil {
			if ctx.Err() != nil || m.done() {
				return
			}
			m.failLine(spec, err)
			return
		}

		now := pressedLevel(level, spec.ActiveLow)
		if now == pressed {
			continue // bounce settled back, no state change
		}
		pressed = now

		if pressed {
			m.sink.SubmitPhysical(command.New(
				command.SourcePhysical, spec.Actuator, spec.Direction, 0, m.ttl))
			m.logger.Debug("button pressed", "line", spec.Line, "actuator", spec.Actuator)
		} else {
			m.sink.SubmitPhysical(command.New(
				command.SourcePhysical, spec.Actuator, command.DirectionStop, 0, m.ttl))
			m.logger.Debug("button released", "line", spec.Line, "actuator", spec.Actuator)
		}
	}
}

// watchEStop mirrors watchButton but only presses matter. A line that
// stops reading is treated as a press: losing the e-stop input must
// fail towards stopping the bed, not away from it.
func (m *Monitor) watchEStop(ctx context.Context, lineNum int, line gpio.InputLine) {
	level, err := line.Read()
	if err != nil {
		m.logger.Error("e-stop line unreadable at start, engaging", "line", lineNum, "error", err)
		m.fireEStop()
		return
	}
	pressed := pressedLevel(level, true)

	for {
		if !line.WaitForEdge(edgeTimeout) {
			if ctx.Err() != nil || m.done() {
				return
			}
			continue
		}
		if ctx.Err() != nil || m.done() {
			return
		}

		time.Sleep(m.debounce)

		level, err := line.Read()
		if err != nil {
			if ctx.Err() != nil || m.done() {
				return
			}
			m.logger.Error("e-stop line failed, engaging", "line", lineNum, "error", err)
			m.fireEStop()
			return
		}

		now := pressedLevel(level, true)
		if now == pressed {
			continue
		}
		pressed = now
		if pressed {
			m.logger.Warn("e-stop pressed", "line", lineNum)
			m.fireEStop()
		}
	}
}

func (m *Monitor) fireEStop() {
	m.callbackMu.RLock()
	fn := m.onEStop
	m.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

// failLine faults the actuator behind a dead button line and emits the
// release the line can no longer deliver. Without the synthetic stop a
// press that was in flight would pin the router's physical hold forever.
func (m *Monitor) failLine(spec Spec, err error) {
	m.logger.Error("button line failed",
		"line", spec.Line, "actuator", spec.Actuator, "error", err)
	m.reporter.ReportHardwareFault(spec.Actuator, err)
	m.sink.SubmitPhysical(command.New(
		command.SourcePhysical, spec.Actuator, command.DirectionStop, 0, m.ttl))
}

func pressedLevel(level, activeLow bool) bool {
	if activeLow {
		return !level
	}
	return level
}
