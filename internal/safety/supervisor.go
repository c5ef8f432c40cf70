package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/sandman-core/internal/actuator"
	"github.com/nerrad567/sandman-core/internal/command"
)

// Driver is the actuator surface the supervisor mediates. Satisfied by
// *actuator.Driver.
type Driver interface {
	Activate(id string, dir command.Direction, duration time.Duration) error
	Stop(id string) error
	Reset(id string) error
	Fault(id string) error
	StopAll() error
	Snapshots() []actuator.Snapshot
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor gates every motion command with the halt latch and the
// concurrent-motion cap, and runs a watchdog that faults any actuator
// still moving past its deadline.
//
// All motion requests must flow through the supervisor rather than the
// driver directly, otherwise the cap cannot be enforced.
type Supervisor struct {
	driver Driver

	maxActive        int
	watchdogInterval time.Duration
	runawayGrace     time.Duration

	mu     sync.Mutex
	halted bool

	callbackMu sync.RWMutex
	onHalted   func(halted bool)

	logger Logger
}

// New creates a supervisor over the given driver.
//
// Parameters:
//   - driver: Actuator driver to mediate
//   - maxActive: Maximum simultaneously moving actuators (minimum 1)
//   - watchdogInterval: Poll period of the runaway watchdog
//   - runawayGrace: Overshoot past an actuator's deadline tolerated
//     before the watchdog forces a fault
func New(driver Driver, maxActive int, watchdogInterval, runawayGrace time.Duration) *Supervisor {
	if maxActive < 1 {
		maxActive = 1
	}
	return &Supervisor{
		driver:           driver,
		maxActive:        maxActive,
		watchdogInterval: watchdogInterval,
		runawayGrace:     runawayGrace,
		logger:           noopLogger{},
	}
}

// SetLogger sets the logger. Safe to call before Start only.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetOnHalted registers a callback invoked whenever the halt latch
// changes. Used by the bridge to publish the retained halted flag.
func (s *Supervisor) SetOnHalted(fn func(halted bool)) {
	s.callbackMu.Lock()
	s.onHalted = fn
	s.callbackMu.Unlock()
}

// Activate forwards a motion request to the driver after the halt latch
// and the active-count cap both pass.
func (s *Supervisor) Activate(id string, dir command.Direction, duration time.Duration) error {
	s.mu.Lock()
	if s.halted {
		s.mu.Unlock()
		return fmt.Errorf("%w: refusing %s for %q", ErrHalted, dir, id)
	}
	s.mu.Unlock()

	// The target already moving does not count against the cap: a
	// same-direction refresh or an interlock rejection adds no motion.
	active := 0
	for _, snap := range s.driver.Snapshots() {
		if snap.Actuator == id {
			continue
		}
		if snap.State.Moving() {
			active++
		}
	}
	if active >= s.maxActive {
		return fmt.Errorf("%w: %d already moving (cap %d)", ErrTooManyActive, active, s.maxActive)
	}

	return s.driver.Activate(id, dir, duration)
}

// Stop forwards to the driver. Always permitted, halted or not.
func (s *Supervisor) Stop(id string) error {
	return s.driver.Stop(id)
}

// Reset forwards to the driver. Permitted while halted: clearing a
// fault asserts no output.
func (s *Supervisor) Reset(id string) error {
	return s.driver.Reset(id)
}

// EmergencyStop stops every actuator and latches the halted state.
// Motion commands are refused until ClearHalt. The underlying StopAll
// faults any actuator whose outputs cannot be released, so the latch is
// set regardless of the returned error.
func (s *Supervisor) EmergencyStop() error {
	s.mu.Lock()
	already := s.halted
	s.halted = true
	s.mu.Unlock()

	err := s.driver.StopAll()
	if err != nil {
		s.logger.Error("emergency stop with hardware failures", "error", err)
	} else {
		s.logger.Warn("emergency stop engaged")
	}

	if !already {
		s.notifyHalted(true)
	}
	return err
}

// ClearHalt releases the halt latch. Actuators faulted during the stop
// stay faulted until individually reset.
func (s *Supervisor) ClearHalt() {
	s.mu.Lock()
	wasHalted := s.halted
	s.halted = false
	s.mu.Unlock()

	if wasHalted {
		s.logger.Info("halt cleared")
		s.notifyHalted(false)
	}
}

// Halted reports whether the halt latch is set.
func (s *Supervisor) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// ReportHardwareFault forces the named actuator into Fault. Called by
// input watchers when their GPIO line fails and a stale reading could
// otherwise keep the actuator running.
func (s *Supervisor) ReportHardwareFault(id string, cause error) {
	s.logger.Error("hardware fault reported", "actuator", id, "error", cause)
	if err := s.driver.Fault(id); err != nil {
		s.logger.Error("forcing fault failed", "actuator", id, "error", err)
	}
}

// Start runs the runaway watchdog until ctx is cancelled. An actuator
// observed moving with its deadline overshot beyond the grace period
// has missed its auto-stop; the watchdog forces it to Fault.
func (s *Supervisor) Start(ctx context.Context) {
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	s.logger.Info("watchdog started",
		"interval", s.watchdogInterval, "grace", s.runawayGrace)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watchdog stopped")
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Supervisor) sweep() {
	for _, snap := range s.driver.Snapshots() {
		if !snap.State.Moving() || snap.Remaining >= -s.runawayGrace {
			continue
		}
		s.logger.Error("runaway actuator detected",
			"actuator", snap.Actuator, "state", snap.State.String(),
			"overshoot", -snap.Remaining)
		if err := s.driver.Fault(snap.Actuator); err != nil {
			s.logger.Error("faulting runaway actuator failed",
				"actuator", snap.Actuator, "error", err)
		}
	}
}

func (s *Supervisor) notifyHalted(halted bool) {
	s.callbackMu.RLock()
	fn := s.onHalted
	s.callbackMu.RUnlock()
	if fn != nil {
		fn(halted)
	}
}
