package actuator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/sandman-core/internal/command"
)

// Logger defines the logging interface used by the Driver.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Driver owns every actuator's output lines and is the only component that
// mutates them. It enforces the two core interlocks:
//
//   - Extend and retract are never simultaneously asserted. A direction
//     switch additionally requires the configured dead-time to have
//     elapsed since the opposing motion stopped.
//   - Every activation carries an auto-stop timer clamped to the
//     actuator's maximum run duration.
//
// Callers are expected to serialise commands per actuator (the router's
// dispatch loop does); the internal mutex exists because auto-stop timers
// fire on their own goroutines.
type Driver struct {
	mu       sync.Mutex
	acts     map[string]*actuator
	order    []string // stable iteration order for Snapshots/StopAll
	deadTime time.Duration

	// onSnapshot and onRunDone are invoked outside the lock, the former
	// after every transition, the latter when a motion finishes.
	onSnapshot func(Snapshot)
	onRunDone  func(RunRecord)
	callbackMu sync.RWMutex

	logger Logger
}

// actuator is the per-actuator state machine record.
type actuator struct {
	Lines

	state       State
	activatedAt time.Time
	deadline    time.Time
	timer       *time.Timer

	// gen invalidates auto-stop timers from superseded activations.
	gen uint64

	// lastDir/lastStopAt track the previous motion for dead-time checks.
	lastDir    command.Direction
	lastStopAt time.Time
}

// New creates a Driver owning the given actuators.
//
// Parameters:
//   - deadTime: Mandatory pause between opposing motions
//   - lines: One entry per actuator, from configuration
//
// Returns:
//   - *Driver: Driver with every actuator Idle and outputs released
//   - error: If IDs are duplicated or lines are missing
func New(deadTime time.Duration, lines []Lines) (*Driver, error) {
	d := &Driver{
		acts:     make(map[string]*actuator, len(lines)),
		deadTime: deadTime,
		logger:   noopLogger{},
	}

	for _, l := range lines {
		if l.ID == "" || l.Extend == nil || l.Retract == nil {
			return nil, fmt.Errorf("actuator %q: incomplete line configuration", l.ID)
		}
		if _, dup := d.acts[l.ID]; dup {
			return nil, fmt.Errorf("actuator %q: duplicate id", l.ID)
		}
		d.acts[l.ID] = &actuator{Lines: l, state: StateIdle, lastDir: command.DirectionStop}
		d.order = append(d.order, l.ID)
	}
	sort.Strings(d.order)

	return d, nil
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(logger Logger) {
	d.logger = logger
}

// SetOnSnapshot registers a callback invoked on every state transition.
// The callback runs outside the driver lock and must not call back into
// the driver synchronously from a blocking operation.
func (d *Driver) SetOnSnapshot(fn func(Snapshot)) {
	d.callbackMu.Lock()
	d.onSnapshot = fn
	d.callbackMu.Unlock()
}

// SetOnRunDone registers a callback invoked whenever a motion ends, with
// the measured run time. Fires for releases, auto-stops, and forced
// faults alike. Runs outside the driver lock.
func (d *Driver) SetOnRunDone(fn func(RunRecord)) {
	d.callbackMu.Lock()
	d.onRunDone = fn
	d.callbackMu.Unlock()
}

// Activate drives an actuator in the given direction. Non-blocking: it
// asserts the output, releases the opposite one, and (re)starts an
// auto-stop timer for min(duration, MaxRun).
//
// Idempotent if the same direction is already active: the timer is
// refreshed. A switch to the opposite direction while it is asserted, or
// before the dead-time since the opposing motion has elapsed, returns
// ErrInterlockViolation with no output side effect.
//
// Parameters:
//   - id: Target actuator
//   - dir: DirectionExtend or DirectionRetract
//   - duration: Requested run time; zero means the actuator's maximum
//
// Returns:
//   - error: ErrUnknownActuator, ErrInvalidDirection, ErrFaulted,
//     ErrInterlockViolation, or a wrapped ErrHardware
func (d *Driver) Activate(id string, dir command.Direction, duration time.Duration) error {
	if dir != command.DirectionExtend && dir != command.DirectionRetract {
		return fmt.Errorf("%w: %s", ErrInvalidDirection, dir)
	}

	d.mu.Lock()
	a, ok := d.acts[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}

	now := time.Now()
	target := stateFor(dir)

	switch {
	case a.state == StateFault:
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrFaulted, id)

	case a.state == target:
		// Same direction already active: refresh the auto-stop timer.
		run := a.clampRun(duration)
		a.deadline = now.Add(run)
		d.armTimer(a, run)
		snap := a.snapshot(now)
		d.mu.Unlock()

		d.logger.Debug("activation refreshed", "actuator", id, "direction", dir.String(), "run", run)
		d.emit(snap)
		return nil

	case a.state.Moving():
		// Opposite direction asserted. Rejecting with no side effect
		// keeps the outputs in a known-good configuration; the caller
		// owns the stop / dead-time / retry sequence.
		d.mu.Unlock()
		return fmt.Errorf("%w: %q is %s", ErrInterlockViolation, id, a.state)

	case a.lastDir != command.DirectionStop && a.lastDir != dir && now.Sub(a.lastStopAt) < d.deadTime:
		d.mu.Unlock()
		return fmt.Errorf("%w: %q reversing within dead-time (%v remaining)",
			ErrInterlockViolation, id, d.deadTime-now.Sub(a.lastStopAt))
	}

	// Release the opposite output before asserting the requested one so a
	// partial failure can never leave both asserted.
	if err := d.assertOutputs(a, dir); err != nil {
		snap := a.snapshot(now)
		d.mu.Unlock()

		d.logger.Error("output assertion failed", "actuator", id, "direction", dir.String(), "error", err)
		d.emit(snap)
		return err
	}

	run := a.clampRun(duration)
	a.state = target
	a.activatedAt = now
	a.deadline = now.Add(run)
	d.armTimer(a, run)
	snap := a.snapshot(now)
	d.mu.Unlock()

	d.logger.Info("actuator activated", "actuator", id, "direction", dir.String(), "run", run)
	d.emit(snap)
	return nil
}

// Stop deasserts both outputs, cancels any pending auto-stop timer, and
// transitions the actuator to Idle. Stopping an Idle actuator is a no-op;
// stopping a faulted actuator re-releases the outputs but leaves it in
// Fault.
func (d *Driver) Stop(id string) error {
	d.mu.Lock()
	a, ok := d.acts[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}

	rec, wasMoving, err := d.stopLocked(a, time.Now())
	var snap Snapshot
	if wasMoving || err != nil {
		snap = a.snapshot(time.Now())
	}
	d.mu.Unlock()

	if wasMoving || err != nil {
		if err != nil {
			d.logger.Error("stop failed", "actuator", id, "error", err)
		} else {
			d.logger.Info("actuator stopped", "actuator", id, "ran", rec.Ran)
		}
		d.emit(snap)
	}
	if wasMoving {
		d.emitRun(rec)
	}
	return err
}

// Reset clears Fault back to Idle. It is a no-op on any other state.
// The dead-time window from the forced stop still applies afterwards.
func (d *Driver) Reset(id string) error {
	d.mu.Lock()
	a, ok := d.acts[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}

	if a.state != StateFault {
		d.mu.Unlock()
		return nil
	}

	// Outputs were already released when the fault latched; release again
	// in case the hardware recovered after a write failure.
	_ = a.Extend.Set(false)
	_ = a.Retract.Set(false)

	a.state = StateIdle
	snap := a.snapshot(time.Now())
	d.mu.Unlock()

	d.logger.Info("actuator reset", "actuator", id)
	d.emit(snap)
	return nil
}

// Fault forces an actuator into Fault: outputs released, timer cancelled.
// Used by the safety supervisor (runaway) and the button monitor
// (hardware read failure).
func (d *Driver) Fault(id string) error {
	d.mu.Lock()
	a, ok := d.acts[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}

	if a.state == StateFault {
		d.mu.Unlock()
		return nil
	}

	rec, wasMoving, _ := d.stopLocked(a, time.Now())
	a.state = StateFault
	snap := a.snapshot(time.Now())
	d.mu.Unlock()

	d.logger.Warn("actuator faulted", "actuator", id)
	d.emit(snap)
	if wasMoving {
		d.emitRun(rec)
	}
	return nil
}

// StopAll stops every actuator. Actuators whose outputs cannot be
// released are forced to Fault. Used by the emergency stop.
func (d *Driver) StopAll() error {
	d.mu.Lock()
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	d.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := d.Stop(id); err != nil {
			errs = append(errs, err)
			_ = d.Fault(id)
		}
	}
	return errors.Join(errs...)
}

// Snapshot returns the current snapshot for one actuator.
func (d *Driver) Snapshot(id string) (Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.acts[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownActuator, id)
	}
	return a.snapshot(time.Now()), nil
}

// Snapshots returns a snapshot of every actuator in stable ID order.
func (d *Driver) Snapshots() []Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	snaps := make([]Snapshot, 0, len(d.order))
	for _, id := range d.order {
		snaps = append(snaps, d.acts[id].snapshot(now))
	}
	return snaps
}

// Close stops every actuator and cancels all timers. The output lines
// themselves are owned by the chip and released there.
func (d *Driver) Close() error {
	return d.StopAll()
}

// stopLocked releases both outputs and cancels the auto-stop timer.
// Caller holds d.mu. Records the motion for dead-time bookkeeping,
// returns the completed run (moved is false if nothing was moving), and
// latches Fault if the hardware refuses the release.
func (d *Driver) stopLocked(a *actuator, now time.Time) (rec RunRecord, moved bool, err error) {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++

	errExtend := a.Extend.Set(false)
	errRetract := a.Retract.Set(false)

	if a.state.Moving() {
		a.lastDir = directionFor(a.state)
		a.lastStopAt = now
		rec = RunRecord{
			Actuator:  a.ID,
			Direction: a.lastDir,
			Ran:       now.Sub(a.activatedAt),
		}
		moved = true
	}

	if errExtend != nil || errRetract != nil {
		a.state = StateFault
		return rec, moved, fmt.Errorf("%w: releasing outputs for %q: %w", ErrHardware, a.ID, errors.Join(errExtend, errRetract))
	}

	if a.state != StateFault {
		a.state = StateIdle
	}
	return rec, moved, nil
}

// assertOutputs releases the opposite output then asserts the requested
// one. Caller holds d.mu. Any failure releases both and latches Fault.
func (d *Driver) assertOutputs(a *actuator, dir command.Direction) error {
	on, off := a.Extend, a.Retract
	if dir == command.DirectionRetract {
		on, off = a.Retract, a.Extend
	}

	if err := off.Set(false); err != nil {
		a.state = StateFault
		return fmt.Errorf("%w: releasing opposite output for %q: %w", ErrHardware, a.ID, err)
	}
	if err := on.Set(true); err != nil {
		_ = on.Set(false)
		_ = off.Set(false)
		a.state = StateFault
		return fmt.Errorf("%w: asserting %s output for %q: %w", ErrHardware, dir, a.ID, err)
	}
	return nil
}

// armTimer (re)starts the auto-stop timer. Caller holds d.mu.
func (d *Driver) armTimer(a *actuator, run time.Duration) {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	id := a.ID
	a.timer = time.AfterFunc(run, func() {
		d.autoStop(id, gen)
	})
}

// autoStop fires when an activation reaches its deadline.
func (d *Driver) autoStop(id string, gen uint64) {
	d.mu.Lock()
	a, ok := d.acts[id]
	if !ok || a.gen != gen || !a.state.Moving() {
		// Superseded by a refresh, stop, or fault in the meantime.
		d.mu.Unlock()
		return
	}

	rec, wasMoving, err := d.stopLocked(a, time.Now())
	snap := a.snapshot(time.Now())
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("auto-stop failed", "actuator", id, "error", err)
	} else {
		d.logger.Info("auto-stop fired", "actuator", id, "ran", rec.Ran)
	}
	d.emit(snap)
	if wasMoving {
		d.emitRun(rec)
	}
}

// emit delivers a snapshot to the registered callback, if any.
func (d *Driver) emit(snap Snapshot) {
	d.callbackMu.RLock()
	fn := d.onSnapshot
	d.callbackMu.RUnlock()
	if fn != nil {
		fn(snap)
	}
}

// emitRun delivers a completed run to the registered callback, if any.
func (d *Driver) emitRun(rec RunRecord) {
	d.callbackMu.RLock()
	fn := d.onRunDone
	d.callbackMu.RUnlock()
	if fn != nil {
		fn(rec)
	}
}

// clampRun bounds a requested duration to the actuator's ceiling.
func (a *actuator) clampRun(requested time.Duration) time.Duration {
	if requested <= 0 || requested > a.MaxRun {
		return a.MaxRun
	}
	return requested
}

// snapshot captures the actuator's published state. Caller holds d.mu.
func (a *actuator) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Actuator:  a.ID,
		State:     a.state,
		UpdatedAt: now,
	}
	if a.state.Moving() {
		snap.Remaining = a.deadline.Sub(now)
	}
	return snap
}

// stateFor maps an activation direction to its moving state.
func stateFor(dir command.Direction) State {
	if dir == command.DirectionRetract {
		return StateRetracting
	}
	return StateExtending
}

// directionFor maps a moving state back to its direction.
func directionFor(s State) command.Direction {
	if s == StateRetracting {
		return command.DirectionRetract
	}
	return command.DirectionExtend
}
