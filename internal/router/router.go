package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/sandman-core/internal/actuator"
	"github.com/nerrad567/sandman-core/internal/command"
)

// queueSize buffers bursts from both sources. Submissions block rather
// than drop if a burst somehow outruns the dispatch loop.
const queueSize = 64

// Dispatcher is the validated motion surface commands are routed to.
// Satisfied by *safety.Supervisor.
type Dispatcher interface {
	Activate(id string, dir command.Direction, duration time.Duration) error
	Stop(id string) error
	Reset(id string) error
}

// Logger defines the logging interface for the router.
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

// pendingDispatch is a motion command waiting out a dead-time window
// after an interlock rejection.
type pendingDispatch struct {
	cmd       command.Command
	notBefore time.Time
}

// Router merges the physical and network command streams into a single
// ordered dispatch stream. Physical commands always drain first, and a
// physical hold on an actuator blocks network commands for it until the
// physical control releases.
//
// A motion command rejected by the dead-time interlock is not dropped:
// the router issues a stop, waits out the dead-time, and re-dispatches.
type Router struct {
	dispatcher Dispatcher
	deadTime   time.Duration
	tick       time.Duration

	physicalCh chan command.Command
	networkCh  chan command.Command

	// Loop-owned, never touched outside run().
	holds   map[string]bool
	pending map[string]pendingDispatch

	callbackMu sync.RWMutex
	onReject   func(cmd command.Command, reason error)

	logger Logger
}

// New creates a router dispatching to the given dispatcher.
//
// Parameters:
//   - dispatcher: Validated motion surface, normally the safety supervisor
//   - deadTime: Wait between an interlock-triggered stop and the retry
//   - tick: Poll period for retrying deferred dispatches
func New(dispatcher Dispatcher, deadTime, tick time.Duration) *Router {
	return &Router{
		dispatcher: dispatcher,
		deadTime:   deadTime,
		tick:       tick,
		physicalCh: make(chan command.Command, queueSize),
		networkCh:  make(chan command.Command, queueSize),
		holds:      make(map[string]bool),
		pending:    make(map[string]pendingDispatch),
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger. Safe to call before Run only.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetOnReject registers a callback invoked with every command the
// router drops and why. The bridge uses it to publish diagnostics.
func (r *Router) SetOnReject(fn func(cmd command.Command, reason error)) {
	r.callbackMu.Lock()
	r.onReject = fn
	r.callbackMu.Unlock()
}

// SubmitPhysical enqueues a command from a physical control. Blocks if
// the queue is full; physical input is never silently dropped.
func (r *Router) SubmitPhysical(cmd command.Command) {
	cmd.Source = command.SourcePhysical
	r.physicalCh <- cmd
}

// SubmitNetwork enqueues a command from the network bridge.
func (r *Router) SubmitNetwork(cmd command.Command) {
	cmd.Source = command.SourceNetwork
	r.networkCh <- cmd
}

// Run dispatches until ctx is cancelled. Physical commands are drained
// before network commands are considered.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.Info("router started", "dead_time", r.deadTime, "tick", r.tick)

	for {
		// Drain all queued physical commands first.
		select {
		case cmd := <-r.physicalCh:
			r.accept(cmd)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			r.logger.Info("router stopped")
			return
		case cmd := <-r.physicalCh:
			r.accept(cmd)
		case cmd := <-r.networkCh:
			r.accept(cmd)
		case <-ticker.C:
			r.retryPending(time.Now())
		}
	}
}

func (r *Router) accept(cmd command.Command) {
	now := time.Now()
	if cmd.Expired(now) {
		r.reject(cmd, ErrExpired)
		return
	}
	if cmd.Source == command.SourceNetwork && r.holds[cmd.Actuator] {
		r.reject(cmd, ErrPhysicalOverride)
		return
	}

	// Latest command per actuator wins over any deferred dispatch.
	delete(r.pending, cmd.Actuator)

	switch cmd.Direction {
	case command.DirectionStop:
		if cmd.Source == command.SourcePhysical {
			delete(r.holds, cmd.Actuator)
		}
		if err := r.dispatcher.Stop(cmd.Actuator); err != nil {
			r.reject(cmd, err)
		}

	case command.DirectionReset:
		if err := r.dispatcher.Reset(cmd.Actuator); err != nil {
			r.reject(cmd, err)
		}

	case command.DirectionExtend, command.DirectionRetract:
		if cmd.Source == command.SourcePhysical {
			r.holds[cmd.Actuator] = true
		}
		r.dispatch(cmd, now)

	default:
		r.reject(cmd, actuator.ErrInvalidDirection)
	}
}

// dispatch activates, converting an interlock rejection into a stop
// followed by a deferred retry after the dead-time.
func (r *Router) dispatch(cmd command.Command, now time.Time) {
	err := r.dispatcher.Activate(cmd.Actuator, cmd.Direction, cmd.Duration)
	switch {
	case err == nil:

	case errors.Is(err, actuator.ErrInterlockViolation):
		r.logger.Debug("interlocked, stopping and deferring",
			"actuator", cmd.Actuator, "direction", cmd.Direction.String())
		if stopErr := r.dispatcher.Stop(cmd.Actuator); stopErr != nil {
			r.dropMotion(cmd, stopErr)
			return
		}
		r.pending[cmd.Actuator] = pendingDispatch{cmd: cmd, notBefore: now.Add(r.deadTime)}

	default:
		r.dropMotion(cmd, err)
	}
}

func (r *Router) retryPending(now time.Time) {
	for id, p := range r.pending {
		if p.cmd.Expired(now) {
			delete(r.pending, id)
			r.dropMotion(p.cmd, ErrExpired)
			continue
		}
		if now.Before(p.notBefore) {
			continue
		}

		err := r.dispatcher.Activate(p.cmd.Actuator, p.cmd.Direction, p.cmd.Duration)
		switch {
		case err == nil:
			delete(r.pending, id)
		case errors.Is(err, actuator.ErrInterlockViolation):
			// Still inside the window from the driver's view; wait more.
			r.pending[id] = pendingDispatch{cmd: p.cmd, notBefore: now.Add(r.deadTime)}
		default:
			delete(r.pending, id)
			r.dropMotion(p.cmd, err)
		}
	}
}

// dropMotion rejects a motion command and releases any physical hold it
// established, so a failed physical press does not lock out the network.
func (r *Router) dropMotion(cmd command.Command, reason error) {
	if cmd.Source == command.SourcePhysical {
		delete(r.holds, cmd.Actuator)
	}
	r.reject(cmd, reason)
}

func (r *Router) reject(cmd command.Command, reason error) {
	r.logger.Warn("command rejected",
		"id", cmd.ID, "source", cmd.Source.String(), "actuator", cmd.Actuator,
		"direction", cmd.Direction.String(), "reason", reason)

	r.callbackMu.RLock()
	fn := r.onReject
	r.callbackMu.RUnlock()
	if fn != nil {
		fn(cmd, reason)
	}
}
