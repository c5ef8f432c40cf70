package buttons

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/gpio"
	"github.com/nerrad567/sandman-core/internal/router"
)

const (
	testDebounce = 5 * time.Millisecond
	testTTL      = time.Second

	upLine    = 5
	downLine  = 6
	estopLine = 13
)

// sinkRecorder captures submitted commands.
type sinkRecorder struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (s *sinkRecorder) SubmitPhysical(cmd command.Command) {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
}

func (s *sinkRecorder) commands() []command.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]command.Command, len(s.cmds))
	copy(out, s.cmds)
	return out
}

// faultRecorder captures reported hardware faults.
type faultRecorder struct {
	mu     sync.Mutex
	faults []string
}

func (f *faultRecorder) ReportHardwareFault(id string, _ error) {
	f.mu.Lock()
	f.faults = append(f.faults, id)
	f.mu.Unlock()
}

func (f *faultRecorder) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.faults))
	copy(out, f.faults)
	return out
}

func startMonitor(t *testing.T, chip *gpio.Sim, specs []Spec) (*Monitor, *sinkRecorder, *faultRecorder) {
	t.Helper()

	sink := &sinkRecorder{}
	faults := &faultRecorder{}
	m := New(chip, specs, testDebounce, testTTL, sink, faults)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Close()
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return m, sink, faults
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", desc)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPressEmitsDirectionReleaseEmitsStop(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	_, sink, _ := startMonitor(t, chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
	})

	chip.SetLevel(upLine, false) // active-low press
	waitFor(t, "press command", func() bool { return len(sink.commands()) == 1 })

	got := sink.commands()[0]
	if got.Actuator != "head" || got.Direction != command.DirectionExtend {
		t.Errorf("press command = %s %s, want head extend", got.Actuator, got.Direction)
	}
	if got.Source != command.SourcePhysical {
		t.Errorf("source = %v, want physical", got.Source)
	}

	chip.SetLevel(upLine, true) // release
	waitFor(t, "release command", func() bool { return len(sink.commands()) == 2 })

	if got := sink.commands()[1]; got.Direction != command.DirectionStop {
		t.Errorf("release command direction = %s, want stop", got.Direction)
	}
}

func TestBounceEmitsSingleCommand(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	_, sink, _ := startMonitor(t, chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
	})

	// Chatter faster than the debounce window, settling pressed.
	for i := 0; i < 4; i++ {
		chip.SetLevel(upLine, false)
		chip.SetLevel(upLine, true)
		time.Sleep(time.Millisecond)
	}
	chip.SetLevel(upLine, false)

	waitFor(t, "debounced press", func() bool { return len(sink.commands()) >= 1 })
	time.Sleep(3 * testDebounce)

	cmds := sink.commands()
	if len(cmds) != 1 {
		t.Fatalf("commands = %d, want 1 after bounce", len(cmds))
	}
	if cmds[0].Direction != command.DirectionExtend {
		t.Errorf("direction = %s, want extend", cmds[0].Direction)
	}
}

func TestTwoButtonsIndependent(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	_, sink, _ := startMonitor(t, chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
		{Line: downLine, Actuator: "head", Direction: command.DirectionRetract, ActiveLow: true},
	})

	chip.SetLevel(downLine, false)
	waitFor(t, "retract press", func() bool { return len(sink.commands()) == 1 })

	if got := sink.commands()[0]; got.Direction != command.DirectionRetract {
		t.Errorf("direction = %s, want retract", got.Direction)
	}
}

func TestReadFailureFaultsOnlyItsActuator(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	_, sink, faults := startMonitor(t, chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
		{Line: downLine, Actuator: "foot", Direction: command.DirectionRetract, ActiveLow: true},
	})

	chip.FailReads(upLine, errors.New("line stuck"))
	chip.SetLevel(upLine, false) // edge leads to the failing read

	waitFor(t, "fault report", func() bool { return len(faults.ids()) == 1 })
	if got := faults.ids()[0]; got != "head" {
		t.Errorf("faulted = %q, want head", got)
	}

	// The other watcher keeps working.
	chip.SetLevel(downLine, false)
	waitFor(t, "surviving watcher", func() bool {
		for _, cmd := range sink.commands() {
			if cmd.Actuator == "foot" {
				return true
			}
		}
		return false
	})
}

func TestReadFailureEmitsStopForHeldPress(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	_, sink, faults := startMonitor(t, chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
	})

	chip.SetLevel(upLine, false) // press
	waitFor(t, "press command", func() bool { return len(sink.commands()) == 1 })

	// The line dies mid-press, so the release edge can never arrive.
	// The watcher must emit the stop itself or the press would hold the
	// actuator's physical priority forever.
	chip.FailReads(upLine, errors.New("line stuck"))
	chip.SetLevel(upLine, true)

	waitFor(t, "fault report", func() bool { return len(faults.ids()) == 1 })
	waitFor(t, "synthetic release", func() bool { return len(sink.commands()) == 2 })

	got := sink.commands()[1]
	if got.Actuator != "head" || got.Direction != command.DirectionStop {
		t.Errorf("final command = %s %s, want head stop", got.Actuator, got.Direction)
	}
	if got.Source != command.SourcePhysical {
		t.Errorf("source = %v, want physical", got.Source)
	}
}

// dispatchRecorder satisfies router.Dispatcher for end-to-end wiring tests.
type dispatchRecorder struct {
	mu          sync.Mutex
	activations []string
	stops       []string
	resets      []string
}

func (d *dispatchRecorder) Activate(id string, dir command.Direction, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activations = append(d.activations, id+":"+dir.String())
	return nil
}

func (d *dispatchRecorder) Stop(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops = append(d.stops, id)
	return nil
}

func (d *dispatchRecorder) Reset(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets = append(d.resets, id)
	return nil
}

func (d *dispatchRecorder) counts() (activations, stops, resets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.activations), len(d.stops), len(d.resets)
}

func TestLineFailureReleasesRouterHold(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	disp := &dispatchRecorder{}
	r := router.New(disp, 10*time.Millisecond, 2*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	routerDone := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(routerDone)
	}()

	faults := &faultRecorder{}
	m := New(chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend, ActiveLow: true},
	}, testDebounce, testTTL, r, faults)

	t.Cleanup(func() {
		cancel()
		m.Close()
		<-routerDone
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	chip.SetLevel(upLine, false) // press takes the physical hold
	waitFor(t, "activation", func() bool {
		a, _, _ := disp.counts()
		return a == 1
	})

	// The line dies while held. The watcher's synthetic release must
	// flow through the router and lift the hold.
	chip.FailReads(upLine, errors.New("line stuck"))
	chip.SetLevel(upLine, true)
	waitFor(t, "release stop", func() bool {
		_, s, _ := disp.counts()
		return s == 1
	})

	// Remote recovery now works: the reset reaches the dispatcher
	// instead of being refused as a physical override.
	r.SubmitNetwork(command.New(command.SourceNetwork, "head", command.DirectionReset, 0, testTTL))
	waitFor(t, "network reset", func() bool {
		_, _, rs := disp.counts()
		return rs == 1
	})
}

func TestEStopPressFiresCallback(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	sink := &sinkRecorder{}
	faults := &faultRecorder{}
	m := New(chip, nil, testDebounce, testTTL, sink, faults)

	var mu sync.Mutex
	fired := 0
	m.SetEmergencyStop(estopLine, func() {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		m.Close()
	}()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	chip.SetLevel(estopLine, false) // press
	waitFor(t, "e-stop callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	})

	chip.SetLevel(estopLine, true) // release fires nothing
	time.Sleep(3 * testDebounce)
	mu.Lock()
	defer mu.Unlock()
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestStartFailsOnUnavailableLine(t *testing.T) {
	chip := gpio.NewSim()
	defer chip.Close()

	// Claim the line first so the monitor cannot.
	if _, err := chip.OpenInput(upLine); err != nil {
		t.Fatalf("OpenInput() error = %v", err)
	}

	m := New(chip, []Spec{
		{Line: upLine, Actuator: "head", Direction: command.DirectionExtend},
	}, testDebounce, testTTL, &sinkRecorder{}, &faultRecorder{})

	if err := m.Start(context.Background()); !errors.Is(err, gpio.ErrLineUnavailable) {
		t.Errorf("Start() error = %v, want ErrLineUnavailable", err)
	}
}
