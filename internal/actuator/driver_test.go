package actuator

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/sandman-core/internal/command"
	"github.com/nerrad567/sandman-core/internal/gpio"
)

const (
	testMaxRun   = 80 * time.Millisecond
	testDeadTime = 40 * time.Millisecond
)

// testRig bundles a driver with its simulated chip and a snapshot recorder.
type testRig struct {
	chip   *gpio.Sim
	driver *Driver

	mu    sync.Mutex
	snaps []Snapshot
}

// Line assignments for the test bed: head on 17/27, foot on 22/23.
const (
	headExtendLine  = 17
	headRetractLine = 27
	footExtendLine  = 22
	footRetractLine = 23
)

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	chip := gpio.NewSim()
	t.Cleanup(func() { chip.Close() })

	open := func(line int) gpio.OutputLine {
		out, err := chip.OpenOutput(line)
		if err != nil {
			t.Fatalf("OpenOutput(%d) error = %v", line, err)
		}
		return out
	}

	driver, err := New(testDeadTime, []Lines{
		{ID: "head", Extend: open(headExtendLine), Retract: open(headRetractLine), MaxRun: testMaxRun},
		{ID: "foot", Extend: open(footExtendLine), Retract: open(footRetractLine), MaxRun: testMaxRun},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { driver.Close() })

	rig := &testRig{chip: chip, driver: driver}
	driver.SetOnSnapshot(func(s Snapshot) {
		rig.mu.Lock()
		rig.snaps = append(rig.snaps, s)
		rig.mu.Unlock()
	})
	return rig
}

func (r *testRig) lastSnapshot(t *testing.T, id string) Snapshot {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.snaps) - 1; i >= 0; i-- {
		if r.snaps[i].Actuator == id {
			return r.snaps[i]
		}
	}
	t.Fatalf("no snapshot recorded for %q", id)
	return Snapshot{}
}

func (r *testRig) outputs(t *testing.T, extendLine, retractLine int) (bool, bool) {
	t.Helper()
	ext, ok := r.chip.OutputLevel(extendLine)
	if !ok {
		t.Fatalf("extend line %d never opened", extendLine)
	}
	ret, ok := r.chip.OutputLevel(retractLine)
	if !ok {
		t.Fatalf("retract line %d never opened", retractLine)
	}
	return ext, ret
}

func TestActivateAssertsSingleOutput(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	ext, ret := rig.outputs(t, headExtendLine, headRetractLine)
	if !ext || ret {
		t.Errorf("outputs = (extend=%v, retract=%v), want (true, false)", ext, ret)
	}

	snap := rig.lastSnapshot(t, "head")
	if snap.State != StateExtending {
		t.Errorf("state = %v, want extending", snap.State)
	}
	if snap.Remaining <= 0 || snap.Remaining > testMaxRun {
		t.Errorf("remaining = %v, want within (0, %v]", snap.Remaining, testMaxRun)
	}
}

func TestRunDoneReportsMeasuredDuration(t *testing.T) {
	rig := newTestRig(t)

	var mu sync.Mutex
	var runs []RunRecord
	rig.driver.SetOnRunDone(func(rec RunRecord) {
		mu.Lock()
		runs = append(runs, rec)
		mu.Unlock()
	})

	if err := rig.driver.Activate("head", command.DirectionExtend, 30*time.Millisecond); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond) // auto-stop fires

	if err := rig.driver.Activate("foot", command.DirectionRetract, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if err := rig.driver.Stop("foot"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(runs) != 2 {
		t.Fatalf("run records = %d, want 2", len(runs))
	}

	// Auto-stopped run: elapsed is at least the requested duration.
	if runs[0].Actuator != "head" || runs[0].Direction != command.DirectionExtend {
		t.Errorf("runs[0] = %s %s, want head extend", runs[0].Actuator, runs[0].Direction)
	}
	if runs[0].Ran < 30*time.Millisecond || runs[0].Ran > testMaxRun {
		t.Errorf("runs[0].Ran = %v, want within [30ms, %v]", runs[0].Ran, testMaxRun)
	}

	// Manually stopped run: elapsed is roughly the hold time, well
	// short of the ceiling.
	if runs[1].Actuator != "foot" || runs[1].Direction != command.DirectionRetract {
		t.Errorf("runs[1] = %s %s, want foot retract", runs[1].Actuator, runs[1].Direction)
	}
	if runs[1].Ran < 20*time.Millisecond || runs[1].Ran >= testMaxRun {
		t.Errorf("runs[1].Ran = %v, want within [20ms, %v)", runs[1].Ran, testMaxRun)
	}
}

func TestAutoStopAtRequestedDuration(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 30*time.Millisecond); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	// Well past the requested duration but short of MaxRun.
	time.Sleep(60 * time.Millisecond)

	ext, ret := rig.outputs(t, headExtendLine, headRetractLine)
	if ext || ret {
		t.Errorf("outputs after auto-stop = (%v, %v), want both low", ext, ret)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateIdle {
		t.Errorf("state after auto-stop = %v, want idle", snap.State)
	}
}

func TestDurationClampedToMaxRun(t *testing.T) {
	rig := newTestRig(t)

	// Request far beyond the ceiling; the ceiling must win.
	if err := rig.driver.Activate("head", command.DirectionExtend, time.Hour); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	snap := rig.lastSnapshot(t, "head")
	if snap.Remaining > testMaxRun {
		t.Errorf("remaining = %v exceeds MaxRun %v", snap.Remaining, testMaxRun)
	}

	time.Sleep(testMaxRun + 40*time.Millisecond)
	if ext, _ := rig.outputs(t, headExtendLine, headRetractLine); ext {
		t.Error("extend still asserted past MaxRun")
	}
}

func TestSameDirectionRefreshesTimer(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 50*time.Millisecond); err != nil {
		t.Fatalf("first Activate() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	// Refresh before the first deadline; motion must continue past it.
	if err := rig.driver.Activate("head", command.DirectionExtend, 50*time.Millisecond); err != nil {
		t.Fatalf("refresh Activate() error = %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if ext, _ := rig.outputs(t, headExtendLine, headRetractLine); !ext {
		t.Error("extend released at original deadline despite refresh")
	}

	time.Sleep(40 * time.Millisecond)
	if ext, _ := rig.outputs(t, headExtendLine, headRetractLine); ext {
		t.Error("extend still asserted past refreshed deadline")
	}
}

func TestReversalWhileMovingIsInterlocked(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate(extend) error = %v", err)
	}

	err := rig.driver.Activate("head", command.DirectionRetract, 0)
	if !errors.Is(err, ErrInterlockViolation) {
		t.Fatalf("Activate(retract) error = %v, want ErrInterlockViolation", err)
	}

	// Outputs must be exactly as before the rejected command.
	ext, ret := rig.outputs(t, headExtendLine, headRetractLine)
	if !ext || ret {
		t.Errorf("outputs = (extend=%v, retract=%v), want (true, false)", ext, ret)
	}
}

func TestReversalWithinDeadTimeIsInterlocked(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate(extend) error = %v", err)
	}
	if err := rig.driver.Stop("head"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Immediately reversing violates the dead-time.
	if err := rig.driver.Activate("head", command.DirectionRetract, 0); !errors.Is(err, ErrInterlockViolation) {
		t.Fatalf("Activate within dead-time error = %v, want ErrInterlockViolation", err)
	}

	// After the dead-time the reversal is allowed.
	time.Sleep(testDeadTime + 10*time.Millisecond)
	if err := rig.driver.Activate("head", command.DirectionRetract, 0); err != nil {
		t.Fatalf("Activate after dead-time error = %v", err)
	}

	ext, ret := rig.outputs(t, headExtendLine, headRetractLine)
	if ext || !ret {
		t.Errorf("outputs = (extend=%v, retract=%v), want (false, true)", ext, ret)
	}
}

func TestSameDirectionRestartSkipsDeadTime(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := rig.driver.Stop("head"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// Dead-time guards reversals only; resuming the same direction is fine.
	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("same-direction restart error = %v", err)
	}
}

func TestStopReleasesOutputsAndCancelsTimer(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := rig.driver.Stop("head"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	ext, ret := rig.outputs(t, headExtendLine, headRetractLine)
	if ext || ret {
		t.Errorf("outputs after stop = (%v, %v), want both low", ext, ret)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateIdle {
		t.Errorf("state = %v, want idle", snap.State)
	}
}

func TestFaultIsStickyUntilReset(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Fault("head"); err != nil {
		t.Fatalf("Fault() error = %v", err)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateFault {
		t.Fatalf("state = %v, want fault", snap.State)
	}

	// Direction commands never clear Fault.
	if err := rig.driver.Activate("head", command.DirectionExtend, 0); !errors.Is(err, ErrFaulted) {
		t.Errorf("Activate() on fault error = %v, want ErrFaulted", err)
	}
	if err := rig.driver.Stop("head"); err != nil {
		t.Errorf("Stop() on fault error = %v", err)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateFault {
		t.Errorf("state after stop = %v, want fault still", snap.State)
	}

	// Explicit reset does.
	if err := rig.driver.Reset("head"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateIdle {
		t.Errorf("state after reset = %v, want idle", snap.State)
	}
}

func TestResetIsNoOpWhenNotFaulted(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Reset("head"); err != nil {
		t.Errorf("Reset() on idle error = %v", err)
	}

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if err := rig.driver.Reset("head"); err != nil {
		t.Errorf("Reset() while moving error = %v", err)
	}
	if ext, _ := rig.outputs(t, headExtendLine, headRetractLine); !ext {
		t.Error("Reset() while moving released the output")
	}
}

func TestWriteFailureLatchesFault(t *testing.T) {
	rig := newTestRig(t)

	rig.chip.FailWrites(headExtendLine, errors.New("relay stuck"))

	err := rig.driver.Activate("head", command.DirectionExtend, 0)
	if !errors.Is(err, ErrHardware) {
		t.Fatalf("Activate() error = %v, want ErrHardware", err)
	}
	if snap := rig.lastSnapshot(t, "head"); snap.State != StateFault {
		t.Errorf("state = %v, want fault", snap.State)
	}

	// The other actuator is unaffected (partial failure isolation).
	if err := rig.driver.Activate("foot", command.DirectionExtend, 0); err != nil {
		t.Errorf("Activate(foot) error = %v", err)
	}
}

func TestStopAllStopsEveryActuator(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionExtend, 0); err != nil {
		t.Fatalf("Activate(head) error = %v", err)
	}
	if err := rig.driver.Activate("foot", command.DirectionRetract, 0); err != nil {
		t.Fatalf("Activate(foot) error = %v", err)
	}

	if err := rig.driver.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	for _, line := range []int{headExtendLine, headRetractLine, footExtendLine, footRetractLine} {
		if level, _ := rig.chip.OutputLevel(line); level {
			t.Errorf("line %d still asserted after StopAll", line)
		}
	}
}

func TestUnknownActuator(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("ghost", command.DirectionExtend, 0); !errors.Is(err, ErrUnknownActuator) {
		t.Errorf("Activate() error = %v, want ErrUnknownActuator", err)
	}
	if err := rig.driver.Stop("ghost"); !errors.Is(err, ErrUnknownActuator) {
		t.Errorf("Stop() error = %v, want ErrUnknownActuator", err)
	}
	if _, err := rig.driver.Snapshot("ghost"); !errors.Is(err, ErrUnknownActuator) {
		t.Errorf("Snapshot() error = %v, want ErrUnknownActuator", err)
	}
}

func TestInvalidDirection(t *testing.T) {
	rig := newTestRig(t)

	if err := rig.driver.Activate("head", command.DirectionStop, 0); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Activate(stop) error = %v, want ErrInvalidDirection", err)
	}
	if err := rig.driver.Activate("head", command.DirectionReset, 0); !errors.Is(err, ErrInvalidDirection) {
		t.Errorf("Activate(reset) error = %v, want ErrInvalidDirection", err)
	}
}

func TestMutualExclusionHoldsUnderConcurrentCommands(t *testing.T) {
	rig := newTestRig(t)

	// Hammer both directions from concurrent goroutines and verify the
	// outputs are never simultaneously asserted. Interlock rejections
	// are expected and ignored.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, dir := range []command.Direction{command.DirectionExtend, command.DirectionRetract} {
		wg.Add(1)
		go func(dir command.Direction) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_ = rig.driver.Activate("head", dir, 10*time.Millisecond)
				_ = rig.driver.Stop("head")
			}
		}(dir)
	}

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		ext, _ := rig.chip.OutputLevel(headExtendLine)
		ret, _ := rig.chip.OutputLevel(headRetractLine)
		if ext && ret {
			close(done)
			wg.Wait()
			t.Fatal("extend and retract simultaneously asserted")
		}
	}
	close(done)
	wg.Wait()
}

func TestSnapshotsStableOrder(t *testing.T) {
	rig := newTestRig(t)

	snaps := rig.driver.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots()) = %d, want 2", len(snaps))
	}
	if snaps[0].Actuator != "foot" || snaps[1].Actuator != "head" {
		t.Errorf("order = [%s, %s], want [foot, head]", snaps[0].Actuator, snaps[1].Actuator)
	}
}
