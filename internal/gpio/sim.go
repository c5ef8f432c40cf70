package gpio

import (
	"fmt"
	"sync"
	"time"
)

// Sim is an in-memory Chip for tests and desktop runs.
//
// Tests drive inputs with SetLevel and observe outputs with OutputLevel.
// Read and write failures can be injected per line to exercise fault paths.
type Sim struct {
	mu      sync.Mutex
	inputs  map[int]*simInput
	outputs map[int]*simOutput
}

// NewSim creates an empty simulated chip. All input lines read high until
// set otherwise, matching pull-up wiring.
func NewSim() *Sim {
	return &Sim{
		inputs:  make(map[int]*simInput),
		outputs: make(map[int]*simOutput),
	}
}

// OpenInput opens a simulated input line.
func (s *Sim) OpenInput(line int) (InputLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in, exists := s.inputs[line]; exists {
		if in.opened {
			return nil, fmt.Errorf("%w: line %d already owned", ErrLineUnavailable, line)
		}
		in.opened = true
		return in, nil
	}

	in := newSimInput(line)
	in.opened = true
	s.inputs[line] = in
	return in, nil
}

// OpenOutput opens a simulated output line, driven low.
func (s *Sim) OpenOutput(line int) (OutputLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.outputs[line]; exists {
		return nil, fmt.Errorf("%w: line %d already owned", ErrLineUnavailable, line)
	}

	out := &simOutput{line: line}
	s.outputs[line] = out
	return out, nil
}

// Close releases all lines.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.inputs {
		in.close()
	}
	s.inputs = make(map[int]*simInput)
	s.outputs = make(map[int]*simOutput)
	return nil
}

// SetLevel sets an input line's level and signals an edge to any waiter.
// The line is created on first use so tests can set levels before the
// code under test opens the line.
func (s *Sim) SetLevel(line int, high bool) {
	s.mu.Lock()
	in, exists := s.inputs[line]
	if !exists {
		in = newSimInput(line)
		s.inputs[line] = in
	}
	s.mu.Unlock()

	in.setLevel(high)
}

// FailReads makes every Read on an input line return err (nil to heal).
func (s *Sim) FailReads(line int, err error) {
	s.mu.Lock()
	in, exists := s.inputs[line]
	if !exists {
		in = newSimInput(line)
		s.inputs[line] = in
	}
	s.mu.Unlock()

	in.mu.Lock()
	in.readErr = err
	in.mu.Unlock()
}

// FailWrites makes every Set on an output line return err (nil to heal).
func (s *Sim) FailWrites(line int, err error) {
	s.mu.Lock()
	out := s.outputs[line]
	s.mu.Unlock()
	if out == nil {
		return
	}

	out.mu.Lock()
	out.writeErr = err
	out.mu.Unlock()
}

// OutputLevel reports the current level of an output line.
// The second return is false if the line was never opened.
func (s *Sim) OutputLevel(line int) (bool, bool) {
	s.mu.Lock()
	out := s.outputs[line]
	s.mu.Unlock()
	if out == nil {
		return false, false
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	return out.level, true
}

type simInput struct {
	line   int
	opened bool

	mu      sync.Mutex
	level   bool
	readErr error
	closed  bool

	// edge is signalled (capacity 1, non-blocking) on every level change.
	edge chan struct{}
	done chan struct{}
}

func newSimInput(line int) *simInput {
	return &simInput{
		line:  line,
		level: true, // pull-up idle
		edge:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (i *simInput) setLevel(high bool) {
	i.mu.Lock()
	changed := i.level != high
	i.level = high
	i.mu.Unlock()

	if changed {
		select {
		case i.edge <- struct{}{}:
		default:
		}
	}
}

func (i *simInput) Read() (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false, ErrLineClosed
	}
	if i.readErr != nil {
		return false, fmt.Errorf("%w: line %d: %w", ErrRead, i.line, i.readErr)
	}
	return i.level, nil
}

func (i *simInput) WaitForEdge(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-i.edge:
		return true
	case <-i.done:
		return false
	case <-timer.C:
		return false
	}
}

func (i *simInput) Close() error {
	i.close()
	return nil
}

func (i *simInput) close() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.closed {
		i.closed = true
		close(i.done)
	}
}

type simOutput struct {
	line int

	mu       sync.Mutex
	level    bool
	writeErr error
}

func (o *simOutput) Set(high bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.writeErr != nil {
		return fmt.Errorf("%w: line %d: %w", ErrWrite, o.line, o.writeErr)
	}
	o.level = high
	return nil
}

func (o *simOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.level = false
	return nil
}
