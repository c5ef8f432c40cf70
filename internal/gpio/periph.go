package gpio

import (
	"fmt"
	"sync"
	"time"

	periphgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph is the hardware Chip backed by periph.io. Lines are addressed by
// their BCM numbers (GPIO17 is line 17).
type Periph struct {
	mu    sync.Mutex
	owned map[int]periphgpio.PinIO
}

// NewPeriph initialises the periph host and returns a hardware chip.
//
// Returns:
//   - *Periph: Chip ready to hand out lines
//   - error: ErrHostInit if the GPIO subsystem is inaccessible
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHostInit, err)
	}
	return &Periph{owned: make(map[int]periphgpio.PinIO)}, nil
}

// OpenInput configures a line as an input with pull-up and edge detection.
// Pull-up matches the usual button wiring (switch to ground, active-low).
func (p *Periph) OpenInput(line int) (InputLine, error) {
	pin, err := p.claim(line)
	if err != nil {
		return nil, err
	}
	if err := pin.In(periphgpio.PullUp, periphgpio.BothEdges); err != nil {
		p.release(line)
		return nil, fmt.Errorf("%w: configuring line %d as input: %w", ErrLineUnavailable, line, err)
	}
	return &periphInput{chip: p, line: line, pin: pin}, nil
}

// OpenOutput configures a line as an output, driven low.
func (p *Periph) OpenOutput(line int) (OutputLine, error) {
	pin, err := p.claim(line)
	if err != nil {
		return nil, err
	}
	if err := pin.Out(periphgpio.Low); err != nil {
		p.release(line)
		return nil, fmt.Errorf("%w: configuring line %d as output: %w", ErrLineUnavailable, line, err)
	}
	return &periphOutput{chip: p, line: line, pin: pin}, nil
}

// Close drives all owned outputs low and releases every line.
func (p *Periph) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for line, pin := range p.owned {
		if err := pin.Halt(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("halting line %d: %w", line, err)
		}
		delete(p.owned, line)
	}
	return firstErr
}

// claim registers exclusive ownership of a line.
func (p *Periph) claim(line int) (periphgpio.PinIO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, taken := p.owned[line]; taken {
		return nil, fmt.Errorf("%w: line %d already owned", ErrLineUnavailable, line)
	}

	pin := gpioreg.ByName(fmt.Sprintf("GPIO%d", line))
	if pin == nil {
		return nil, fmt.Errorf("%w: no such line %d", ErrLineUnavailable, line)
	}

	p.owned[line] = pin
	return pin, nil
}

func (p *Periph) release(line int) {
	p.mu.Lock()
	delete(p.owned, line)
	p.mu.Unlock()
}

type periphInput struct {
	chip *Periph
	line int
	pin  periphgpio.PinIO
}

func (i *periphInput) Read() (bool, error) {
	return i.pin.Read() == periphgpio.High, nil
}

func (i *periphInput) WaitForEdge(timeout time.Duration) bool {
	return i.pin.WaitForEdge(timeout)
}

func (i *periphInput) Close() error {
	i.chip.release(i.line)
	if err := i.pin.Halt(); err != nil {
		return fmt.Errorf("halting line %d: %w", i.line, err)
	}
	return nil
}

type periphOutput struct {
	chip *Periph
	line int
	pin  periphgpio.PinIO
}

func (o *periphOutput) Set(high bool) error {
	if err := o.pin.Out(periphgpio.Level(high)); err != nil {
		return fmt.Errorf("%w: line %d: %w", ErrWrite, o.line, err)
	}
	return nil
}

func (o *periphOutput) Close() error {
	// Best effort: never leave a motor driven during teardown.
	_ = o.pin.Out(periphgpio.Low)
	o.chip.release(o.line)
	if err := o.pin.Halt(); err != nil {
		return fmt.Errorf("halting line %d: %w", o.line, err)
	}
	return nil
}
