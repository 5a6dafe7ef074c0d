package oven

import (
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/config"
)

// NumElements is the number of heating element roles: bottom, top and boost.
const NumElements = 3

// Bank addresses the outputs of a device by the function configured for them.
// Every setter is idempotent; the last write wins.
type Bank struct {
	mu    sync.Mutex
	dev   Device
	types [config.NumOutputs]config.OutputType
	state [config.NumOutputs]bool
	door  uint8
}

// NewBank creates an output bank over dev.
func NewBank(dev Device, outputs [config.NumOutputs]config.OutputConfig) *Bank {
	b := &Bank{dev: dev}
	for i, o := range outputs {
		b.types[i] = o.Type
	}
	return b
}

// SetOutput switches one output by index.
func (b *Bank) SetOutput(i int, on bool) error {
	if i < 0 || i >= config.NumOutputs {
		return fmt.Errorf("output %d out of range", i)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.state
	next[i] = on
	return b.apply(next)
}

// Output returns the last state written to output i.
func (b *Bank) Output(i int) bool {
	if i < 0 || i >= config.NumOutputs {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[i]
}

// State returns the last state written to every output.
func (b *Bank) State() [config.NumOutputs]bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetElements switches every output assigned to the bottom, top and boost
// element roles.
func (b *Bank) SetElements(on [NumElements]bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.state
	for i, t := range b.types {
		if t.IsElement() {
			next[i] = on[t.Element()]
		}
	}
	return b.apply(next)
}

// ConvectionFan switches the convection fan outputs.
func (b *Bank) ConvectionFan(on bool) error {
	return b.setType(config.OutputConvectionFan, on)
}

// CoolingFan switches the cooling fan outputs.
func (b *Bank) CoolingFan(on bool) error {
	return b.setType(config.OutputCoolingFan, on)
}

// Door moves the door to percent open over the given duration.
func (b *Bank) Door(percent uint8, over time.Duration) error {
	if percent > 100 {
		percent = 100
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dev.SetDoor(percent, over); err != nil {
		return err
	}
	b.door = percent
	return nil
}

// DoorTarget returns the last door position requested.
func (b *Bank) DoorTarget() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.door
}

// AllOff switches every output off. The command is always sent.
func (b *Bank) AllOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = [config.NumOutputs]bool{}
	return b.dev.SetOutputs(b.state)
}

// HeatingOutputs returns the number of outputs driving heating elements.
func (b *Bank) HeatingOutputs() int {
	n := 0
	for _, t := range b.types {
		if t.IsElement() {
			n++
		}
	}
	return n
}

// HasElement reports whether any output drives element role e.
func (b *Bank) HasElement(e int) bool {
	for _, t := range b.types {
		if t.IsElement() && t.Element() == e {
			return true
		}
	}
	return false
}

func (b *Bank) setType(typ config.OutputType, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.state
	for i, t := range b.types {
		if t == typ {
			next[i] = on
		}
	}
	return b.apply(next)
}

// apply sends next when it differs from the current state.
func (b *Bank) apply(next [config.NumOutputs]bool) error {
	if next == b.state {
		return nil
	}
	if err := b.dev.SetOutputs(next); err != nil {
		return fmt.Errorf("failed to set outputs: %w", err)
	}
	b.state = next
	return nil
}
