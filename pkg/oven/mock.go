package oven

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/goreflow/pkg/config"
)

// Mock simulates an oven for testing and development. Heating elements add
// heat at a fixed rate, and heat leaks to ambient in proportion to the
// temperature difference. The cooling fan and an open door increase the leak.
type Mock struct {
	cfg     *config.MockConfig
	outputs [config.NumOutputs]config.OutputConfig

	samples   chan RawSample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool

	// Output and door state
	state      [config.NumOutputs]bool
	door       float32 // Current door position (%)
	doorTarget float32
	doorRate   float32 // %/s, 0 = move immediately

	// Simulation state
	startTime   time.Time
	temperature float32
	fault       uint8
}

// NewMock creates a simulated oven. outputs assigns functions to the six
// outputs the same way the real board is wired.
func NewMock(cfg *config.MockConfig, outputs [config.NumOutputs]config.OutputConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:         cfg,
		outputs:     outputs,
		samples:     make(chan RawSample, DefaultBufferSize),
		ctx:         ctx,
		cancel:      cancel,
		temperature: cfg.Ambient,
	}
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = time.Now()

	go m.generateSamples()

	return nil
}

// Close stops the simulated oven.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	m.connected = false
	m.state = [config.NumOutputs]bool{}

	return nil
}

// Samples returns the channel for reading samples.
func (m *Mock) Samples() <-chan RawSample {
	return m.samples
}

// SetOutputs sets the output states (simulated).
func (m *Mock) SetOutputs(outputs [config.NumOutputs]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	m.state = outputs
	return nil
}

// SetDoor starts moving the simulated door.
func (m *Mock) SetDoor(percent uint8, over time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}
	if percent > 100 {
		percent = 100
	}
	m.doorTarget = float32(percent)
	m.doorRate = 0
	if over > 0 {
		m.doorRate = math32.Abs(m.doorTarget-m.door) / float32(over.Seconds())
	}
	return nil
}

// SetFault makes the simulated thermocouple report fault bits.
func (m *Mock) SetFault(fault uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = fault
}

// Temperature returns the simulated oven temperature.
func (m *Mock) Temperature() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.temperature
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// generateSamples generates simulated samples.
func (m *Mock) generateSamples() {
	defer close(m.samples)
	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	dt := float32(m.cfg.SampleRate.Seconds())
	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			sample := m.step(now, dt)
			select {
			case m.samples <- sample:
			case <-m.ctx.Done():
				return
			default:
				// Channel full, skip
			}
		}
	}
}

// step advances the simulation by dt seconds.
func (m *Mock) step(now time.Time, dt float32) RawSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.doorRate == 0 {
		m.door = m.doorTarget
	} else {
		delta := m.doorRate * dt
		if math32.Abs(m.doorTarget-m.door) <= delta {
			m.door = m.doorTarget
		} else if m.doorTarget > m.door {
			m.door += delta
		} else {
			m.door -= delta
		}
	}

	m.temperature += (m.heating() - m.loss()) * dt

	elapsed := float32(now.Sub(m.startTime).Seconds())
	noise := (math32.Sin(elapsed*7.3) + math32.Cos(elapsed*3.1)) * m.cfg.NoiseLevel * 0.5

	return RawSample{
		Timestamp:    now,
		CentiCelsius: int32(round((m.temperature + noise) * 100)),
		Fault:        m.fault,
		Outputs:      m.state,
		Door:         uint8(round(m.door)),
	}
}

// heating returns the heating rate (C/s) of the elements that are on.
func (m *Mock) heating() float32 {
	var rate float32
	for i, on := range m.state {
		if !on || !m.outputs[i].Type.IsElement() {
			continue
		}
		rate += m.cfg.ElementPower[m.outputs[i].Type.Element()]
	}
	return rate
}

// loss returns the cooling rate (C/s) at the current temperature.
func (m *Mock) loss() float32 {
	k := m.cfg.Loss + m.cfg.DoorLoss*m.door/100
	for i, on := range m.state {
		if on && m.outputs[i].Type == config.OutputCoolingFan {
			k += m.cfg.FanLoss
		}
	}
	return k * (m.temperature - m.cfg.Ambient)
}

func round(x float32) float32 {
	return math32.Floor(x + 0.5)
}
