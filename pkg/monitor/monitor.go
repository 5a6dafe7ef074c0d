// Package monitor keeps a sliding window of oven temperature samples.
package monitor

import (
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/sample"
)

// DefaultRateWindow is the span used to estimate the rate of rise.
const DefaultRateWindow = 5 * time.Second

// Monitor consumes the sample stream and answers queries about it without
// ever blocking on the stream. The control loop reads Latest on every wake.
type Monitor struct {
	// samples is ordered oldest first and trimmed by timestamp
	samples []sample.Sample
	latest  sample.Sample
	have    bool
	peak    float32

	mu sync.RWMutex

	callbacks []func(s sample.Sample, rate float32)
	cbMu      sync.RWMutex

	windowDuration time.Duration
	rateWindow     time.Duration

	shutdown bool
}

// New creates a Monitor keeping cfg.WindowSeconds of history.
func New(cfg *config.SamplingConfig) *Monitor {
	window := time.Duration(cfg.WindowSeconds * float64(time.Second))
	if window <= 0 {
		window = 10 * time.Second
	}
	rate := DefaultRateWindow
	if rate > window {
		rate = window
	}
	return &Monitor{
		windowDuration: window,
		rateWindow:     rate,
	}
}

// ProcessSamples consumes input until it is closed. Run it on its own goroutine.
func (m *Monitor) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		m.processSample(s)
	}
	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()
}

func (m *Monitor) processSample(s sample.Sample) {
	m.mu.Lock()

	m.latest = s
	m.have = true

	// Faulted readings are reported through Latest but kept out of history
	if s.Valid() {
		m.samples = append(m.samples, s)
		if s.Temperature > m.peak {
			m.peak = s.Temperature
		}

		cutoff := s.Timestamp.Add(-m.windowDuration)
		i := 0
		for i < len(m.samples) && !m.samples[i].Timestamp.After(cutoff) {
			i++
		}
		if i > 0 {
			m.samples = append(m.samples[:0], m.samples[i:]...)
		}
	}

	rate := m.rateOfRise()
	shouldNotify := !m.shutdown
	m.mu.Unlock()

	if shouldNotify {
		m.notifyCallbacks(s, rate)
	}
}

// Latest returns the most recent sample and false when none has arrived yet.
func (m *Monitor) Latest() (sample.Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.have
}

// Samples returns a copy of the valid samples in the window.
func (m *Monitor) Samples() []sample.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]sample.Sample, len(m.samples))
	copy(result, m.samples)
	return result
}

// Peak returns the highest valid temperature seen since the last Reset.
func (m *Monitor) Peak() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peak
}

// RateOfRise returns the least squares slope (C/s) of the recent samples.
func (m *Monitor) RateOfRise() float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rateOfRise()
}

func (m *Monitor) rateOfRise() float32 {
	n := len(m.samples)
	if n < 2 {
		return 0
	}
	last := m.samples[n-1].Timestamp
	cutoff := last.Add(-m.rateWindow)

	var sx, sy, sxx, sxy, k float32
	for i := n - 1; i >= 0; i-- {
		s := m.samples[i]
		if s.Timestamp.Before(cutoff) {
			break
		}
		x := float32(s.Timestamp.Sub(last).Seconds())
		sx += x
		sy += s.Temperature
		sxx += x * x
		sxy += x * s.Temperature
		k++
	}
	den := k*sxx - sx*sx
	if k < 2 || math32.Abs(den) < 1e-9 {
		return 0
	}
	return (k*sxy - sx*sy) / den
}

// Reset clears the history and the peak. The latest sample is kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = m.samples[:0]
	m.peak = 0
	m.shutdown = false
}

// OnUpdate registers a callback invoked after every sample with the sample
// and the current rate of rise. Callbacks must return quickly.
func (m *Monitor) OnUpdate(callback func(s sample.Sample, rate float32)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

func (m *Monitor) notifyCallbacks(s sample.Sample, rate float32) {
	m.cbMu.RLock()
	callbacks := make([]func(sample.Sample, float32), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(s, rate)
		}
	}
}
