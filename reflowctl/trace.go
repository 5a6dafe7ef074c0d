package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/sample"
)

// tracePoints is the number of rows printed for a finished run.
const tracePoints = 24

// trace records every valid sample of a run.
type trace struct {
	mu      sync.Mutex
	samples []sample.Sample
}

func newTrace(m *monitor.Monitor) *trace {
	t := &trace{}
	m.OnUpdate(func(s sample.Sample, _ float32) {
		if !s.Valid() {
			return
		}
		t.mu.Lock()
		t.samples = append(t.samples, s)
		t.mu.Unlock()
	})
	return t
}

// print writes the run as a short table keeping the hottest sample of each
// time slice.
func (t *trace) print() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return
	}

	start := t.samples[0].Timestamp
	for _, s := range sample.DownsampleSamples(nil, t.samples, tracePoints) {
		fmt.Printf("%8s  %6.1fC\n", s.Timestamp.Sub(start).Round(time.Second), s.Temperature)
	}
}
