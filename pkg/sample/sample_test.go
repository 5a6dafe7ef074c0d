package sample

import (
	"testing"
	"time"

	"github.com/itohio/goreflow/pkg/oven"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentiToCelsius(t *testing.T) {
	tests := []struct {
		name  string
		centi int32
		want  float32
	}{
		{name: "zero", centi: 0, want: 0},
		{name: "room", centi: 2512, want: 25.12},
		{name: "peak", centi: 24500, want: 245},
		{name: "negative", centi: -150, want: -1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, centiToCelsius(tt.centi), 1e-4)
		})
	}
}

func TestConvertSample(t *testing.T) {
	now := time.Now()
	s := convertSample(oven.RawSample{Timestamp: now, CentiCelsius: 15000, Door: 40})
	assert.Equal(t, now, s.Timestamp)
	assert.InDelta(t, 150, s.Temperature, 1e-4)
	assert.Equal(t, uint8(40), s.Door)
	assert.True(t, s.Valid())

	s = convertSample(oven.RawSample{Timestamp: now, Fault: oven.FaultOpenCircuit})
	assert.False(t, s.Valid())
}

func TestNewConverter(t *testing.T) {
	converter := NewConverter(10)
	in := make(chan oven.RawSample, 10)
	out := converter(in)

	now := time.Now()
	for i := 0; i < 3; i++ {
		in <- oven.RawSample{
			Timestamp:    now.Add(time.Duration(i) * 200 * time.Millisecond),
			CentiCelsius: int32(2500 + i*100),
		}
	}
	close(in)

	var samples []Sample
	for s := range out {
		samples = append(samples, s)
	}
	require.Len(t, samples, 3)
	assert.InDelta(t, 25, samples[0].Temperature, 1e-4)
	assert.InDelta(t, 27, samples[2].Temperature, 1e-4)
}

// TestConverter_GracefulShutdown tests that converter closes output channel
// when input channel is closed.
func TestConverter_GracefulShutdown(t *testing.T) {
	converter := NewConverter(0)
	input := make(chan oven.RawSample)
	output := converter(input)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range output {
		}
	}()

	input <- oven.RawSample{Timestamp: time.Now(), CentiCelsius: 2500}
	close(input)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Output channel did not close within timeout")
	}
}
