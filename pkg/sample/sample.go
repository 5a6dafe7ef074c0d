// Package sample turns raw thermocouple readings into temperatures.
package sample

import (
	"log"
	"time"

	"github.com/itohio/goreflow/pkg/oven"
)

// Sample represents a processed thermocouple sample.
type Sample struct {
	Timestamp   time.Time
	Temperature float32 // Oven temperature (C)
	Fault       uint8   // Thermocouple fault bits, 0 when Temperature is valid
	Door        uint8   // Door position (%)
}

// Valid reports whether the thermocouple reading can be trusted.
func (s Sample) Valid() bool {
	return s.Fault == 0
}

// Converter is a function type that converts RawSample channel to Sample channel.
type Converter func(in <-chan oven.RawSample) <-chan Sample

// NewConverter creates a converter function that transforms RawSample to Sample.
func NewConverter(bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan oven.RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for raw := range in {
				select {
				case out <- convertSample(raw):
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

// convertSample converts a RawSample to Sample.
func convertSample(raw oven.RawSample) Sample {
	return Sample{
		Timestamp:   raw.Timestamp,
		Temperature: centiToCelsius(raw.CentiCelsius),
		Fault:       raw.Fault,
		Door:        raw.Door,
	}
}

func centiToCelsius(centi int32) float32 {
	return float32(centi) / 100
}
