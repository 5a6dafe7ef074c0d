package sample

import (
	"log"
	"time"

	"github.com/itohio/goreflow/pkg/oven"
)

// NewAveragingConverter creates a converter that averages the last windowSize
// RawSamples and emits one Sample every interval. A fault in the most recent
// reading is passed through so that the control loop sees it immediately.
func NewAveragingConverter(windowSize int, interval time.Duration, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan oven.RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var buffer []oven.RawSample
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case raw, ok := <-in:
					if !ok {
						// Input closed, output any remaining samples
						if len(buffer) > 0 {
							select {
							case out <- averageSamples(buffer):
							default:
							}
						}
						return
					}

					buffer = append(buffer, raw)
					if len(buffer) > windowSize {
						buffer = buffer[1:] // Remove oldest
					}

				case <-ticker.C:
					if len(buffer) > 0 {
						select {
						case out <- averageSamples(buffer):
						default:
							log.Printf("Averaging converter output channel full")
						}
					}
				}
			}
		}()

		return out
	}
}

// averageSamples averages the valid readings in samples. The timestamp, door
// and fault come from the most recent sample.
func averageSamples(samples []oven.RawSample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	last := samples[len(samples)-1]
	if last.Fault != 0 {
		return convertSample(last)
	}

	var sum int64
	n := 0
	for _, s := range samples {
		if s.Fault != 0 {
			continue
		}
		sum += int64(s.CentiCelsius)
		n++
	}

	avg := last
	avg.CentiCelsius = int32(sum / int64(n))
	return convertSample(avg)
}
