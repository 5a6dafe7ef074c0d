package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/monitor"
	"github.com/itohio/goreflow/pkg/oven"
	"github.com/itohio/goreflow/pkg/sample"
)

// firstSampleTimeout bounds the wait for the thermocouple after connecting.
const firstSampleTimeout = 5 * time.Second

// measurementChain tracks the device, its sample pipeline and the goroutine
// feeding the monitor, for graceful shutdown.
type measurementChain struct {
	device      oven.Device
	bank        *oven.Bank
	monitor     *monitor.Monitor
	monitorDone chan struct{} // Closed when the monitor goroutine exits
}

// connect opens the oven and starts the sample pipeline.
func connect(cfg *config.Config, mock bool) (*measurementChain, error) {
	var device oven.Device
	if mock {
		device = oven.NewMock(&cfg.Mock, cfg.Outputs)
		log.Printf("Using simulated oven")
	} else {
		device = oven.New(cfg.Serial.Port, cfg.Serial.Baud, oven.DefaultBufferSize)
	}

	if err := device.Connect(); err != nil {
		if mock {
			return nil, fmt.Errorf("failed to connect to simulated oven: %w", err)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Serial.Port, err)
	}
	if !mock {
		log.Printf("Connected to serial port: %s", cfg.Serial.Port)
	}

	// Averaging converter when enabled, plain conversion otherwise
	var convert sample.Converter
	if cfg.Sampling.AverageSamples > 0 {
		convert = sample.NewAveragingConverter(cfg.Sampling.AverageSamples, cfg.Sampling.Interval, 500)
	} else {
		convert = sample.NewConverter(500)
	}
	samples := convert(device.Samples())

	chain := &measurementChain{
		device:      device,
		bank:        oven.NewBank(device, cfg.Outputs),
		monitor:     monitor.New(&cfg.Sampling),
		monitorDone: make(chan struct{}),
	}
	go func() {
		defer close(chain.monitorDone)
		chain.monitor.ProcessSamples(samples)
	}()
	return chain, nil
}

// waitForSample blocks until the first thermocouple reading arrives.
func (c *measurementChain) waitForSample(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, firstSampleTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s, ok := c.monitor.Latest(); ok {
			log.Printf("Oven at %.1fC", s.Temperature)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no thermocouple reading: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// close switches the oven off and waits for the pipeline to drain.
func (c *measurementChain) close() {
	if err := c.bank.AllOff(); err != nil {
		log.Printf("Failed to switch outputs off: %v", err)
	}
	c.device.Close()
	<-c.monitorDone
}
