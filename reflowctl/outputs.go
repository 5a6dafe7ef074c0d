package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/goreflow/pkg/config"
)

// testOutputOn is how long each output stays on during an output test.
const testOutputOn = 2 * time.Second

// testOutputs switches every configured output on in turn so the wiring can
// be checked. Ctrl-C stops the test with everything off.
func testOutputs(cfg *config.Config, mock bool) error {
	chain, err := connect(cfg, mock)
	if err != nil {
		return err
	}
	defer chain.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Testing %d configured outputs", cfg.ConfiguredOutputs())
	for i, o := range cfg.Outputs {
		if o.Type == config.OutputUnused {
			continue
		}
		if err := chain.bank.SetOutput(i, true); err != nil {
			return fmt.Errorf("failed to switch output %d: %w", i+1, err)
		}
		log.Printf("Output %d (%s) on", i+1, o.Type)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(testOutputOn):
		}

		if err := chain.bank.SetOutput(i, false); err != nil {
			return fmt.Errorf("failed to switch output %d: %w", i+1, err)
		}
		if s, ok := chain.monitor.Latest(); ok {
			log.Printf("Output %d off, oven at %.1fC", i+1, s.Temperature)
		}
	}

	// Door: open fully, then close again
	for _, percent := range []uint8{100, 0} {
		if err := chain.bank.Door(percent, testOutputOn); err != nil {
			return fmt.Errorf("failed to move door: %w", err)
		}
		log.Printf("Door moving to %d%%", percent)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(testOutputOn):
		}
	}
	return nil
}
