// Package oven talks to the oven I/O board: six switched outputs, the door
// servo and the thermocouple.
package oven

import (
	"time"

	"github.com/itohio/goreflow/pkg/config"
)

// Device defines the interface for oven I/O boards (real or simulated).
type Device interface {
	Connect() error
	Close() error
	Samples() <-chan RawSample
	SetOutputs(outputs [config.NumOutputs]bool) error
	SetDoor(percent uint8, over time.Duration) error
	IsConnected() bool
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)
