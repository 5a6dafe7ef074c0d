package oven

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the standard baud rate of the I/O board.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 100
	// MaxCentiCelsius bounds thermocouple readings accepted from the board.
	MaxCentiCelsius = 180000
	// MinCentiCelsius bounds thermocouple readings accepted from the board.
	MinCentiCelsius = -27000
)

// FaultOpenCircuit is the fault bit reported when the thermocouple is disconnected.
const FaultOpenCircuit uint8 = 0x01

// RawSample represents a raw thermocouple sample from the I/O board.
type RawSample struct {
	Timestamp    time.Time
	CentiCelsius int32 // Thermocouple temperature in 0.01C
	Fault        uint8 // Thermocouple fault bits, 0 when the reading is valid
	Outputs      [config.NumOutputs]bool
	Door         uint8 // Door position (%)
}

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial represents a connection to the oven I/O board.
type Serial struct {
	port     string
	baudRate int
	bufSize  int

	conn      serial.Port
	samples   chan RawSample
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
}

// New creates a new Serial device with the specified port, baud rate, and buffer size.
func New(port string, baudRate int, bufSize int) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Serial{
		port:     port,
		baudRate: baudRate,
		bufSize:  bufSize,
		samples:  make(chan RawSample, bufSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true

	go d.readSamples(port)

	return nil
}

// Close switches every output off and closes the port. The samples channel
// is closed once the reader exits.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	if _, err := d.conn.Write([]byte(formatOutputs([config.NumOutputs]bool{}))); err != nil {
		log.Printf("Failed to switch outputs off: %v", err)
	}

	d.cancel()

	if err := d.conn.Close(); err != nil {
		log.Printf("Error closing serial port: %v", err)
	}
	d.conn = nil
	d.connected = false

	return nil
}

// Samples returns the channel for reading samples.
func (d *Serial) Samples() <-chan RawSample {
	return d.samples
}

// SetOutputs sends the state of all six outputs.
func (d *Serial) SetOutputs(outputs [config.NumOutputs]bool) error {
	return d.send(formatOutputs(outputs))
}

// SetDoor moves the door to percent open over the given duration.
func (d *Serial) SetDoor(percent uint8, over time.Duration) error {
	return d.send(formatDoor(percent, over))
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

func (d *Serial) send(cmd string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return fmt.Errorf("not connected")
	}
	if _, err := d.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("failed to send command %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// formatOutputs builds the output command, e.g. "O110010\n".
func formatOutputs(outputs [config.NumOutputs]bool) string {
	var cmd strings.Builder
	cmd.WriteByte('O')
	for _, on := range outputs {
		if on {
			cmd.WriteByte('1')
		} else {
			cmd.WriteByte('0')
		}
	}
	cmd.WriteByte('\n')
	return cmd.String()
}

// formatDoor builds the door command, e.g. "D100,5000\n".
func formatDoor(percent uint8, over time.Duration) string {
	if percent > 100 {
		percent = 100
	}
	if over < 0 {
		over = 0
	}
	return fmt.Sprintf("D%d,%d\n", percent, over.Milliseconds())
}

// readSamples reads lines from the serial port and parses them into RawSample.
func (d *Serial) readSamples(r io.Reader) {
	defer close(d.samples)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Panic in readSamples: %v", rec)
		}
	}()

	scanner := bufio.NewScanner(r)
	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					log.Printf("Error reading from serial port: %v", err)
				}
				return
			}

			line := strings.TrimSpace(scanner.Text())
			if line == "" || line[0] == '#' {
				// Firmware diagnostics
				continue
			}

			sample, err := parseLine(line)
			if err != nil {
				log.Printf("Failed to parse line '%s': %v", line, err)
				continue
			}

			select {
			case d.samples <- sample:
			case <-d.ctx.Done():
				return
			default:
				log.Printf("Samples channel full, dropping sample")
			}
		}
	}
}

// parseLine parses a line from the I/O board into a RawSample.
// Format: unix_micros,centi_celsius,fault,outputs,door
// Example: 1234567890123,2512,0,110010,0
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return RawSample{}, fmt.Errorf("invalid line format: expected 5 comma-separated values, got %d", len(parts))
	}

	timestampMicros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	centi, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid temperature: %w", err)
	}
	if centi < MinCentiCelsius || centi > MaxCentiCelsius {
		return RawSample{}, fmt.Errorf("temperature out of range: %d", centi)
	}

	fault, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid fault: %w", err)
	}

	outStr := parts[3]
	if len(outStr) != config.NumOutputs {
		return RawSample{}, fmt.Errorf("invalid output states: expected %d digits, got %d", config.NumOutputs, len(outStr))
	}
	var outputs [config.NumOutputs]bool
	for i := range outputs {
		switch outStr[i] {
		case '1':
			outputs[i] = true
		case '0':
		default:
			return RawSample{}, fmt.Errorf("invalid output state %q", outStr[i])
		}
	}

	door, err := strconv.ParseUint(parts[4], 10, 8)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid door position: %w", err)
	}
	if door > 100 {
		return RawSample{}, fmt.Errorf("door position out of range: %d (max 100)", door)
	}

	return RawSample{
		Timestamp:    time.Unix(0, timestampMicros*1000),
		CentiCelsius: int32(centi),
		Fault:        uint8(fault),
		Outputs:      outputs,
		Door:         uint8(door),
	}, nil
}
