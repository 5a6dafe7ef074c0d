package oven

import (
	"strings"
	"testing"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    RawSample
		wantErr bool
	}{
		{
			name: "valid line - elements on",
			line: "1234567890123,2512,0,110010,0",
			want: RawSample{
				Timestamp:    time.Unix(0, 1234567890123*1000),
				CentiCelsius: 2512,
				Outputs:      [config.NumOutputs]bool{true, true, false, false, true, false},
			},
		},
		{
			name: "valid line - negative temperature and open door",
			line: "1234567890123,-150,0,000000,100",
			want: RawSample{
				Timestamp:    time.Unix(0, 1234567890123*1000),
				CentiCelsius: -150,
				Door:         100,
			},
		},
		{
			name: "valid line - thermocouple fault",
			line: "1,0,1,000001,35",
			want: RawSample{
				Timestamp: time.Unix(0, 1000),
				Fault:     FaultOpenCircuit,
				Outputs:   [config.NumOutputs]bool{false, false, false, false, false, true},
				Door:      35,
			},
		},
		{name: "invalid - wrong number of fields", line: "1234567890123,2512,0,110010", wantErr: true},
		{name: "invalid - too many fields", line: "1234567890123,2512,0,110010,0,extra", wantErr: true},
		{name: "invalid - non-numeric timestamp", line: "abc,2512,0,110010,0", wantErr: true},
		{name: "invalid - non-numeric temperature", line: "1,abc,0,110010,0", wantErr: true},
		{name: "invalid - temperature out of range", line: "1,200000,0,110010,0", wantErr: true},
		{name: "invalid - fault out of range", line: "1,2512,300,110010,0", wantErr: true},
		{name: "invalid - outputs wrong length", line: "1,2512,0,11001,0", wantErr: true},
		{name: "invalid - outputs bad digit", line: "1,2512,0,11x010,0", wantErr: true},
		{name: "invalid - door out of range", line: "1,2512,0,110010,101", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Timestamp.UnixNano(), got.Timestamp.UnixNano())
			assert.Equal(t, tt.want.CentiCelsius, got.CentiCelsius)
			assert.Equal(t, tt.want.Fault, got.Fault)
			assert.Equal(t, tt.want.Outputs, got.Outputs)
			assert.Equal(t, tt.want.Door, got.Door)
		})
	}
}

func TestNew(t *testing.T) {
	dev := New("COM3", 115200, 100)
	assert.NotNil(t, dev)
	assert.Equal(t, "COM3", dev.port)
	assert.Equal(t, 115200, dev.baudRate)
	assert.Equal(t, 100, dev.bufSize)
	assert.NotNil(t, dev.samples)
	assert.False(t, dev.IsConnected())
}

func TestNew_Defaults(t *testing.T) {
	dev := New("COM3", 0, 0)
	assert.Equal(t, DefaultBaudRate, dev.baudRate)
	assert.Equal(t, DefaultBufferSize, dev.bufSize)
}

func TestSerial_NotConnected(t *testing.T) {
	dev := New("COM3", 0, 0)
	assert.Error(t, dev.SetOutputs([config.NumOutputs]bool{}))
	assert.Error(t, dev.SetDoor(50, time.Second))
	assert.NoError(t, dev.Close())
}

func TestFormatOutputs(t *testing.T) {
	tests := []struct {
		name    string
		outputs [config.NumOutputs]bool
		wantCmd string
	}{
		{"all off", [config.NumOutputs]bool{}, "O000000\n"},
		{"all on", [config.NumOutputs]bool{true, true, true, true, true, true}, "O111111\n"},
		{"elements and fan", [config.NumOutputs]bool{true, false, false, true, false, false}, "O100100\n"},
		{"last only", [config.NumOutputs]bool{false, false, false, false, false, true}, "O000001\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCmd, formatOutputs(tt.outputs))
		})
	}
}

func TestFormatDoor(t *testing.T) {
	assert.Equal(t, "D100,5000\n", formatDoor(100, 5*time.Second))
	assert.Equal(t, "D0,0\n", formatDoor(0, 0))
	assert.Equal(t, "D100,250\n", formatDoor(150, 250*time.Millisecond))
	assert.Equal(t, "D30,0\n", formatDoor(30, -time.Second))
}

func TestReadSamples(t *testing.T) {
	dev := New("COM3", 0, 10)
	input := strings.Join([]string{
		"# MAX31856 ready",
		"1000,2500,0,000000,0",
		"garbage",
		"",
		"2000,2600,0,100000,0",
	}, "\n")

	dev.readSamples(strings.NewReader(input))

	var got []RawSample
	for s := range dev.Samples() {
		got = append(got, s)
	}
	require.Len(t, got, 2)
	assert.Equal(t, int32(2500), got[0].CentiCelsius)
	assert.Equal(t, int32(2600), got[1].CentiCelsius)
	assert.True(t, got[1].Outputs[0])
}
