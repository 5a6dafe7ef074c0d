package oven

import (
	"testing"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMockConfig() *config.MockConfig {
	return &config.MockConfig{
		Ambient:      25,
		ElementPower: [3]float32{1, 2, 4},
		Loss:         0.01,
		FanLoss:      0.05,
		DoorLoss:     0.1,
		SampleRate:   10 * time.Millisecond,
	}
}

func connectedMock(t *testing.T) *Mock {
	t.Helper()
	dev := NewMock(testMockConfig(), config.Default().Outputs)
	require.NoError(t, dev.Connect())
	t.Cleanup(func() { dev.Close() })
	return dev
}

func TestMock_Heating(t *testing.T) {
	dev := NewMock(testMockConfig(), config.Default().Outputs)

	tests := []struct {
		name     string
		outputs  [config.NumOutputs]bool
		wantRate float32
	}{
		{name: "all off", wantRate: 0},
		{name: "bottom", outputs: [config.NumOutputs]bool{true}, wantRate: 1},
		{name: "top", outputs: [config.NumOutputs]bool{false, true}, wantRate: 2},
		{name: "boost", outputs: [config.NumOutputs]bool{false, false, true}, wantRate: 4},
		{name: "all elements", outputs: [config.NumOutputs]bool{true, true, true}, wantRate: 7},
		{name: "fans do not heat", outputs: [config.NumOutputs]bool{false, false, false, true, true, true}, wantRate: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev.state = tt.outputs
			assert.InDelta(t, tt.wantRate, dev.heating(), 1e-6)
		})
	}
}

func TestMock_Loss(t *testing.T) {
	dev := NewMock(testMockConfig(), config.Default().Outputs)
	dev.temperature = 125

	assert.InDelta(t, 1.0, dev.loss(), 1e-5)

	dev.state[4] = true // cooling fan
	assert.InDelta(t, 6.0, dev.loss(), 1e-5)

	dev.door = 50
	assert.InDelta(t, 11.0, dev.loss(), 1e-5)
}

func TestMock_StepHeatsAndCools(t *testing.T) {
	dev := connectedMock(t)
	now := time.Now()

	require.NoError(t, dev.SetOutputs([config.NumOutputs]bool{true, true, true}))
	for i := 0; i < 100; i++ {
		dev.step(now, 0.1)
	}
	hot := dev.Temperature()
	assert.Greater(t, hot, float32(60))

	require.NoError(t, dev.SetOutputs([config.NumOutputs]bool{false, false, false, false, true}))
	s := dev.step(now, 0.1)
	assert.Less(t, dev.Temperature(), hot)
	assert.Equal(t, [config.NumOutputs]bool{false, false, false, false, true}, s.Outputs)
	assert.InDelta(t, dev.Temperature()*100, float32(s.CentiCelsius), 1)
}

func TestMock_Door(t *testing.T) {
	dev := connectedMock(t)
	now := time.Now()

	require.NoError(t, dev.SetDoor(100, time.Second))
	s := dev.step(now, 0.5)
	assert.Equal(t, uint8(50), s.Door)
	s = dev.step(now, 0.5)
	assert.Equal(t, uint8(100), s.Door)
	s = dev.step(now, 0.5)
	assert.Equal(t, uint8(100), s.Door)

	require.NoError(t, dev.SetDoor(20, 0))
	s = dev.step(now, 0.1)
	assert.Equal(t, uint8(20), s.Door)
}

func TestMock_Fault(t *testing.T) {
	dev := connectedMock(t)
	dev.SetFault(FaultOpenCircuit)
	assert.Equal(t, FaultOpenCircuit, dev.step(time.Now(), 0.1).Fault)
}

func TestNewMock_NilConfig(t *testing.T) {
	dev := NewMock(nil, config.Default().Outputs)
	assert.NotNil(t, dev.cfg)
	assert.Equal(t, config.Default().Mock, *dev.cfg)
	assert.Equal(t, dev.cfg.Ambient, dev.Temperature())
}

func TestMock_NotConnected(t *testing.T) {
	dev := NewMock(nil, config.Default().Outputs)
	err := dev.SetOutputs([config.NumOutputs]bool{true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
	assert.Error(t, dev.SetDoor(10, 0))
	assert.NoError(t, dev.Close())
}

func TestMock_Connect_AlreadyConnected(t *testing.T) {
	dev := connectedMock(t)
	err := dev.Connect()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
}

// TestMock_GracefulShutdown tests that Mock closes the samples channel when
// Close() is called.
func TestMock_GracefulShutdown(t *testing.T) {
	mock := NewMock(testMockConfig(), config.Default().Outputs)
	require.NoError(t, mock.Connect())

	samples := mock.Samples()

	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range samples {
			received++
			if received == 3 {
				mock.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Samples channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3, "Should receive samples before channel closes")
	_, ok := <-samples
	assert.False(t, ok, "Channel should be closed")
	assert.False(t, mock.IsConnected())
}
