package reflow

import (
	"testing"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructions(t *testing.T) {
	p := NewInstructions(instruction(token.WaitFor, 5), instruction(token.PlayBeep))

	in, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, token.WaitFor, in.Token)
	assert.Equal(t, uint16(5), in.Args[0])

	in, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, token.PlayBeep, in.Token)

	for i := 0; i < 3; i++ {
		in, err = p.Next()
		require.NoError(t, err)
		assert.Equal(t, token.EndOfProfile, in.Token)
	}
}

func tokens(list []profile.Instruction) []token.Token {
	out := make([]token.Token, len(list))
	for i, in := range list {
		out[i] = in.Token
	}
	return out
}

func TestBakeProgram(t *testing.T) {
	head := []token.Token{
		token.Deviation,
		token.MaxTemperature,
		token.CloseDoor,
		token.ConvectionFanOn,
		token.InitializeTimer,
		token.RampTemperature,
		token.StartTimer,
		token.Maintain,
		token.StopTimer,
		token.ElementDutyCycle,
	}

	tests := []struct {
		name       string
		door       config.BakeDoor
		coolingFan bool
		tail       []token.Token
	}{
		{
			name:       "open door with fan",
			door:       config.BakeDoorOpen,
			coolingFan: true,
			tail: []token.Token{
				token.OpenDoor, token.CoolingFanOn, token.WaitUntilBelow,
				token.CoolingFanOff, token.ConvectionFanOff, token.PlayTune,
			},
		},
		{
			name: "open and close",
			door: config.BakeDoorOpenClose,
			tail: []token.Token{
				token.OpenDoor, token.WaitUntilBelow, token.ConvectionFanOff,
				token.CloseDoor, token.PlayTune,
			},
		},
		{
			name: "closed",
			door: config.BakeDoorClosed,
			tail: []token.Token{token.WaitUntilBelow, token.ConvectionFanOff, token.PlayTune},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Bake.Door = tt.door
			cfg.Bake.CoolingFan = tt.coolingFan

			list := BakeProgram(cfg)
			assert.Equal(t, append(append([]token.Token{}, head...), tt.tail...), tokens(list))
		})
	}
}

func TestBakeProgram_Arguments(t *testing.T) {
	cfg := config.Default()
	cfg.Bake.Temperature = 125
	cfg.Bake.Preheat = 15 * time.Minute
	cfg.Bake.Duration = 30 * time.Hour
	cfg.Bake.Deviation = 15
	cfg.Bake.CoolTemperature = 45

	list := BakeProgram(cfg)
	assert.Equal(t, uint16(15), list[0].Args[0])
	assert.Equal(t, uint16(260), list[1].Args[0])
	assert.Equal(t, [3]uint16{125, 900, 0}, list[5].Args)
	assert.Equal(t, [3]uint16{125, 65535, 0}, list[7].Args, "duration saturates")

	var below profile.Instruction
	for _, in := range list {
		if in.Token == token.WaitUntilBelow {
			below = in
		}
	}
	assert.Equal(t, uint16(45), below.Args[0])
}

func TestDurationSeconds(t *testing.T) {
	assert.Equal(t, uint16(0), durationSeconds(-time.Second))
	assert.Equal(t, uint16(90), durationSeconds(90*time.Second+500*time.Millisecond))
	assert.Equal(t, uint16(65535), durationSeconds(100*time.Hour))
}
