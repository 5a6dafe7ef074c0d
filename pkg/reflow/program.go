package reflow

import (
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/token"
)

// Instructions is an in-memory Program.
type Instructions struct {
	list []profile.Instruction
	next int
}

// NewInstructions creates a program that yields list and then EndOfProfile forever.
func NewInstructions(list ...profile.Instruction) *Instructions {
	return &Instructions{list: list}
}

// Next returns the next instruction.
func (p *Instructions) Next() (profile.Instruction, error) {
	if p.next >= len(p.list) {
		return profile.Instruction{Token: token.EndOfProfile}, nil
	}
	in := p.list[p.next]
	p.next++
	return in, nil
}

// BakeProgram builds the instruction list for a bake: heat to the bake
// temperature within the preheat time, hold it for the bake duration, then
// cool with the door and fans as configured.
func BakeProgram(cfg *config.Config) []profile.Instruction {
	b := cfg.Bake
	list := []profile.Instruction{
		instruction(token.Deviation, b.Deviation),
		instruction(token.MaxTemperature, cfg.Control.MaxTemperature),
		instruction(token.CloseDoor, 1),
		instruction(token.ConvectionFanOn),
		instruction(token.InitializeTimer, 0),
		instruction(token.RampTemperature, b.Temperature, durationSeconds(b.Preheat)),
		instruction(token.StartTimer),
		instruction(token.Maintain, b.Temperature, durationSeconds(b.Duration)),
		instruction(token.StopTimer),
		instruction(token.ElementDutyCycle, 0, 0, 0),
	}

	if b.Door == config.BakeDoorOpen || b.Door == config.BakeDoorOpenClose {
		list = append(list, instruction(token.OpenDoor, 5))
	}
	if b.CoolingFan {
		list = append(list, instruction(token.CoolingFanOn))
	}
	list = append(list, instruction(token.WaitUntilBelow, b.CoolTemperature))
	if b.CoolingFan {
		list = append(list, instruction(token.CoolingFanOff))
	}
	list = append(list, instruction(token.ConvectionFanOff))
	if b.Door == config.BakeDoorOpenClose {
		list = append(list, instruction(token.CloseDoor, 5))
	}
	return append(list, instruction(token.PlayTune))
}

func instruction(tok token.Token, args ...uint16) profile.Instruction {
	in := profile.Instruction{Token: tok}
	copy(in.Args[:], args)
	return in
}

// durationSeconds converts d to whole seconds, saturating at the largest
// value an instruction can carry.
func durationSeconds(d time.Duration) uint16 {
	s := d / time.Second
	if s > 65535 {
		return 65535
	}
	if s < 0 {
		return 0
	}
	return uint16(s)
}
