// Package reflow runs reflow and bake profiles against the oven.
//
// The engine consumes profile instructions strictly in order. Immediate
// instructions (fans, door, limits, messages) take effect at once; ramp,
// maintain and wait instructions block the sequencer while the control loop
// keeps driving the elements. Every blocking step sleeps at most the poll
// interval and re-checks for an abort on each wake.
package reflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/goreflow/pkg/oven"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/sample"
	"github.com/itohio/goreflow/pkg/token"
)

var (
	// ErrDeviation is returned when the oven strays too far from the setpoint.
	ErrDeviation = errors.New("reflow: temperature deviation exceeded")
	// ErrOverTemperature is returned when the oven exceeds the maximum temperature.
	ErrOverTemperature = errors.New("reflow: maximum temperature exceeded")
	// ErrThermocouple is returned when the thermocouple faults or stops reporting.
	ErrThermocouple = errors.New("reflow: thermocouple failure")
	// ErrTimeout is returned when a wait does not complete in time.
	ErrTimeout = errors.New("reflow: wait timed out")
	// ErrProfileRead is returned when the next instruction cannot be read.
	ErrProfileRead = errors.New("reflow: cannot read profile")
	// ErrAborted is returned when the run was cancelled.
	ErrAborted = errors.New("reflow: aborted")
)

// Phase is a named stage of a run. Running phases only move forward.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhasePreheat
	PhaseSoak
	PhaseReflow
	PhaseCooling
	PhaseDone
	PhaseAborted
	PhaseError
)

var phaseNames = [...]string{"Idle", "Preheat", "Soak", "Reflow", "Cooling", "Done", "Aborted", "Error"}

func (p Phase) String() string {
	if int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

// Running reports whether p is one of the active phases.
func (p Phase) Running() bool {
	return p >= PhasePreheat && p <= PhaseCooling
}

// Mode tells a reflow run from a bake.
type Mode uint8

const (
	ModeReflow Mode = iota
	ModeBake
)

func (m Mode) String() string {
	if m == ModeBake {
		return "Bake"
	}
	return "Reflow"
}

// Label returns the name shown for p in mode m. A bake heats, bakes and cools.
func (p Phase) Label(m Mode) string {
	if m == ModeBake {
		switch p {
		case PhasePreheat:
			return "Heating"
		case PhaseSoak:
			return "Baking"
		}
	}
	return p.String()
}

// RunError describes why a run stopped early.
type RunError struct {
	Phase Phase
	Token token.Token
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed during %q: %v", e.Phase, e.Token.Keyword(), e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Program is a source of profile instructions. *profile.Cursor implements it.
type Program interface {
	Next() (profile.Instruction, error)
}

// Outputs drives the oven outputs by function. *oven.Bank implements it.
type Outputs interface {
	SetElements(on [oven.NumElements]bool) error
	ConvectionFan(on bool) error
	CoolingFan(on bool) error
	Door(percent uint8, over time.Duration) error
	AllOff() error
	HeatingOutputs() int
	HasElement(e int) bool
}

// Thermometer reports the most recent oven temperature without blocking.
// *monitor.Monitor implements it.
type Thermometer interface {
	Latest() (sample.Sample, bool)
	RateOfRise() float32
}

// Display shows run progress to the user.
type Display interface {
	Message(text string)
	Update(s Status)
	Tune()
	Beep()
}

// Clock abstracts time so runs can be simulated.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Status is a snapshot of a run, delivered to the display once per PID interval.
type Status struct {
	Mode         Mode
	Name         string
	Phase        Phase
	Instruction  string
	Elapsed      time.Duration
	PhaseElapsed time.Duration
	Timer        time.Duration
	Temperature  float32
	Setpoint     float32
	Power        float32
	Duty         [oven.NumElements]float32
	RateOfRise   float32
}

// Result summarises a finished run.
type Result struct {
	Mode         Mode
	Name         string
	Phase        Phase
	Elapsed      time.Duration
	Peak         float32
	Instructions int
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
