// Package token holds the profile instruction set: the fixed keyword table,
// a case-insensitive multi-keyword scanner and the helpers that pull quoted
// strings and numbers out of profile text.
package token

import "fmt"

// Token identifies one profile instruction. Token values are written to flash
// and must never be renumbered.
type Token uint8

const (
	NotAToken Token = iota
	Name
	Comment1
	Comment2
	Deviation
	MaxTemperature
	InitializeTimer
	StartTimer
	StopTimer
	MaxDuty
	Display
	OpenDoor
	CloseDoor
	Bias
	ConvectionFanOn
	ConvectionFanOff
	CoolingFanOn
	CoolingFanOff
	RampTemperature
	ElementDutyCycle
	WaitFor
	WaitUntilAbove
	WaitUntilBelow
	PlayTune
	PlayBeep
	DoorPercentage
	Maintain

	// Markers used only in the flash encoding.
	EndOfProfile
	NextFlashBlock

	numTokens
)

const (
	// MaxNameLength is the longest profile name kept; extra characters are dropped.
	MaxNameLength = 19
	// MaxDisplayLength is the longest display message kept.
	MaxDisplayLength = 40
	// MaxArgs is the largest number of numeric parameters a token takes.
	MaxArgs = 3
	// MaxEntrySize is the largest encoding of one token: the token byte
	// followed by a NUL-terminated display string.
	MaxEntrySize = 1 + MaxDisplayLength + 1
)

// Kind describes what follows a token in profile text.
type Kind uint8

const (
	KindNone    Kind = iota // No parameters
	KindNumbers             // Args numeric parameters
	KindString              // One quoted string
	KindComment             // Rest of the line is discarded
	KindMarker              // Flash-only marker, never appears in text
)

// Info describes one entry of the instruction set.
type Info struct {
	Keyword string
	Kind    Kind
	Args    int
}

var table = [numTokens]Info{
	NotAToken:        {Keyword: "not_a_token"},
	Name:             {Keyword: "name", Kind: KindString},
	Comment1:         {Keyword: "#", Kind: KindComment},
	Comment2:         {Keyword: "//", Kind: KindComment},
	Deviation:        {Keyword: "deviation", Kind: KindNumbers, Args: 1},
	MaxTemperature:   {Keyword: "maximum temperature", Kind: KindNumbers, Args: 1},
	InitializeTimer:  {Keyword: "initialize timer", Kind: KindNumbers, Args: 1},
	StartTimer:       {Keyword: "start timer"},
	StopTimer:        {Keyword: "stop timer"},
	MaxDuty:          {Keyword: "maximum duty", Kind: KindNumbers, Args: 3},
	Display:          {Keyword: "display", Kind: KindString},
	OpenDoor:         {Keyword: "open door", Kind: KindNumbers, Args: 1},
	CloseDoor:        {Keyword: "close door", Kind: KindNumbers, Args: 1},
	Bias:             {Keyword: "bias", Kind: KindNumbers, Args: 3},
	ConvectionFanOn:  {Keyword: "convection fan on"},
	ConvectionFanOff: {Keyword: "convection fan off"},
	CoolingFanOn:     {Keyword: "cooling fan on"},
	CoolingFanOff:    {Keyword: "cooling fan off"},
	RampTemperature:  {Keyword: "ramp temperature", Kind: KindNumbers, Args: 2},
	ElementDutyCycle: {Keyword: "element duty cycle", Kind: KindNumbers, Args: 3},
	WaitFor:          {Keyword: "wait for", Kind: KindNumbers, Args: 1},
	WaitUntilAbove:   {Keyword: "wait until above", Kind: KindNumbers, Args: 1},
	WaitUntilBelow:   {Keyword: "wait until below", Kind: KindNumbers, Args: 1},
	PlayTune:         {Keyword: "play tune"},
	PlayBeep:         {Keyword: "play beep"},
	DoorPercentage:   {Keyword: "door percentage", Kind: KindNumbers, Args: 2},
	Maintain:         {Keyword: "maintain", Kind: KindNumbers, Args: 2},
	EndOfProfile:     {Keyword: "end of profile", Kind: KindMarker},
	NextFlashBlock:   {Keyword: "next flash block", Kind: KindMarker},
}

// Lookup returns the table entry for t.
func Lookup(t Token) (Info, bool) {
	if t >= numTokens {
		return Info{}, false
	}
	return table[t], true
}

// Valid reports whether t is a known token value.
func (t Token) Valid() bool {
	return t < numTokens
}

// Keyword returns the profile-text keyword of t.
func (t Token) Keyword() string {
	if t >= numTokens {
		return ""
	}
	return table[t].Keyword
}

// Kind returns what follows t.
func (t Token) Kind() Kind {
	if t >= numTokens {
		return KindNone
	}
	return table[t].Kind
}

// Args returns the number of numeric parameters t takes.
func (t Token) Args() int {
	if t >= numTokens {
		return 0
	}
	return table[t].Args
}

// Storable reports whether t is an instruction that is written to flash as
// part of a profile body. The profile name, comments and markers are not.
func (t Token) Storable() bool {
	if t == NotAToken || t == Name || t >= numTokens {
		return false
	}
	k := table[t].Kind
	return k != KindComment && k != KindMarker
}

// String implements fmt.Stringer.
func (t Token) String() string {
	if t >= numTokens {
		return fmt.Sprintf("Token(%d)", uint8(t))
	}
	return table[t].Keyword
}

// Text converts a token and its parameters to readable text.
func Text(t Token, args [MaxArgs]uint16, str string) string {
	switch t {
	case Deviation:
		return fmt.Sprintf("Deviation to abort %dC", args[0])
	case MaxTemperature:
		return fmt.Sprintf("Maximum temperature %dC", args[0])
	case InitializeTimer:
		return fmt.Sprintf("Initialize timer to %d seconds", args[0])
	case StartTimer:
		return "Start timer"
	case StopTimer:
		return "Stop timer"
	case MaxDuty:
		return fmt.Sprintf("Maximum duty %d/%d/%d", args[0], args[1], args[2])
	case Display:
		return fmt.Sprintf("Display %q", str)
	case OpenDoor:
		return fmt.Sprintf("Open door over %d seconds", args[0])
	case CloseDoor:
		return fmt.Sprintf("Close door over %d seconds", args[0])
	case DoorPercentage:
		return fmt.Sprintf("Door percentage %d%% over %d seconds", args[0], args[1])
	case Bias:
		return fmt.Sprintf("Bias %d/%d/%d", args[0], args[1], args[2])
	case ConvectionFanOn:
		return "Convection fan on"
	case ConvectionFanOff:
		return "Convection fan off"
	case CoolingFanOn:
		return "Cooling fan on"
	case CoolingFanOff:
		return "Cooling fan off"
	case RampTemperature:
		return fmt.Sprintf("Ramp temperature to %dC in %d seconds", args[0], args[1])
	case Maintain:
		return fmt.Sprintf("Maintain %dC for %d seconds", args[0], args[1])
	case ElementDutyCycle:
		return fmt.Sprintf("Element duty cycle %d/%d/%d", args[0], args[1], args[2])
	case WaitFor:
		return fmt.Sprintf("Wait for %d seconds", args[0])
	case WaitUntilAbove:
		return fmt.Sprintf("Wait until above %dC", args[0])
	case WaitUntilBelow:
		return fmt.Sprintf("Wait until below %dC", args[0])
	case PlayTune:
		return "Play tune"
	case PlayBeep:
		return "Play beep"
	case EndOfProfile:
		return "End of profile"
	}
	return ""
}
