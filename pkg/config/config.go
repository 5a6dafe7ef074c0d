package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// NumOutputs is the number of switched outputs on the oven I/O board.
const NumOutputs = 6

// MaxPollInterval bounds every sleep of the control loop, and with it the
// latency of an abort.
const MaxPollInterval = 100 * time.Millisecond

// ErrOutputsNotConfigured is returned when fewer than two outputs drive heating elements.
var ErrOutputsNotConfigured = errors.New("config: at least 2 outputs must be heating elements")

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig             `yaml:"serial"`
	Flash    FlashConfig              `yaml:"flash"`
	Outputs  [NumOutputs]OutputConfig `yaml:"outputs"`
	Control  ControlConfig            `yaml:"control"`
	Bake     BakeConfig               `yaml:"bake"`
	Sampling SamplingConfig           `yaml:"sampling"`
	Mock     MockConfig               `yaml:"mock"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// FlashConfig describes the external flash chip and how profiles are laid out on it.
type FlashConfig struct {
	Path              string `yaml:"path"`                // Flash image file (empty = in-memory)
	TotalBlocks       int    `yaml:"total_blocks"`        // Number of 256-byte blocks on the chip
	FirstProfileBlock uint16 `yaml:"first_profile_block"` // Blocks below this hold preferences
	BlocksPerProfile  uint16 `yaml:"blocks_per_profile"`
	MaxProfiles       int    `yaml:"max_profiles"`
	PrefsSlots        int    `yaml:"prefs_slots"` // Rotating preference slots below FirstProfileBlock
}

// OutputConfig assigns a function to one physical output.
type OutputConfig struct {
	Type OutputType `yaml:"type"`
}

// ControlConfig contains the control loop tuning.
type ControlConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"` // Sequencer wake-up period, also the abort latency
	PIDInterval       time.Duration `yaml:"pid_interval"`  // How often power is recomputed
	DutyWindow        time.Duration `yaml:"duty_window"`   // Time-proportioning window for element switching
	Kp                float32       `yaml:"kp"`
	Ki                float32       `yaml:"ki"`
	Kd                float32       `yaml:"kd"`
	LearnedPower      float32       `yaml:"learned_power"`      // Duty (%) that holds the oven at 120C
	LearnedInertia    float32       `yaml:"learned_inertia"`    // Extra duty (%) per 1C/s of rise
	LearnedInsulation float32       `yaml:"learned_insulation"` // Extra duty (%) per 100C above 120C
	Deviation         uint16        `yaml:"deviation"`          // Default abort deviation (C, 0 = off)
	MaxTemperature    uint16        `yaml:"max_temperature"`    // Default abort temperature (C)
	WaitTimeout       time.Duration `yaml:"wait_timeout"`       // Upper bound for "wait until" tokens (0 = none)
	StaleSample       time.Duration `yaml:"stale_sample"`       // Thermocouple sample older than this is a fault
}

// BakeConfig contains the bake settings.
type BakeConfig struct {
	Temperature     uint16        `yaml:"temperature"`
	Duration        time.Duration `yaml:"duration"`
	Preheat         time.Duration `yaml:"preheat"` // Time allowed to reach the bake temperature
	Deviation       uint16        `yaml:"deviation"`
	Door            BakeDoor      `yaml:"door"`
	CoolingFan      bool          `yaml:"cooling_fan"`
	CoolTemperature uint16        `yaml:"cool_temperature"` // Bake finishes once below this
}

// SamplingConfig contains thermocouple sampling parameters.
type SamplingConfig struct {
	Interval       time.Duration `yaml:"interval"`
	AverageSamples int           `yaml:"average_samples"` // Number of samples to average (0 = disabled, default)
	WindowSeconds  float64       `yaml:"window_seconds"`  // History kept for rate-of-rise
}

// MockConfig contains simulated oven parameters.
type MockConfig struct {
	Ambient      float32       `yaml:"ambient"`       // Ambient temperature (C)
	ElementPower [3]float32    `yaml:"element_power"` // Heating rate (C/s) at full power for bottom/top/boost
	Loss         float32       `yaml:"loss"`          // Fraction of (T - ambient) lost per second
	FanLoss      float32       `yaml:"fan_loss"`      // Extra loss with the cooling fan on
	DoorLoss     float32       `yaml:"door_loss"`     // Extra loss with the door fully open
	NoiseLevel   float32       `yaml:"noise_level"`   // Noise amplitude (C)
	SampleRate   time.Duration `yaml:"sample_rate"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port: "COM3", // Default for Windows, should be "/dev/ttyACM0" on Linux/Mac
			Baud: 115200,
		},
		Flash: FlashConfig{
			Path:              "",
			TotalBlocks:       1024, // 256KB
			FirstProfileBlock: 64,
			BlocksPerProfile:  16,
			MaxProfiles:       30,
			PrefsSlots:        4,
		},
		Outputs: [NumOutputs]OutputConfig{
			{Type: OutputBottomElement},
			{Type: OutputTopElement},
			{Type: OutputBoostElement},
			{Type: OutputConvectionFan},
			{Type: OutputCoolingFan},
			{Type: OutputUnused},
		},
		Control: ControlConfig{
			PollInterval:      100 * time.Millisecond,
			PIDInterval:       time.Second,
			DutyWindow:        time.Second,
			Kp:                2.0,
			Ki:                0.05,
			Kd:                1.0,
			LearnedPower:      25,
			LearnedInertia:    30,
			LearnedInsulation: 20,
			Deviation:         0,
			MaxTemperature:    260,
			WaitTimeout:       20 * time.Minute,
			StaleSample:       2 * time.Second,
		},
		Bake: BakeConfig{
			Temperature:     100,
			Duration:        time.Hour,
			Preheat:         10 * time.Minute,
			Deviation:       20,
			Door:            BakeDoorOpen,
			CoolingFan:      true,
			CoolTemperature: 50,
		},
		Sampling: SamplingConfig{
			Interval:       200 * time.Millisecond,
			AverageSamples: 0, // No averaging by default
			WindowSeconds:  10,
		},
		Mock: MockConfig{
			Ambient:      25,
			ElementPower: [3]float32{1.5, 1.5, 1.0},
			Loss:         0.004,
			FanLoss:      0.02,
			DoorLoss:     0.02,
			NoiseLevel:   0.1,
			SampleRate:   200 * time.Millisecond,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the oven can run a bake or reflow with this configuration.
func (c *Config) Validate() error {
	if c.HeatingOutputs() < 2 {
		return ErrOutputsNotConfigured
	}
	return nil
}

// HeatingOutputs returns the number of outputs driving heating elements.
func (c *Config) HeatingOutputs() int {
	n := 0
	for _, o := range c.Outputs {
		if o.Type.IsElement() {
			n++
		}
	}
	return n
}

// ConfiguredOutputs returns the number of outputs that are not unused.
func (c *Config) ConfiguredOutputs() int {
	n := 0
	for _, o := range c.Outputs {
		if o.Type != OutputUnused {
			n++
		}
	}
	return n
}

// LastProfileBlock returns the start block of the highest profile run.
func (f FlashConfig) LastProfileBlock() uint16 {
	return f.FirstProfileBlock + uint16(f.MaxProfiles-1)*f.BlocksPerProfile
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.Serial.Baud
	}

	if c.Flash.TotalBlocks == 0 {
		c.Flash.TotalBlocks = def.Flash.TotalBlocks
	}
	if c.Flash.FirstProfileBlock == 0 {
		c.Flash.FirstProfileBlock = def.Flash.FirstProfileBlock
	}
	if c.Flash.BlocksPerProfile == 0 {
		c.Flash.BlocksPerProfile = def.Flash.BlocksPerProfile
	}
	if c.Flash.MaxProfiles == 0 {
		c.Flash.MaxProfiles = def.Flash.MaxProfiles
	}
	if c.Flash.PrefsSlots == 0 {
		c.Flash.PrefsSlots = def.Flash.PrefsSlots
	}

	if c.Control.PollInterval <= 0 {
		c.Control.PollInterval = def.Control.PollInterval
	}
	if c.Control.PollInterval > MaxPollInterval {
		c.Control.PollInterval = MaxPollInterval
	}
	if c.Control.PIDInterval == 0 {
		c.Control.PIDInterval = def.Control.PIDInterval
	}
	if c.Control.DutyWindow == 0 {
		c.Control.DutyWindow = def.Control.DutyWindow
	}
	if c.Control.MaxTemperature == 0 {
		c.Control.MaxTemperature = def.Control.MaxTemperature
	}
	if c.Control.StaleSample == 0 {
		c.Control.StaleSample = def.Control.StaleSample
	}

	if c.Bake.Temperature == 0 {
		c.Bake.Temperature = def.Bake.Temperature
	}
	if c.Bake.Duration == 0 {
		c.Bake.Duration = def.Bake.Duration
	}
	if c.Bake.Preheat == 0 {
		c.Bake.Preheat = def.Bake.Preheat
	}
	if c.Bake.CoolTemperature == 0 {
		c.Bake.CoolTemperature = def.Bake.CoolTemperature
	}

	if c.Sampling.Interval == 0 {
		c.Sampling.Interval = def.Sampling.Interval
	}
	if c.Sampling.WindowSeconds == 0 {
		c.Sampling.WindowSeconds = def.Sampling.WindowSeconds
	}

	if c.Mock.SampleRate == 0 {
		c.Mock.SampleRate = def.Mock.SampleRate
	}
	if c.Mock.ElementPower == [3]float32{} {
		c.Mock.ElementPower = def.Mock.ElementPower
	}
}

// OutputType is the function assigned to an output.
type OutputType uint8

const (
	OutputUnused OutputType = iota
	OutputBottomElement
	OutputTopElement
	OutputBoostElement
	OutputConvectionFan
	OutputCoolingFan
	numOutputTypes
)

var outputTypeNames = [numOutputTypes]string{"unused", "bottom", "top", "boost", "convection_fan", "cooling_fan"}

// String returns the YAML name of the output type.
func (t OutputType) String() string {
	if t >= numOutputTypes {
		return fmt.Sprintf("OutputType(%d)", uint8(t))
	}
	return outputTypeNames[t]
}

// IsElement reports whether the output drives a heating element.
func (t OutputType) IsElement() bool {
	return t == OutputBottomElement || t == OutputTopElement || t == OutputBoostElement
}

// Element returns the element index (0 = bottom, 1 = top, 2 = boost) used by
// the per-element bias and duty triples.
func (t OutputType) Element() int {
	return int(t) - int(OutputBottomElement)
}

// MarshalText implements encoding.TextMarshaler.
func (t OutputType) MarshalText() ([]byte, error) {
	if t >= numOutputTypes {
		return nil, fmt.Errorf("invalid output type %d", uint8(t))
	}
	return []byte(outputTypeNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OutputType) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range outputTypeNames {
		if s == name {
			*t = OutputType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown output type %q", s)
}

// BakeDoor selects what the door does once baking is done.
type BakeDoor uint8

const (
	BakeDoorOpen      BakeDoor = iota // Open oven door after bake
	BakeDoorOpenClose                 // Open after bake, close when cool
	BakeDoorClosed                    // Leave oven door closed
)

var bakeDoorNames = [...]string{"open", "open_close", "closed"}

// String returns the YAML name of the door option.
func (d BakeDoor) String() string {
	if int(d) >= len(bakeDoorNames) {
		return fmt.Sprintf("BakeDoor(%d)", uint8(d))
	}
	return bakeDoorNames[d]
}

// MarshalText implements encoding.TextMarshaler.
func (d BakeDoor) MarshalText() ([]byte, error) {
	if int(d) >= len(bakeDoorNames) {
		return nil, fmt.Errorf("invalid bake door option %d", uint8(d))
	}
	return []byte(bakeDoorNames[d]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *BakeDoor) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range bakeDoorNames {
		if s == name {
			*d = BakeDoor(i)
			return nil
		}
	}
	return fmt.Errorf("unknown bake door option %q", s)
}
