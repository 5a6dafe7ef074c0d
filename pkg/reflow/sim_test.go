package reflow

import (
	"time"

	"github.com/itohio/goreflow/pkg/oven"
	"github.com/itohio/goreflow/pkg/sample"
)

// sim is a virtual clock, thermometer and output bank around a first order
// oven model. Time only moves when the engine sleeps.
type sim struct {
	now     time.Time
	temp    float32
	rate    float32
	ambient float32
	heat    float32 // C/s per element fully on
	loss    float32
	fanLoss float32
	frozen  bool

	fault       uint8
	staleSample bool
	sampleTime  time.Time

	heatingOutputs int
	elements       [oven.NumElements]bool
	onTime         [oven.NumElements]time.Duration
	convection     bool
	cooling        bool
	doors          []uint8
	allOff         int

	sleeps  int
	onSleep func(s *sim)
}

func newSim() *sim {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &sim{
		now:            start,
		sampleTime:     start,
		temp:           25,
		ambient:        25,
		heat:           2.5,
		loss:           0.01,
		fanLoss:        0.05,
		heatingOutputs: 2,
	}
}

func (s *sim) Now() time.Time { return s.now }

func (s *sim) Sleep(d time.Duration) {
	s.sleeps++
	for e, on := range s.elements {
		if on {
			s.onTime[e] += d
		}
	}
	s.now = s.now.Add(d)
	if !s.frozen {
		var heat float32
		for _, on := range s.elements {
			if on {
				heat += s.heat
			}
		}
		k := s.loss
		if s.cooling {
			k += s.fanLoss
		}
		s.rate = heat - k*(s.temp-s.ambient)
		s.temp += s.rate * float32(d.Seconds())
	}
	if s.onSleep != nil {
		s.onSleep(s)
	}
}

func (s *sim) Latest() (sample.Sample, bool) {
	ts := s.now
	if s.staleSample {
		ts = s.sampleTime
	}
	return sample.Sample{Timestamp: ts, Temperature: s.temp, Fault: s.fault}, true
}

func (s *sim) RateOfRise() float32 { return s.rate }

func (s *sim) SetElements(on [oven.NumElements]bool) error {
	s.elements = on
	return nil
}

func (s *sim) ConvectionFan(on bool) error {
	s.convection = on
	return nil
}

func (s *sim) CoolingFan(on bool) error {
	s.cooling = on
	return nil
}

func (s *sim) Door(percent uint8, over time.Duration) error {
	s.doors = append(s.doors, percent)
	return nil
}

func (s *sim) AllOff() error {
	s.allOff++
	s.elements = [oven.NumElements]bool{}
	s.convection = false
	s.cooling = false
	return nil
}

func (s *sim) HeatingOutputs() int { return s.heatingOutputs }

// Bottom and top elements only
func (s *sim) HasElement(e int) bool { return e < 2 }

// recorder captures everything shown on the display.
type recorder struct {
	messages []string
	statuses []Status
	phases   []Phase
	tunes    int
	beeps    int
}

func (r *recorder) Message(text string) { r.messages = append(r.messages, text) }
func (r *recorder) Tune()               { r.tunes++ }
func (r *recorder) Beep()               { r.beeps++ }

func (r *recorder) Update(s Status) {
	r.statuses = append(r.statuses, s)
	if n := len(r.phases); n == 0 || r.phases[n-1] != s.Phase {
		r.phases = append(r.phases, s.Phase)
	}
}

func (r *recorder) last() Status {
	return r.statuses[len(r.statuses)-1]
}
