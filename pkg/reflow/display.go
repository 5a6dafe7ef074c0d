package reflow

import (
	"log"
	"time"
)

// LogDisplay writes run progress to the standard logger.
type LogDisplay struct{}

func (LogDisplay) Message(text string) {
	log.Printf("Display: %s", text)
}

func (LogDisplay) Update(s Status) {
	log.Printf("%s %s %s: %.1fC (target %.1fC, %.2fC/s) power %.0f%% duty %.0f/%.0f/%.0f timer %s",
		s.Mode, s.Phase.Label(s.Mode), s.Elapsed.Round(time.Second), s.Temperature, s.Setpoint, s.RateOfRise,
		s.Power, s.Duty[0], s.Duty[1], s.Duty[2], s.Timer.Round(time.Second))
}

func (LogDisplay) Tune() {
	log.Printf("Display: tune")
}

func (LogDisplay) Beep() {
	log.Printf("Display: beep")
}

type nopDisplay struct{}

func (nopDisplay) Message(string) {}
func (nopDisplay) Update(Status)  {}
func (nopDisplay) Tune()          {}
func (nopDisplay) Beep()          {}
