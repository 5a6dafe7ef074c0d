//go:build tinygo

package main

import (
	"time"

	"tinygo.org/x/drivers/servo"
)

// door moves the servo toward a target position at a fixed rate.
type door struct {
	servo    servo.Servo
	position float32 // %
	target   float32
	rate     float32 // %/ms, 0 moves immediately
}

func newDoor() (*door, error) {
	s, err := servo.New(SERVO_PWM, PIN_SERVO)
	if err != nil {
		return nil, err
	}
	d := &door{servo: s}
	d.apply()
	return d, nil
}

// moveTo starts moving to percent open, arriving after ms milliseconds.
func (d *door) moveTo(percent, ms uint32) {
	if percent > 100 {
		percent = 100
	}
	d.target = float32(percent)
	d.rate = 0
	if ms > 0 {
		diff := d.target - d.position
		if diff < 0 {
			diff = -diff
		}
		d.rate = diff / float32(ms)
	}
}

// step advances the door by dt.
func (d *door) step(dt time.Duration) {
	if d.position == d.target {
		return
	}
	delta := d.rate * float32(dt.Milliseconds())
	switch {
	case d.rate == 0 || d.target-d.position <= delta && d.position-d.target <= delta:
		d.position = d.target
	case d.target > d.position:
		d.position += delta
	default:
		d.position -= delta
	}
	d.apply()
}

func (d *door) percent() uint8 {
	return uint8(d.position + 0.5)
}

func (d *door) apply() {
	us := SERVO_CLOSED_US + (SERVO_OPEN_US-SERVO_CLOSED_US)*d.position/100
	d.servo.SetMicroseconds(int16(us))
}
