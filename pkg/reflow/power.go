package reflow

import (
	"github.com/chewxy/math32"
	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/oven"
)

// Tuning holds the learned oven characteristics and PID gains.
type Tuning struct {
	Kp, Ki, Kd float32

	// Power (%) that holds the oven at 120C
	LearnedPower float32
	// Extra power (%) per 1C/s of rise
	LearnedInertia float32
	// Extra power (%) per 100C above 120C
	LearnedInsulation float32
}

// TuningFromConfig extracts the tuning from the control settings.
func TuningFromConfig(cfg config.ControlConfig) Tuning {
	return Tuning{
		Kp:                cfg.Kp,
		Ki:                cfg.Ki,
		Kd:                cfg.Kd,
		LearnedPower:      cfg.LearnedPower,
		LearnedInertia:    cfg.LearnedInertia,
		LearnedInsulation: cfg.LearnedInsulation,
	}
}

// BasePower returns the feed-forward power (%) expected to hold temp while
// rising at slope C/s. Elements biased below maxBias deliver less than the
// commanded power, so the result is scaled up by the mean bias shortfall.
func (t Tuning) BasePower(temp, slope float32, bias [oven.NumElements]uint16, maxBias uint16) float32 {
	if maxBias == 0 {
		return 0
	}

	power := temp * t.LearnedPower / 120
	if temp > 120 {
		power += (temp - 120) / 100 * t.LearnedInsulation
	}
	if slope > 0 {
		power += slope * t.LearnedInertia
	}

	var sum, n float32
	for _, b := range bias {
		if b > 0 {
			sum += float32(b)
			n++
		}
	}
	if sum == 0 {
		return 0
	}
	power *= float32(maxBias) * n / sum

	return clamp(power, 0, 100)
}

// ElementDuty splits power between the elements by bias and caps each at its
// maximum duty.
func ElementDuty(power float32, bias [oven.NumElements]uint16, maxBias uint16, maxDuty [oven.NumElements]uint16) [oven.NumElements]float32 {
	var duty [oven.NumElements]float32
	if maxBias == 0 {
		return duty
	}
	for e := range duty {
		d := power * float32(bias[e]) / float32(maxBias)
		duty[e] = clamp(d, 0, float32(maxDuty[e]))
	}
	return duty
}

// pid is the reactive correction added to the base power.
type pid struct {
	tuning   Tuning
	integral float32
}

// update returns the corrected power for one PID interval of dt seconds.
// Derivative action works on the rate error so setpoint steps do not kick.
func (p *pid) update(base, setpoint, temp, slope, rate, dt float32) float32 {
	err := setpoint - temp
	out := base + p.tuning.Kp*err + p.tuning.Ki*p.integral + p.tuning.Kd*(slope-rate)

	// Integrate only while the output is not pinned in the direction of the error
	saturated := (out >= 100 && err > 0) || (out <= 0 && err < 0)
	if !saturated && dt > 0 {
		p.integral += err * dt
		if p.tuning.Ki > 0 {
			limit := 50 / p.tuning.Ki
			p.integral = clamp(p.integral, -limit, limit)
		}
	}

	return clamp(out, 0, 100)
}

func (p *pid) reset() {
	p.integral = 0
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}
