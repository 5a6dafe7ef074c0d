package reflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/oven"
	"github.com/itohio/goreflow/pkg/profile"
	"github.com/itohio/goreflow/pkg/token"
)

// ErrRunning is returned when a run is started while another is in progress.
var ErrRunning = errors.New("reflow: a run is already in progress")

// Engine sequences profiles and runs the temperature control loop.
type Engine struct {
	cfg     config.Config
	tuning  Tuning
	outputs Outputs
	thermo  Thermometer
	display Display
	clock   Clock

	aborted atomic.Bool

	mu      sync.Mutex
	running bool
}

// New creates an engine. A nil display discards progress and a nil clock uses
// the wall clock.
func New(cfg *config.Config, outputs Outputs, thermo Thermometer, display Display, clock Clock) *Engine {
	if display == nil {
		display = nopDisplay{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	c := *cfg
	def := config.Default().Control
	if c.Control.PollInterval <= 0 {
		c.Control.PollInterval = def.PollInterval
	}
	c.Control.PollInterval = min(c.Control.PollInterval, config.MaxPollInterval)
	if c.Control.PIDInterval <= 0 {
		c.Control.PIDInterval = def.PIDInterval
	}
	if c.Control.DutyWindow <= 0 {
		c.Control.DutyWindow = def.DutyWindow
	}
	return &Engine{
		cfg:     c,
		tuning:  TuningFromConfig(cfg.Control),
		outputs: outputs,
		thermo:  thermo,
		display: display,
		clock:   clock,
	}
}

// Abort asks the current run to stop. The run notices within one poll
// interval. An abort requested while idle stops the next run at its start.
func (e *Engine) Abort() {
	e.aborted.Store(true)
}

// ClearAbort drops an abort request that no run has consumed.
func (e *Engine) ClearAbort() {
	e.aborted.Store(false)
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run executes a reflow profile. peak is the highest temperature the profile
// asks for; reaching for it marks the reflow phase.
func (e *Engine) Run(ctx context.Context, name string, program Program, peak uint16) (Result, error) {
	return e.run(ctx, ModeReflow, name, program, peak)
}

// Bake runs the bake program built from the bake settings.
func (e *Engine) Bake(ctx context.Context) (Result, error) {
	program := NewInstructions(BakeProgram(&e.cfg)...)
	return e.run(ctx, ModeBake, "Bake", program, e.cfg.Bake.Temperature)
}

func (e *Engine) run(ctx context.Context, mode Mode, name string, program Program, peak uint16) (Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Result{Mode: mode, Name: name, Phase: PhaseIdle}, ErrRunning
	}
	e.running = true
	e.mu.Unlock()
	// An abort requested before the run starts still stops it; the flag is
	// cleared once the run is over.
	defer func() {
		e.mu.Lock()
		e.running = false
		e.aborted.Store(false)
		e.mu.Unlock()
	}()

	if e.outputs.HeatingOutputs() < 2 {
		return Result{Mode: mode, Name: name, Phase: PhaseIdle}, config.ErrOutputsNotConfigured
	}

	r := newRun(ctx, e, mode, name, peak)
	log.Printf("%s %q started", mode, name)
	err := r.execute(program)

	if offErr := e.outputs.AllOff(); offErr != nil {
		log.Printf("Failed to switch outputs off: %v", offErr)
		if err == nil {
			err = fmt.Errorf("failed to switch outputs off: %w", offErr)
		}
	}

	if err != nil {
		runErr := &RunError{Phase: r.phase, Token: r.current.Token, Err: err}
		final := PhaseError
		if errors.Is(err, ErrAborted) {
			final = PhaseAborted
		}
		r.finish(final)
		log.Printf("%s %q stopped: %v", mode, name, runErr)
		return r.result(), runErr
	}

	r.finish(PhaseDone)
	log.Printf("%s %q done in %s, peak %.1fC", mode, name, r.elapsed().Round(time.Second), r.peakSeen)
	return r.result(), nil
}

// run is the state of one profile execution.
type run struct {
	ctx  context.Context
	e    *Engine
	mode Mode
	name string
	peak uint16

	start      time.Time
	phase      Phase
	phaseStart time.Time
	current    profile.Instruction
	count      int

	deviation uint16
	maxTemp   uint16

	timerBase    time.Duration
	timerStart   time.Time
	timerRunning bool

	bias    [oven.NumElements]uint16
	maxDuty [oven.NumElements]uint16

	// Closed loop control follows a setpoint that ramps from 'from' to 'to'
	closedLoop bool
	from, to   float32
	rampStart  time.Time
	rampLen    time.Duration
	setpoint   float32
	slope      float32
	pid        pid
	power      float32
	lastPID    time.Time

	duty     [oven.NumElements]float32
	window   time.Time
	elements [oven.NumElements]bool
	driven   bool

	lastStatus time.Time
	sampleTime time.Time // Timestamp of the last distinct sample
	sampleSeen time.Time // Clock time that sample arrived
	temp       float32
	peakSeen   float32
}

func newRun(ctx context.Context, e *Engine, mode Mode, name string, peak uint16) *run {
	return &run{
		ctx:       ctx,
		e:         e,
		mode:      mode,
		name:      name,
		peak:      peak,
		deviation: e.cfg.Control.Deviation,
		maxTemp:   e.cfg.Control.MaxTemperature,
		bias:      [oven.NumElements]uint16{100, 100, 100},
		maxDuty:   [oven.NumElements]uint16{100, 100, 100},
		pid:       pid{tuning: e.tuning},
	}
}

func (r *run) execute(program Program) error {
	now := r.e.clock.Now()
	r.start = now
	r.advance(PhasePreheat, now)

	if err := r.checkAbort(); err != nil {
		return err
	}
	if err := r.readTemperature(now); err != nil {
		return err
	}

	for {
		if err := r.checkAbort(); err != nil {
			return err
		}
		in, err := program.Next()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProfileRead, err)
		}
		r.current = in
		if in.Token == token.EndOfProfile {
			return nil
		}
		r.count++
		log.Printf("%s %q: %s", r.mode, r.name, in)
		if err := r.step(in); err != nil {
			return err
		}
	}
}

// step executes one instruction.
func (r *run) step(in profile.Instruction) error {
	out := r.e.outputs
	args := in.Args
	now := r.e.clock.Now()

	switch in.Token {
	case token.Deviation:
		r.deviation = args[0]
	case token.MaxTemperature:
		r.maxTemp = args[0]
	case token.InitializeTimer:
		r.timerBase = seconds(args[0])
		r.timerRunning = false
	case token.StartTimer:
		if !r.timerRunning {
			r.timerStart = now
			r.timerRunning = true
		}
	case token.StopTimer:
		if r.timerRunning {
			r.timerBase += now.Sub(r.timerStart)
			r.timerRunning = false
		}
	case token.MaxDuty:
		for e := range r.maxDuty {
			r.maxDuty[e] = min(args[e], 100)
		}
	case token.Bias:
		copy(r.bias[:], args[:oven.NumElements])
	case token.Display:
		r.e.display.Message(in.Text)
	case token.PlayTune:
		r.e.display.Tune()
	case token.PlayBeep:
		r.e.display.Beep()
	case token.OpenDoor:
		return r.door(100, args[0], now)
	case token.CloseDoor:
		return r.door(0, args[0], now)
	case token.DoorPercentage:
		return r.door(args[0], args[1], now)
	case token.ConvectionFanOn, token.ConvectionFanOff:
		if err := out.ConvectionFan(in.Token == token.ConvectionFanOn); err != nil {
			return fmt.Errorf("failed to switch convection fan: %w", err)
		}
	case token.CoolingFanOn, token.CoolingFanOff:
		on := in.Token == token.CoolingFanOn
		if on {
			r.cooling(now)
		}
		if err := out.CoolingFan(on); err != nil {
			return fmt.Errorf("failed to switch cooling fan: %w", err)
		}
	case token.ElementDutyCycle:
		return r.openLoop(args, now)
	case token.RampTemperature:
		return r.ramp(args[0], args[1], now)
	case token.Maintain:
		return r.maintain(args[0], args[1], now)
	case token.WaitFor:
		return r.hold(seconds(args[0]))
	case token.WaitUntilAbove:
		limit := float32(args[0])
		return r.waitUntil(func(t float32) bool { return t > limit })
	case token.WaitUntilBelow:
		r.cooling(now)
		limit := float32(args[0])
		return r.waitUntil(func(t float32) bool { return t < limit })
	default:
		log.Printf("Ignoring instruction %s", in)
	}
	return nil
}

func (r *run) door(percent, secs uint16, now time.Time) error {
	if percent > 100 {
		percent = 100
	}
	if percent > 0 {
		r.cooling(now)
	}
	if err := r.e.outputs.Door(uint8(percent), seconds(secs)); err != nil {
		return fmt.Errorf("failed to move door: %w", err)
	}
	return nil
}

// openLoop switches to fixed element duties.
func (r *run) openLoop(args [token.MaxArgs]uint16, now time.Time) error {
	r.closedLoop = false
	r.pid.reset()
	r.power = 0
	off := true
	for e := range r.duty {
		r.duty[e] = float32(min(args[e], 100))
		off = off && args[e] == 0
	}
	if off {
		r.cooling(now)
	}
	return r.drive(now)
}

func (r *run) ramp(target, secs uint16, now time.Time) error {
	from := r.temp
	if r.closedLoop {
		from = r.setpoint
	}
	r.heating(target, false, now)
	r.follow(from, float32(target), seconds(secs), now)
	return r.hold(r.rampLen)
}

func (r *run) maintain(target, secs uint16, now time.Time) error {
	r.heating(target, true, now)
	r.follow(float32(target), float32(target), 0, now)
	return r.hold(seconds(secs))
}

// follow starts closed loop control along a linear setpoint trajectory.
func (r *run) follow(from, to float32, over time.Duration, now time.Time) {
	if !r.closedLoop {
		r.pid.reset()
		r.lastPID = time.Time{}
	}
	r.closedLoop = true
	r.from, r.to = from, to
	r.rampStart = now
	r.rampLen = over
	r.updateSetpoint(now)
}

func (r *run) updateSetpoint(now time.Time) {
	if !r.closedLoop {
		return
	}
	t := now.Sub(r.rampStart)
	if r.rampLen <= 0 || t >= r.rampLen {
		r.setpoint = r.to
		r.slope = 0
		return
	}
	secs := float32(r.rampLen.Seconds())
	r.slope = (r.to - r.from) / secs
	r.setpoint = r.from + r.slope*float32(t.Seconds())
}

// hold keeps the control loop running for d.
func (r *run) hold(d time.Duration) error {
	end := r.e.clock.Now().Add(d)
	for {
		now, err := r.tick()
		if err != nil {
			return err
		}
		if !now.Before(end) {
			return nil
		}
		r.e.clock.Sleep(min(r.e.cfg.Control.PollInterval, end.Sub(now)))
	}
}

// waitUntil keeps the control loop running until cond holds for the measured
// temperature, bounded by the wait timeout.
func (r *run) waitUntil(cond func(temp float32) bool) error {
	start := r.e.clock.Now()
	timeout := r.e.cfg.Control.WaitTimeout
	for {
		now, err := r.tick()
		if err != nil {
			return err
		}
		if cond(r.temp) {
			return nil
		}
		if timeout > 0 && now.Sub(start) >= timeout {
			return fmt.Errorf("%w after %s at %.1fC", ErrTimeout, timeout, r.temp)
		}
		r.e.clock.Sleep(r.e.cfg.Control.PollInterval)
	}
}

// tick runs one iteration of the control loop.
func (r *run) tick() (time.Time, error) {
	if err := r.checkAbort(); err != nil {
		return time.Time{}, err
	}
	now := r.e.clock.Now()
	if err := r.readTemperature(now); err != nil {
		return now, err
	}
	if r.maxTemp > 0 && r.temp > float32(r.maxTemp) {
		return now, fmt.Errorf("%w: %.1fC above %dC", ErrOverTemperature, r.temp, r.maxTemp)
	}

	r.updateSetpoint(now)
	if r.closedLoop {
		if r.deviation > 0 && math32.Abs(r.setpoint-r.temp) > float32(r.deviation) {
			return now, fmt.Errorf("%w: %.1fC against %.1fC (limit %dC)", ErrDeviation, r.temp, r.setpoint, r.deviation)
		}
		if r.lastPID.IsZero() || now.Sub(r.lastPID) >= r.e.cfg.Control.PIDInterval {
			r.control(now)
		}
	}

	if err := r.drive(now); err != nil {
		return now, err
	}
	if now.Sub(r.lastStatus) >= r.e.cfg.Control.PIDInterval {
		r.report(now)
	}
	return now, nil
}

// control recomputes the power and element duties.
func (r *run) control(now time.Time) {
	var dt float32
	if !r.lastPID.IsZero() {
		dt = float32(now.Sub(r.lastPID).Seconds())
	}
	r.lastPID = now

	var bias [oven.NumElements]uint16
	var maxBias uint16
	for e := range bias {
		if r.e.outputs.HasElement(e) {
			bias[e] = r.bias[e]
			maxBias = max(maxBias, bias[e])
		}
	}

	base := r.e.tuning.BasePower(r.setpoint, r.slope, bias, maxBias)
	r.power = r.pid.update(base, r.setpoint, r.temp, r.slope, r.e.thermo.RateOfRise(), dt)
	r.duty = ElementDuty(r.power, bias, maxBias, r.maxDuty)
}

// drive switches the elements by time proportioning the duties over the
// duty window.
func (r *run) drive(now time.Time) error {
	window := r.e.cfg.Control.DutyWindow
	pos := now.Sub(r.window)
	if r.window.IsZero() || pos >= window || pos < 0 {
		r.window = now
		pos = 0
	}

	var on [oven.NumElements]bool
	for e := range on {
		on[e] = r.duty[e] > 0 && float32(pos) < r.duty[e]/100*float32(window)
	}
	if r.driven && on == r.elements {
		return nil
	}
	if err := r.e.outputs.SetElements(on); err != nil {
		return fmt.Errorf("failed to switch elements: %w", err)
	}
	r.elements = on
	r.driven = true
	return nil
}

func (r *run) readTemperature(now time.Time) error {
	s, ok := r.e.thermo.Latest()
	if !ok {
		return fmt.Errorf("%w: no reading", ErrThermocouple)
	}
	if !s.Valid() {
		return fmt.Errorf("%w: fault 0x%02x", ErrThermocouple, s.Fault)
	}
	if !s.Timestamp.Equal(r.sampleTime) {
		r.sampleTime = s.Timestamp
		r.sampleSeen = now
	} else if stale := r.e.cfg.Control.StaleSample; stale > 0 && now.Sub(r.sampleSeen) > stale {
		return fmt.Errorf("%w: no reading for %s", ErrThermocouple, now.Sub(r.sampleSeen))
	}
	r.temp = s.Temperature
	r.peakSeen = max(r.peakSeen, r.temp)
	return nil
}

func (r *run) checkAbort() error {
	if r.e.aborted.Load() {
		return ErrAborted
	}
	select {
	case <-r.ctx.Done():
		return fmt.Errorf("%w: %w", ErrAborted, r.ctx.Err())
	default:
		return nil
	}
}

// heating moves the phase forward for a ramp or maintain towards target.
func (r *run) heating(target uint16, maintain bool, now time.Time) {
	switch {
	case r.mode == ModeReflow && r.peak > 0 && target >= r.peak:
		r.advance(PhaseReflow, now)
	case maintain:
		r.advance(PhaseSoak, now)
	}
}

// cooling enters the cooling phase once the hottest phase has been reached.
func (r *run) cooling(now time.Time) {
	hottest := PhaseReflow
	if r.mode == ModeBake {
		hottest = PhaseSoak
	}
	if r.phase >= hottest {
		r.advance(PhaseCooling, now)
	}
}

func (r *run) advance(p Phase, now time.Time) {
	if p <= r.phase {
		return
	}
	r.phase = p
	r.phaseStart = now
	log.Printf("%s %q phase: %s", r.mode, r.name, p.Label(r.mode))
	if !r.start.IsZero() {
		r.report(now)
	}
}

func (r *run) finish(p Phase) {
	now := r.e.clock.Now()
	if r.timerRunning {
		r.timerBase += now.Sub(r.timerStart)
		r.timerRunning = false
	}
	r.phase = p
	r.phaseStart = now
	r.power = 0
	r.duty = [oven.NumElements]float32{}
	r.report(now)
}

func (r *run) report(now time.Time) {
	r.lastStatus = now
	timer := r.timerBase
	if r.timerRunning {
		timer += now.Sub(r.timerStart)
	}
	r.e.display.Update(Status{
		Mode:         r.mode,
		Name:         r.name,
		Phase:        r.phase,
		Instruction:  r.current.String(),
		Elapsed:      now.Sub(r.start),
		PhaseElapsed: now.Sub(r.phaseStart),
		Timer:        timer,
		Temperature:  r.temp,
		Setpoint:     r.setpoint,
		Power:        r.power,
		Duty:         r.duty,
		RateOfRise:   r.e.thermo.RateOfRise(),
	})
}

func (r *run) elapsed() time.Duration {
	return r.e.clock.Now().Sub(r.start)
}

func (r *run) result() Result {
	return Result{
		Mode:         r.mode,
		Name:         r.name,
		Phase:        r.phase,
		Elapsed:      r.elapsed(),
		Peak:         r.peakSeen,
		Instructions: r.count,
	}
}

func seconds(s uint16) time.Duration {
	return time.Duration(s) * time.Second
}
