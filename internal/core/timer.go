package core

import "time"

// FixedStep turns variable frame time into whole simulation steps of a fixed
// length. Elapsed time accumulates; every Next call that finds at least one
// step's worth of time consumes it.
type FixedStep struct {
	step        time.Duration
	accumulator time.Duration
	last        time.Time
}

// NewFixedStep constructs a FixedStep controller for steps of dt seconds.
func NewFixedStep(dt float64) *FixedStep {
	fs := &FixedStep{}
	fs.SetStep(dt)
	return fs
}

// SetStep changes the step length. Non-positive values fall back to 60 TPS.
func (f *FixedStep) SetStep(dt float64) {
	step := time.Duration(dt * float64(time.Second))
	if step <= 0 {
		step = time.Second / 60
	}
	f.step = step
}

// Step returns the configured step length.
func (f *FixedStep) Step() time.Duration { return f.step }

// Tick adds the wall-clock time since the previous Tick. The first call only
// records the reference time.
func (f *FixedStep) Tick() {
	now := time.Now()
	if f.last.IsZero() {
		f.last = now
		return
	}
	f.Accumulate(now.Sub(f.last))
	f.last = now
}

// Accumulate adds elapsed time without consulting the wall clock.
func (f *FixedStep) Accumulate(elapsed time.Duration) {
	if elapsed > 0 {
		f.accumulator += elapsed
	}
}

// Next consumes one step if enough time has accumulated.
func (f *FixedStep) Next() bool {
	if f.accumulator >= f.step {
		f.accumulator -= f.step
		return true
	}
	return false
}

// Behind reports how many whole steps are still pending.
func (f *FixedStep) Behind() int {
	if f.step <= 0 {
		return 0
	}
	return int(f.accumulator / f.step)
}

// Reset drops any pending time and the wall-clock reference.
func (f *FixedStep) Reset() {
	f.accumulator = 0
	f.last = time.Time{}
}
