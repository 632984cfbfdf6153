// Package telemetry collects per-session timing and mass bookkeeping so the
// numerical layers stay free of debug state.
package telemetry

import (
	"fmt"
	"time"
)

// Timer keeps best, worst, average and last durations of a repeated section.
type Timer struct {
	count   int
	best    time.Duration
	worst   time.Duration
	average time.Duration
	last    time.Duration
	started time.Time
}

// Start marks the beginning of a timed section.
func (t *Timer) Start() { t.started = time.Now() }

// Stop records the time since Start.
func (t *Timer) Stop() {
	if t.started.IsZero() {
		return
	}
	t.Record(time.Since(t.started))
	t.started = time.Time{}
}

// Record adds one externally measured sample.
func (t *Timer) Record(d time.Duration) {
	if t.count == 0 || d < t.best {
		t.best = d
	}
	if d > t.worst {
		t.worst = d
	}
	t.last = d
	t.average = (t.average*time.Duration(t.count) + d) / time.Duration(t.count+1)
	t.count++
}

// Count returns the number of recorded samples.
func (t *Timer) Count() int { return t.count }

// Best returns the shortest sample.
func (t *Timer) Best() time.Duration { return t.best }

// Worst returns the longest sample.
func (t *Timer) Worst() time.Duration { return t.worst }

// Average returns the running mean.
func (t *Timer) Average() time.Duration { return t.average }

// Last returns the most recent sample.
func (t *Timer) Last() time.Duration { return t.last }

func (t *Timer) String() string {
	return fmt.Sprintf("best %s; worst %s; avg %s; last %s",
		ms(t.best), ms(t.worst), ms(t.average), ms(t.last))
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%.4fms", float64(d)/float64(time.Millisecond))
}

// Mass summarizes the conserved quantities of one published fluid tick.
type Mass struct {
	Volume    float64 // Σ h·dx² over the whole grid
	Sediment  float64 // suspended sediment
	Eroded    float64 // terrain removed this tick
	Deposited float64 // terrain added this tick
	MaxSpeed  float64
}

// Session gathers everything a HUD or log line wants to know about a run.
type Session struct {
	Tick         uint64
	FramesBehind int
	Step         Timer
	Fluid        Timer
	Mass         Mass

	ErodedTotal    float64
	DepositedTotal float64
}

// Observe folds a published tick into the running totals.
func (s *Session) Observe(m Mass, compute time.Duration) {
	s.Mass = m
	s.Fluid.Record(compute)
	s.ErodedTotal += m.Eroded
	s.DepositedTotal += m.Deposited
}

// Summary returns a single log line.
func (s *Session) Summary() string {
	return fmt.Sprintf("tick=%d behind=%d volume=%.6f sediment=%.6f eroded=%.6f deposited=%.6f vmax=%.3f step[%s] fluid[%s]",
		s.Tick, s.FramesBehind, s.Mass.Volume, s.Mass.Sediment, s.ErodedTotal, s.DepositedTotal, s.Mass.MaxSpeed,
		s.Step.String(), s.Fluid.String())
}
