package stack

import (
	"terra/internal/core"
	rng "terra/pkg/core"
)

// Emitter contributes external mass to the source accumulator once per
// frame. Implementations only write interior cells.
type Emitter interface {
	Emit(dst *core.Field, dt, dx float64)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(dst *core.Field, dt, dx float64)

// Emit calls f.
func (f EmitterFunc) Emit(dst *core.Field, dt, dx float64) { f(dst, dt, dx) }

// Rain drops Amount of depth on a disc of Radius around random cells at Rate
// drops per second. Drops never land within Margin cells of the border.
type Rain struct {
	Rate   float64
	Amount float64
	Radius int
	Margin int

	rand  *rng.RNG
	carry float64
}

// NewRain returns a seeded rain emitter.
func NewRain(rate, amount float64, radius, margin int, seed int64) *Rain {
	return &Rain{Rate: rate, Amount: amount, Radius: radius, Margin: margin, rand: rng.NewRNG(seed)}
}

// Emit drops one disc of Amount per whole Rate·dt event, carrying the
// fraction over to the next frame.
func (r *Rain) Emit(dst *core.Field, dt, dx float64) {
	if r.Rate <= 0 || r.Amount <= 0 {
		return
	}
	n := dst.N()
	lo, hi := r.Margin+1, n-r.Margin
	if lo > hi {
		return
	}
	r.carry += r.Rate * dt
	for ; r.carry >= 1; r.carry-- {
		cx := r.rand.IntRange(lo, hi)
		cy := r.rand.IntRange(lo, hi)
		for row := max(lo, cy-r.Radius); row <= min(hi, cy+r.Radius); row++ {
			for col := max(lo, cx-r.Radius); col <= min(hi, cx+r.Radius); col++ {
				ddx, ddy := col-cx, row-cy
				if ddx*ddx+ddy*ddy > r.Radius*r.Radius {
					continue
				}
				dst.Set(col, row, dst.At(col, row)+r.Amount)
			}
		}
	}
}

// Injector adds or removes fluid under a pointer. Adding stamps
// power·dt/dx²/4 on a 2×2 block; removing takes twice that.
type Injector struct {
	Power  float64
	Margin int

	at   core.GridPoint
	sign float64
}

// NewInjector returns an idle injector.
func NewInjector(power float64, margin int) *Injector {
	return &Injector{Power: power, Margin: margin, at: core.GridPoint{Col: core.Invalid, Row: core.Invalid}}
}

// Press starts injecting at p until Release.
func (j *Injector) Press(p core.GridPoint, remove bool) {
	j.at = p
	j.sign = 1
	if remove {
		j.sign = -2
	}
}

// Release stops injecting.
func (j *Injector) Release() { j.sign = 0 }

// Active reports whether the next Emit writes anything on an n grid.
func (j *Injector) Active(n int) bool {
	if j.sign == 0 || !j.at.Valid() {
		return false
	}
	return j.Margin < j.at.Col && j.at.Col < n-j.Margin &&
		j.Margin < j.at.Row && j.at.Row < n-j.Margin
}

// Emit spreads power·dt/dx² over the 2×2 block at the pressed cell, at -2×
// when removing.
func (j *Injector) Emit(dst *core.Field, dt, dx float64) {
	if !j.Active(dst.N()) {
		return
	}
	amount := j.sign * j.Power * dt / (dx * dx) / 4
	col, row := j.at.Col, j.at.Row
	for _, c := range [4][2]int{{col, row}, {col + 1, row}, {col, row + 1}, {col + 1, row + 1}} {
		dst.Set(c[0], c[1], dst.At(c[0], c[1])+amount)
	}
}
