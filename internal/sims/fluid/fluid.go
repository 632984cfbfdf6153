// Package fluid implements a shallow-water layer on the virtual pipe model.
// Every tick runs on a background goroutine while the caller renders the
// previously published state; DoUpdate joins the running tick, publishes it
// and dispatches the next one.
package fluid

import (
	"errors"
	"fmt"
	"time"

	"terra/internal/core"
	"terra/internal/telemetry"
)

var (
	// ErrTickFailed reports that a background tick did not complete. The
	// session cannot continue once it has been returned.
	ErrTickFailed = errors.New("fluid: background tick failed")
	// ErrNotInitialized is returned by DoUpdate before Initialize.
	ErrNotInitialized = errors.New("fluid: layer not initialized")
	// ErrClosed is returned by DoUpdate after Close.
	ErrClosed = errors.New("fluid: layer closed")
)

// Stats describes the most recently published tick.
type Stats struct {
	Tick    uint64
	Compute time.Duration
	Mass    telemetry.Mass
}

// Layer is a fluid height field flowing over the summed height of the layers
// beneath it.
type Layer struct {
	n      int
	staged Params

	sets  [2]buffers
	front int

	work    *scratch
	pending *core.Field
	bed     core.Layer

	requests chan request
	results  chan result
	inflight bool
	started  bool
	closed   bool
	failed   error

	stats Stats

	// solve is swapped by tests to inject failures.
	solve solveFunc
}

// New allocates every buffer for an n×n interior. Invalid parameters are
// reported by Initialize.
func New(n int, p Params) *Layer {
	if n <= 0 {
		n = 1
	}
	return &Layer{
		n:       n,
		staged:  p,
		sets:    [2]buffers{newBuffers(n), newBuffers(n)},
		work:    newScratch(n),
		pending: core.NewField(n),
		solve:   solve,
	}
}

// Name returns the layer identifier.
func (l *Layer) Name() string { return "fluid" }

// N returns the interior size.
func (l *Layer) N() int { return l.n }

// HeightField returns the published fluid depth.
func (l *Layer) HeightField() *core.Field { return l.sets[l.front].height }

// VelocityField returns the published velocity.
func (l *Layer) VelocityField() *core.Grid[core.Velocity] { return l.sets[l.front].velocity }

// SedimentField returns the published suspended sediment.
func (l *Layer) SedimentField() *core.Field { return l.sets[l.front].sediment }

// FluxField returns the published pipe outflow.
func (l *Layer) FluxField() *core.Grid[core.Flux] { return l.sets[l.front].flux }

// Stats returns the telemetry of the last published tick.
func (l *Layer) Stats() Stats { return l.stats }

// Params returns the parameters the next dispatched tick will use.
func (l *Layer) Params() Params { return l.staged }

// SetParams stages p for the next dispatch.
func (l *Layer) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("fluid params: %w", err)
	}
	l.staged = p
	return nil
}

// SetBed names the layer that receives the erosion delta of each published
// tick. A nil bed discards it.
func (l *Layer) SetBed(bed core.Layer) { l.bed = bed }

// AddSource queues delta for the next dispatched tick. Ghost cells of delta
// are ignored.
func (l *Layer) AddSource(delta *core.Field) {
	if delta == nil || !l.pending.SameShape(delta) {
		return
	}
	dst := l.pending.Cells()
	src := delta.Cells()
	for row := 1; row <= l.n; row++ {
		for col := 1; col <= l.n; col++ {
			i := l.pending.Index(col, row)
			dst[i] += src[i]
		}
	}
}

// Initialize seeds the depth, starts the worker and dispatches the first tick
// so that a result is ready for the first DoUpdate.
func (l *Layer) Initialize(dt, dx float64, lower *core.Field) error {
	if l.started {
		return errors.New("fluid: already initialized")
	}
	if err := checkStep(dt, dx); err != nil {
		return fmt.Errorf("fluid initialize: %w", err)
	}
	if err := core.CheckShape(lower, l.n); err != nil {
		return fmt.Errorf("fluid initialize: %w", err)
	}
	if err := l.staged.Validate(); err != nil {
		return fmt.Errorf("fluid initialize: %w", err)
	}
	h := l.sets[l.front].height
	for row := 1; row <= l.n; row++ {
		for col := 1; col <= l.n; col++ {
			h.Set(col, row, l.staged.InitialHeight)
		}
	}

	l.requests = make(chan request)
	l.results = make(chan result, 1)
	l.started = true
	go l.run()

	l.work.lower.CopyFrom(lower)
	l.dispatch(dt, dx)
	return nil
}

// DoUpdate waits for the running tick, publishes it, forwards its erosion to
// the bed and dispatches the next tick against a private copy of lower.
func (l *Layer) DoUpdate(dt, dx float64, lower *core.Field) error {
	switch {
	case l.failed != nil:
		return l.failed
	case l.closed:
		return ErrClosed
	case !l.started:
		return ErrNotInitialized
	}
	if err := checkStep(dt, dx); err != nil {
		return fmt.Errorf("fluid update: %w", err)
	}
	if err := core.CheckShape(lower, l.n); err != nil {
		return fmt.Errorf("fluid update: %w", err)
	}
	if err := l.await(); err != nil {
		return err
	}
	l.front = 1 - l.front
	if l.bed != nil {
		l.bed.AddSource(l.work.erosion)
	}
	l.work.lower.CopyFrom(lower)
	l.dispatch(dt, dx)
	return nil
}

// Close waits for the running tick and stops the worker. It returns the
// failure of that tick, if any.
func (l *Layer) Close() error {
	if l.closed || !l.started {
		l.closed = true
		return nil
	}
	err := l.await()
	close(l.requests)
	l.closed = true
	return err
}

func checkStep(dt, dx float64) error {
	if !(dt > 0) || !(dx > 0) {
		return fmt.Errorf("dt and dx must be > 0, got dt=%g dx=%g", dt, dx)
	}
	return nil
}
