// Package stack composes terrain and fluid layers into one session and
// drives them on a fixed time step.
package stack

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"terra/internal/config"
	"terra/internal/core"
	"terra/internal/sims/fluid"
	"terra/internal/sims/terrain"
	"terra/internal/telemetry"
)

// maxCatchUp bounds the steps Update runs for one frame. Anything beyond it
// stays in the accumulator and shows up in FramesBehind.
const maxCatchUp = 8

// Settings are the grid constants shared by every layer.
type Settings struct {
	N      int
	Dx     float64
	Dt     float64
	Size   float64
	Origin core.Vec2
}

// StepDuration returns Dt as a time.Duration.
func (s Settings) StepDuration() time.Duration {
	return time.Duration(s.Dt * float64(time.Second))
}

func (s Settings) validate() error {
	if s.N <= 0 || !(s.Dx > 0) || !(s.Dt > 0) || !(s.Size > 0) {
		return fmt.Errorf("stack: invalid settings %+v", s)
	}
	return nil
}

// Manager owns an ordered set of layers, bottom first.
type Manager struct {
	s        Settings
	layers   []core.Layer
	target   core.Layer
	emitters []Emitter
	injector *Injector

	source *core.Field
	total  *core.Field
	clock  *core.FixedStep

	session telemetry.Session
	closed  bool
}

// Option tweaks a Manager built by New.
type Option func(*Manager)

// WithEmitter adds an extra source emitter.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitters = append(m.emitters, e) }
}

// WithoutRain drops the configured rain.
func WithoutRain() Option {
	return func(m *Manager) {
		kept := m.emitters[:0]
		for _, e := range m.emitters {
			if _, ok := e.(*Rain); !ok {
				kept = append(kept, e)
			}
		}
		m.emitters = kept
	}
}

// New builds a terrain layer with a fluid layer on top from cfg. Sources go
// to the fluid and the fluid erodes the terrain.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factory, ok := terrain.Samplers()[cfg.Terrain.Sampler]
	if !ok {
		return nil, fmt.Errorf("stack: unknown terrain sampler %q", cfg.Terrain.Sampler)
	}
	s := Settings{N: cfg.N, Dx: cfg.CellSize(), Dt: cfg.Dt, Size: cfg.Size, Origin: cfg.OriginVec()}
	ground := terrain.New(terrain.Config{
		N:      cfg.N,
		Size:   cfg.Size,
		Origin: s.Origin,
		Offset: cfg.Terrain.Offset,
	}, factory(terrain.Shape{
		Size:      cfg.Size,
		Origin:    s.Origin,
		Amplitude: cfg.Terrain.Amplitude,
		Seed:      cfg.Seed,
	}))
	water := fluid.New(cfg.N, cfg.Fluid.Params)
	water.SetBed(ground)

	var emitters []Emitter
	if cfg.Rain.Rate > 0 {
		emitters = append(emitters, NewRain(cfg.Rain.Rate, cfg.Rain.Amount, cfg.Rain.Radius, cfg.Rain.Margin, cfg.Seed))
	}
	m, err := newManager(s, water, emitters, NewInjector(cfg.Injector.Power, cfg.Injector.Margin), opts, ground, water)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewWithLayers composes explicit layers, bottom first, and initializes
// them. Emitted sources go to target, which must be one of layers.
func NewWithLayers(s Settings, target core.Layer, layers ...core.Layer) (*Manager, error) {
	return newManager(s, target, nil, NewInjector(0, 0), nil, layers...)
}

func newManager(s Settings, target core.Layer, emitters []Emitter, inj *Injector, opts []Option, layers ...core.Layer) (*Manager, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if len(layers) == 0 {
		return nil, errors.New("stack: no layers")
	}
	found := false
	for _, l := range layers {
		if l == target {
			found = true
		}
	}
	if target != nil && !found {
		return nil, fmt.Errorf("stack: target layer %q is not in the stack", target.Name())
	}
	m := &Manager{
		s:        s,
		layers:   layers,
		target:   target,
		emitters: append(emitters, inj),
		injector: inj,
		source:   core.NewField(s.N),
		total:    core.NewField(s.N),
		clock:    core.NewFixedStep(s.Dt),
	}
	for _, opt := range opts {
		opt(m)
	}

	for i, l := range layers {
		if err := l.Initialize(s.Dt, s.Dx, m.total); err != nil {
			m.closeLayers(layers[:i])
			return nil, fmt.Errorf("stack: initialize %s: %w", l.Name(), err)
		}
		if err := core.CheckShape(l.HeightField(), s.N); err != nil {
			m.closeLayers(layers[:i+1])
			return nil, fmt.Errorf("stack: layer %s: %w", l.Name(), err)
		}
		core.AddInto(m.total, l.HeightField())
	}
	return m, nil
}

// Settings returns the grid constants.
func (m *Manager) Settings() Settings { return m.s }

// Layers returns the stack bottom first.
func (m *Manager) Layers() []core.Layer { return m.layers }

// Injector returns the pointer driven source.
func (m *Manager) Injector() *Injector { return m.injector }

// AddEmitter registers another source emitter.
func (m *Manager) AddEmitter(e Emitter) { m.emitters = append(m.emitters, e) }

// Fluid returns the first fluid layer, if any.
func (m *Manager) Fluid() *fluid.Layer {
	for _, l := range m.layers {
		if f, ok := l.(*fluid.Layer); ok {
			return f
		}
	}
	return nil
}

// Terrain returns the first terrain layer, if any.
func (m *Manager) Terrain() *terrain.Layer {
	for _, l := range m.layers {
		if t, ok := l.(*terrain.Layer); ok {
			return t
		}
	}
	return nil
}

// Telemetry returns the running session statistics.
func (m *Manager) Telemetry() *telemetry.Session { return &m.session }

// Tick returns the number of completed steps.
func (m *Manager) Tick() uint64 { return m.session.Tick }

// FramesBehind reports how many whole steps are waiting in the accumulator.
func (m *Manager) FramesBehind() int { return m.clock.Behind() }

// Update runs one frame against the wall clock and returns the number of
// steps taken.
func (m *Manager) Update() (int, error) {
	m.clock.Tick()
	return m.frame(maxCatchUp)
}

// Advance runs one frame as if elapsed had passed. Every whole step is run.
func (m *Manager) Advance(elapsed time.Duration) (int, error) {
	m.clock.Accumulate(elapsed)
	return m.frame(math.MaxInt)
}

// Hold drops pending wall-clock time so a paused session does not catch up
// when it resumes.
func (m *Manager) Hold() { m.clock.Reset() }

func (m *Manager) frame(limit int) (int, error) {
	m.gatherSources()
	steps := 0
	for steps < limit && m.clock.Next() {
		if err := m.Step(); err != nil {
			return steps, err
		}
		steps++
	}
	m.session.FramesBehind = m.clock.Behind()
	return steps, nil
}

func (m *Manager) gatherSources() {
	if m.target == nil {
		return
	}
	m.source.Clear()
	for _, e := range m.emitters {
		e.Emit(m.source, m.s.Dt, m.s.Dx)
	}
	m.target.AddSource(m.source)
}

// Step runs exactly one composition pass: each layer is updated against the
// summed height of everything below it.
func (m *Manager) Step() error {
	if m.closed {
		return errors.New("stack: manager closed")
	}
	m.session.Step.Start()
	m.total.Clear()
	for _, l := range m.layers {
		if err := l.DoUpdate(m.s.Dt, m.s.Dx, m.total); err != nil {
			return fmt.Errorf("stack: update %s: %w", l.Name(), err)
		}
		core.AddInto(m.total, l.HeightField())
	}
	m.session.Step.Stop()
	m.session.Tick++
	if f := m.Fluid(); f != nil {
		st := f.Stats()
		m.session.Observe(st.Mass, st.Compute)
	}
	return nil
}

// TotalHeight returns the summed height of every layer after the last step.
func (m *Manager) TotalHeight() *core.Field { return m.total }

// TotalHeightAt returns the summed height at a cell, or 0 outside the grid.
func (m *Manager) TotalHeightAt(col, row int) float64 {
	if !m.total.InBounds(col, row) {
		return 0
	}
	return m.total.At(col, row)
}

// GridPointFromPosition maps a world position to a cell. Each axis outside
// 0..N+1 is Invalid; with interior set the ghost ring is Invalid too.
func (m *Manager) GridPointFromPosition(pos core.Vec2, interior bool) core.GridPoint {
	return core.GridPoint{
		Col: m.axis(pos.X-m.s.Origin.X, interior),
		Row: m.axis(pos.Y-m.s.Origin.Y, interior),
	}
}

func (m *Manager) axis(offset float64, interior bool) int {
	f := math.Floor(offset / m.s.Size * float64(m.s.N+2))
	if math.IsNaN(f) || f < 0 || f > float64(m.s.N+1) {
		return core.Invalid
	}
	i := int(f)
	if interior && (i == 0 || i == m.s.N+1) {
		return core.Invalid
	}
	return i
}

// Close stops every layer that owns a goroutine.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.closeLayers(m.layers)
}

func (m *Manager) closeLayers(layers []core.Layer) error {
	var errs []error
	for _, l := range layers {
		if c, ok := l.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
