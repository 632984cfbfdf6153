package terrain

import (
	"fmt"
	"math"

	"terra/internal/core"
)

// DefaultOffset lowers sampled terrain slightly so fluid resting on it shows a
// non-zero depth.
const DefaultOffset = -0.001

// Config controls how the terrain is seeded.
type Config struct {
	N      int
	Size   float64
	Origin core.Vec2
	Offset float64
}

// Layer is a quasi-static height source. It has no dynamics of its own; only
// sources (erosion, deposition, user edits) change it.
type Layer struct {
	cfg     Config
	sampler Sampler

	height *core.Field
}

// New returns a terrain layer that samples heights from s on Initialize.
func New(cfg Config, s Sampler) *Layer {
	if s == nil {
		s = Flat(0)
	}
	return &Layer{
		cfg:     cfg,
		sampler: s,
		height:  core.NewField(cfg.N),
	}
}

// Name returns the layer identifier.
func (l *Layer) Name() string { return "terrain" }

// HeightField exposes the current terrain height.
func (l *Layer) HeightField() *core.Field { return l.height }

// AddSource adds delta to the interior height right away, flooring every
// cell at zero. Terrain changes are irreversible.
func (l *Layer) AddSource(delta *core.Field) {
	if delta == nil || !l.height.SameShape(delta) {
		return
	}
	h := l.height.Cells()
	d := delta.Cells()
	for row := 1; row <= l.cfg.N; row++ {
		for col := 1; col <= l.cfg.N; col++ {
			i := l.height.Index(col, row)
			h[i] = math.Max(0, h[i]+d[i])
		}
	}
}

// Initialize samples every cell, ghost border included, at its world-space
// centre.
func (l *Layer) Initialize(dt, dx float64, lower *core.Field) error {
	if err := core.CheckShape(lower, l.cfg.N); err != nil {
		return fmt.Errorf("terrain initialize: %w", err)
	}
	np2 := float64(l.cfg.N + 2)
	for row := 0; row <= l.cfg.N+1; row++ {
		for col := 0; col <= l.cfg.N+1; col++ {
			x := l.cfg.Origin.X + (float64(col)+0.5)/np2*l.cfg.Size
			y := l.cfg.Origin.Y + (float64(row)+0.5)/np2*l.cfg.Size
			h := l.sampler.SampleHeight(core.Vec2{X: x, Y: y}) + l.cfg.Offset
			if math.IsNaN(h) || h < 0 {
				h = 0
			}
			l.height.Set(col, row, h)
		}
	}
	return nil
}

// DoUpdate has nothing to advance; the height already reflects every source.
func (l *Layer) DoUpdate(dt, dx float64, lower *core.Field) error {
	if err := core.CheckShape(lower, l.cfg.N); err != nil {
		return fmt.Errorf("terrain update: %w", err)
	}
	return nil
}
