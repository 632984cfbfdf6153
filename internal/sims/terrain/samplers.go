package terrain

import (
	"math"
	"sort"

	"terra/internal/core"
	rng "terra/pkg/core"
)

// Sampler maps a world-space position to a terrain height.
type Sampler interface {
	SampleHeight(pos core.Vec2) float64
}

// SamplerFunc adapts a plain function to Sampler.
type SamplerFunc func(pos core.Vec2) float64

// SampleHeight calls f.
func (f SamplerFunc) SampleHeight(pos core.Vec2) float64 { return f(pos) }

// Shape carries the parameters shared by the built-in samplers.
type Shape struct {
	Size      float64
	Origin    core.Vec2
	Amplitude float64
	Seed      int64
}

// Factory builds a Sampler for a terrain shape.
type Factory func(s Shape) Sampler

var samplers = map[string]Factory{}

// Register adds a sampler factory under the provided name.
func Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	samplers[name] = f
}

// Samplers exposes the registry of available sampler factories.
func Samplers() map[string]Factory {
	return samplers
}

// Names lists the registered samplers in sorted order.
func Names() []string {
	out := make([]string, 0, len(samplers))
	for name := range samplers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Flat returns a constant height.
func Flat(h float64) Sampler {
	return SamplerFunc(func(core.Vec2) float64 { return h })
}

// Bowl rises quadratically from the centre of the domain to Amplitude at the
// corners.
func Bowl(s Shape) Sampler {
	cx := s.Origin.X + s.Size/2
	cy := s.Origin.Y + s.Size/2
	maxR2 := s.Size * s.Size / 2
	return SamplerFunc(func(p core.Vec2) float64 {
		dx, dy := p.X-cx, p.Y-cy
		return s.Amplitude * (dx*dx + dy*dy) / maxR2
	})
}

// Valley slopes down toward a channel along the vertical centre line and
// tilts gently along it so water drains toward one edge.
func Valley(s Shape) Sampler {
	cx := s.Origin.X + s.Size/2
	return SamplerFunc(func(p core.Vec2) float64 {
		across := math.Abs(p.X-cx) / (s.Size / 2)
		along := (p.Y - s.Origin.Y) / s.Size
		return s.Amplitude * (0.7*across + 0.3*along)
	})
}

type wave struct {
	kx, ky, phase, weight float64
}

// Hills sums a handful of seeded sinusoids, shifted to stay non-negative.
func Hills(s Shape) Sampler {
	r := rng.NewRNG(s.Seed).Source()
	waves := make([]wave, 5)
	total := 0.0
	for i := range waves {
		freq := float64(i+1) * 2 * math.Pi / s.Size
		angle := r.Float64() * 2 * math.Pi
		weight := 1 / float64(i+1)
		waves[i] = wave{
			kx:     freq * math.Cos(angle),
			ky:     freq * math.Sin(angle),
			phase:  r.Float64() * 2 * math.Pi,
			weight: weight,
		}
		total += weight
	}
	return SamplerFunc(func(p core.Vec2) float64 {
		v := 0.0
		for _, w := range waves {
			v += w.weight * math.Sin(w.kx*(p.X-s.Origin.X)+w.ky*(p.Y-s.Origin.Y)+w.phase)
		}
		return s.Amplitude * 0.5 * (1 + v/total)
	})
}

func init() {
	Register("flat", func(s Shape) Sampler { return Flat(s.Amplitude) })
	Register("bowl", Bowl)
	Register("valley", Valley)
	Register("hills", Hills)
}
