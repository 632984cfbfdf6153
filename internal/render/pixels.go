package render

import (
	"image/color"
	"math"

	"terra/internal/core"
)

// Shading controls how terrain and water map to colours.
type Shading struct {
	// MaxTerrain maps to the top of the terrain ramp. Zero picks the field
	// maximum every frame.
	MaxTerrain float64
	// DepthScale is the depth at which water becomes fully opaque.
	DepthScale float64
	// SedimentScale is the suspended load at which water turns fully muddy.
	SedimentScale float64
	// Relief darkens cells facing away from the light, 0 disables it.
	Relief float64
}

// DefaultShading suits the built-in terrain samplers.
func DefaultShading() Shading {
	return Shading{DepthScale: 1.5, SedimentScale: 0.05, Relief: 0.6}
}

var (
	terrainStops = []stop{
		{0.0, color.RGBA{R: 58, G: 92, B: 48, A: 255}},
		{0.35, color.RGBA{R: 104, G: 132, B: 66, A: 255}},
		{0.65, color.RGBA{R: 150, G: 120, B: 80, A: 255}},
		{0.85, color.RGBA{R: 170, G: 160, B: 150, A: 255}},
		{1.0, color.RGBA{R: 245, G: 245, B: 240, A: 255}},
	}
	shallow = color.RGBA{R: 70, G: 150, B: 210, A: 255}
	deep    = color.RGBA{R: 18, G: 50, B: 120, A: 255}
	mud     = color.RGBA{R: 120, G: 96, B: 60, A: 255}
)

type stop struct {
	t   float64
	col color.RGBA
}

// FillFieldRGBA shades the interior of terrain, with water and sediment laid
// over it, into buf as N×N RGBA pixels. Image row 0 is grid row N so that
// +row points up on screen. water and sediment may be nil.
func FillFieldRGBA(buf []byte, terrain, water, sediment *core.Field, s Shading) {
	n := terrain.N()
	if len(buf) < 4*n*n {
		return
	}
	top := s.MaxTerrain
	if top <= 0 {
		top = interiorMax(terrain)
	}
	if top <= 0 {
		top = 1
	}
	depthScale := s.DepthScale
	if depthScale <= 0 {
		depthScale = 1
	}

	for row := 1; row <= n; row++ {
		y := n - row
		for col := 1; col <= n; col++ {
			h := terrain.At(col, row)
			c := ramp(terrainStops, h/top)
			if s.Relief > 0 {
				c = scale(c, relief(terrain, col, row, top, s.Relief))
			}
			if water != nil {
				depth := water.At(col, row)
				if depth > 1e-4 {
					w := lerp(shallow, deep, clamp01(depth/depthScale))
					if sediment != nil && s.SedimentScale > 0 {
						w = lerp(w, mud, clamp01(sediment.At(col, row)/s.SedimentScale)*0.8)
					}
					c = lerp(c, w, 0.35+0.65*clamp01(depth/depthScale))
				}
			}
			base := 4 * (y*n + col - 1)
			buf[base+0] = c.R
			buf[base+1] = c.G
			buf[base+2] = c.B
			buf[base+3] = 255
		}
	}
}

func interiorMax(f *core.Field) float64 {
	n := f.N()
	best := 0.0
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			best = math.Max(best, f.At(col, row))
		}
	}
	return best
}

// relief returns a brightness factor from the slope towards a light in the
// upper left.
func relief(f *core.Field, col, row int, top, strength float64) float64 {
	gx := (f.At(col+1, row) - f.At(col-1, row)) / top
	gy := (f.At(col, row+1) - f.At(col, row-1)) / top
	shade := 1 + strength*float64(f.N())*0.05*(gy-gx)
	return clamp(shade, 0.5, 1.3)
}

func ramp(stops []stop, t float64) color.RGBA {
	t = clamp01(t)
	for i := 1; i < len(stops); i++ {
		if t <= stops[i].t {
			prev := stops[i-1]
			span := stops[i].t - prev.t
			if span <= 0 {
				return stops[i].col
			}
			return lerp(prev.col, stops[i].col, (t-prev.t)/span)
		}
	}
	return stops[len(stops)-1].col
}

func lerp(a, b color.RGBA, t float64) color.RGBA {
	t = clamp01(t)
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

func scale(c color.RGBA, k float64) color.RGBA {
	f := func(v uint8) uint8 { return uint8(clamp(math.Round(float64(v)*k), 0, 255)) }
	return color.RGBA{R: f(c.R), G: f(c.G), B: f(c.B), A: c.A}
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
