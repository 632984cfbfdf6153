package core

import "math"

// Layer is one stacked height field in a simulation session. Layers are
// stepped bottom to top; each receives the summed height of everything below.
type Layer interface {
	Name() string
	// HeightField returns the read view of the current height. The pointer is
	// only valid until the next DoUpdate.
	HeightField() *Field
	// AddSource contributes delta and may be called several times between
	// ticks. Dynamic layers queue it for the next tick; static layers may
	// apply it at once.
	AddSource(delta *Field)
	// Initialize performs one-time setup before the first DoUpdate.
	Initialize(dt, dx float64, lower *Field) error
	// DoUpdate advances exactly one tick.
	DoUpdate(dt, dx float64, lower *Field) error
}

// Flux holds the outflow through the four virtual pipes of a cell. Every
// component is non-negative; inflow is read from the neighbours' own flux.
type Flux struct {
	Left, Right, Top, Bottom float64
}

// Total returns the summed outflow of the cell.
func (f Flux) Total() float64 { return f.Left + f.Right + f.Top + f.Bottom }

// Scale multiplies every component by k.
func (f Flux) Scale(k float64) Flux {
	return Flux{Left: f.Left * k, Right: f.Right * k, Top: f.Top * k, Bottom: f.Bottom * k}
}

// Velocity is the horizontal flow derived from the pipe fluxes.
type Velocity struct {
	U, V float64
}

// Speed returns the velocity magnitude.
func (v Velocity) Speed() float64 { return math.Hypot(v.U, v.V) }

// Vec2 is a world-space position on the simulation plane.
type Vec2 struct {
	X, Y float64
}

// Invalid marks an axis of a GridPoint that fell outside the grid.
const Invalid = -1

// GridPoint addresses a cell. Either axis may be Invalid.
type GridPoint struct {
	Col, Row int
}

// Valid reports whether both axes address a cell.
func (p GridPoint) Valid() bool { return p.Col != Invalid && p.Row != Invalid }
