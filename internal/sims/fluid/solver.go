package fluid

import (
	"math"

	"terra/internal/core"
	"terra/internal/telemetry"
)

// advectMargin keeps backtraced sample positions strictly inside the
// interior so the bilinear stencil never reads past the ghost ring.
const advectMargin = 1e-6

// buffers is one generation of published state.
type buffers struct {
	height   *core.Field
	flux     *core.Grid[core.Flux]
	velocity *core.Grid[core.Velocity]
	sediment *core.Field
}

func newBuffers(n int) buffers {
	return buffers{
		height:   core.NewField(n),
		flux:     core.NewGrid[core.Flux](n),
		velocity: core.NewGrid[core.Velocity](n),
		sediment: core.NewField(n),
	}
}

// scratch is owned by the background tick while it runs and by the caller
// once the tick has been awaited.
type scratch struct {
	level    *core.Field // height after sources, before flow
	sediment *core.Field // sediment after erosion, before transport
	erosion  *core.Field // terrain delta for the layer below
	lower    *core.Field // private copy of the lower layers height
	source   *core.Field // sources captured at dispatch
}

func newScratch(n int) *scratch {
	return &scratch{
		level:    core.NewField(n),
		sediment: core.NewField(n),
		erosion:  core.NewField(n),
		lower:    core.NewField(n),
		source:   core.NewField(n),
	}
}

// solve runs one full tick reading in and writing out.
func solve(p Params, dt, dx float64, in, out buffers, w *scratch) telemetry.Mass {
	applySources(in.height, w.source, w.level)
	computeFlux(p, dt, dx, w.level, w.lower, in.flux, out.flux)
	updateHeight(dt, dx, w.level, out.flux, out.height)
	deriveVelocity(p, dx, w.level, out.height, out.flux, out.velocity)
	eroded, deposited := erodeDeposit(p, dx, w.lower, out.velocity, in.sediment, w.sediment, w.erosion)
	mirrorGhosts(w.sediment)
	advect(dt, out.velocity, w.sediment, out.sediment)
	evaporate(p, dt, out.height)

	maxSpeed := 0.0
	for _, v := range out.velocity.Cells() {
		if s := v.Speed(); s > maxSpeed {
			maxSpeed = s
		}
	}
	return telemetry.Mass{
		Volume:    core.Volume(out.height, dx),
		Sediment:  core.Sum(out.sediment),
		Eroded:    eroded,
		Deposited: deposited,
		MaxSpeed:  maxSpeed,
	}
}

// applySources copies height into level, adds the queued interior sources
// floored at zero and clears them.
func applySources(height, source, level *core.Field) {
	level.CopyFrom(height)
	n := height.N()
	h := level.Cells()
	src := source.Cells()
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := level.Index(col, row)
			h[i] = math.Max(0, h[i]+src[i])
		}
	}
	source.Clear()
}

// computeFlux evaluates the outflow through the four pipes of every interior
// cell. Pipes leading into the ghost ring stay closed. When the total outflow
// would drain more than the cell holds, all four pipes are scaled by the same
// factor so direction ratios survive.
func computeFlux(p Params, dt, dx float64, level, lower *core.Field, prev, next *core.Grid[core.Flux]) {
	n := level.N()
	stride := level.Stride()
	h := level.Cells()
	b := lower.Cells()
	fin := prev.Cells()
	fout := next.Cells()
	k := dt * p.PipeArea * p.Gravity / dx

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := row*stride + col
			surface := b[i] + h[i]
			old := fin[i]
			f := core.Flux{
				Left:   pipe(old.Left*p.FluxDamp + k*(surface-b[i-1]-h[i-1])),
				Right:  pipe(old.Right*p.FluxDamp + k*(surface-b[i+1]-h[i+1])),
				Bottom: pipe(old.Bottom*p.FluxDamp + k*(surface-b[i-stride]-h[i-stride])),
				Top:    pipe(old.Top*p.FluxDamp + k*(surface-b[i+stride]-h[i+stride])),
			}
			if col == 1 {
				f.Left = 0
			}
			if col == n {
				f.Right = 0
			}
			if row == 1 {
				f.Bottom = 0
			}
			if row == n {
				f.Top = 0
			}
			fout[i] = limitOutflow(f, h[i]*dx*dx/dt)
		}
	}
}

func pipe(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}

// limitOutflow scales f uniformly so its total does not exceed capacity.
func limitOutflow(f core.Flux, capacity float64) core.Flux {
	total := f.Total()
	if total > capacity && total > 0 {
		return f.Scale(capacity / total)
	}
	return f
}

// updateHeight applies the net pipe flow. It must run after computeFlux has
// finished the whole grid because inflow is read from the neighbours.
func updateHeight(dt, dx float64, level *core.Field, flux *core.Grid[core.Flux], next *core.Field) {
	next.CopyFrom(level)
	n := level.N()
	stride := level.Stride()
	h := level.Cells()
	out := next.Cells()
	f := flux.Cells()
	rate := dt / (dx * dx)

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := row*stride + col
			inflow := f[i-1].Right + f[i+1].Left + f[i-stride].Top + f[i+stride].Bottom
			out[i] = math.Max(0, h[i]+rate*(inflow-f[i].Total()))
		}
	}
}

// deriveVelocity converts the pipe flow through each cell into a velocity
// using the mean depth of the tick.
func deriveVelocity(p Params, dx float64, before, after *core.Field, flux *core.Grid[core.Flux], vel *core.Grid[core.Velocity]) {
	n := before.N()
	stride := before.Stride()
	h0 := before.Cells()
	h1 := after.Cells()
	f := flux.Cells()
	v := vel.Cells()

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := row*stride + col
			dwx := 0.5 * (f[i-1].Right - f[i].Left + f[i].Right - f[i+1].Left)
			dwy := 0.5 * (f[i-stride].Top - f[i].Bottom + f[i].Top - f[i+stride].Bottom)
			depth := math.Max(0.5*(h0[i]+h1[i]), p.MinDepth)
			v[i] = core.Velocity{U: dwx / (dx * depth), V: dwy / (dx * depth)}
		}
	}
}

// tiltSine returns sin(α) of the bed at interior index i.
func tiltSine(bed []float64, i, stride int, dx float64) float64 {
	sx := (bed[i+1] - bed[i-1]) / (2 * dx)
	sy := (bed[i+stride] - bed[i-stride]) / (2 * dx)
	return math.Sqrt(1 - 1/(1+sx*sx+sy*sy))
}

// erodeDeposit compares the transport capacity of each cell to its suspended
// sediment. Surplus capacity dissolves bed material, deficit drops sediment.
// The terrain delta is always the exact negation of the sediment change.
func erodeDeposit(p Params, dx float64, lower *core.Field, vel *core.Grid[core.Velocity], sedIn, sedOut, delta *core.Field) (eroded, deposited float64) {
	delta.Clear()
	sedOut.CopyFrom(sedIn)
	n := lower.N()
	stride := lower.Stride()
	bed := lower.Cells()
	v := vel.Cells()
	in := sedIn.Cells()
	out := sedOut.Cells()
	d := delta.Cells()

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := row*stride + col
			capacity := p.Capacity * dx * dx * tiltSine(bed, i, stride, dx) * v[i].Speed()
			s := in[i]
			if capacity > s {
				amount := math.Min(capacity-s, p.Dissolve*(capacity-s))
				amount = math.Min(amount, bed[i])
				out[i] = s + amount
				d[i] = -amount
				eroded += amount
				continue
			}
			amount := math.Min(s, p.Deposit*(s-capacity))
			out[i] = s - amount
			d[i] = amount
			deposited += amount
		}
	}
	return eroded, deposited
}

// mirrorGhosts copies the adjacent interior value into every ghost cell and
// averages the corners.
func mirrorGhosts(f *core.Field) {
	n := f.N()
	for k := 1; k <= n; k++ {
		f.Set(0, k, f.At(1, k))
		f.Set(n+1, k, f.At(n, k))
		f.Set(k, 0, f.At(k, 1))
		f.Set(k, n+1, f.At(k, n))
	}
	f.Set(0, 0, 0.5*(f.At(1, 0)+f.At(0, 1)))
	f.Set(0, n+1, 0.5*(f.At(1, n+1)+f.At(0, n)))
	f.Set(n+1, 0, 0.5*(f.At(n, 0)+f.At(n+1, 1)))
	f.Set(n+1, n+1, 0.5*(f.At(n, n+1)+f.At(n+1, n)))
}

// advect transports src along vel into dst by tracing every interior cell
// back one step and sampling bilinearly.
func advect(dt float64, vel *core.Grid[core.Velocity], src, dst *core.Field) {
	n := src.N()
	stride := src.Stride()
	s := src.Cells()
	d := dst.Cells()
	v := vel.Cells()
	back := dt * float64(n)
	lo := 0.5 + advectMargin
	hi := float64(n) + 0.5 - advectMargin

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			i := row*stride + col
			x := clamp(float64(col)-back*v[i].U, lo, hi)
			y := clamp(float64(row)-back*v[i].V, lo, hi)
			c0, r0 := int(x), int(y)
			sx, sy := x-float64(c0), y-float64(r0)
			j := r0*stride + c0
			d[i] = (1-sx)*((1-sy)*s[j]+sy*s[j+stride]) +
				sx*((1-sy)*s[j+1]+sy*s[j+stride+1])
		}
	}
}

// evaporate removes a fixed fraction of depth from every cell, ghosts
// included.
func evaporate(p Params, dt float64, height *core.Field) {
	keep := 1 - p.Evaporation*dt
	if keep >= 1 {
		return
	}
	if keep < 0 {
		keep = 0
	}
	h := height.Cells()
	for i := range h {
		h[i] *= keep
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
