package fluid

import (
	"errors"
	"math"
	"testing"

	"terra/internal/core"
	"terra/internal/telemetry"
	rng "terra/pkg/core"
)

const eps = 1e-9

func still() Params {
	p := baseParams()
	p.Capacity = 0
	p.Dissolve = 0
	p.Deposit = 0
	p.Evaporation = 0
	return p
}

type recordingBed struct {
	n     int
	total float64
	calls int
}

func (b *recordingBed) Name() string {
	return "bed"
}

func (b *recordingBed) HeightField() *core.Field {
	return core.NewField(b.n)
}

func (b *recordingBed) AddSource(delta *core.Field) {
	b.total += core.Sum(delta)
	b.calls++
}

func (b *recordingBed) Initialize(float64, float64, *core.Field) error {
	return nil
}

func (b *recordingBed) DoUpdate(float64, float64, *core.Field) error {
	return nil
}

func TestSingleSourceSpreadsToNeighbours(t *testing.T) {
	const dt, dx = 0.01, 1.0
	layer := New(4, still())
	defer layer.Close()

	src := core.NewField(4)
	src.Set(2, 2, 1)
	layer.AddSource(src)

	lower := core.NewField(4)
	if err := layer.Initialize(dt, dx, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := layer.DoUpdate(dt, dx, lower); err != nil {
		t.Fatalf("update: %v", err)
	}

	h := layer.HeightField()
	centre := h.At(2, 2)
	if centre >= 1 {
		t.Fatalf("centre height %f, want < 1", centre)
	}
	if want := 1 - 4*dt*dt*9.81; math.Abs(centre-want) > eps {
		t.Fatalf("centre height %f, want %f", centre, want)
	}
	for _, nb := range [][2]int{{1, 2}, {3, 2}, {2, 1}, {2, 3}} {
		if got := h.At(nb[0], nb[1]); !(got > 0) {
			t.Fatalf("neighbour %v height %f, want > 0", nb, got)
		}
	}
	if got := core.Volume(h, dx); math.Abs(got-1) > eps {
		t.Fatalf("volume %f, want 1", got)
	}
	f := layer.FluxField().At(2, 2)
	if math.Abs(f.Left-f.Top) > eps || math.Abs(f.Right-f.Bottom) > eps || math.Abs(f.Left-f.Right) > eps {
		t.Fatalf("flux not symmetric: %+v", f)
	}
	vel := layer.VelocityField()
	if vel.At(1, 2).U >= 0 || vel.At(3, 2).U <= 0 {
		t.Fatalf("horizontal flow must point away from the source: left %+v right %+v", vel.At(1, 2), vel.At(3, 2))
	}
	if vel.At(2, 1).V >= 0 || vel.At(2, 3).V <= 0 {
		t.Fatalf("vertical flow must point away from the source: below %+v above %+v", vel.At(2, 1), vel.At(2, 3))
	}
}

func TestVelocityFromPipeFlux(t *testing.T) {
	const n = 5
	p := still()
	p.MinDepth = 1e-4
	before := core.NewField(n)
	after := core.NewField(n)
	before.Set(3, 3, 1)
	after.Set(3, 3, 1)

	flux := core.NewGrid[core.Flux](n)
	set := func(col, row int, f func(*core.Flux)) {
		v := flux.At(col, row)
		f(&v)
		flux.Set(col, row, v)
	}
	// every term distinct so a neighbour read twice changes the result
	set(2, 3, func(f *core.Flux) { f.Right = 3 })
	set(3, 3, func(f *core.Flux) { f.Left, f.Right, f.Bottom, f.Top = 1, 2, 0, 5 })
	set(4, 3, func(f *core.Flux) { f.Left = 0 })
	set(3, 2, func(f *core.Flux) { f.Top = 4 })
	set(3, 4, func(f *core.Flux) { f.Bottom = 1 })
	// dry cell: only its own right pipe carries a trickle
	set(2, 2, func(f *core.Flux) { f.Right = 0.001 })

	vel := core.NewGrid[core.Velocity](n)
	deriveVelocity(p, 1, before, after, flux, vel)

	got := vel.At(3, 3)
	if math.Abs(got.U-2) > eps || math.Abs(got.V-4) > eps {
		t.Fatalf("velocity %+v, want {U:2 V:4}", got)
	}
	dry := vel.At(2, 2)
	if want := 0.5 * 0.001 / p.MinDepth; math.Abs(dry.U-want) > 1e-6 || dry.V != 0 {
		t.Fatalf("dry cell velocity %+v, want U=%g from the MinDepth floor", dry, want)
	}
	for _, v := range vel.Cells() {
		if math.IsNaN(v.U) || math.IsInf(v.U, 0) || math.IsNaN(v.V) || math.IsInf(v.V, 0) {
			t.Fatalf("non-finite velocity %+v", v)
		}
	}
}

func TestAdvectShiftsRampByOneCell(t *testing.T) {
	const n, dt = 5, 0.1
	for _, axis := range []string{"col", "row"} {
		src := core.NewField(n)
		vel := core.NewGrid[core.Velocity](n)
		for row := 1; row <= n; row++ {
			for col := 1; col <= n; col++ {
				// dt·N·2 = 1 cell of backtrace
				if axis == "col" {
					src.Set(col, row, float64(col))
					vel.Set(col, row, core.Velocity{U: 2})
				} else {
					src.Set(col, row, float64(row))
					vel.Set(col, row, core.Velocity{V: 2})
				}
			}
		}
		mirrorGhosts(src)
		dst := core.NewField(n)
		advect(dt, vel, src, dst)

		want := []float64{1, 1, 2, 3, 4}
		for k := 1; k <= n; k++ {
			got := dst.At(k, 3)
			if axis == "row" {
				got = dst.At(3, k)
			}
			if math.Abs(got-want[k-1]) > 1e-5 {
				t.Fatalf("%s ramp at %d: got %f, want %f", axis, k, got, want[k-1])
			}
		}
	}
}

func TestAdvectClampsBacktraceInsideInterior(t *testing.T) {
	const n, dt = 5, 0.1
	src := core.NewField(n)
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			src.Set(col, row, float64(col))
		}
	}
	mirrorGhosts(src)
	if src.At(0, 2) != 1 || src.At(n+1, 2) != 5 || src.At(0, 0) != 1 {
		t.Fatalf("ghosts not mirrored: left %f right %f corner %f", src.At(0, 2), src.At(n+1, 2), src.At(0, 0))
	}

	for _, tc := range []struct {
		u, want float64
	}{
		{u: 1000, want: 1},  // traced far past the left wall
		{u: -1000, want: 5}, // and past the right wall
	} {
		vel := core.NewGrid[core.Velocity](n)
		for i := range vel.Cells() {
			vel.Cells()[i] = core.Velocity{U: tc.u, V: tc.u}
		}
		dst := core.NewField(n)
		advect(dt, vel, src, dst)
		for row := 1; row <= n; row++ {
			for col := 1; col <= n; col++ {
				if got := dst.At(col, row); math.Abs(got-tc.want) > 1e-5 {
					t.Fatalf("u=%g cell (%d,%d): got %f, want %f", tc.u, col, row, got, tc.want)
				}
			}
		}
	}
}

func TestUniformDepthStaysAtRest(t *testing.T) {
	const dt, dx, depth = 0.02, 1.0, 0.75
	p := still()
	p.InitialHeight = depth
	layer := New(6, p)
	defer layer.Close()

	lower := core.NewField(6)
	if err := layer.Initialize(dt, dx, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for tick := 0; tick < 25; tick++ {
		if err := layer.DoUpdate(dt, dx, lower); err != nil {
			t.Fatalf("update %d: %v", tick, err)
		}
		h := layer.HeightField()
		for row := 1; row <= 6; row++ {
			for col := 1; col <= 6; col++ {
				if got := h.At(col, row); got != depth {
					t.Fatalf("tick %d cell (%d,%d) height %v, want %v", tick, col, row, got, depth)
				}
			}
		}
	}
}

func TestOutflowScaledUniformly(t *testing.T) {
	const dt, dx = 0.01, 1.0
	p := still()
	level := core.NewField(3)
	level.Set(2, 2, 0.01)
	lower := core.NewField(3)
	prev := core.NewGrid[core.Flux](3)
	prev.Set(2, 2, core.Flux{Left: 10, Right: 20, Top: 30, Bottom: 40})
	next := core.NewGrid[core.Flux](3)

	computeFlux(p, dt, dx, level, lower, prev, next)

	k := dt * p.PipeArea * p.Gravity / dx * 0.01
	raw := core.Flux{Left: 10 + k, Right: 20 + k, Top: 30 + k, Bottom: 40 + k}
	got := next.At(2, 2)
	capacity := 0.01 * dx * dx / dt
	if math.Abs(got.Total()-capacity) > eps {
		t.Fatalf("total outflow %f, want cap %f", got.Total(), capacity)
	}
	scale := got.Left / raw.Left
	for name, pair := range map[string][2]float64{
		"right":  {got.Right, raw.Right},
		"top":    {got.Top, raw.Top},
		"bottom": {got.Bottom, raw.Bottom},
	} {
		if math.Abs(pair[0]/pair[1]-scale) > eps {
			t.Fatalf("%s scaled by %f, left by %f", name, pair[0]/pair[1], scale)
		}
	}

	height := core.NewField(3)
	updateHeight(dt, dx, level, next, height)
	for i, h := range height.Cells() {
		if h < 0 {
			t.Fatalf("cell %d negative height %f", i, h)
		}
	}
}

func TestClosedWallsBlockBoundaryPipes(t *testing.T) {
	p := still()
	level := core.NewField(3)
	for row := 1; row <= 3; row++ {
		for col := 1; col <= 3; col++ {
			level.Set(col, row, 1)
		}
	}
	next := core.NewGrid[core.Flux](3)
	computeFlux(p, 0.01, 1, level, core.NewField(3), core.NewGrid[core.Flux](3), next)
	for row := 1; row <= 3; row++ {
		for col := 1; col <= 3; col++ {
			if got := next.At(col, row); got.Total() != 0 {
				t.Fatalf("cell (%d,%d) leaks %+v through the wall", col, row, got)
			}
		}
	}
}

func TestErosionOnSlopeMovesBedIntoSediment(t *testing.T) {
	p := AverageErosion()
	const dx = 1.0
	bed := core.NewField(3)
	for row := 0; row <= 4; row++ {
		for col := 0; col <= 4; col++ {
			bed.Set(col, row, float64(col))
		}
	}
	vel := core.NewGrid[core.Velocity](3)
	vel.Set(2, 2, core.Velocity{U: 1})
	sedIn := core.NewField(3)
	sedOut := core.NewField(3)
	delta := core.NewField(3)

	eroded, deposited := erodeDeposit(p, dx, bed, vel, sedIn, sedOut, delta)

	capacity := p.Capacity * math.Sqrt(0.5)
	want := p.Dissolve * capacity
	if got := sedOut.At(2, 2); math.Abs(got-want) > eps {
		t.Fatalf("sediment %f, want %f", got, want)
	}
	if got := delta.At(2, 2); math.Abs(got+want) > eps {
		t.Fatalf("terrain delta %f, want %f", got, -want)
	}
	if math.Abs(eroded-want) > eps || deposited != 0 {
		t.Fatalf("eroded=%f deposited=%f", eroded, deposited)
	}
}

func TestErosionDeltaMirrorsSedimentChange(t *testing.T) {
	p := HeavyErosion()
	const n, dx = 8, 0.5
	r := rng.NewRNG(3)
	bed := core.NewField(n)
	sedIn := core.NewField(n)
	vel := core.NewGrid[core.Velocity](n)
	for i := range bed.Cells() {
		bed.Cells()[i] = r.Float64() * 2
		sedIn.Cells()[i] = r.Float64() * 0.3
		vel.Cells()[i] = core.Velocity{U: r.Float64()*4 - 2, V: r.Float64()*4 - 2}
	}
	sedOut := core.NewField(n)
	delta := core.NewField(n)
	erodeDeposit(p, dx, bed, vel, sedIn, sedOut, delta)

	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			change := sedOut.At(col, row) - sedIn.At(col, row)
			if math.Abs(change+delta.At(col, row)) > eps {
				t.Fatalf("cell (%d,%d) sediment change %g vs terrain delta %g", col, row, change, delta.At(col, row))
			}
			if sedOut.At(col, row) < 0 {
				t.Fatalf("cell (%d,%d) negative sediment", col, row)
			}
		}
	}
}

func TestVolumeConservedAndFluxCapped(t *testing.T) {
	const n, dt, dx = 12, 0.005, 1.0
	p := still()
	layer := New(n, p)
	defer layer.Close()

	var violations, ticks int
	layer.solve = func(p Params, dt, dx float64, in, out buffers, w *scratch) telemetry.Mass {
		m := solve(p, dt, dx, in, out, w)
		ticks++
		h := w.level.Cells()
		for i, f := range out.flux.Cells() {
			if f.Left < 0 || f.Right < 0 || f.Top < 0 || f.Bottom < 0 {
				violations++
			}
			if f.Total() > h[i]*dx*dx/dt+eps {
				violations++
			}
		}
		for _, v := range out.height.Cells() {
			if v < 0 {
				violations++
			}
		}
		return m
	}

	r := rng.NewRNG(11)
	src := core.NewField(n)
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			src.Set(col, row, r.Float64())
		}
	}
	want := core.Volume(src, dx)
	layer.AddSource(src)

	lower := core.NewField(n)
	for i := range lower.Cells() {
		lower.Cells()[i] = r.Float64() * 0.5
	}
	if err := layer.Initialize(dt, dx, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for tick := 0; tick < 40; tick++ {
		if err := layer.DoUpdate(dt, dx, lower); err != nil {
			t.Fatalf("update %d: %v", tick, err)
		}
		if got := core.Volume(layer.HeightField(), dx); math.Abs(got-want) > 1e-7 {
			t.Fatalf("tick %d volume %f, want %f", tick, got, want)
		}
	}
	if err := layer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if ticks == 0 || violations != 0 {
		t.Fatalf("ticks=%d violations=%d", ticks, violations)
	}
}

func TestPublishedFieldsBelongToOneTick(t *testing.T) {
	const n, dt, dx = 10, 0.01, 1.0
	layer := New(n, AverageErosion())
	defer layer.Close()

	lower := core.NewField(n)
	for row := 0; row <= n+1; row++ {
		for col := 0; col <= n+1; col++ {
			lower.Set(col, row, 0.1*float64(row))
		}
	}
	src := core.NewField(n)
	src.Set(5, 8, 2)
	if err := layer.Initialize(dt, dx, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for tick := 0; tick < 20; tick++ {
		layer.AddSource(src)
		if err := layer.DoUpdate(dt, dx, lower); err != nil {
			t.Fatalf("update %d: %v", tick, err)
		}
		before := layer.HeightField().Clone()
		sediment := core.Sum(layer.SedimentField())

		stats := layer.Stats()
		if got := core.Volume(layer.HeightField(), dx); got != stats.Mass.Volume {
			t.Fatalf("tick %d published volume %v, stats say %v", tick, got, stats.Mass.Volume)
		}
		if sediment != stats.Mass.Sediment {
			t.Fatalf("tick %d published sediment %v, stats say %v", tick, sediment, stats.Mass.Sediment)
		}
		// the next tick is running now and must not write the published set
		for i, v := range layer.HeightField().Cells() {
			if before.Cells()[i] != v {
				t.Fatalf("tick %d published height changed under a running tick", tick)
			}
		}
		if stats.Tick != uint64(tick+1) {
			t.Fatalf("stats tick %d, want %d", stats.Tick, tick+1)
		}
	}
}

func TestErosionForwardedToBed(t *testing.T) {
	const n, dt, dx = 8, 0.01, 1.0
	layer := New(n, HeavyErosion())
	defer layer.Close()
	bed := &recordingBed{n: n}
	layer.SetBed(bed)

	lower := core.NewField(n)
	for row := 0; row <= n+1; row++ {
		for col := 0; col <= n+1; col++ {
			lower.Set(col, row, 0.3*float64(col))
		}
	}
	src := core.NewField(n)
	src.Set(7, 4, 1)
	if err := layer.Initialize(dt, dx, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var eroded, deposited float64
	for tick := 0; tick < 15; tick++ {
		layer.AddSource(src)
		if err := layer.DoUpdate(dt, dx, lower); err != nil {
			t.Fatalf("update %d: %v", tick, err)
		}
		m := layer.Stats().Mass
		eroded += m.Eroded
		deposited += m.Deposited
	}
	if bed.calls != 15 {
		t.Fatalf("bed received %d deltas, want 15", bed.calls)
	}
	if eroded == 0 {
		t.Fatal("flowing water on a slope must erode")
	}
	if math.Abs(bed.total-(deposited-eroded)) > 1e-9 {
		t.Fatalf("bed delta %g, want %g", bed.total, deposited-eroded)
	}
}

func TestEvaporationShrinksDepth(t *testing.T) {
	p := still()
	p.Evaporation = 0.5
	p.InitialHeight = 1
	layer := New(3, p)
	defer layer.Close()
	lower := core.NewField(3)
	if err := layer.Initialize(0.1, 1, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := layer.DoUpdate(0.1, 1, lower); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := layer.HeightField().At(2, 2); math.Abs(got-0.95) > eps {
		t.Fatalf("height %f, want 0.95", got)
	}
}

func TestTickFailureIsSticky(t *testing.T) {
	layer := New(4, DefaultParams())
	layer.solve = func(Params, float64, float64, buffers, buffers, *scratch) telemetry.Mass {
		panic("boom")
	}
	lower := core.NewField(4)
	if err := layer.Initialize(0.01, 1, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	first := layer.DoUpdate(0.01, 1, lower)
	if !errors.Is(first, ErrTickFailed) {
		t.Fatalf("expected ErrTickFailed, got %v", first)
	}
	if err := layer.DoUpdate(0.01, 1, lower); err != first {
		t.Fatalf("failure not sticky: %v", err)
	}
	if err := layer.Close(); !errors.Is(err, ErrTickFailed) {
		t.Fatalf("close: %v", err)
	}
	if err := layer.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLifecycleErrors(t *testing.T) {
	layer := New(4, DefaultParams())
	if err := layer.DoUpdate(0.01, 1, core.NewField(4)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := layer.Initialize(0.01, 1, core.NewField(5)); !errors.Is(err, core.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if err := layer.Initialize(0, 1, core.NewField(4)); err == nil {
		t.Fatal("zero dt must be rejected")
	}
	bad := New(4, Params{})
	if err := bad.Initialize(0.01, 1, core.NewField(4)); err == nil {
		t.Fatal("zero gravity must be rejected")
	}

	if err := layer.Initialize(0.01, 1, core.NewField(4)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := layer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := layer.DoUpdate(0.01, 1, core.NewField(4)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestParametersStaged(t *testing.T) {
	layer := New(4, DefaultParams())
	if !layer.SetFloatParameter("capacity", 2.5) {
		t.Fatal("capacity must be settable")
	}
	if got := layer.Params().Capacity; got != 2.5 {
		t.Fatalf("capacity %f, want 2.5", got)
	}
	if !layer.SetFloatParameter("dissolve", 5) {
		t.Fatal("dissolve must be settable")
	}
	if got := layer.Params().Dissolve; got != 1 {
		t.Fatalf("dissolve %f, want clamp to 1", got)
	}
	if layer.SetFloatParameter("unknown", 1) {
		t.Fatal("unknown key accepted")
	}
	if layer.SetFloatParameter("min_depth", 0) {
		t.Fatal("min_depth 0 accepted")
	}
	p, ok := layer.Parameters().Lookup("capacity")
	if !ok || p.Value != "2.5" {
		t.Fatalf("snapshot capacity %+v", p)
	}
}

func TestPresets(t *testing.T) {
	for _, name := range PresetNames() {
		p, ok := Preset(name)
		if !ok {
			t.Fatalf("preset %q missing", name)
		}
		if err := p.Validate(); err != nil {
			t.Fatalf("preset %q invalid: %v", name, err)
		}
	}
	if _, ok := Preset("torrential"); ok {
		t.Fatal("unknown preset resolved")
	}
}
