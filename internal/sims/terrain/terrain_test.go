package terrain

import (
	"errors"
	"math"
	"testing"

	"terra/internal/core"
)

func TestInitializeSamplesCellCentres(t *testing.T) {
	cfg := Config{N: 4, Size: 6, Offset: DefaultOffset}
	var seen []core.Vec2
	layer := New(cfg, SamplerFunc(func(p core.Vec2) float64 {
		seen = append(seen, p)
		return p.X
	}))
	if err := layer.Initialize(0.02, 1, core.NewField(4)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(seen) != 36 {
		t.Fatalf("sampled %d cells, want all 36 including ghosts", len(seen))
	}
	// cell (2, 0) centre sits at (2.5/6)*6 = 2.5
	if got := layer.HeightField().At(2, 0); math.Abs(got-(2.5+DefaultOffset)) > 1e-12 {
		t.Fatalf("height(2,0)=%f, want %f", got, 2.5+DefaultOffset)
	}
}

func TestInitializeFloorsNegativeSamples(t *testing.T) {
	layer := New(Config{N: 2, Size: 1, Offset: -5}, Flat(1))
	if err := layer.Initialize(0.02, 1, core.NewField(2)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i, h := range layer.HeightField().Cells() {
		if h != 0 {
			t.Fatalf("cell %d height %f, want 0", i, h)
		}
	}
}

func TestAddSourceAppliesImmediately(t *testing.T) {
	layer := New(Config{N: 3, Size: 3}, Flat(1))
	lower := core.NewField(3)
	if err := layer.Initialize(0.02, 1, lower); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	delta := core.NewField(3)
	delta.Set(2, 2, -0.25)
	delta.Set(1, 1, -5)
	delta.Set(0, 0, -1) // ghost, must be ignored
	layer.AddSource(delta)

	if got := layer.HeightField().At(2, 2); math.Abs(got-0.75) > 1e-12 {
		t.Fatalf("height(2,2)=%f, want 0.75 right after AddSource", got)
	}
	layer.AddSource(delta)
	if got := layer.HeightField().At(2, 2); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("height(2,2)=%f, want 0.5", got)
	}
	if got := layer.HeightField().At(1, 1); got != 0 {
		t.Fatalf("height(1,1)=%f, want floor at 0", got)
	}
	if got := layer.HeightField().At(0, 0); got != 1 {
		t.Fatalf("ghost height changed to %f", got)
	}

	if err := layer.DoUpdate(0.02, 1, lower); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := layer.HeightField().At(2, 2); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("DoUpdate changed the height to %f", got)
	}
}

func TestUpdateRejectsMismatchedLower(t *testing.T) {
	layer := New(Config{N: 3, Size: 3}, nil)
	if err := layer.DoUpdate(0.02, 1, core.NewField(5)); !errors.Is(err, core.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}

func TestRegisteredSamplers(t *testing.T) {
	want := []string{"bowl", "flat", "hills", "valley"}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("names=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names=%v, want %v", got, want)
		}
	}

	shape := Shape{Size: 10, Amplitude: 2, Seed: 7}
	a := Samplers()["hills"](shape)
	b := Samplers()["hills"](shape)
	for _, p := range []core.Vec2{{X: 1, Y: 2}, {X: 7.5, Y: 3}} {
		ha, hb := a.SampleHeight(p), b.SampleHeight(p)
		if ha != hb {
			t.Fatalf("hills not deterministic at %v: %f vs %f", p, ha, hb)
		}
		if ha < 0 || ha > 2 {
			t.Fatalf("hills height %f outside [0, amplitude]", ha)
		}
	}

	bowl := Bowl(shape)
	if bowl.SampleHeight(core.Vec2{X: 5, Y: 5}) != 0 {
		t.Fatal("bowl must bottom out at the centre")
	}
	if got := bowl.SampleHeight(core.Vec2{X: 0, Y: 0}); math.Abs(got-2) > 1e-12 {
		t.Fatalf("bowl corner %f, want amplitude", got)
	}
}
