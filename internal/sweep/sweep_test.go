package sweep

import (
	"context"
	"testing"

	"terra/internal/config"
)

func smallBase() config.Config {
	cfg := config.Default()
	cfg.N = 24
	cfg.Size = 26
	cfg.Terrain.Sampler = "valley"
	cfg.Terrain.Amplitude = 4
	cfg.Rain.Rate = 0
	cfg.Rain.Margin = 2
	cfg.Injector.Margin = 2
	cfg.Injector.Power = 40
	return cfg
}

func TestGridExpandsEveryCombination(t *testing.T) {
	got := Grid([]string{"gentle", "heavy"}, map[string][]string{
		"fluid.capacity": {"0.5", "1"},
		"fluid.deposit":  {"0.1", "0.2", "0.3"},
	})
	if len(got) != 12 {
		t.Fatalf("got %d candidates, want 12", len(got))
	}
	first := got[0]
	if first.Preset != "gentle" || len(first.Overrides) != 2 {
		t.Fatalf("first candidate %+v", first)
	}
	if first.Overrides[0] != "fluid.capacity=0.5" || first.Overrides[1] != "fluid.deposit=0.1" {
		t.Fatalf("overrides not in key order: %v", first.Overrides)
	}
	if none := Grid([]string{"average"}, nil); len(none) != 1 || len(none[0].Overrides) != 0 {
		t.Fatalf("no values must yield the bare presets, got %+v", none)
	}
}

func TestRunRanksByReshapedTerrain(t *testing.T) {
	candidates := []Candidate{
		{Preset: "average", Overrides: []string{"fluid.capacity=0"}},
		{Preset: "heavy"},
	}
	res, err := Run(context.Background(), smallBase(), candidates, Options{Steps: 120, Inject: 60, Workers: 2})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d results", len(res))
	}
	if res[0].Candidate.Preset != "heavy" {
		t.Fatalf("heavy erosion must rank first, got %s", res[0].Candidate)
	}
	if res[0].Reshaped() <= 0 || res[0].MeanChange <= 0 {
		t.Fatalf("heavy run moved no terrain: %+v", res[0])
	}
	if res[1].Eroded != 0 {
		t.Fatalf("zero capacity must not erode, got %g", res[1].Eroded)
	}
	if res[0].Ticks != 120 {
		t.Fatalf("ticks %d, want 120", res[0].Ticks)
	}
}

func TestRunStopsOnBadCandidate(t *testing.T) {
	_, err := Run(context.Background(), smallBase(), []Candidate{{Preset: "torrential"}}, Options{Steps: 10})
	if err == nil {
		t.Fatal("unknown preset must fail the sweep")
	}
}
