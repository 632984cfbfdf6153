// Package sweep runs many short headless sessions in parallel and ranks
// fluid parameter sets by how much they reshape the terrain.
package sweep

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"terra/internal/config"
	"terra/internal/core"
	"terra/internal/sims/stack"
)

// Candidate is one parameter set to evaluate: a preset plus overrides in
// config key=value form.
type Candidate struct {
	Preset    string
	Overrides []string
}

func (c Candidate) String() string {
	if len(c.Overrides) == 0 {
		return c.Preset
	}
	return c.Preset + " " + strings.Join(c.Overrides, " ")
}

// Result is what a finished candidate session measured.
type Result struct {
	Candidate Candidate
	Ticks     uint64

	Eroded    float64
	Deposited float64
	Volume    float64
	Sediment  float64
	MaxSpeed  float64

	// ReliefBefore and ReliefAfter are the standard deviation of the
	// interior terrain heights.
	ReliefBefore float64
	ReliefAfter  float64
	// MeanChange is the mean absolute terrain change per cell.
	MeanChange float64
}

// Reshaped is the total terrain moved: eroded plus deposited.
func (r Result) Reshaped() float64 { return r.Eroded + r.Deposited }

// Options tune a sweep.
type Options struct {
	Steps int
	// Inject holds the injector at the grid centre for this many steps.
	Inject  int
	Workers int
}

// Grid expands presets and value lists into every combination. values maps
// config keys such as "fluid.capacity" to the values tried for them.
func Grid(presets []string, values map[string][]string) []Candidate {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	combos := [][]string{nil}
	for _, k := range keys {
		var next [][]string
		for _, c := range combos {
			for _, v := range values[k] {
				next = append(next, append(slices.Clone(c), k+"="+v))
			}
		}
		combos = next
	}
	out := make([]Candidate, 0, len(presets)*len(combos))
	for _, p := range presets {
		for _, c := range combos {
			out = append(out, Candidate{Preset: p, Overrides: c})
		}
	}
	return out
}

// Run evaluates every candidate against base and returns the results sorted
// by Reshaped, largest first. The first failing candidate cancels the rest.
func Run(ctx context.Context, base config.Config, candidates []Candidate, opt Options) ([]Result, error) {
	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	results := make([]Result, len(candidates))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range candidates {
		g.Go(func() error {
			res, err := Evaluate(ctx, base, c, opt)
			if err != nil {
				return fmt.Errorf("sweep: %s: %w", c, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Reshaped() > b.Reshaped():
			return -1
		case a.Reshaped() < b.Reshaped():
			return 1
		}
		return 0
	})
	return results, nil
}

// Evaluate runs one candidate session to completion.
func Evaluate(ctx context.Context, base config.Config, c Candidate, opt Options) (res Result, err error) {
	cfg := base
	kvs := append([]string{"fluid.preset=" + c.Preset}, c.Overrides...)
	if err := cfg.ApplyOverrides(kvs); err != nil {
		return res, err
	}
	if err := cfg.Validate(); err != nil {
		return res, err
	}
	m, err := stack.New(cfg)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	before := interior(m.Terrain().HeightField())
	centre := core.GridPoint{Col: cfg.N / 2, Row: cfg.N / 2}
	step := m.Settings().StepDuration()
	for i := 0; i < opt.Steps; i++ {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		if i < opt.Inject {
			m.Injector().Press(centre, false)
		} else {
			m.Injector().Release()
		}
		if _, err := m.Advance(step); err != nil {
			return res, err
		}
	}
	after := interior(m.Terrain().HeightField())

	s := m.Telemetry()
	res = Result{
		Candidate:    c,
		Ticks:        s.Tick,
		Eroded:       s.ErodedTotal,
		Deposited:    s.DepositedTotal,
		Volume:       s.Mass.Volume,
		Sediment:     s.Mass.Sediment,
		MaxSpeed:     s.Mass.MaxSpeed,
		ReliefBefore: stat.StdDev(before, nil),
		ReliefAfter:  stat.StdDev(after, nil),
	}
	if len(after) > 0 {
		res.MeanChange = floats.Distance(before, after, 1) / float64(len(after))
	}
	return res, nil
}

func interior(f *core.Field) []float64 {
	n := f.N()
	out := make([]float64, 0, n*n)
	for row := 1; row <= n; row++ {
		for col := 1; col <= n; col++ {
			out = append(out, f.At(col, row))
		}
	}
	return out
}
