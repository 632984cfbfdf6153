package fluid

import (
	"errors"
	"fmt"
	"sort"
)

// Params holds the physical constants of the pipe model and the erosion
// rates. All values are read by the background tick as a copy taken at
// dispatch time.
type Params struct {
	PipeArea float64 `yaml:"pipe_area"` // cross-section A of a virtual pipe
	Gravity  float64 `yaml:"gravity"`
	// FluxDamp multiplies the previous tick's flux before the pressure term
	// is added. 1 keeps the full momentum, 0 makes the flow memoryless.
	FluxDamp float64 `yaml:"flux_damp"`

	Capacity    float64 `yaml:"capacity"`    // Kc
	Dissolve    float64 `yaml:"dissolve"`    // Ks
	Deposit     float64 `yaml:"deposit"`     // Kd
	Evaporation float64 `yaml:"evaporation"` // Ke, fraction of depth per second

	// MinDepth floors the mean depth used to derive velocity.
	MinDepth float64 `yaml:"min_depth"`
	// InitialHeight pre-seeds every interior cell on Initialize.
	InitialHeight float64 `yaml:"initial_height"`
}

// DefaultParams returns the standard configuration.
func DefaultParams() Params {
	return AverageErosion()
}

// GentleErosion barely reshapes the terrain; useful when the water itself is
// the subject.
func GentleErosion() Params {
	p := baseParams()
	p.Capacity = 0.5
	p.Dissolve = 0.05
	p.Deposit = 0.05
	p.Evaporation = 0.02
	return p
}

// AverageErosion carves visible channels over a few thousand ticks.
func AverageErosion() Params {
	p := baseParams()
	p.Capacity = 1
	p.Dissolve = 0.3
	p.Deposit = 0.3
	p.Evaporation = 0.01
	return p
}

// HeavyErosion carries a lot of sediment and drops it slowly, cutting deep
// valleys with long deposition fans.
func HeavyErosion() Params {
	p := baseParams()
	p.Capacity = 4
	p.Dissolve = 0.7
	p.Deposit = 0.2
	p.Evaporation = 0.005
	return p
}

func baseParams() Params {
	return Params{
		PipeArea: 1,
		Gravity:  9.81,
		FluxDamp: 1,
		MinDepth: 1e-4,
	}
}

var presets = map[string]func() Params{
	"gentle":  GentleErosion,
	"average": AverageErosion,
	"heavy":   HeavyErosion,
}

// Preset returns the named parameter set.
func Preset(name string) (Params, bool) {
	f, ok := presets[name]
	if !ok {
		return Params{}, false
	}
	return f(), true
}

// PresetNames lists the available presets in sorted order.
func PresetNames() []string {
	out := make([]string, 0, len(presets))
	for name := range presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Validate reports every out-of-range value.
func (p Params) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if !(v > 0) {
			errs = append(errs, fmt.Errorf("%s must be > 0, got %g", name, v))
		}
	}
	nonNegative := func(name string, v float64) {
		if !(v >= 0) {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %g", name, v))
		}
	}
	positive("pipe_area", p.PipeArea)
	positive("gravity", p.Gravity)
	positive("min_depth", p.MinDepth)
	nonNegative("flux_damp", p.FluxDamp)
	nonNegative("capacity", p.Capacity)
	nonNegative("dissolve", p.Dissolve)
	nonNegative("deposit", p.Deposit)
	nonNegative("evaporation", p.Evaporation)
	nonNegative("initial_height", p.InitialHeight)
	return errors.Join(errs...)
}
