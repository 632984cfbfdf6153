package fluid

import "terra/internal/core"

// Parameters reports the staged tunables.
func (l *Layer) Parameters() core.ParameterSnapshot {
	p := l.staged
	return core.ParameterSnapshot{Groups: []core.ParameterGroup{
		{
			Name: "Flow",
			Params: []core.Parameter{
				core.IntParam("n", "Grid size", l.n),
				core.FloatParam("pipe_area", "Pipe area", p.PipeArea),
				core.FloatParam("gravity", "Gravity", p.Gravity),
				core.FloatParam("flux_damp", "Flux damping", p.FluxDamp),
				core.FloatParam("min_depth", "Min depth", p.MinDepth),
			},
		},
		{
			Name: "Erosion",
			Params: []core.Parameter{
				core.FloatParam("capacity", "Sediment capacity", p.Capacity),
				core.FloatParam("dissolve", "Dissolve rate", p.Dissolve),
				core.FloatParam("deposit", "Deposit rate", p.Deposit),
				core.FloatParam("evaporation", "Evaporation", p.Evaporation),
			},
		},
	}}
}

// ParameterControls lists the values adjustable from the HUD.
func (l *Layer) ParameterControls() []core.ParameterControl {
	float := func(key, label string, step, max float64) core.ParameterControl {
		return core.ParameterControl{
			Key:    key,
			Label:  label,
			Type:   core.ParamTypeFloat,
			Step:   step,
			Min:    0,
			HasMin: true,
			Max:    max,
			HasMax: max > 0,
		}
	}
	return []core.ParameterControl{
		float("gravity", "Gravity", 0.5, 50),
		float("flux_damp", "Flux damping", 0.01, 1),
		float("capacity", "Sediment capacity", 0.1, 0),
		float("dissolve", "Dissolve rate", 0.05, 1),
		float("deposit", "Deposit rate", 0.05, 1),
		float("evaporation", "Evaporation", 0.005, 1),
	}
}

// SetFloatParameter stages a new value; the running tick keeps its copy.
func (l *Layer) SetFloatParameter(key string, value float64) bool {
	for _, c := range l.ParameterControls() {
		if c.Key == key {
			value = c.Clamp(value)
			break
		}
	}
	p := l.staged
	switch key {
	case "pipe_area":
		p.PipeArea = value
	case "gravity":
		p.Gravity = value
	case "flux_damp":
		p.FluxDamp = value
	case "min_depth":
		p.MinDepth = value
	case "capacity":
		p.Capacity = value
	case "dissolve":
		p.Dissolve = value
	case "deposit":
		p.Deposit = value
	case "evaporation":
		p.Evaporation = value
	default:
		return false
	}
	if p.Validate() != nil {
		return false
	}
	l.staged = p
	return true
}
