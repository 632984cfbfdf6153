// Package config loads and validates a simulation session from YAML.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"terra/internal/core"
	"terra/internal/sims/fluid"
	"terra/internal/sims/terrain"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config describes one session.
//
// Dx is the cell spacing. Zero derives it from Size so the two cannot
// disagree; a set value must match Size/(N+2).
type Config struct {
	N      int        `yaml:"n"`
	Dx     float64    `yaml:"dx"`
	Dt     float64    `yaml:"dt"`
	Size   float64    `yaml:"size"`
	Origin [2]float64 `yaml:"origin"`
	Seed   int64      `yaml:"seed"`

	Terrain  Terrain  `yaml:"terrain"`
	Fluid    Fluid    `yaml:"fluid"`
	Rain     Rain     `yaml:"rain"`
	Injector Injector `yaml:"injector"`
	Stream   Stream   `yaml:"stream"`
	Record   Record   `yaml:"record"`
}

// Terrain picks the bed sampler and its vertical scale. Offset is added to
// every sampled height.
type Terrain struct {
	Sampler   string  `yaml:"sampler"`
	Amplitude float64 `yaml:"amplitude"`
	Offset    float64 `yaml:"offset"`
}

// Fluid is a named preset plus explicit parameters applied over it.
type Fluid struct {
	Preset       string `yaml:"preset"`
	fluid.Params `yaml:",inline"`
}

// Rain drops Amount of water on a random interior cell Rate times per second.
type Rain struct {
	Rate   float64 `yaml:"rate"`
	Amount float64 `yaml:"amount"`
	Radius int     `yaml:"radius"`
	Margin int     `yaml:"margin"`
}

// Injector is the mouse driven source.
type Injector struct {
	Power  float64 `yaml:"power"`
	Margin int     `yaml:"margin"`
}

// Stream configures the websocket broadcast: a frame every Every ticks,
// downsampled by Downsample on each axis.
type Stream struct {
	Addr       string `yaml:"addr"`
	Every      int    `yaml:"every"`
	Downsample int    `yaml:"downsample"`
}

// Record writes a snapshot every Every ticks to Path.
type Record struct {
	Path  string `yaml:"path"`
	Every int    `yaml:"every"`
}

// Default returns a 128×128 valley with average erosion.
func Default() Config {
	return Config{
		N:    128,
		Dt:   0.02,
		Size: 130,
		Seed: 42,
		Terrain: Terrain{
			Sampler:   "valley",
			Amplitude: 16,
			Offset:    terrain.DefaultOffset,
		},
		Fluid:    Fluid{Preset: "average", Params: fluid.AverageErosion()},
		Rain:     Rain{Rate: 20, Amount: 0.5, Radius: 2, Margin: 10},
		Injector: Injector{Power: 400, Margin: 10},
		Stream:   Stream{Addr: "127.0.0.1:8090", Every: 2, Downsample: 2},
		Record:   Record{Every: 10},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// A preset named in the file is applied before the explicit fluid fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.decode(raw); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load for an in-memory document.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := cfg.decode(raw); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) decode(raw []byte) error {
	var head struct {
		Fluid struct {
			Preset string `yaml:"preset"`
		} `yaml:"fluid"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return err
	}
	if head.Fluid.Preset != "" {
		if err := c.UsePreset(head.Fluid.Preset); err != nil {
			return err
		}
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// UsePreset replaces the fluid parameters with the named preset, keeping
// InitialHeight.
func (c *Config) UsePreset(name string) error {
	p, ok := fluid.Preset(name)
	if !ok {
		return fmt.Errorf("%w: unknown fluid preset %q (have %s)", ErrInvalid, name, strings.Join(fluid.PresetNames(), ", "))
	}
	p.InitialHeight = c.Fluid.InitialHeight
	c.Fluid.Preset = name
	c.Fluid.Params = p
	return nil
}

// Validate reports every problem at once, each wrapping ErrInvalid.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}
	if c.N <= 0 {
		bad("n must be > 0, got %d", c.N)
	}
	switch {
	case c.Dx < 0 || math.IsNaN(c.Dx):
		bad("dx must be >= 0, got %g", c.Dx)
	case c.Dx > 0 && c.N > 0 && c.Size > 0:
		if want := c.Size / float64(c.N+2); math.Abs(c.Dx-want) > 1e-6*want {
			bad("dx %g does not match size/(n+2) = %g; leave dx unset to derive it", c.Dx, want)
		}
	}
	if !(c.Dt > 0) {
		bad("dt must be > 0, got %g", c.Dt)
	}
	if !(c.Size > 0) {
		bad("size must be > 0, got %g", c.Size)
	}
	if !slices.Contains(terrain.Names(), c.Terrain.Sampler) {
		bad("unknown terrain sampler %q", c.Terrain.Sampler)
	}
	if c.Terrain.Amplitude < 0 {
		bad("terrain.amplitude must be >= 0, got %g", c.Terrain.Amplitude)
	}
	if err := c.Fluid.Params.Validate(); err != nil {
		bad("fluid: %v", err)
	}
	if c.Rain.Rate < 0 || c.Rain.Amount < 0 || c.Rain.Radius < 0 {
		bad("rain rate, amount and radius must be >= 0")
	}
	if c.Rain.Margin < 0 || 2*c.Rain.Margin >= c.N {
		bad("rain.margin %d leaves no interior on a %d grid", c.Rain.Margin, c.N)
	}
	if c.Injector.Margin < 0 || 2*c.Injector.Margin+2 >= c.N {
		bad("injector.margin %d leaves no interior on a %d grid", c.Injector.Margin, c.N)
	}
	if c.Stream.Every <= 0 || c.Stream.Downsample <= 0 {
		bad("stream.every and stream.downsample must be > 0")
	}
	if c.Record.Every <= 0 {
		bad("record.every must be > 0, got %d", c.Record.Every)
	}
	return errors.Join(errs...)
}

// CellSize returns the world width of one cell: Dx when set, otherwise
// Size/(N+2).
func (c Config) CellSize() float64 {
	if c.Dx > 0 {
		return c.Dx
	}
	return c.Size / float64(c.N+2)
}

// OriginVec returns the world-space origin of the grid.
func (c Config) OriginVec() core.Vec2 { return core.Vec2{X: c.Origin[0], Y: c.Origin[1]} }

// Override sets one dotted key such as "fluid.capacity" from its YAML scalar
// form. "fluid.preset" resets the fluid parameters first.
func (c *Config) Override(key, value string) error {
	if key == "fluid.preset" {
		return c.UsePreset(value)
	}
	path := strings.Split(key, ".")
	doc := &yaml.Node{Kind: yaml.ScalarNode, Value: value}
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == "" {
			return fmt.Errorf("%w: malformed key %q", ErrInvalid, key)
		}
		doc = &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: path[i]},
			doc,
		}}
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("%w: %s=%s: %v", ErrInvalid, key, value, err)
	}
	return nil
}

// ApplyOverrides applies key=value pairs in order, presets first so explicit
// fluid values win.
func (c *Config) ApplyOverrides(kvs []string) error {
	ordered := slices.Clone(kvs)
	slices.SortStableFunc(ordered, func(a, b string) int {
		pa, pb := strings.HasPrefix(a, "fluid.preset="), strings.HasPrefix(b, "fluid.preset=")
		switch {
		case pa && !pb:
			return -1
		case pb && !pa:
			return 1
		}
		return 0
	})
	for _, kv := range ordered {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("%w: override %q is not key=value", ErrInvalid, kv)
		}
		if err := c.Override(strings.TrimSpace(key), strings.TrimSpace(value)); err != nil {
			return err
		}
	}
	return nil
}

// KV collects repeatable key=value flags.
type KV []string

// String joins the collected pairs with commas.
func (l *KV) String() string { return strings.Join(*l, ",") }

// Set appends one key=value pair.
func (l *KV) Set(value string) error {
	*l = append(*l, value)
	return nil
}

// Flags is the command-line view of a session: an optional YAML file and
// overrides applied over it in order.
type Flags struct {
	Path      string
	Overrides KV
}

// Bind registers -config, -set and shorthands for the most used keys. The
// shorthands append to Overrides so they win over the file.
func (f *Flags) Bind(fs *flag.FlagSet) {
	fs.StringVar(&f.Path, "config", "", "YAML session file")
	fs.Var(&f.Overrides, "set", "config override in key=value form (repeatable)")
	short := func(name, key, usage string, check func(string) error) {
		fs.Func(name, usage, func(v string) error {
			if check != nil {
				if err := check(v); err != nil {
					return err
				}
			}
			f.Overrides = append(f.Overrides, key+"="+v)
			return nil
		})
	}
	short("n", "n", "interior grid size", nil)
	short("dt", "dt", "fixed step in seconds", nil)
	short("dx", "dx", "cell spacing; must equal size/(n+2), derived when unset", nil)
	short("seed", "seed", "seed for terrain and rain", nil)
	short("terrain", "terrain.sampler", "terrain sampler ("+strings.Join(terrain.Names(), ", ")+")", func(v string) error {
		if !slices.Contains(terrain.Names(), v) {
			return fmt.Errorf("unknown terrain sampler %q", v)
		}
		return nil
	})
	short("preset", "fluid.preset", "fluid preset ("+strings.Join(fluid.PresetNames(), ", ")+")", func(v string) error {
		if _, ok := fluid.Preset(v); !ok {
			return fmt.Errorf("unknown fluid preset %q", v)
		}
		return nil
	})
}

// Config loads Path over the defaults and applies the overrides.
func (f *Flags) Config() (Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyOverrides(f.Overrides); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}
