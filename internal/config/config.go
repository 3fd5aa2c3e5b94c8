// Package config holds the run configuration of a dicesim run: the
// calibration (preset plus overrides), initial conditions, the control
// source for simulations, optimizer settings, decision bounds and
// checkpointing. It is read from YAML and filled in further by the input
// CSV and command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeSimulate = "simulate"
	ModeOptimize = "optimize"
)

// Config is the complete description of one run.
type Config struct {
	Preset  string `yaml:"preset" json:"preset"`
	Mode    string `yaml:"mode" json:"mode"`
	Horizon int    `yaml:"horizon,omitempty" json:"horizon,omitempty"`

	// Model carries parameters, paths and damages_model at the top level.
	Model dice.Overrides `yaml:",inline" json:"model"`

	Initial map[string]float64 `yaml:"initial,omitempty" json:"initial,omitempty"`

	// SCC fills the social cost of carbon column of the output.
	SCC bool `yaml:"scc" json:"scc"`

	Controls   ControlsConfig   `yaml:"controls,omitempty" json:"controls,omitempty"`
	Optimizer  OptimizerConfig  `yaml:"optimizer" json:"optimizer"`
	Bounds     BoundsConfig     `yaml:"bounds" json:"bounds"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
}

// ControlsConfig is the fixed control trajectory of a simulation. At most
// one of miu_path, carbon_tax and treaty sets the control rates; Validate
// rejects combinations. Missing paths default to the initial savings rate
// and zero abatement.
type ControlsConfig struct {
	SavingsPath []float64    `yaml:"savings_path,omitempty" json:"savingsPath,omitempty"`
	MiuPath     []float64    `yaml:"miu_path,omitempty" json:"miuPath,omitempty"`
	CarbonTax   []float64    `yaml:"carbon_tax,omitempty" json:"carbonTax,omitempty"`
	Treaty      *dice.Treaty `yaml:"treaty,omitempty" json:"treaty,omitempty"`
}

// IsZero reports whether no control path is set.
func (c ControlsConfig) IsZero() bool {
	return len(c.SavingsPath) == 0 && len(c.MiuPath) == 0 && len(c.CarbonTax) == 0 && c.Treaty == nil
}

// controlSources counts the settings that determine the control rates.
func (c ControlsConfig) controlSources() int {
	n := 0
	if len(c.MiuPath) > 0 {
		n++
	}
	if len(c.CarbonTax) > 0 {
		n++
	}
	if c.Treaty != nil {
		n++
	}
	return n
}

// OptimizerConfig mirrors policy.Settings.
type OptimizerConfig struct {
	Method           string        `yaml:"method" json:"method"`
	MaxIterations    int           `yaml:"max_iterations" json:"maxIterations"`
	TimeLimit        time.Duration `yaml:"time_limit,omitempty" json:"timeLimit,omitempty"`
	FTol             float64       `yaml:"ftol" json:"ftol"`
	XTol             float64       `yaml:"xtol" json:"xtol"`
	GTol             float64       `yaml:"gtol" json:"gtol"`
	Patience         int           `yaml:"patience" json:"patience"`
	Workers          int           `yaml:"workers,omitempty" json:"workers,omitempty"`
	Seed             int64         `yaml:"seed" json:"seed"`
	Population       int           `yaml:"population" json:"population"`
	GlobalIterations int           `yaml:"global_iterations" json:"globalIterations"`
}

// BoundsConfig limits the decision variables. A nil MiuMax means limit_miu.
type BoundsConfig struct {
	SavingsMin float64  `yaml:"savings_min" json:"savingsMin"`
	SavingsMax float64  `yaml:"savings_max" json:"savingsMax"`
	MiuMin     float64  `yaml:"miu_min" json:"miuMin"`
	MiuMax     *float64 `yaml:"miu_max,omitempty" json:"miuMax,omitempty"`

	// MiuTailPeriods pins the control rate of the last periods to the upper
	// miu bound.
	MiuTailPeriods int `yaml:"miu_tail_periods" json:"miuTailPeriods"`
}

// CheckpointConfig enables periodic checkpoints of optimizer runs.
type CheckpointConfig struct {
	Dir      string `yaml:"dir,omitempty" json:"dir,omitempty"`
	Interval int    `yaml:"interval" json:"interval"`

	// TraceDecisions stores the decision vector with every trace entry.
	TraceDecisions bool `yaml:"trace_decisions,omitempty" json:"traceDecisions,omitempty"`
}

// DefaultConfig returns the DICE2007 simulation with driver defaults.
func DefaultConfig() *Config {
	s := policy.DefaultSettings()
	return &Config{
		Preset: dice.DefaultPreset,
		Mode:   ModeSimulate,
		Optimizer: OptimizerConfig{
			Method:           string(s.Method),
			MaxIterations:    s.MaxIterations,
			FTol:             s.FTol,
			XTol:             s.XTol,
			GTol:             s.GTol,
			Patience:         s.Patience,
			Seed:             s.Seed,
			Population:       s.Population,
			GlobalIterations: s.GlobalIterations,
		},
		Bounds: BoundsConfig{
			SavingsMax:     1,
			MiuTailPeriods: 10,
		},
		Checkpoint: CheckpointConfig{
			Interval: 10,
		},
	}
}

// Load reads a YAML configuration on top of the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &dice.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &dice.ConfigurationError{Field: "config", Reason: err.Error()}
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks the settings that do not depend on the built parameter
// set. Model values are checked by Parameters.
func (c *Config) Validate() error {
	if c.Mode != ModeSimulate && c.Mode != ModeOptimize {
		return &dice.ConfigurationError{Field: "mode", Reason: fmt.Sprintf("must be %s or %s, got %q", ModeSimulate, ModeOptimize, c.Mode)}
	}
	if c.Horizon < 0 {
		return &dice.ConfigurationError{Field: "horizon", Reason: "must not be negative"}
	}
	if _, err := policy.ParseMethod(c.Optimizer.Method); err != nil {
		return err
	}

	o := c.Optimizer
	ints := []struct {
		name  string
		value int
	}{
		{"optimizer.max_iterations", o.MaxIterations},
		{"optimizer.patience", o.Patience},
		{"optimizer.workers", o.Workers},
		{"optimizer.population", o.Population},
		{"optimizer.global_iterations", o.GlobalIterations},
		{"bounds.miu_tail_periods", c.Bounds.MiuTailPeriods},
		{"checkpoint.interval", c.Checkpoint.Interval},
	}
	for _, f := range ints {
		if f.value < 0 {
			return &dice.ConfigurationError{Field: f.name, Reason: fmt.Sprintf("must not be negative, got %d", f.value)}
		}
	}
	for name, v := range map[string]float64{"optimizer.ftol": o.FTol, "optimizer.xtol": o.XTol, "optimizer.gtol": o.GTol} {
		if !(v >= 0) {
			return &dice.ConfigurationError{Field: name, Reason: fmt.Sprintf("must be a non-negative tolerance, got %g", v)}
		}
	}
	if o.TimeLimit < 0 {
		return &dice.ConfigurationError{Field: "optimizer.time_limit", Reason: "must not be negative"}
	}

	b := c.Bounds
	if !(b.SavingsMin >= 0 && b.SavingsMin <= b.SavingsMax && b.SavingsMax <= 1) {
		return &dice.ConfigurationError{Field: "bounds.savings", Reason: fmt.Sprintf("[%g, %g] not within [0, 1]", b.SavingsMin, b.SavingsMax)}
	}
	if b.MiuMin < 0 || (b.MiuMax != nil && *b.MiuMax < b.MiuMin) {
		return &dice.ConfigurationError{Field: "bounds.miu", Reason: "lower bound must be non-negative and below the upper bound"}
	}
	if c.Controls.controlSources() > 1 {
		return &dice.ConfigurationError{Field: "controls", Reason: "miu_path, carbon_tax and treaty are mutually exclusive"}
	}
	if t := c.Controls.Treaty; t != nil {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) preset() string {
	if c.Preset == "" {
		return dice.DefaultPreset
	}
	return c.Preset
}

// Overrides resolves the preset and layers the configured model overrides
// and horizon on top. A treaty supplies the participation path unless one
// is set explicitly.
func (c *Config) Overrides() (dice.Overrides, error) {
	base, err := dice.Preset(c.preset())
	if err != nil {
		return dice.Overrides{}, err
	}
	o := base.Merge(c.Model)
	if c.Horizon > 0 {
		o.Scalars["horizon"] = float64(c.Horizon)
	}
	if t := c.Controls.Treaty; t != nil {
		if _, ok := o.Paths[dice.PathParticipation]; !ok {
			h := dice.DefaultScalars().Horizon
			if v, ok := o.Scalars["horizon"]; ok {
				h = int(v)
			}
			if h >= 0 {
				o.Paths[dice.PathParticipation] = t.Participation(h)
			}
		}
	}
	return o, nil
}

// Parameters builds the parameter set of the run.
func (c *Config) Parameters() (*dice.Parameters, error) {
	o, err := c.Overrides()
	if err != nil {
		return nil, err
	}
	return dice.Build(o)
}

// InitialConditions returns the defaults with the preset's and then the
// configured values applied.
func (c *Config) InitialConditions(p *dice.Parameters) (dice.InitialConditions, error) {
	base, err := dice.PresetInitial(c.preset())
	if err != nil {
		return dice.InitialConditions{}, err
	}
	ic, err := dice.DefaultInitialConditions().Apply(base)
	if err != nil {
		return ic, err
	}
	if ic, err = ic.Apply(c.Initial); err != nil {
		return ic, err
	}
	return ic, ic.Validate(p)
}

// Trajectory returns the fixed controls of a simulation run.
func (c *Config) Trajectory(p *dice.Parameters, ic dice.InitialConditions) (dice.Trajectory, error) {
	h := p.Horizon()
	savings := c.Controls.SavingsPath
	if len(savings) == 0 {
		savings = constant(h, ic.Savings)
	}
	if t := c.Controls.Treaty; t != nil {
		if len(savings) != h {
			return nil, &dice.ConfigurationError{Field: "savings_path", Reason: fmt.Sprintf("has %d entries, want %d", len(savings), h)}
		}
		return dice.TreatyTrajectory(p, *t, savings, ic)
	}
	if len(c.Controls.CarbonTax) > 0 {
		tr, err := dice.CarbonTaxTrajectory(p, c.Controls.CarbonTax, ic.Savings)
		if err != nil {
			return nil, err
		}
		if len(savings) != h {
			return nil, &dice.ConfigurationError{Field: "savings_path", Reason: fmt.Sprintf("has %d entries, want %d", len(savings), h)}
		}
		for i := range tr {
			tr[i].Savings = savings[i]
		}
		return tr, tr.Validate(p)
	}
	miu := c.Controls.MiuPath
	if len(miu) == 0 {
		miu = constant(h, 0)
	}
	tr, err := dice.TrajectoryFromPaths(savings, miu)
	if err != nil {
		return nil, err
	}
	return tr, tr.Validate(p)
}

// Settings converts the optimizer section.
func (c *Config) Settings() (policy.Settings, error) {
	m, err := policy.ParseMethod(c.Optimizer.Method)
	if err != nil {
		return policy.Settings{}, err
	}
	o := c.Optimizer
	return policy.Settings{
		Method:           m,
		MaxIterations:    o.MaxIterations,
		TimeLimit:        o.TimeLimit,
		FTol:             o.FTol,
		XTol:             o.XTol,
		GTol:             o.GTol,
		Patience:         o.Patience,
		Workers:          o.Workers,
		Seed:             o.Seed,
		Population:       o.Population,
		GlobalIterations: o.GlobalIterations,
	}, nil
}

// DecisionBounds builds the optimizer bounds for p.
func (c *Config) DecisionBounds(p *dice.Parameters) (*policy.Bounds, error) {
	b := c.Bounds
	miuMax := p.LimitMiu()
	if b.MiuMax != nil {
		miuMax = *b.MiuMax
	}
	bounds := policy.NewBoundsFor(p.Horizon(), b.SavingsMin, b.SavingsMax, b.MiuMin, miuMax)
	if b.MiuTailPeriods > 0 {
		bounds.FixControlRateTail(b.MiuTailPeriods, miuMax)
	}
	if err := bounds.Validate(p); err != nil {
		return nil, err
	}
	return bounds, nil
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
