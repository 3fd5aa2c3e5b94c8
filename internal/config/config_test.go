package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, dice.DefaultPreset, cfg.Preset)
	require.Equal(t, ModeSimulate, cfg.Mode)

	p, err := cfg.Parameters()
	require.NoError(t, err)
	require.Equal(t, 60, p.Horizon())

	s, err := cfg.Settings()
	require.NoError(t, err)
	require.Equal(t, policy.DefaultSettings().MaxIterations, s.MaxIterations)
	require.Equal(t, policy.MethodSPG, s.Method)
}

func TestParse(t *testing.T) {
	data := []byte(`
preset: stern
mode: optimize
horizon: 20
parameters:
  depreciation: 0.08
damages_model: exponential
initial:
  capital_init: 150
scc: true
optimizer:
  method: hybrid
  max_iterations: 50
  time_limit: 2m
bounds:
  miu_max: 0.8
  miu_tail_periods: 2
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "stern", cfg.Preset)
	require.Equal(t, ModeOptimize, cfg.Mode)
	require.True(t, cfg.SCC)
	require.Equal(t, 2*time.Minute, cfg.Optimizer.TimeLimit)
	// Untouched optimizer fields keep their defaults.
	require.Equal(t, DefaultConfig().Optimizer.Population, cfg.Optimizer.Population)

	o, err := cfg.Overrides()
	require.NoError(t, err)
	require.Equal(t, .08, o.Scalars["depreciation"])
	require.Equal(t, .001, o.Scalars["prstp"], "preset values survive")
	require.Equal(t, 20.0, o.Scalars["horizon"])
	require.Equal(t, "exponential", o.DamagesModel)

	p, err := cfg.Parameters()
	require.NoError(t, err)
	require.Equal(t, 20, p.Horizon())
	require.Equal(t, .08, p.Scalars().Depreciation)

	ic, err := cfg.InitialConditions(p)
	require.NoError(t, err)
	require.Equal(t, 150.0, ic.Capital)

	bounds, err := cfg.DecisionBounds(p)
	require.NoError(t, err)
	lower, upper := bounds.Lower, bounds.Upper
	require.Equal(t, .8, upper[1])
	require.Equal(t, .8, lower[2*19+1], "tail control rate fixed at the upper bound")
	require.Equal(t, 0.0, lower[2*17+1])
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("optimiser:\n  method: spg\n"))
	require.ErrorIs(t, err, dice.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "forecast" }},
		{"unknown method", func(c *Config) { c.Optimizer.Method = "annealing" }},
		{"negative iterations", func(c *Config) { c.Optimizer.MaxIterations = -1 }},
		{"negative tolerance", func(c *Config) { c.Optimizer.FTol = -1e-3 }},
		{"savings bounds inverted", func(c *Config) { c.Bounds.SavingsMin = .5; c.Bounds.SavingsMax = .2 }},
		{"savings above one", func(c *Config) { c.Bounds.SavingsMax = 1.2 }},
		{"tax and miu path", func(c *Config) {
			c.Controls.CarbonTax = []float64{1}
			c.Controls.MiuPath = []float64{.1}
		}},
		{"treaty and tax", func(c *Config) {
			tr := dice.DefaultTreaty()
			c.Controls.Treaty = &tr
			c.Controls.CarbonTax = []float64{1}
		}},
		{"treaty cut above one", func(c *Config) {
			tr := dice.DefaultTreaty()
			tr.Cut2050 = 2
			c.Controls.Treaty = &tr
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), dice.ErrConfiguration)
		})
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "run.yaml")

	cfg := DefaultConfig()
	cfg.Mode = ModeOptimize
	cfg.Horizon = 30
	cfg.Model.Scalars = map[string]float64{"prstp": .01}
	cfg.Optimizer.TimeLimit = 90 * time.Second
	miu := .9
	cfg.Bounds.MiuMax = &miu
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, dice.ErrConfiguration)
}

func TestTrajectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Horizon = 4
	p, err := cfg.Parameters()
	require.NoError(t, err)
	ic, err := cfg.InitialConditions(p)
	require.NoError(t, err)

	tr, err := cfg.Trajectory(p, ic)
	require.NoError(t, err)
	require.Equal(t, dice.ConstantTrajectory(4, ic.Savings, 0), tr)

	cfg.Controls.MiuPath = []float64{.1, .2, .3, .4}
	tr, err = cfg.Trajectory(p, ic)
	require.NoError(t, err)
	require.Equal(t, []float64{.1, .2, .3, .4}, tr.ControlRates())

	cfg.Controls = ControlsConfig{CarbonTax: []float64{0, 10, 20, 40}}
	tr, err = cfg.Trajectory(p, ic)
	require.NoError(t, err)
	miu := tr.ControlRates()
	require.Equal(t, 0.0, miu[0])
	for i := 1; i < len(miu); i++ {
		require.Greater(t, miu[i], miu[i-1])
	}

	cfg.Controls = ControlsConfig{MiuPath: []float64{.1, .2}}
	_, err = cfg.Trajectory(p, ic)
	require.ErrorIs(t, err, dice.ErrConfiguration)
}

func TestTreaty(t *testing.T) {
	cfg, err := Parse([]byte(`
horizon: 20
controls:
  treaty:
    e2050: 0.2
    e2100: 0.5
    p2050: 0.6
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Controls.Treaty)
	require.Equal(t, 1.0, cfg.Controls.Treaty.ParticipationMax, "omitted treaty fields keep their defaults")

	p, err := cfg.Parameters()
	require.NoError(t, err)
	require.Equal(t, cfg.Controls.Treaty.Participation(20), p.Path(dice.PathParticipation))

	ic, err := cfg.InitialConditions(p)
	require.NoError(t, err)
	tr, err := cfg.Trajectory(p, ic)
	require.NoError(t, err)
	require.Len(t, tr, 20)
	require.Greater(t, tr.ControlRates()[0], 0.0, "emissions held at the initial level need abatement")

	// An explicit participation path wins over the treaty schedule.
	cfg.Model.Paths = map[string][]float64{dice.PathParticipation: constant(21, .9)}
	p, err = cfg.Parameters()
	require.NoError(t, err)
	require.Equal(t, .9, p.Path(dice.PathParticipation)[10])
}

func TestInitialConditions_PresetStocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Preset = "dice2010"
	cfg.Initial = map[string]float64{"mass_upper_init": 1500}

	p, err := cfg.Parameters()
	require.NoError(t, err)
	require.Equal(t, dice.CalibrationDICE2010, p.Scalars().Calibration)

	ic, err := cfg.InitialConditions(p)
	require.NoError(t, err)
	require.Equal(t, 829.0, ic.MassAtmosphere, "preset stock")
	require.Equal(t, 1500.0, ic.MassUpper, "configured value wins over the preset")
	require.Equal(t, dice.DefaultInitialConditions().Capital, ic.Capital)
}
