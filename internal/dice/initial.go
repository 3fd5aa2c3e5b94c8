package dice

import (
	"math"
	"sort"
)

// InitialConditions are the stocks and controls of period 0.
type InitialConditions struct {
	Capital             float64 `json:"capital" yaml:"capital_init"`
	MassAtmosphere      float64 `json:"massAtmosphere" yaml:"mass_atmosphere_init"`
	MassUpper           float64 `json:"massUpper" yaml:"mass_upper_init"`
	MassLower           float64 `json:"massLower" yaml:"mass_lower_init"`
	TempAtmosphere      float64 `json:"tempAtmosphere" yaml:"temp_atmosphere_init"`
	TempLower           float64 `json:"tempLower" yaml:"temp_lower_init"`
	CumulativeEmissions float64 `json:"cumulativeEmissions" yaml:"cumulative_emissions_init"`
	Savings             float64 `json:"savings" yaml:"savings"`
	ControlRate         float64 `json:"controlRate" yaml:"miu_init"`
}

// DefaultInitialConditions returns the 2005 stocks of the DICE2007
// calibration.
func DefaultInitialConditions() InitialConditions {
	return InitialConditions{
		Capital:             137,
		MassAtmosphere:      808.9,
		MassUpper:           1255,
		MassLower:           18365,
		TempAtmosphere:      .7307,
		TempLower:           .0068,
		CumulativeEmissions: 0,
		Savings:             .22,
		ControlRate:         .005,
	}
}

var initialFields = map[string]func(*InitialConditions) *float64{
	"capital_init":              func(ic *InitialConditions) *float64 { return &ic.Capital },
	"mass_atmosphere_init":      func(ic *InitialConditions) *float64 { return &ic.MassAtmosphere },
	"mass_upper_init":           func(ic *InitialConditions) *float64 { return &ic.MassUpper },
	"mass_lower_init":           func(ic *InitialConditions) *float64 { return &ic.MassLower },
	"temp_atmosphere_init":      func(ic *InitialConditions) *float64 { return &ic.TempAtmosphere },
	"temp_lower_init":           func(ic *InitialConditions) *float64 { return &ic.TempLower },
	"cumulative_emissions_init": func(ic *InitialConditions) *float64 { return &ic.CumulativeEmissions },
	"savings":                   func(ic *InitialConditions) *float64 { return &ic.Savings },
	"miu_init":                  func(ic *InitialConditions) *float64 { return &ic.ControlRate },
}

// IsInitialKey reports whether key names an initial condition.
func IsInitialKey(key string) bool {
	_, ok := initialFields[key]
	return ok
}

// InitialKeys lists the initial-condition machine names in sorted order.
func InitialKeys() []string {
	keys := make([]string, 0, len(initialFields))
	for k := range initialFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Value returns the initial condition behind a machine name.
func (ic InitialConditions) Value(key string) (float64, bool) {
	f, ok := initialFields[key]
	if !ok {
		return 0, false
	}
	return *f(&ic), true
}

// Apply returns ic with the given values set by machine name.
func (ic InitialConditions) Apply(values map[string]float64) (InitialConditions, error) {
	for k, v := range values {
		f, ok := initialFields[k]
		if !ok {
			return ic, configErrorf(k, "is not a known initial condition")
		}
		*f(&ic) = v
	}
	return ic, nil
}

// Validate checks the stocks and period-0 controls against p.
func (ic InitialConditions) Validate(p *Parameters) error {
	stocks := []struct {
		name  string
		value float64
	}{
		{"capital_init", ic.Capital},
		{"mass_atmosphere_init", ic.MassAtmosphere},
		{"mass_upper_init", ic.MassUpper},
		{"mass_lower_init", ic.MassLower},
		{"cumulative_emissions_init", ic.CumulativeEmissions},
	}
	for _, st := range stocks {
		if math.IsNaN(st.value) || math.IsInf(st.value, 0) || st.value < 0 {
			return configErrorf(st.name, "must be a non-negative finite stock, got %g", st.value)
		}
	}
	if ic.MassAtmosphere == 0 {
		return configErrorf("mass_atmosphere_init", "must be positive")
	}
	for name, v := range map[string]float64{"temp_atmosphere_init": ic.TempAtmosphere, "temp_lower_init": ic.TempLower} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return configErrorf(name, "must be finite, got %g", v)
		}
	}
	if !(ic.Savings >= 0 && ic.Savings <= 1) {
		return configErrorf("savings", "must be in [0,1], got %g", ic.Savings)
	}
	if !(ic.ControlRate >= 0 && ic.ControlRate <= p.s.LimitMiu) {
		return configErrorf("miu_init", "must be in [0,%g], got %g", p.s.LimitMiu, ic.ControlRate)
	}
	return nil
}
