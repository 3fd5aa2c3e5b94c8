package dice

import "sort"

// DamagesModel selects the damage function mapping atmospheric temperature
// to the fraction of gross output retained.
type DamagesModel string

const (
	// DamagesDICE2007 is the rational quadratic form 1/(1 + a1 T + a2 T^a3).
	DamagesDICE2007 DamagesModel = "dice2007"
	// DamagesExponential maps the same polynomial through exp(-x).
	DamagesExponential DamagesModel = "exponential"
	// DamagesTipping is the Weitzman high-temperature damage function.
	DamagesTipping DamagesModel = "tipping"
	// DamagesAdditiveOutput treats damages as a loss of environmental goods
	// that adds to, rather than scales, the loss of consumption.
	DamagesAdditiveOutput DamagesModel = "additive_output"
	// DamagesProductivityFraction charges the share productivity_fraction of
	// the DICE2007 damages to total factor productivity instead of output.
	DamagesProductivityFraction DamagesModel = "productivity_fraction"
)

// Calibration selects the functional forms of the exogenous paths.
type Calibration string

const (
	CalibrationDICE2007 Calibration = "dice2007"
	// CalibrationDICE2010 uses the DICE2010 population, productivity,
	// carbon-intensity and non-CO2 forcing paths.
	CalibrationDICE2010 Calibration = "dice2010"
)

// Scalars are the structural constants of the model. All rates are per year
// unless stated otherwise; stocks are in GtC, output in trillions of 2005 USD,
// population in millions.
type Scalars struct {
	Horizon      int     `json:"horizon"`
	PeriodLength float64 `json:"periodLength"`
	StartYear    int     `json:"startYear"`

	Calibration Calibration `json:"calibration"`

	// Population and technology
	PopulationInit         float64 `json:"populationInit"`
	PopulationGrowth       float64 `json:"populationGrowth"`
	PopulationAsymptote    float64 `json:"populationAsymptote"`
	ProductivityInit       float64 `json:"productivityInit"`
	ProductivityGrowthInit float64 `json:"productivityGrowthInit"`
	ProductivityDecline    float64 `json:"productivityDecline"`
	Depreciation           float64 `json:"depreciation"`
	OutputElasticity       float64 `json:"outputElasticity"`

	// Emissions
	IntensityInit        float64 `json:"intensityInit"`
	IntensityGrowth      float64 `json:"intensityGrowth"`
	IntensityDeclineRate float64 `json:"intensityDeclineRate"`
	IntensityQuadratic   float64 `json:"intensityQuadratic"`
	LandEmissionsInit    float64 `json:"landEmissionsInit"`
	LandEmissionsDecline float64 `json:"landEmissionsDecline"`
	FossilLimit          float64 `json:"fossilLimit"`

	// Abatement cost
	AbatementExponent float64 `json:"abatementExponent"`
	BackstopInit      float64 `json:"backstopInit"`
	BackstopRatio     float64 `json:"backstopRatio"`
	BackstopDecline   float64 `json:"backstopDecline"`
	LimitMiu          float64 `json:"limitMiu"`

	// Damages
	DamagesModel       DamagesModel `json:"damagesModel"`
	DamagesLinear      float64      `json:"damagesLinear"`
	DamagesCoefficient float64      `json:"damagesCoefficient"`
	DamagesExponent    float64      `json:"damagesExponent"`
	DamagesAdditive    float64      `json:"damagesAdditive"` // additive_output scale

	// ProductivityFraction is the share of damages borne by productivity
	// under productivity_fraction.
	ProductivityFraction float64 `json:"productivityFraction"`

	// Carbon cycle. CarbonMatrix[i][j] is the share of box i that ends the
	// period in box j (0 atmosphere, 1 upper ocean, 2 lower ocean).
	CarbonMatrix      [3][3]float64 `json:"carbonMatrix"`
	MassPreindustrial float64       `json:"massPreindustrial"`

	// Climate
	ForcingCO2Doubling float64 `json:"forcingCO2Doubling"`
	TempCO2Doubling    float64 `json:"tempCO2Doubling"`
	C1                 float64 `json:"c1"`
	C3                 float64 `json:"c3"`
	C4                 float64 `json:"c4"`
	ForcingGHGInit     float64 `json:"forcingGHGInit"`
	ForcingGHGFuture   float64 `json:"forcingGHGFuture"`
	ForcingRampPeriods int     `json:"forcingRampPeriods"`

	// Preferences
	Elasmu     float64 `json:"elasmu"`
	Prstp      float64 `json:"prstp"`
	LogUtility bool    `json:"logUtility"`
}

// DefaultScalars returns the DICE2007 calibration.
func DefaultScalars() Scalars {
	return Scalars{
		Horizon:      60,
		PeriodLength: 10,
		StartYear:    2005,

		Calibration: CalibrationDICE2007,

		PopulationInit:         6514,
		PopulationGrowth:       .35,
		PopulationAsymptote:    8600,
		ProductivityInit:       .02722,
		ProductivityGrowthInit: .092,
		ProductivityDecline:    .001,
		Depreciation:           .10,
		OutputElasticity:       .30,

		IntensityInit:        .13418,
		IntensityGrowth:      -.0730,
		IntensityDeclineRate: .003,
		IntensityQuadratic:   0,
		LandEmissionsInit:    1.1,
		LandEmissionsDecline: .1,
		FossilLimit:          0,

		AbatementExponent: 2.8,
		BackstopInit:      1.17,
		BackstopRatio:     2,
		BackstopDecline:   .05,
		LimitMiu:          1,

		DamagesModel:       DamagesDICE2007,
		DamagesLinear:      0,
		DamagesCoefficient: .0028388,
		DamagesExponent:    2,
		DamagesAdditive:    1.4771e-5,

		ProductivityFraction: .05,

		CarbonMatrix: [3][3]float64{
			{.810712, .189288, 0},
			{.097213, .852787, .05},
			{0, .003119, .996881},
		},
		MassPreindustrial: 596.4,

		ForcingCO2Doubling: 3.8,
		TempCO2Doubling:    3,
		C1:                 .220,
		C3:                 .300,
		C4:                 .050,
		ForcingGHGInit:     -.06,
		ForcingGHGFuture:   .30,
		ForcingRampPeriods: 10,

		Elasmu:     2,
		Prstp:      .015,
		LogUtility: false,
	}
}

// scalarField resolves an override key to the scalar it sets.
type scalarField struct {
	get func(*Scalars) float64
	set func(*Scalars, float64) error
}

func floatField(ptr func(*Scalars) *float64) scalarField {
	return scalarField{
		get: func(s *Scalars) float64 { return *ptr(s) },
		set: func(s *Scalars, v float64) error {
			*ptr(s) = v
			return nil
		},
	}
}

func intField(name string, ptr func(*Scalars) *int) scalarField {
	return scalarField{
		get: func(s *Scalars) float64 { return float64(*ptr(s)) },
		set: func(s *Scalars, v float64) error {
			if v != float64(int(v)) {
				return configErrorf(name, "must be an integer, got %g", v)
			}
			*ptr(s) = int(v)
			return nil
		},
	}
}

func matrixField(i, j int) scalarField {
	return floatField(func(s *Scalars) *float64 { return &s.CarbonMatrix[i][j] })
}

// scalarFields maps override keys to Scalars. Keys follow the machine names
// of the input files.
var scalarFields = map[string]scalarField{
	"horizon":       intField("horizon", func(s *Scalars) *int { return &s.Horizon }),
	"period_length": floatField(func(s *Scalars) *float64 { return &s.PeriodLength }),
	"start_year":    intField("start_year", func(s *Scalars) *int { return &s.StartYear }),

	"population_init":          floatField(func(s *Scalars) *float64 { return &s.PopulationInit }),
	"population_growth":        floatField(func(s *Scalars) *float64 { return &s.PopulationGrowth }),
	"popasym":                  floatField(func(s *Scalars) *float64 { return &s.PopulationAsymptote }),
	"productivity":             floatField(func(s *Scalars) *float64 { return &s.ProductivityInit }),
	"productivity_growth_init": floatField(func(s *Scalars) *float64 { return &s.ProductivityGrowthInit }),
	"productivity_decline":     floatField(func(s *Scalars) *float64 { return &s.ProductivityDecline }),
	"depreciation":             floatField(func(s *Scalars) *float64 { return &s.Depreciation }),
	"output_elasticity":        floatField(func(s *Scalars) *float64 { return &s.OutputElasticity }),

	"intensity_init":          floatField(func(s *Scalars) *float64 { return &s.IntensityInit }),
	"intensity_growth":        floatField(func(s *Scalars) *float64 { return &s.IntensityGrowth }),
	"intensity_decline_rate":  floatField(func(s *Scalars) *float64 { return &s.IntensityDeclineRate }),
	"intensity_quadratic":     floatField(func(s *Scalars) *float64 { return &s.IntensityQuadratic }),
	"emissions_deforest_init": floatField(func(s *Scalars) *float64 { return &s.LandEmissionsInit }),
	"emissions_deforest_decline": floatField(func(s *Scalars) *float64 {
		return &s.LandEmissionsDecline
	}),
	"fosslim": floatField(func(s *Scalars) *float64 { return &s.FossilLimit }),

	"abatement_exponent": floatField(func(s *Scalars) *float64 { return &s.AbatementExponent }),
	"backstop_init":      floatField(func(s *Scalars) *float64 { return &s.BackstopInit }),
	"backstop_ratio":     floatField(func(s *Scalars) *float64 { return &s.BackstopRatio }),
	"backstop_decline":   floatField(func(s *Scalars) *float64 { return &s.BackstopDecline }),
	"limit_miu":          floatField(func(s *Scalars) *float64 { return &s.LimitMiu }),

	"a1":                  floatField(func(s *Scalars) *float64 { return &s.DamagesLinear }),
	"damages_coefficient": floatField(func(s *Scalars) *float64 { return &s.DamagesCoefficient }),
	"damages_exponent":    floatField(func(s *Scalars) *float64 { return &s.DamagesExponent }),
	"damages_additive":    floatField(func(s *Scalars) *float64 { return &s.DamagesAdditive }),
	"prod_frac":           floatField(func(s *Scalars) *float64 { return &s.ProductivityFraction }),

	"b11": matrixField(0, 0), "b12": matrixField(0, 1), "b13": matrixField(0, 2),
	"b21": matrixField(1, 0), "b22": matrixField(1, 1), "b23": matrixField(1, 2),
	"b31": matrixField(2, 0), "b32": matrixField(2, 1), "b33": matrixField(2, 2),
	"mass_preindustrial": floatField(func(s *Scalars) *float64 { return &s.MassPreindustrial }),

	"forcing_co2_doubling": floatField(func(s *Scalars) *float64 { return &s.ForcingCO2Doubling }),
	"temp_co2_doubling":    floatField(func(s *Scalars) *float64 { return &s.TempCO2Doubling }),
	"c1":                   floatField(func(s *Scalars) *float64 { return &s.C1 }),
	"c3":                   floatField(func(s *Scalars) *float64 { return &s.C3 }),
	"c4":                   floatField(func(s *Scalars) *float64 { return &s.C4 }),
	"forcing_ghg_init":     floatField(func(s *Scalars) *float64 { return &s.ForcingGHGInit }),
	"forcing_ghg_future":   floatField(func(s *Scalars) *float64 { return &s.ForcingGHGFuture }),
	"forcing_ramp_periods": intField("forcing_ramp_periods", func(s *Scalars) *int { return &s.ForcingRampPeriods }),

	"elasmu": floatField(func(s *Scalars) *float64 { return &s.Elasmu }),
	"prstp":  floatField(func(s *Scalars) *float64 { return &s.Prstp }),
	"log_utility": {
		get: func(s *Scalars) float64 {
			if s.LogUtility {
				return 1
			}
			return 0
		},
		set: func(s *Scalars, v float64) error {
			switch v {
			case 0:
				s.LogUtility = false
			case 1:
				s.LogUtility = true
			default:
				return configErrorf("log_utility", "must be 0 or 1, got %g", v)
			}
			return nil
		},
	},
}

// IsScalarKey reports whether key names a scalar parameter.
func IsScalarKey(key string) bool {
	_, ok := scalarFields[key]
	return ok
}

// ScalarValue returns the value behind an override key.
func (s Scalars) ScalarValue(key string) (float64, bool) {
	f, ok := scalarFields[key]
	if !ok {
		return 0, false
	}
	return f.get(&s), true
}

// ScalarKeys lists the scalar override keys in sorted order.
func ScalarKeys() []string {
	keys := make([]string, 0, len(scalarFields))
	for k := range scalarFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
