package dice

import (
	"fmt"
	"math"
	"sort"
)

// Exogenous path names accepted as overrides.
const (
	PathPopulation     = "population"
	PathTFP            = "tfp"
	PathIntensity      = "carbon_intensity"
	PathLandEmissions  = "emissions_land"
	PathForcingExo     = "forcing_exogenous"
	PathAbatementCost  = "abatement_cost"
	PathBackstopPrice  = "backstop_price"
	PathParticipation  = "participation"
	PathDiscountFactor = "discount_factor"
)

const (
	matrixRowTolerance = 1e-9
	maxHorizon         = 1000

	// dice2010ForcingTail scales forcing_ghg_init into the non-CO2 forcing
	// held after the ramp under the DICE2010 calibration.
	dice2010ForcingTail = .36
)

var pathNames = []string{
	PathPopulation,
	PathTFP,
	PathIntensity,
	PathLandEmissions,
	PathForcingExo,
	PathAbatementCost,
	PathBackstopPrice,
	PathParticipation,
	PathDiscountFactor,
}

// PathNames lists the exogenous paths in export order.
func PathNames() []string {
	out := make([]string, len(pathNames))
	copy(out, pathNames)
	return out
}

// IsPathKey reports whether key names an exogenous path.
func IsPathKey(key string) bool {
	for _, n := range pathNames {
		if n == key {
			return true
		}
	}
	return false
}

// Overrides replace defaults by machine name. Scalars holds structural
// constants, Paths whole exogenous paths of Horizon+1 entries.
type Overrides struct {
	Scalars      map[string]float64   `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Paths        map[string][]float64 `yaml:"paths,omitempty" json:"paths,omitempty"`
	DamagesModel string               `yaml:"damages_model,omitempty" json:"damagesModel,omitempty"`
	Calibration  string               `yaml:"calibration,omitempty" json:"calibration,omitempty"`
}

// Merge returns o with every entry of other applied on top.
func (o Overrides) Merge(other Overrides) Overrides {
	out := Overrides{
		Scalars:      make(map[string]float64, len(o.Scalars)+len(other.Scalars)),
		Paths:        make(map[string][]float64, len(o.Paths)+len(other.Paths)),
		DamagesModel: o.DamagesModel,
		Calibration:  o.Calibration,
	}
	for k, v := range o.Scalars {
		out.Scalars[k] = v
	}
	for k, v := range other.Scalars {
		out.Scalars[k] = v
	}
	for k, v := range o.Paths {
		out.Paths[k] = append([]float64(nil), v...)
	}
	for k, v := range other.Paths {
		out.Paths[k] = append([]float64(nil), v...)
	}
	if other.DamagesModel != "" {
		out.DamagesModel = other.DamagesModel
	}
	if other.Calibration != "" {
		out.Calibration = other.Calibration
	}
	return out
}

// IsZero reports whether o overrides nothing.
func (o Overrides) IsZero() bool {
	return len(o.Scalars) == 0 && len(o.Paths) == 0 && o.DamagesModel == "" && o.Calibration == ""
}

// Parameters is an immutable, validated parameter set. Paths hold one entry
// per period 0..Horizon. A *Parameters is safe for concurrent readers.
type Parameters struct {
	s Scalars

	population    []float64
	tfp           []float64
	intensity     []float64
	landEmissions []float64
	forcingExo    []float64
	abatementCost []float64
	backstopPrice []float64
	participation []float64
	discount      []float64
}

// Default builds the DICE2007 calibration without overrides.
func Default() *Parameters {
	p, err := Build(Overrides{})
	if err != nil {
		panic(fmt.Sprintf("dice: default parameters invalid: %v", err))
	}
	return p
}

// Build applies overrides to the defaults, derives the exogenous paths and
// validates the result.
func Build(o Overrides) (*Parameters, error) {
	s := DefaultScalars()

	keys := make([]string, 0, len(o.Scalars))
	for k := range o.Scalars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := scalarFields[k]
		if !ok {
			return nil, configErrorf(k, "is not a known parameter")
		}
		v := o.Scalars[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, configErrorf(k, "must be finite, got %g", v)
		}
		if err := f.set(&s, v); err != nil {
			return nil, err
		}
	}
	if o.DamagesModel != "" {
		s.DamagesModel = DamagesModel(o.DamagesModel)
	}
	if o.Calibration != "" {
		s.Calibration = Calibration(o.Calibration)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	p := &Parameters{s: s}
	p.derivePaths()

	for name, values := range o.Paths {
		dst := p.pathRef(name)
		if dst == nil {
			return nil, configErrorf(name, "is not a known path")
		}
		if len(values) != s.Horizon+1 {
			return nil, configErrorf(name, "has %d entries, want %d (horizon %d + initial period)",
				len(values), s.Horizon+1, s.Horizon)
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, configErrorf(name, "entry %d must be finite, got %g", i, v)
			}
		}
		*dst = append([]float64(nil), values...)
	}

	if err := p.validatePaths(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the scalar bounds.
func (s Scalars) Validate() error {
	switch {
	case s.Horizon < 1 || s.Horizon > maxHorizon:
		return configErrorf("horizon", "must be in [1,%d], got %d", maxHorizon, s.Horizon)
	case !(s.PeriodLength > 0):
		return configErrorf("period_length", "must be positive, got %g", s.PeriodLength)
	case s.Depreciation < 0 || s.Depreciation > 1:
		return configErrorf("depreciation", "must be in [0,1], got %g", s.Depreciation)
	case s.OutputElasticity < 0 || s.OutputElasticity > 1:
		return configErrorf("output_elasticity", "must be in [0,1], got %g", s.OutputElasticity)
	case !(s.LimitMiu > 0):
		return configErrorf("limit_miu", "must be positive, got %g", s.LimitMiu)
	case !(s.PopulationInit > 0):
		return configErrorf("population_init", "must be positive, got %g", s.PopulationInit)
	case !(s.PopulationAsymptote > 0):
		return configErrorf("popasym", "must be positive, got %g", s.PopulationAsymptote)
	case !(s.ProductivityInit > 0):
		return configErrorf("productivity", "must be positive, got %g", s.ProductivityInit)
	case s.ProductivityGrowthInit >= 1:
		return configErrorf("productivity_growth_init", "must be below 1, got %g", s.ProductivityGrowthInit)
	case !(s.IntensityInit > 0):
		return configErrorf("intensity_init", "must be positive, got %g", s.IntensityInit)
	case s.IntensityGrowth >= 1:
		return configErrorf("intensity_growth", "must be below 1, got %g", s.IntensityGrowth)
	case !(s.AbatementExponent > 1):
		return configErrorf("abatement_exponent", "must be greater than 1, got %g", s.AbatementExponent)
	case s.BackstopInit < 0:
		return configErrorf("backstop_init", "must be non-negative, got %g", s.BackstopInit)
	case !(s.BackstopRatio > 0):
		return configErrorf("backstop_ratio", "must be positive, got %g", s.BackstopRatio)
	case !(s.MassPreindustrial > 0):
		return configErrorf("mass_preindustrial", "must be positive, got %g", s.MassPreindustrial)
	case !(s.TempCO2Doubling > 0):
		return configErrorf("temp_co2_doubling", "must be positive, got %g", s.TempCO2Doubling)
	case s.C1 < 0 || s.C1 > 1:
		return configErrorf("c1", "must be in [0,1], got %g", s.C1)
	case s.C3 < 0:
		return configErrorf("c3", "must be non-negative, got %g", s.C3)
	case s.C4 < 0 || s.C4 > 1:
		return configErrorf("c4", "must be in [0,1], got %g", s.C4)
	case s.ForcingRampPeriods < 1:
		return configErrorf("forcing_ramp_periods", "must be at least 1, got %d", s.ForcingRampPeriods)
	case s.LandEmissionsDecline < 0 || s.LandEmissionsDecline >= 1:
		return configErrorf("emissions_deforest_decline", "must be in [0,1), got %g", s.LandEmissionsDecline)
	case !(s.Prstp > -1):
		return configErrorf("prstp", "must be greater than -1, got %g", s.Prstp)
	case s.FossilLimit < 0:
		return configErrorf("fosslim", "must be non-negative, got %g", s.FossilLimit)
	}

	if s.LogUtility {
		if s.Elasmu != 1 {
			return configErrorf("elasmu", "must be 1 with log_utility, got %g", s.Elasmu)
		}
	} else {
		if !(s.Elasmu > 0) {
			return configErrorf("elasmu", "must be positive, got %g", s.Elasmu)
		}
		if s.Elasmu == 1 {
			return configErrorf("elasmu", "of exactly 1 requires log_utility")
		}
	}

	switch s.DamagesModel {
	case DamagesDICE2007, DamagesExponential, DamagesTipping, DamagesAdditiveOutput, DamagesProductivityFraction:
	default:
		return configErrorf("damages_model", "unknown model %q", s.DamagesModel)
	}
	if s.DamagesCoefficient < 0 || s.DamagesLinear < 0 {
		return configErrorf("damages_coefficient", "must be non-negative")
	}
	if s.DamagesAdditive < 0 {
		return configErrorf("damages_additive", "must be non-negative, got %g", s.DamagesAdditive)
	}
	if s.ProductivityFraction < 0 || s.ProductivityFraction > 1 {
		return configErrorf("prod_frac", "must be in [0,1], got %g", s.ProductivityFraction)
	}
	switch s.Calibration {
	case CalibrationDICE2007, CalibrationDICE2010:
	default:
		return configErrorf("calibration", "unknown calibration %q", s.Calibration)
	}

	for i, row := range s.CarbonMatrix {
		sum := 0.0
		for j, b := range row {
			if b < 0 || b > 1 {
				return configErrorf(fmt.Sprintf("b%d%d", i+1, j+1), "must be in [0,1], got %g", b)
			}
			sum += b
		}
		if math.Abs(sum-1) > matrixRowTolerance {
			return configErrorf(fmt.Sprintf("carbon matrix row %d", i+1), "sums to %.12g, want 1", sum)
		}
	}
	return nil
}

// derivePaths fills the exogenous paths from the scalars.
func (p *Parameters) derivePaths() {
	s := &p.s
	n := s.Horizon + 1
	dt := s.PeriodLength

	p.population = make([]float64, n)
	p.tfp = make([]float64, n)
	p.intensity = make([]float64, n)
	p.landEmissions = make([]float64, n)
	p.forcingExo = make([]float64, n)
	p.abatementCost = make([]float64, n)
	p.backstopPrice = make([]float64, n)
	p.participation = make([]float64, n)
	p.discount = make([]float64, n)

	dice2010 := s.Calibration == CalibrationDICE2010
	intensityDecline := s.IntensityGrowth

	for t := 0; t < n; t++ {
		ft := float64(t)

		switch {
		case t == 0:
			p.population[t] = s.PopulationInit
			p.tfp[t] = s.ProductivityInit
			p.intensity[t] = s.IntensityInit
		case dice2010:
			prev := p.population[t-1]
			p.population[t] = prev * math.Pow(s.PopulationAsymptote/prev, s.PopulationGrowth)
			tp := dt * float64(t-1)
			ga := s.ProductivityGrowthInit * math.Exp(-s.ProductivityDecline*tp*math.Exp(-.002*tp))
			p.tfp[t] = p.tfp[t-1] / (1 - ga)
			p.intensity[t] = p.intensity[t-1] * (1 - intensityDecline)
			intensityDecline *= math.Pow(1-s.IntensityDeclineRate, dt)
		default:
			g := 1 - math.Exp(-s.PopulationGrowth*ft)
			p.population[t] = s.PopulationInit*(1-g) + g*s.PopulationAsymptote
			ga := s.ProductivityGrowthInit * math.Exp(-s.ProductivityDecline*dt*float64(t-1))
			p.tfp[t] = p.tfp[t-1] / (1 - ga)
			gsig := s.IntensityGrowth * math.Exp(-s.IntensityDeclineRate*dt*ft-s.IntensityQuadratic*dt*ft*ft)
			p.intensity[t] = p.intensity[t-1] / (1 - gsig)
		}

		p.landEmissions[t] = s.LandEmissionsInit * math.Pow(1-s.LandEmissionsDecline, ft)

		ramp := math.Min(ft, float64(s.ForcingRampPeriods)) / float64(s.ForcingRampPeriods)
		p.forcingExo[t] = s.ForcingGHGInit + ramp*(s.ForcingGHGFuture-s.ForcingGHGInit)
		if dice2010 && t > s.ForcingRampPeriods {
			p.forcingExo[t] = dice2010ForcingTail * s.ForcingGHGInit
		}

		p.backstopPrice[t] = s.BackstopInit * (s.BackstopRatio - 1 + math.Exp(-s.BackstopDecline*ft)) / s.BackstopRatio
		p.abatementCost[t] = p.backstopPrice[t] * p.intensity[t] / s.AbatementExponent
		p.participation[t] = 1
		p.discount[t] = math.Pow(1+s.Prstp, -dt*ft)
	}
}

func (p *Parameters) validatePaths() error {
	for t := range p.population {
		switch {
		case !(p.population[t] > 0):
			return configErrorf(PathPopulation, "entry %d must be positive, got %g", t, p.population[t])
		case !(p.tfp[t] > 0):
			return configErrorf(PathTFP, "entry %d must be positive, got %g", t, p.tfp[t])
		case p.intensity[t] < 0:
			return configErrorf(PathIntensity, "entry %d must be non-negative, got %g", t, p.intensity[t])
		case p.abatementCost[t] < 0:
			return configErrorf(PathAbatementCost, "entry %d must be non-negative, got %g", t, p.abatementCost[t])
		case p.backstopPrice[t] < 0:
			return configErrorf(PathBackstopPrice, "entry %d must be non-negative, got %g", t, p.backstopPrice[t])
		case !(p.participation[t] > 0) || p.participation[t] > 1:
			return configErrorf(PathParticipation, "entry %d must be in (0,1], got %g", t, p.participation[t])
		case !(p.discount[t] > 0):
			return configErrorf(PathDiscountFactor, "entry %d must be positive, got %g", t, p.discount[t])
		}
	}
	return nil
}

func (p *Parameters) pathRef(name string) *[]float64 {
	switch name {
	case PathPopulation:
		return &p.population
	case PathTFP:
		return &p.tfp
	case PathIntensity:
		return &p.intensity
	case PathLandEmissions:
		return &p.landEmissions
	case PathForcingExo:
		return &p.forcingExo
	case PathAbatementCost:
		return &p.abatementCost
	case PathBackstopPrice:
		return &p.backstopPrice
	case PathParticipation:
		return &p.participation
	case PathDiscountFactor:
		return &p.discount
	}
	return nil
}

// Scalars returns a copy of the structural constants.
func (p *Parameters) Scalars() Scalars { return p.s }

// Horizon is the number of decision periods after the initial one.
func (p *Parameters) Horizon() int { return p.s.Horizon }

// LimitMiu is the upper bound on the emissions-control rate.
func (p *Parameters) LimitMiu() float64 { return p.s.LimitMiu }

// Year returns the calendar year at the start of period t.
func (p *Parameters) Year(t int) int {
	return p.s.StartYear + int(math.Round(float64(t)*p.s.PeriodLength))
}

// Path returns a copy of the named exogenous path, or nil if unknown.
func (p *Parameters) Path(name string) []float64 {
	ref := p.pathRef(name)
	if ref == nil {
		return nil
	}
	return append([]float64(nil), (*ref)...)
}

// Discount returns the utility weight of period t.
func (p *Parameters) Discount(t int) float64 { return p.discount[t] }
