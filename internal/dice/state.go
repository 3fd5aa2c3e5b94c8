package dice

import (
	"fmt"
	"math"
)

// State is the economy and climate in one period: the stocks at the start of
// the period and the flows produced during it.
type State struct {
	Period int `json:"period"`
	Year   int `json:"year"`

	// Stocks
	Capital             float64 `json:"capital"`
	MassAtmosphere      float64 `json:"massAtmosphere"`
	MassUpper           float64 `json:"massUpper"`
	MassLower           float64 `json:"massLower"`
	TempAtmosphere      float64 `json:"tempAtmosphere"`
	TempLower           float64 `json:"tempLower"`
	CumulativeEmissions float64 `json:"cumulativeEmissions"`
	Forcing             float64 `json:"forcing"`

	// Exogenous inputs of the period
	Population      float64 `json:"population"`
	Productivity    float64 `json:"productivity"`
	CarbonIntensity float64 `json:"carbonIntensity"`

	// Controls
	Savings     float64 `json:"savings"`
	ControlRate float64 `json:"controlRate"`

	// Flows
	GrossOutput          float64 `json:"grossOutput"`
	Damages              float64 `json:"damages"`
	AbatementCost        float64 `json:"abatementCost"`
	Output               float64 `json:"output"`
	EmissionsIndustrial  float64 `json:"emissionsIndustrial"`
	EmissionsLand        float64 `json:"emissionsLand"`
	Emissions            float64 `json:"emissions"`
	Investment           float64 `json:"investment"`
	Consumption          float64 `json:"consumption"`
	ConsumptionPerCapita float64 `json:"consumptionPerCapita"`
	Utility              float64 `json:"utility"`
	DiscountFactor       float64 `json:"discountFactor"`
	DiscountedUtility    float64 `json:"discountedUtility"`
	CarbonPrice          float64 `json:"carbonPrice"`
	SocialCostOfCarbon   float64 `json:"socialCostOfCarbon"`
}

// Controls are the two decisions taken in a period.
type Controls struct {
	Savings     float64 `json:"savings"`
	ControlRate float64 `json:"controlRate"`
}

// Trajectory holds the controls of periods 1..Horizon; entry i is applied in
// period i+1. Period 0 takes its controls from InitialConditions.
type Trajectory []Controls

// ConstantTrajectory returns horizon copies of the same controls.
func ConstantTrajectory(horizon int, savings, controlRate float64) Trajectory {
	tr := make(Trajectory, horizon)
	for i := range tr {
		tr[i] = Controls{Savings: savings, ControlRate: controlRate}
	}
	return tr
}

// Clone returns an independent copy.
func (tr Trajectory) Clone() Trajectory {
	return append(Trajectory(nil), tr...)
}

// Savings returns the savings rates in order.
func (tr Trajectory) Savings() []float64 {
	out := make([]float64, len(tr))
	for i, c := range tr {
		out[i] = c.Savings
	}
	return out
}

// ControlRates returns the emissions-control rates in order.
func (tr Trajectory) ControlRates() []float64 {
	out := make([]float64, len(tr))
	for i, c := range tr {
		out[i] = c.ControlRate
	}
	return out
}

// TrajectoryFromPaths zips savings and control-rate paths of equal length.
func TrajectoryFromPaths(savings, controlRates []float64) (Trajectory, error) {
	if len(savings) != len(controlRates) {
		return nil, configErrorf("controls", "savings has %d entries but miu has %d", len(savings), len(controlRates))
	}
	tr := make(Trajectory, len(savings))
	for i := range tr {
		tr[i] = Controls{Savings: savings[i], ControlRate: controlRates[i]}
	}
	return tr, nil
}

// Validate checks the trajectory length and per-period bounds before any
// state is computed.
func (tr Trajectory) Validate(p *Parameters) error {
	if len(tr) != p.s.Horizon {
		return configErrorf("controls", "has %d periods, want %d", len(tr), p.s.Horizon)
	}
	for i, c := range tr {
		if err := c.check(p.s.LimitMiu); err != nil {
			return configErrorf(fmt.Sprintf("controls[%d].%s", i, err.Variable), "%g %s", err.Value, err.Reason)
		}
	}
	return nil
}

// check returns a non-nil DomainError (without period) when c is out of
// bounds.
func (c Controls) check(limitMiu float64) *DomainError {
	if math.IsNaN(c.Savings) || c.Savings < 0 || c.Savings > 1 {
		return &DomainError{Variable: "savings", Value: c.Savings, Reason: "outside [0,1]"}
	}
	if math.IsNaN(c.ControlRate) || c.ControlRate < 0 || c.ControlRate > limitMiu {
		return &DomainError{
			Variable: "miu",
			Value:    c.ControlRate,
			Reason:   fmt.Sprintf("outside [0,%g]", limitMiu),
		}
	}
	return nil
}

// Controls returns the controls that were applied in s.
func (s State) Controls() Controls {
	return Controls{Savings: s.Savings, ControlRate: s.ControlRate}
}
