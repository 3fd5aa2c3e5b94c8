package dice

import (
	"math"
)

// Setup builds the period-0 state from the initial stocks and controls.
func Setup(p *Parameters, ic InitialConditions) (State, error) {
	if err := ic.Validate(p); err != nil {
		return State{}, err
	}
	s := State{
		Period:              0,
		Year:                p.Year(0),
		Productivity:        p.tfp[0],
		Capital:             ic.Capital,
		MassAtmosphere:      ic.MassAtmosphere,
		MassUpper:           ic.MassUpper,
		MassLower:           ic.MassLower,
		TempAtmosphere:      ic.TempAtmosphere,
		TempLower:           ic.TempLower,
		CumulativeEmissions: ic.CumulativeEmissions,
	}
	s.Forcing = forcing(p, 0, s.MassAtmosphere)
	if err := realize(&s, p, Controls{Savings: ic.Savings, ControlRate: ic.ControlRate}); err != nil {
		return State{}, err
	}
	return s, nil
}

// Step advances prev by one period and applies c in the new period.
func Step(prev State, c Controls, p *Parameters) (State, error) {
	return advance(prev, c, p, 0)
}

// advance moves the stocks of prev forward one period, adding pulse GtC to
// the atmosphere on top of prev's emissions, then computes the flows of the
// new period under c.
func advance(prev State, c Controls, p *Parameters, pulse float64) (State, error) {
	t := prev.Period + 1
	if t > p.s.Horizon {
		return State{}, &DomainError{Period: t, Variable: "period", Value: float64(t), Reason: "beyond horizon"}
	}
	if err := c.check(p.s.LimitMiu); err != nil {
		err.Period = t
		return State{}, err
	}

	s := &p.s
	dt := s.PeriodLength
	b := &s.CarbonMatrix
	released := dt*prev.Emissions + pulse

	next := State{
		Period: t,
		Year:   p.Year(t),

		Capital:      math.Pow(1-s.Depreciation, dt)*prev.Capital + dt*prev.Investment,
		Productivity: p.tfp[t],

		MassAtmosphere: b[0][0]*prev.MassAtmosphere + b[1][0]*prev.MassUpper + b[2][0]*prev.MassLower + released,
		MassUpper:      b[0][1]*prev.MassAtmosphere + b[1][1]*prev.MassUpper + b[2][1]*prev.MassLower,
		MassLower:      b[0][2]*prev.MassAtmosphere + b[1][2]*prev.MassUpper + b[2][2]*prev.MassLower,

		CumulativeEmissions: prev.CumulativeEmissions + dt*prev.EmissionsIndustrial,
		TempLower:           prev.TempLower + s.C4*(prev.TempAtmosphere-prev.TempLower),
	}

	if s.DamagesModel == DamagesProductivityFraction {
		// Exogenous growth, less the share of damages borne by productivity.
		next.Productivity = prev.Productivity * p.tfp[t] / p.tfp[t-1] *
			math.Pow(productivityFactor(s, prev.TempAtmosphere), dt)
	}
	if next.MassAtmosphere <= 0 {
		return State{}, &DomainError{Period: t, Variable: "mass_atmosphere", Value: next.MassAtmosphere, Reason: "must be positive"}
	}
	next.Forcing = forcing(p, t, next.MassAtmosphere)
	lambda := s.ForcingCO2Doubling / s.TempCO2Doubling
	next.TempAtmosphere = prev.TempAtmosphere +
		s.C1*(next.Forcing-lambda*prev.TempAtmosphere-s.C3*(prev.TempAtmosphere-prev.TempLower))

	if err := realize(&next, p, c); err != nil {
		return State{}, err
	}
	return next, nil
}

// realize fills the flows of st from its stocks and controls c.
func realize(st *State, p *Parameters, c Controls) error {
	t := st.Period
	s := &p.s

	if err := checkStocks(st, s); err != nil {
		return err
	}

	st.Population = p.population[t]
	st.CarbonIntensity = p.intensity[t]
	st.Savings = c.Savings
	st.ControlRate = c.ControlRate

	st.GrossOutput = grossOutput(p, t, st.Productivity, st.Capital)
	lambda := abatementFraction(p, t, c.ControlRate)
	if s.DamagesModel == DamagesAdditiveOutput {
		abated := st.GrossOutput * (1 - lambda)
		st.AbatementCost = st.GrossOutput * lambda
		st.Output = additiveOutput(s, abated, c.Savings, st.TempAtmosphere)
		st.Damages = abated - st.Output
	} else {
		omega := damageFactor(s, st.TempAtmosphere)
		st.Damages = st.GrossOutput * (1 - omega)
		st.AbatementCost = st.GrossOutput * omega * lambda
		st.Output = st.GrossOutput * omega * (1 - lambda)
	}

	st.EmissionsIndustrial = p.intensity[t] * st.GrossOutput * (1 - c.ControlRate)
	st.EmissionsLand = p.landEmissions[t]
	st.Emissions = st.EmissionsIndustrial + st.EmissionsLand

	st.Investment = c.Savings * st.Output
	st.Consumption = st.Output - st.Investment
	st.ConsumptionPerCapita = 1000 * st.Consumption / st.Population

	if !(st.Output > 0) {
		return &DomainError{Period: t, Variable: "output", Value: st.Output, Reason: "must be positive"}
	}
	if !(st.ConsumptionPerCapita > 0) {
		return &DomainError{Period: t, Variable: "consumption_per_capita", Value: st.ConsumptionPerCapita, Reason: "must be positive"}
	}

	st.Utility = periodUtility(s, st.Population, st.ConsumptionPerCapita)
	st.DiscountFactor = p.discount[t]
	st.DiscountedUtility = st.DiscountFactor * st.Utility
	st.CarbonPrice = carbonPrice(p, t, c.ControlRate)

	return checkFinite(st)
}

func checkStocks(st *State, s *Scalars) error {
	stocks := [...]struct {
		name  string
		value float64
	}{
		{"capital", st.Capital},
		{"mass_atmosphere", st.MassAtmosphere},
		{"mass_upper", st.MassUpper},
		{"mass_lower", st.MassLower},
	}
	for _, v := range stocks {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return &DomainError{Period: st.Period, Variable: v.name, Value: v.value, Reason: "is not finite"}
		}
		if v.value < 0 {
			return &DomainError{Period: st.Period, Variable: v.name, Value: v.value, Reason: "must be non-negative"}
		}
	}
	if s.FossilLimit > 0 && st.CumulativeEmissions > s.FossilLimit {
		return &DomainError{
			Period:   st.Period,
			Variable: "cumulative_emissions",
			Value:    st.CumulativeEmissions,
			Reason:   "exceeds fossil fuel limit",
		}
	}
	return nil
}

func checkFinite(st *State) error {
	flows := [...]struct {
		name  string
		value float64
	}{
		{"temp_atmosphere", st.TempAtmosphere},
		{"temp_lower", st.TempLower},
		{"forcing", st.Forcing},
		{"gross_output", st.GrossOutput},
		{"emissions", st.Emissions},
		{"utility", st.Utility},
		{"carbon_price", st.CarbonPrice},
	}
	for _, v := range flows {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return &DomainError{Period: st.Period, Variable: v.name, Value: v.value, Reason: "is not finite"}
		}
	}
	return nil
}
