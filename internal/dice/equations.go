package dice

import "math"

// Period relations shared by Setup and Step. Each takes the period index t
// into the exogenous paths.

func grossOutput(p *Parameters, t int, tfp, capital float64) float64 {
	gamma := p.s.OutputElasticity
	return tfp * math.Pow(p.population[t], 1-gamma) * math.Pow(capital, gamma)
}

// damageFactor is the share of gross output retained at atmospheric
// temperature temp. The additive_output model has no such share and uses
// the DICE2007 form here; its output is computed by additiveOutput.
func damageFactor(s *Scalars, temp float64) float64 {
	t := math.Max(temp, 0)
	switch s.DamagesModel {
	case DamagesExponential:
		return math.Exp(-(s.DamagesLinear*t + s.DamagesCoefficient*math.Pow(t, s.DamagesExponent)))
	case DamagesTipping:
		return 1 / (1 + math.Pow(t/20.46, 2) + math.Pow(t/6.081, 6.754))
	case DamagesProductivityFraction:
		d := 1 - dice2007Retained(s, t)
		return (1 - d) / productivityFactor(s, temp)
	default:
		return dice2007Retained(s, t)
	}
}

func dice2007Retained(s *Scalars, t float64) float64 {
	return 1 / (1 + s.DamagesLinear*t + s.DamagesCoefficient*math.Pow(t, s.DamagesExponent))
}

// productivityFactor is the annual factor applied to productivity at
// temperature temp under productivity_fraction, and 1 otherwise.
func productivityFactor(s *Scalars, temp float64) float64 {
	if s.DamagesModel != DamagesProductivityFraction {
		return 1
	}
	d := 1 - dice2007Retained(s, math.Max(temp, 0))
	return 1 - s.ProductivityFraction*d
}

// additiveOutput is net output under additive_output: consumption of the
// output left after abatement is reduced by the loss of environmental
// goods, and output is recovered from it at savings rate savings.
func additiveOutput(s *Scalars, abated, savings, temp float64) float64 {
	c := abated * (1 - savings)
	t := math.Max(temp, 0)
	return c / (1 + c*s.DamagesAdditive*math.Pow(t, s.DamagesExponent)) / (1 - savings)
}

// abatementFraction is the share of gross output spent on reaching control
// rate miu.
func abatementFraction(p *Parameters, t int, miu float64) float64 {
	theta2 := p.s.AbatementExponent
	return p.abatementCost[t] * math.Pow(miu, theta2) * math.Pow(p.participation[t], 1-theta2)
}

// tonCO2PerTonC converts carbon masses to CO2.
const tonCO2PerTonC = 44.0 / 12.0

// carbonPrice is the marginal abatement cost of miu in $/tCO2.
func carbonPrice(p *Parameters, t int, miu float64) float64 {
	theta2 := p.s.AbatementExponent
	perTonC := 1000 * p.backstopPrice[t] * math.Pow(miu/p.participation[t], theta2-1)
	return perTonC / tonCO2PerTonC
}

// controlRateForPrice inverts carbonPrice, capped at limit_miu.
func controlRateForPrice(p *Parameters, t int, price float64) float64 {
	if price <= 0 || p.backstopPrice[t] <= 0 {
		return 0
	}
	theta2 := p.s.AbatementExponent
	perTonC := price * tonCO2PerTonC
	miu := p.participation[t] * math.Pow(perTonC/(1000*p.backstopPrice[t]), 1/(theta2-1))
	return math.Min(miu, p.s.LimitMiu)
}

// periodUtility is the population-weighted CRRA (or log) utility of per-capita
// consumption cpc, in thousands of dollars.
func periodUtility(s *Scalars, population, cpc float64) float64 {
	if s.LogUtility {
		return population * math.Log(cpc)
	}
	eta := s.Elasmu
	return population * (math.Pow(cpc, 1-eta) - 1) / (1 - eta)
}

// marginalUtility is dU/dC per person at per-capita consumption cpc.
func marginalUtility(s *Scalars, cpc float64) float64 {
	if s.LogUtility {
		return 1 / cpc
	}
	return math.Pow(cpc, -s.Elasmu)
}

// forcing is total radiative forcing in W/m2 for atmospheric mass mat.
func forcing(p *Parameters, t int, mat float64) float64 {
	return p.s.ForcingCO2Doubling*math.Log2(mat/p.s.MassPreindustrial) + p.forcingExo[t]
}
