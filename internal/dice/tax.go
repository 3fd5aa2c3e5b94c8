package dice

import "math"

// CarbonTaxTrajectory returns the trajectory whose control rates equate the
// marginal abatement cost with the given carbon price ($/tCO2) in each
// period 1..Horizon, at a constant savings rate. Prices above the backstop
// are capped at limit_miu.
func CarbonTaxTrajectory(p *Parameters, tax []float64, savings float64) (Trajectory, error) {
	if len(tax) != p.s.Horizon {
		return nil, configErrorf("carbon_tax", "has %d entries, want %d", len(tax), p.s.Horizon)
	}
	tr := make(Trajectory, len(tax))
	for i, price := range tax {
		if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
			return nil, configErrorf("carbon_tax", "entry %d must be a non-negative finite price, got %g", i, price)
		}
		tr[i] = Controls{Savings: savings, ControlRate: controlRateForPrice(p, i+1, price)}
	}
	if err := tr.Validate(p); err != nil {
		return nil, err
	}
	return tr, nil
}
