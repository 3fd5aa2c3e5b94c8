package dice

import "fmt"

// Run simulates the full horizon: Setup followed by one Step per trajectory
// entry. It returns Horizon+1 states. On a DomainError the states computed
// so far are returned together with the error.
func Run(p *Parameters, controls Trajectory, ic InitialConditions) ([]State, error) {
	if err := controls.Validate(p); err != nil {
		return nil, err
	}
	return simulate(p, controls, ic, -1, 0)
}

// simulate runs the Step chain, adding pulse GtC to the atmosphere at the
// end of period pulseAt (no pulse when pulseAt < 0).
func simulate(p *Parameters, controls Trajectory, ic InitialConditions, pulseAt int, pulse float64) ([]State, error) {
	states := make([]State, 0, len(controls)+1)
	s, err := Setup(p, ic)
	if err != nil {
		return nil, err
	}
	states = append(states, s)
	for i, c := range controls {
		var extra float64
		if i == pulseAt {
			extra = pulse
		}
		next, err := advance(s, c, p, extra)
		if err != nil {
			return states, fmt.Errorf("run: %w", err)
		}
		states = append(states, next)
		s = next
	}
	return states, nil
}

// Welfare is the discounted sum of period utilities.
func Welfare(states []State) float64 {
	var w float64
	for _, s := range states {
		w += s.DiscountedUtility
	}
	return w
}

// Evaluate runs controls and returns the welfare of the resulting path.
func Evaluate(p *Parameters, controls Trajectory, ic InitialConditions) (float64, error) {
	states, err := Run(p, controls, ic)
	if err != nil {
		return 0, err
	}
	return Welfare(states), nil
}
