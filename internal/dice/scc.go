package dice

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// sccPulse is the size of the emissions pulse in GtC.
const sccPulse = 1.0

// SocialCostOfCarbon returns the social cost of carbon in $/tCO2 for each
// requested period: the welfare loss of an extra GtC emitted in that period,
// converted to consumption units at that period's marginal utility. A nil
// periods slice selects every period before the last one. Periods are
// evaluated concurrently; each evaluation owns its own state path.
func SocialCostOfCarbon(ctx context.Context, p *Parameters, controls Trajectory, ic InitialConditions, periods []int) ([]float64, error) {
	base, err := Run(p, controls, ic)
	if err != nil {
		return nil, fmt.Errorf("scc baseline: %w", err)
	}
	baseWelfare := Welfare(base)

	if periods == nil {
		periods = make([]int, p.s.Horizon)
		for i := range periods {
			periods[i] = i
		}
	}
	for _, t := range periods {
		if t < 0 || t >= p.s.Horizon {
			return nil, configErrorf("scc period", "%d outside [0,%d)", t, p.s.Horizon)
		}
	}

	out := make([]float64, len(periods))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, t := range periods {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			states, err := simulate(p, controls, ic, t, sccPulse)
			if err != nil {
				return fmt.Errorf("scc period %d: %w", t, err)
			}
			// Each period stands for PeriodLength years of lost output.
			dw := p.s.PeriodLength * (Welfare(states) - baseWelfare) / sccPulse
			st := base[t]
			mu := st.DiscountFactor * 1000 * marginalUtility(&p.s, st.ConsumptionPerCapita)
			// trillion $ per GtC is 1000 $/tC
			out[i] = -dw / mu * 1000 / tonCO2PerTonC
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithSocialCostOfCarbon returns a copy of states with SocialCostOfCarbon
// filled for every period that has a successor.
func WithSocialCostOfCarbon(ctx context.Context, p *Parameters, controls Trajectory, ic InitialConditions, states []State) ([]State, error) {
	scc, err := SocialCostOfCarbon(ctx, p, controls, ic, nil)
	if err != nil {
		return nil, err
	}
	out := append([]State(nil), states...)
	for t, v := range scc {
		if t < len(out) {
			out[t].SocialCostOfCarbon = v
		}
	}
	return out, nil
}
