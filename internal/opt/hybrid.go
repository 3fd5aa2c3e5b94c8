package opt

import "context"

// Hybrid runs a global search and refines its best point with a local one.
type Hybrid struct {
	Global Optimizer
	Local  Optimizer
}

// NewHybrid creates a global-then-local optimizer.
func NewHybrid(global, local Optimizer) *Hybrid {
	return &Hybrid{Global: global, Local: local}
}

// Run implements Optimizer. Evaluations and iterations of both stages are
// summed; convergence is that of the local stage.
func (h *Hybrid) Run(ctx context.Context, eval func([]float64) float64, x0, lower, upper []float64) (*Result, error) {
	g, err := h.Global.Run(ctx, eval, x0, lower, upper)
	if err != nil {
		return g, err
	}
	l, err := h.Local.Run(ctx, eval, g.X, lower, upper)
	if l == nil {
		return g, err
	}
	l.Evaluations += g.Evaluations
	l.Iterations += g.Iterations
	if g.F < l.F {
		l.X, l.F = g.X, g.F
	}
	return l, err
}
