package opt

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
)

// Gradient estimates the gradient of eval at x by finite differences.
// Interior coordinates use central differences; coordinates within step of a
// bound, or whose perturbation on one side is infeasible, fall back to a
// one-sided difference. fx must equal eval(x).
//
// Components are evaluated concurrently on at most workers goroutines
// (sequentially when workers <= 1). Every component is computed from the
// same inputs in the same way either way, so the result does not depend on
// workers.
type Gradient struct {
	Step    float64
	Workers int
}

// DefaultGradientStep is the relative finite-difference step.
const DefaultGradientStep = 1e-6

// Compute returns the gradient estimate and the number of evaluations spent.
func (gr Gradient) Compute(ctx context.Context, eval func([]float64) float64, x []float64, fx float64, lower, upper []float64) ([]float64, int, error) {
	grad := make([]float64, len(x))
	evals := make([]int, len(x))

	component := func(i int) {
		grad[i], evals[i] = gr.partial(eval, x, fx, lower, upper, i)
	}

	if gr.Workers <= 1 {
		for i := range x {
			if err := ctx.Err(); err != nil {
				return nil, sum(evals), err
			}
			component(i)
		}
		return grad, sum(evals), nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gr.Workers)
	for i := range x {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			component(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, sum(evals), err
	}
	return grad, sum(evals), nil
}

func (gr Gradient) partial(eval func([]float64) float64, x []float64, fx float64, lower, upper []float64, i int) (float64, int) {
	step := gr.Step
	if step <= 0 {
		step = DefaultGradientStep
	}
	h := step * math.Max(1, math.Abs(x[i]))
	if upper[i]-lower[i] <= 0 {
		return 0, 0
	}

	xi := make([]float64, len(x))
	copy(xi, x)
	at := func(v float64) float64 {
		xi[i] = v
		return eval(xi)
	}

	canUp := x[i]+h <= upper[i]
	canDown := x[i]-h >= lower[i]
	n := 0
	var fUp, fDown float64
	if canUp {
		fUp = at(x[i] + h)
		n++
		canUp = !math.IsInf(fUp, 0) && !math.IsNaN(fUp)
	}
	if canDown {
		fDown = at(x[i] - h)
		n++
		canDown = !math.IsInf(fDown, 0) && !math.IsNaN(fDown)
	}

	switch {
	case canUp && canDown:
		return (fUp - fDown) / (2 * h), n
	case canUp:
		return (fUp - fx) / h, n
	case canDown:
		return (fx - fDown) / h, n
	}
	return 0, n
}

func sum(v []int) int {
	var s int
	for _, n := range v {
		s += n
	}
	return s
}
