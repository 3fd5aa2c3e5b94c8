package opt

import (
	"context"
	"math"
	"sync/atomic"
	"time"
)

// SPGConfig configures the spectral projected gradient search.
type SPGConfig struct {
	MaxIterations int
	TimeLimit     time.Duration // zero means unlimited

	// GTol stops the search when the infinity norm of the projected
	// gradient step P(x - g) - x falls below it.
	GTol        float64
	Convergence ConvergenceConfig

	// LambdaMax caps the spectral step length; zero means 1e10. Objectives
	// with finite-difference gradients need a lower cap, since the step times
	// the gradient noise bounds how far flat directions drift.
	LambdaMax float64

	Gradient Gradient

	// OnIteration, when set, is called after every accepted step.
	OnIteration func(Progress)
}

// DefaultSPGConfig returns the settings used for welfare maximisation.
func DefaultSPGConfig() SPGConfig {
	return SPGConfig{
		MaxIterations: 500,
		GTol:          1e-6,
		Convergence:   DefaultConvergenceConfig(),
		Gradient:      Gradient{Step: DefaultGradientStep, Workers: 1},
	}
}

const (
	spgLambdaMin   = 1e-10
	spgLambdaMax   = 1e10
	spgArmijo      = 1e-4
	spgBacktrack   = 0.5
	spgMinStepSize = 1e-12
)

// SPG is the spectral projected gradient method of Birgin, Martinez and
// Raydan with a monotone Armijo line search and Barzilai-Borwein step
// lengths. It finds local minimisers only.
type SPG struct {
	config SPGConfig
}

// NewSPG creates an SPG optimizer.
func NewSPG(config SPGConfig) *SPG {
	if config.MaxIterations <= 0 {
		config.MaxIterations = DefaultSPGConfig().MaxIterations
	}
	return &SPG{config: config}
}

// Run implements Optimizer.
func (s *SPG) Run(ctx context.Context, eval func([]float64) float64, x0, lower, upper []float64) (*Result, error) {
	if err := checkBox(x0, lower, upper); err != nil {
		return nil, err
	}

	var evals atomic.Int64
	f := func(x []float64) float64 {
		evals.Add(1)
		v := eval(x)
		if math.IsNaN(v) {
			return math.Inf(1)
		}
		return v
	}

	var deadline time.Time
	if s.config.TimeLimit > 0 {
		deadline = time.Now().Add(s.config.TimeLimit)
	}

	x := append([]float64(nil), x0...)
	project(x, lower, upper)
	fx := f(x)

	res := &Result{X: x, F: fx}
	finish := func(converged bool, reason string) *Result {
		res.Converged = converged
		res.Reason = reason
		res.Evaluations = int(evals.Load())
		return res
	}

	if math.IsInf(fx, 1) {
		return finish(false, "infeasible start"), nil
	}

	grad := func(x []float64, fx float64) ([]float64, error) {
		g, n, err := s.config.Gradient.Compute(ctx, eval, x, fx, lower, upper)
		evals.Add(int64(n))
		return g, err
	}

	g, err := grad(x, fx)
	if err != nil {
		return finish(false, "cancelled"), err
	}

	n := len(x)
	trial := make([]float64, n)
	dir := make([]float64, n)

	pgNorm := projectedGradientNorm(x, g, lower, upper, trial)
	lambdaMax := s.config.LambdaMax
	if lambdaMax <= 0 {
		lambdaMax = spgLambdaMax
	}
	clampLambda := func(l float64) float64 {
		return math.Min(lambdaMax, math.Max(spgLambdaMin, l))
	}
	lambda := clampLambda(1 / math.Max(pgNorm, spgLambdaMin))
	tracker := NewConvergenceTracker(s.config.Convergence)

	for iter := 1; ; iter++ {
		if pgNorm <= s.config.GTol {
			return finish(true, "projected gradient below tolerance"), nil
		}
		if iter > s.config.MaxIterations {
			return finish(false, "iteration limit reached"), nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return finish(false, "time limit reached"), nil
		}
		if err := ctx.Err(); err != nil {
			return finish(false, "cancelled"), err
		}

		// Spectral step projected onto the box.
		for i := range x {
			dir[i] = x[i] - lambda*g[i]
		}
		project(dir, lower, upper)
		for i := range x {
			dir[i] -= x[i]
		}
		slope := dot(g, dir)

		alpha := 1.0
		var ft float64
		for {
			for i := range x {
				trial[i] = x[i] + alpha*dir[i]
			}
			project(trial, lower, upper)
			ft = f(trial)
			if ft <= fx+spgArmijo*alpha*slope {
				break
			}
			logger().Debug("SPG step rejected", "iteration", iter, "alpha", alpha, "trial", ft, "current", fx)
			alpha *= spgBacktrack
			if alpha < spgMinStepSize {
				res.Iterations = iter - 1
				return finish(true, "no further descent along projected gradient"), nil
			}
		}

		xNew := append([]float64(nil), trial...)
		gNew, err := grad(xNew, ft)
		if err != nil {
			return finish(false, "cancelled"), err
		}

		var ss, sy float64
		for i := range x {
			si := xNew[i] - x[i]
			yi := gNew[i] - g[i]
			ss += si * si
			sy += si * yi
		}
		if sy <= 0 {
			lambda = lambdaMax
		} else {
			lambda = clampLambda(ss / sy)
		}

		step := maxAbsDiff(xNew, x)
		x, fx, g = xNew, ft, gNew
		res.X, res.F, res.Iterations = x, fx, iter
		pgNorm = projectedGradientNorm(x, g, lower, upper, trial)

		logger().Debug("SPG iteration",
			"iteration", iter,
			"cost", fx,
			"step", step,
			"pg_norm", pgNorm,
			"lambda", lambda,
		)
		if s.config.OnIteration != nil {
			s.config.OnIteration(Progress{
				Iteration:   iter,
				F:           fx,
				X:           append([]float64(nil), x...),
				Evaluations: int(evals.Load()),
				StepSize:    step,
				PGNorm:      pgNorm,
			})
		}

		if tracker.Update(fx, step) {
			return finish(true, "objective and controls stable"), nil
		}
	}
}

// projectedGradientNorm returns ||P(x - g) - x||_inf, using buf as scratch.
func projectedGradientNorm(x, g, lower, upper, buf []float64) float64 {
	for i := range x {
		buf[i] = x[i] - g[i]
	}
	project(buf, lower, upper)
	return maxAbsDiff(buf, x)
}
