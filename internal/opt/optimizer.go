package opt

import (
	"context"
	"log/slog"
	"math"
)

func logger() *slog.Logger { return slog.With("component", "opt") }

// Optimizer minimises an objective over a box.
type Optimizer interface {
	// Run searches [lower, upper] for a minimiser of eval, starting from x0.
	// eval may return +Inf for infeasible points; it must be safe for
	// concurrent use. A non-converged search is reported through
	// Result.Converged, not as an error. Errors are reserved for invalid
	// input and context cancellation, in which case the best point so far
	// is still returned when available.
	Run(ctx context.Context, eval func([]float64) float64, x0, lower, upper []float64) (*Result, error)
}

// Result is the outcome of an optimizer run.
type Result struct {
	X           []float64
	F           float64
	Iterations  int
	Evaluations int
	Converged   bool
	Reason      string
}

// Progress is reported after every completed iteration.
type Progress struct {
	Iteration   int
	F           float64
	X           []float64
	Evaluations int
	StepSize    float64
	PGNorm      float64
}

// project clamps x into [lower, upper] in place.
func project(x, lower, upper []float64) {
	for i := range x {
		if x[i] < lower[i] {
			x[i] = lower[i]
		} else if x[i] > upper[i] {
			x[i] = upper[i]
		}
	}
}

func checkBox(x0, lower, upper []float64) error {
	if len(lower) != len(upper) || len(x0) != len(lower) {
		return &DimensionError{Start: len(x0), Lower: len(lower), Upper: len(upper)}
	}
	for i := range lower {
		if math.IsNaN(lower[i]) || math.IsNaN(upper[i]) || lower[i] > upper[i] {
			return &BoundsError{Index: i, Lower: lower[i], Upper: upper[i]}
		}
	}
	return nil
}

func maxAbsDiff(a, b []float64) float64 {
	var m float64
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > m {
			m = d
		}
	}
	return m
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
