package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/mayfly"
)

// infeasibleCost stands in for +Inf inside the Mayfly population, which
// compares costs arithmetically.
const infeasibleCost = 1e300

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
	xtol     float64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	if popSize < 20 {
		popSize = 20 // mayfly v0.1.0 rejects smaller populations
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
		xtol:     DefaultConvergenceConfig().XTol,
	}
}

// WithXTol sets the largest per-coordinate spread of the final population
// for which a search counts as converged.
func (m *MayflyAdapter) WithXTol(xtol float64) *MayflyAdapter {
	m.xtol = xtol
	return m
}

// spreadTracker keeps the last n evaluated candidates.
type spreadTracker struct {
	mu    sync.Mutex
	ring  [][]float64
	next  int
	count int
}

func newSpreadTracker(n int) *spreadTracker {
	return &spreadTracker{ring: make([][]float64, n)}
}

func (s *spreadTracker) add(x []float64) {
	s.mu.Lock()
	s.ring[s.next] = x
	s.next = (s.next + 1) % len(s.ring)
	s.count = min(s.count+1, len(s.ring))
	s.mu.Unlock()
}

// spread is the largest coordinate range over the kept candidates.
func (s *spreadTracker) spread() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return math.Inf(1)
	}
	var widest float64
	for i := range s.ring[0] {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, x := range s.ring[:s.count] {
			lo, hi = math.Min(lo, x[i]), math.Max(hi, x[i])
		}
		widest = math.Max(widest, hi-lo)
	}
	return widest
}

// Run executes the Mayfly search. The library only supports one scalar
// bound for all dimensions, so the search runs on the unit cube and each
// candidate is mapped onto [lower, upper] before evaluation. Fixed
// coordinates (lower == upper) are held at their bound. The result is never
// worse than x0. The search counts as converged when the last population's
// worth of candidates spans at most xtol in every coordinate.
func (m *MayflyAdapter) Run(ctx context.Context, eval func([]float64) float64, x0, lower, upper []float64) (*Result, error) {
	if err := checkBox(x0, lower, upper); err != nil {
		return nil, err
	}

	start := append([]float64(nil), x0...)
	project(start, lower, upper)

	var evals atomic.Int64
	last := newSpreadTracker(m.popSize)
	toBox := func(u []float64) []float64 {
		x := make([]float64, len(lower))
		for i := range x {
			x[i] = lower[i] + math.Min(1, math.Max(0, u[i]))*(upper[i]-lower[i])
		}
		return x
	}
	cost := func(u []float64) float64 {
		if ctx.Err() != nil {
			return infeasibleCost
		}
		evals.Add(1)
		x := toBox(u)
		last.add(x)
		v := eval(x)
		if math.IsNaN(v) || math.IsInf(v, 1) || v > infeasibleCost {
			return infeasibleCost
		}
		return v
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = cost
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	fStart := eval(start)
	evals.Add(1)
	res := &Result{X: start, F: fStart, Iterations: m.maxIters}

	result, err := mayfly.Optimize(config)
	if cerr := ctx.Err(); cerr != nil {
		res.Evaluations = int(evals.Load())
		return res, cerr
	}
	if err != nil {
		logger().Warn("Mayfly search failed, keeping start point", "error", err)
		res.Evaluations = int(evals.Load())
		res.Reason = "global search failed: " + err.Error()
		return res, nil
	}

	best := toBox(result.GlobalBest.Position)
	if result.GlobalBest.Cost < fStart || math.IsInf(fStart, 1) || math.IsNaN(fStart) {
		res.X, res.F = best, result.GlobalBest.Cost
	}
	res.Evaluations = int(evals.Load())
	if spread := last.spread(); spread <= m.xtol {
		res.Converged = true
		res.Reason = "population collapsed"
	} else {
		res.Reason = fmt.Sprintf("iteration budget exhausted with population spread %.3g", spread)
	}

	logger().Debug("Mayfly search finished",
		"best_cost", res.F,
		"start_cost", fStart,
		"evaluations", res.Evaluations,
		"converged", res.Converged,
	)
	return res, nil
}
