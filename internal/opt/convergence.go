package opt

import (
	"math"
)

// ConvergenceConfig defines when an iterative search is considered converged
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of consecutive quiet iterations required
	Patience int

	// FTol is the relative objective change below which an iteration is quiet
	// Relative change = |lastSignificant - cost| / max(|lastSignificant|, 1)
	FTol float64

	// XTol is the largest coordinate change below which an iteration is quiet
	XTol float64
}

// DefaultConvergenceConfig returns the defaults used by the SPG search
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:  true,
		Patience: 3,
		FTol:     1e-9,
		XTol:     1e-5,
	}
}

// DisabledConvergenceConfig returns a config with convergence detection disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks cost history and detects when a search has converged
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64 // Best cost ever seen
	lastSignificant float64 // Last cost that moved by more than FTol
	staleCount      int     // Consecutive quiet iterations
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		costHistory:     []float64{},
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records the cost reached by an iteration and the largest coordinate
// change it made, and reports whether the search has converged
func (c *ConvergenceTracker) Update(cost, step float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.costHistory = append(c.costHistory, cost)
	if cost < c.bestCost {
		c.bestCost = cost
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	change := math.Abs(c.lastSignificant-cost) / math.Max(math.Abs(c.lastSignificant), 1)
	if change >= c.config.FTol || step >= c.config.XTol {
		c.lastSignificant = cost
		c.staleCount = 0
		logger().Debug("Objective still moving",
			"cost", cost,
			"relative_change", change,
			"step", step,
		)
		return false
	}

	c.staleCount++
	logger().Debug("Quiet iteration",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"relative_change", change,
		"step", step,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience {
		logger().Debug("Convergence detected",
			"stale_count", c.staleCount,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns the full cost history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of consecutive quiet iterations
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.costHistory = []float64{}
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}
