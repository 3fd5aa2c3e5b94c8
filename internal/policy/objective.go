package policy

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/cwbudde/dicesim/internal/dice"
)

// Objective maps a reduced decision vector (free variables only) to the
// negated, scaled welfare of the trajectory it encodes. Trajectories that
// leave the physical domain evaluate to +Inf. Safe for concurrent use.
type Objective struct {
	params  *dice.Parameters
	initial dice.InitialConditions
	bounds  *Bounds
	free    []int
	scale   float64

	infeasible atomic.Int64
}

// NewObjective builds the objective for p and ic under bounds. Welfare is
// divided by scale so objective values stay near unit magnitude.
func NewObjective(p *dice.Parameters, ic dice.InitialConditions, bounds *Bounds, scale float64) *Objective {
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}
	return &Objective{
		params:  p,
		initial: ic,
		bounds:  bounds,
		free:    bounds.free(),
		scale:   math.Abs(scale),
	}
}

// Dim is the number of free decision variables.
func (o *Objective) Dim() int { return len(o.free) }

// Eval implements the cost function handed to the optimizer.
func (o *Objective) Eval(x []float64) float64 {
	tr := o.Expand(x).Trajectory()
	w, err := dice.Evaluate(o.params, tr, o.initial)
	if err != nil {
		if errors.Is(err, dice.ErrDomain) || errors.Is(err, dice.ErrConfiguration) {
			o.infeasible.Add(1)
			logger().Debug("Infeasible trial rejected", "error", err)
			return math.Inf(1)
		}
		logger().Error("Trial evaluation failed", "error", err)
		return math.Inf(1)
	}
	return -w / o.scale
}

// Welfare converts an objective value back to welfare.
func (o *Objective) Welfare(f float64) float64 { return -f * o.scale }

// Infeasible is the number of trials rejected so far.
func (o *Objective) Infeasible() int { return int(o.infeasible.Load()) }

// Expand fills the free variables of a full decision vector from x; fixed
// variables take their bound.
func (o *Objective) Expand(x []float64) *DecisionVector {
	dv := NewDecisionVector(o.params.Horizon())
	copy(dv.Data, o.bounds.Lower)
	for k, i := range o.free {
		dv.Data[i] = x[k]
	}
	return dv
}

// Reduce extracts the free variables of a full decision vector.
func (o *Objective) Reduce(dv *DecisionVector) []float64 {
	x := make([]float64, len(o.free))
	for k, i := range o.free {
		x[k] = dv.Data[i]
	}
	return x
}

// Box returns the bounds of the free variables.
func (o *Objective) Box() (lower, upper []float64) {
	lower = make([]float64, len(o.free))
	upper = make([]float64, len(o.free))
	for k, i := range o.free {
		lower[k] = o.bounds.Lower[i]
		upper[k] = o.bounds.Upper[i]
	}
	return lower, upper
}
