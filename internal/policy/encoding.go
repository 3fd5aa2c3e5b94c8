package policy

import (
	"fmt"
	"math"

	"github.com/cwbudde/dicesim/internal/dice"
)

// DecisionVector encodes a control trajectory as a flat float64 slice,
// two entries per period: savings rate, then emissions-control rate.
type DecisionVector struct {
	Data    []float64
	Horizon int
}

const paramsPerPeriod = 2

// NewDecisionVector creates a zero decision vector for horizon periods
func NewDecisionVector(horizon int) *DecisionVector {
	return &DecisionVector{
		Data:    make([]float64, horizon*paramsPerPeriod),
		Horizon: horizon,
	}
}

// EncodeTrajectory builds a decision vector from a trajectory
func EncodeTrajectory(tr dice.Trajectory) *DecisionVector {
	dv := NewDecisionVector(len(tr))
	for i, c := range tr {
		dv.EncodeControls(i, c)
	}
	return dv
}

// EncodeControls writes the controls of trajectory entry i
func (dv *DecisionVector) EncodeControls(i int, c dice.Controls) {
	offset := i * paramsPerPeriod
	dv.Data[offset+0] = c.Savings
	dv.Data[offset+1] = c.ControlRate
}

// DecodeControls reads the controls of trajectory entry i
func (dv *DecisionVector) DecodeControls(i int) dice.Controls {
	offset := i * paramsPerPeriod
	return dice.Controls{
		Savings:     dv.Data[offset+0],
		ControlRate: dv.Data[offset+1],
	}
}

// Trajectory decodes the whole vector
func (dv *DecisionVector) Trajectory() dice.Trajectory {
	tr := make(dice.Trajectory, dv.Horizon)
	for i := range tr {
		tr[i] = dv.DecodeControls(i)
	}
	return tr
}

// Bounds defines the admissible range of every decision variable
type Bounds struct {
	Lower []float64
	Upper []float64
}

// NewBounds creates bounds admitting every control the model accepts:
// savings in [0,1] and control rate in [0, limit_miu]
func NewBounds(p *dice.Parameters) *Bounds {
	return NewBoundsFor(p.Horizon(), 0, 1, 0, p.LimitMiu())
}

// NewBoundsFor creates uniform per-period bounds
func NewBoundsFor(horizon int, savingsLo, savingsHi, miuLo, miuHi float64) *Bounds {
	n := horizon * paramsPerPeriod
	lower := make([]float64, n)
	upper := make([]float64, n)

	for i := 0; i < horizon; i++ {
		offset := i * paramsPerPeriod
		lower[offset+0] = savingsLo
		upper[offset+0] = savingsHi
		lower[offset+1] = miuLo
		upper[offset+1] = miuHi
	}

	return &Bounds{
		Lower: lower,
		Upper: upper,
	}
}

// Horizon is the number of periods the bounds cover
func (b *Bounds) Horizon() int {
	return len(b.Lower) / paramsPerPeriod
}

// FixControlRateTail pins the control rate of the last n periods to miu,
// as DICE runs conventionally do to suppress end-of-horizon effects.
func (b *Bounds) FixControlRateTail(n int, miu float64) {
	h := b.Horizon()
	for i := max(0, h-n); i < h; i++ {
		offset := i*paramsPerPeriod + 1
		b.Lower[offset] = miu
		b.Upper[offset] = miu
	}
}

// FixControls pins both controls of trajectory entry i
func (b *Bounds) FixControls(i int, c dice.Controls) {
	offset := i * paramsPerPeriod
	b.Lower[offset+0], b.Upper[offset+0] = c.Savings, c.Savings
	b.Lower[offset+1], b.Upper[offset+1] = c.ControlRate, c.ControlRate
}

// Validate checks the bounds against the parameter set: they must cover the
// horizon and lie within the range the model accepts.
func (b *Bounds) Validate(p *dice.Parameters) error {
	if len(b.Lower) != len(b.Upper) || len(b.Lower) != p.Horizon()*paramsPerPeriod {
		return &dice.ConfigurationError{
			Field:  "bounds",
			Reason: fmt.Sprintf("cover %d/%d variables, want %d", len(b.Lower), len(b.Upper), p.Horizon()*paramsPerPeriod),
		}
	}
	for i := range b.Lower {
		lo, hi := b.Lower[i], b.Upper[i]
		limit := 1.0
		name := "savings"
		if i%paramsPerPeriod == 1 {
			limit = p.LimitMiu()
			name = "miu"
		}
		if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi || lo < 0 || hi > limit {
			return &dice.ConfigurationError{
				Field:  fmt.Sprintf("bounds[%d].%s", i/paramsPerPeriod, name),
				Reason: fmt.Sprintf("[%g, %g] not within [0, %g]", lo, hi, limit),
			}
		}
	}
	return nil
}

// ClampVector clamps all variables in a vector
func (b *Bounds) ClampVector(data []float64) {
	for i := range data {
		data[i] = clamp(data[i], b.Lower[i], b.Upper[i])
	}
}

// free returns the indices whose range is not a single point
func (b *Bounds) free() []int {
	var idx []int
	for i := range b.Lower {
		if b.Lower[i] < b.Upper[i] {
			idx = append(idx, i)
		}
	}
	return idx
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
