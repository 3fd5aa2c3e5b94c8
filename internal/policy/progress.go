package policy

import "math"

// Totals summarises a run up to the latest Progress report.
type Totals struct {
	Iterations  int
	Evaluations int
	Welfare     float64   // best so far
	Decision    []float64 // best so far, owned by the Tracker's caller
	Improved    bool      // the latest report raised Welfare
}

// Tracker turns per-start Progress reports into run totals. Iterations and
// evaluations of earlier starts are carried over when the start changes.
type Tracker struct {
	iterations  int
	evaluations int
	start       int
	startEvals  int
	best        float64
	decision    []float64
}

// NewTracker starts counting at offset iterations, as when a run resumes.
func NewTracker(offset int) *Tracker {
	return &Tracker{iterations: offset, start: -1, best: math.Inf(-1)}
}

// Observe records pr and returns the updated totals.
func (t *Tracker) Observe(pr Progress) Totals {
	if pr.Start != t.start {
		t.evaluations += t.startEvals
		t.start, t.startEvals = pr.Start, 0
	}
	t.startEvals = pr.Evaluations
	t.iterations++

	improved := pr.Welfare > t.best
	if improved {
		t.best = pr.Welfare
		t.decision = append(t.decision[:0], pr.Decision...)
	}
	return Totals{
		Iterations:  t.iterations,
		Evaluations: t.evaluations + t.startEvals,
		Welfare:     t.best,
		Decision:    append([]float64(nil), t.decision...),
		Improved:    improved,
	}
}
