package store

import (
	"math"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/policy"
)

// traceOpener is implemented by stores that keep an iteration trace.
type traceOpener interface {
	TraceWriter(jobID string, append bool) (*TraceWriter, error)
}

// Recorder persists the progress of one optimizer run: a trace entry per
// iteration, when the store keeps traces, and a checkpoint every
// cfg.Checkpoint.Interval iterations.
type Recorder struct {
	store          Store
	trace          *TraceWriter
	jobID          string
	cfg            *config.Config
	initialWelfare float64
	iterations     int
}

// NewRecorder starts recording jobID. A resumed run appends to the existing
// trace. The trace is optional: when it cannot be opened only checkpoints
// are written.
func NewRecorder(st Store, jobID string, cfg *config.Config, initialWelfare float64, resumed bool) *Recorder {
	r := &Recorder{store: st, jobID: jobID, cfg: cfg, initialWelfare: initialWelfare}
	if math.IsInf(initialWelfare, 0) || math.IsNaN(initialWelfare) {
		r.initialWelfare = 0
	}
	if to, ok := st.(traceOpener); ok {
		tw, err := to.TraceWriter(jobID, resumed)
		if err != nil {
			logger().Warn("Trace disabled", "job_id", jobID, "error", err)
		} else {
			r.trace = tw
		}
	}
	return r
}

// Record handles one optimizer iteration. Failures are logged; they never
// stop the run.
func (r *Recorder) Record(pr policy.Progress, tot policy.Totals) {
	r.iterations = tot.Iterations
	if r.trace != nil {
		entry := TraceEntry{
			Iteration:   tot.Iterations,
			Start:       pr.Start,
			Welfare:     pr.Welfare,
			Evaluations: tot.Evaluations,
			Timestamp:   time.Now(),
		}
		if r.cfg.Checkpoint.TraceDecisions {
			entry.Decision = append([]float64(nil), pr.Decision...)
		}
		if err := r.trace.Write(entry); err != nil {
			logger().Warn("Failed to write trace entry", "job_id", r.jobID, "error", err)
		}
	}

	if n := r.cfg.Checkpoint.Interval; n > 0 && tot.Iterations%n == 0 {
		if err := r.Checkpoint(tot.Decision, tot.Welfare, tot.Iterations); err != nil {
			logger().Error("Failed to save checkpoint", "job_id", r.jobID, "error", err)
		}
	}
}

// Checkpoint saves decision as the current best of the run. An empty
// decision is skipped.
func (r *Recorder) Checkpoint(decision []float64, welfare float64, iteration int) error {
	if len(decision) == 0 {
		logger().Debug("Skipping checkpoint, no decision yet", "job_id", r.jobID)
		return nil
	}
	checkpoint := NewCheckpoint(r.jobID, decision, welfare, r.initialWelfare, iteration, r.cfg)
	if err := r.store.SaveCheckpoint(r.jobID, checkpoint); err != nil {
		return err
	}
	if r.trace != nil {
		if err := r.trace.Flush(); err != nil {
			logger().Warn("Failed to flush trace", "job_id", r.jobID, "error", err)
		}
	}
	logger().Info("Checkpoint saved", "job_id", r.jobID, "iteration", iteration, "welfare", welfare)
	return nil
}

// Finish checkpoints the final result of the run. The iteration count
// includes iterations recorded before a resume.
func (r *Recorder) Finish(res *policy.Result) error {
	if res == nil {
		return nil
	}
	if !math.IsInf(res.BaselineWelfare, 0) && r.initialWelfare == 0 {
		r.initialWelfare = res.BaselineWelfare
	}
	return r.Checkpoint(policy.EncodeTrajectory(res.Controls).Data, res.Welfare, max(r.iterations, res.Iterations))
}

// Close flushes and closes the trace.
func (r *Recorder) Close() error {
	if r.trace == nil {
		return nil
	}
	return r.trace.Close()
}
