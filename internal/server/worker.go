package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
	"github.com/cwbudde/dicesim/internal/store"
)

// runJob executes a simulate or optimize job in the background.
// If st is not nil, results are persisted, optimizer iterations are traced
// and checkpoints are saved every Checkpoint.Interval iterations.
func runJob(ctx context.Context, jm *JobManager, st store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID, nil)
		return ctx.Err()
	default:
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	cfg := job.Config
	logger().Info("Starting job", "job_id", jobID, "mode", cfg.Mode, "preset", cfg.Preset)

	p, err := cfg.Parameters()
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}
	ic, err := cfg.InitialConditions(p)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	start := time.Now()
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, jobID, progressDone)
	defer close(progressDone)

	var states []dice.State
	if cfg.Mode == config.ModeOptimize {
		states, err = runOptimize(ctx, jm, st, jobID, cfg, p, ic)
	} else {
		states, err = runSimulate(ctx, jm, jobID, cfg, p, ic)
	}

	if st != nil && len(states) > 0 {
		if serr := st.SaveResults(jobID, states); serr != nil {
			logger().Error("Failed to save results", "job_id", jobID, "error", serr)
		}
	}

	switch {
	case ctx.Err() != nil:
		markJobCancelled(jm, jobID, states)
		return ctx.Err()
	case err != nil && !errors.Is(err, dice.ErrConvergence):
		markJobFailed(jm, jobID, err)
		return err
	}

	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.States = states
		j.EndTime = &endTime
		if err != nil {
			j.Converged = false
			var cf *dice.ConvergenceFailure
			if errors.As(err, &cf) {
				j.Reason = cf.Reason
			}
		}
	})

	final, _ := jm.GetJob(jobID)
	logger().Info("Job completed",
		"job_id", jobID,
		"elapsed", time.Since(start),
		"welfare", final.Welfare,
		"initial_welfare", final.InitialWelfare,
		"iterations", final.Iterations,
		"converged", final.Converged,
	)
	jm.broadcaster.Finish(newProgressEvent(final))

	// A convergence failure still produced results; it is reported on the
	// job rather than as a failure.
	return nil
}

// runSimulate runs the model once along the configured controls.
func runSimulate(ctx context.Context, jm *JobManager, jobID string, cfg *config.Config, p *dice.Parameters, ic dice.InitialConditions) ([]dice.State, error) {
	controls, err := cfg.Trajectory(p, ic)
	if err != nil {
		return nil, err
	}
	states, err := dice.Run(p, controls, ic)
	if err != nil {
		return states, err
	}
	if cfg.SCC {
		withSCC, err := dice.WithSocialCostOfCarbon(ctx, p, controls, ic, states)
		if err != nil {
			return states, err
		}
		states = withSCC
	}

	welfare := dice.Welfare(states)
	jm.UpdateJob(jobID, func(j *Job) {
		j.Welfare = welfare
		j.InitialWelfare = welfare
		j.Converged = true
		j.Decision = policy.EncodeTrajectory(controls).Data
	})
	return states, nil
}

// runOptimize searches for the welfare-maximising controls. With a store,
// progress is traced and checkpointed every Checkpoint.Interval iterations
// and once at the end.
func runOptimize(ctx context.Context, jm *JobManager, st store.Store, jobID string, cfg *config.Config, p *dice.Parameters, ic dice.InitialConditions) ([]dice.State, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	bounds, err := cfg.DecisionBounds(p)
	if err != nil {
		return nil, err
	}

	// An infeasible baseline leaves both welfare fields at zero; JSON has
	// no infinities.
	baseline, berr := dice.Evaluate(p, policy.BaselineTrajectory(p, ic), ic)
	if berr == nil {
		jm.UpdateJob(jobID, func(j *Job) {
			j.InitialWelfare = baseline
			j.Welfare = baseline
		})
	}

	var rec *store.Recorder
	if st != nil {
		rec = store.NewRecorder(st, jobID, cfg, baseline, false)
		defer rec.Close()
	}

	tracker := policy.NewTracker(0)
	settings.OnIteration = func(pr policy.Progress) {
		tot := tracker.Observe(pr)
		jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = tot.Iterations
			j.Evaluations = tot.Evaluations
			if tot.Improved {
				j.Welfare = tot.Welfare
				j.Decision = tot.Decision
			}
		})
		if rec != nil {
			rec.Record(pr, tot)
		}
	}

	result, err := policy.Optimize(ctx, p, ic, bounds, settings)
	if result == nil {
		return nil, err
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.Welfare = result.Welfare
		if !math.IsInf(result.BaselineWelfare, 0) {
			j.InitialWelfare = result.BaselineWelfare
		}
		j.Iterations = result.Iterations
		j.Evaluations = result.Evaluations
		j.Decision = policy.EncodeTrajectory(result.Controls).Data
		j.Converged = result.Converged
		j.Reason = result.Reason
	})
	if rec != nil {
		if cerr := rec.Finish(result); cerr != nil {
			logger().Error("Failed to save final checkpoint", "job_id", jobID, "error", cerr)
		}
	}

	states := result.States
	if cfg.SCC && ctx.Err() == nil {
		withSCC, serr := dice.WithSocialCostOfCarbon(ctx, p, result.Controls, ic, states)
		if serr != nil && err == nil {
			err = serr
		}
		if serr == nil {
			states = withSCC
		}
	}
	return states, err
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, jobID string, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}
			jm.broadcaster.Broadcast(newProgressEvent(job))
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Finish(newProgressEvent(job))
	}
	logger().Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled, keeping the partial result.
func markJobCancelled(jm *JobManager, jobID string, states []dice.State) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.States = states
		j.EndTime = &endTime
	})
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Finish(newProgressEvent(job))
	}
	logger().Info("Job cancelled", "job_id", jobID)
}

// jobElapsed is the running time of job, up to its end when finished.
func jobElapsed(job *Job) time.Duration {
	if job.EndTime != nil {
		return job.EndTime.Sub(job.StartTime)
	}
	return time.Since(job.StartTime)
}
