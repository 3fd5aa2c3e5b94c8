package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
	"github.com/cwbudde/dicesim/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// runOptions carries what a resumed run inherits from its checkpoint.
type runOptions struct {
	RunID           string            // checkpoint id; generated when empty
	Starts          []dice.Trajectory // tried before the built-in starts
	Resumed         bool
	IterationOffset int
}

// runOutcome is what the driver reports and writes.
type runOutcome struct {
	RunID           string
	States          []dice.State
	Welfare         float64
	BaselineWelfare float64
	Iterations      int
	Converged       bool
	Reason          string
	Elapsed         time.Duration
}

// executeRun simulates or optimizes cfg. On a domain error or convergence
// failure the outcome holds whatever states were produced.
func executeRun(ctx context.Context, cfg *config.Config, opts runOptions) (*runOutcome, error) {
	p, err := cfg.Parameters()
	if err != nil {
		return nil, err
	}
	ic, err := cfg.InitialConditions(p)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var out *runOutcome
	if cfg.Mode == config.ModeOptimize {
		out, err = optimize(ctx, cfg, p, ic, opts)
	} else {
		out, err = simulate(ctx, cfg, p, ic)
	}
	if out != nil {
		out.Elapsed = time.Since(start)
	}
	return out, err
}

func simulate(ctx context.Context, cfg *config.Config, p *dice.Parameters, ic dice.InitialConditions) (*runOutcome, error) {
	controls, err := cfg.Trajectory(p, ic)
	if err != nil {
		return nil, err
	}
	states, err := dice.Run(p, controls, ic)
	out := &runOutcome{States: states, Converged: true}
	if err != nil {
		return out, fmt.Errorf("simulate: %w", err)
	}
	if cfg.SCC {
		withSCC, err := dice.WithSocialCostOfCarbon(ctx, p, controls, ic, states)
		if err != nil {
			return out, fmt.Errorf("social cost of carbon: %w", err)
		}
		out.States = withSCC
	}
	out.Welfare = dice.Welfare(out.States)
	out.BaselineWelfare = out.Welfare
	return out, nil
}

// baselineWelfare is the welfare of the no-abatement trajectory, or zero
// when that trajectory is infeasible.
func baselineWelfare(p *dice.Parameters, ic dice.InitialConditions) float64 {
	w, err := dice.Evaluate(p, policy.BaselineTrajectory(p, ic), ic)
	if err != nil {
		slog.Warn("Baseline trajectory infeasible, checkpoints record zero baseline welfare", "error", err)
		return 0
	}
	return w
}

func optimize(ctx context.Context, cfg *config.Config, p *dice.Parameters, ic dice.InitialConditions, opts runOptions) (*runOutcome, error) {
	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}
	bounds, err := cfg.DecisionBounds(p)
	if err != nil {
		return nil, err
	}
	settings.Starts = opts.Starts

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	var rec *store.Recorder
	var st store.Store
	if cfg.Checkpoint.Dir != "" {
		fs, err := store.NewFSStore(cfg.Checkpoint.Dir)
		if err != nil {
			return nil, err
		}
		st = fs
		rec = store.NewRecorder(st, runID, cfg, baselineWelfare(p, ic), opts.Resumed)
		defer rec.Close()
		slog.Info("Checkpointing run", "run_id", runID, "dir", cfg.Checkpoint.Dir, "interval", cfg.Checkpoint.Interval)
	}

	tracker := policy.NewTracker(opts.IterationOffset)
	settings.OnIteration = func(pr policy.Progress) {
		tot := tracker.Observe(pr)
		slog.Debug("Optimizer progress", "iteration", tot.Iterations, "start", pr.Start, "welfare", pr.Welfare, "evaluations", tot.Evaluations)
		if rec != nil {
			rec.Record(pr, tot)
		}
	}

	result, err := policy.Optimize(ctx, p, ic, bounds, settings)
	if result == nil {
		return nil, err
	}

	out := &runOutcome{
		RunID:           runID,
		States:          result.States,
		Welfare:         result.Welfare,
		BaselineWelfare: result.BaselineWelfare,
		Iterations:      opts.IterationOffset + result.Iterations,
		Converged:       result.Converged,
		Reason:          result.Reason,
	}
	if rec != nil {
		final := *result
		final.Iterations = out.Iterations
		if cerr := rec.Finish(&final); cerr != nil {
			slog.Error("Failed to save final checkpoint", "run_id", runID, "error", cerr)
		}
	}

	if cfg.SCC && ctx.Err() == nil {
		withSCC, serr := dice.WithSocialCostOfCarbon(ctx, p, result.Controls, ic, result.States)
		if serr != nil {
			return out, fmt.Errorf("social cost of carbon: %w", serr)
		}
		out.States = withSCC
	}

	if st != nil {
		if serr := st.SaveResults(runID, out.States); serr != nil {
			slog.Error("Failed to save results", "run_id", runID, "error", serr)
		}
	}
	return out, err
}

// finishRun writes dest when the run produced usable states, prints a one
// line summary and returns the run error for exit-code mapping.
func finishRun(cmd *cobra.Command, dest string, out *runOutcome, runErr error) error {
	writable := out != nil && len(out.States) > 0 &&
		(runErr == nil || errors.Is(runErr, dice.ErrConvergence))
	if writable {
		if err := writeStatesFile(dest, out.States); err != nil {
			return err
		}
	}
	if runErr != nil {
		if writable {
			slog.Warn("Results written without convergence", "dest", dest, "error", runErr)
		}
		return runErr
	}

	slog.Info("Run complete",
		"dest", dest,
		"periods", len(out.States),
		"welfare", out.Welfare,
		"baseline_welfare", out.BaselineWelfare,
		"iterations", out.Iterations,
		"elapsed", out.Elapsed,
	)

	line := fmt.Sprintf("Wrote %s (%d periods, welfare %.6f", dest, len(out.States), out.Welfare)
	if out.Iterations > 0 && !math.IsInf(out.BaselineWelfare, 0) {
		line += fmt.Sprintf(", baseline %.6f, %d iterations", out.BaselineWelfare, out.Iterations)
	}
	if out.RunID != "" {
		line += ", run " + out.RunID
	}
	fmt.Fprintln(cmd.OutOrStdout(), line+")")
	return nil
}

// writeStatesFile writes states as CSV to path.
func writeStatesFile(path string, states []dice.State) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := csvio.WriteStates(f, states); err != nil {
		f.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	return f.Close()
}
