package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/store"
	"github.com/spf13/cobra"
)

var resumeDataDir string

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id> <dest.csv>",
	Short: "Resume an optimization from its checkpoint",
	Long: `Restarts the optimizer of a checkpointed run or server job with the
checkpointed trajectory as its first start, and writes the result like the
driver does. Optimizer flags may change the budget; with --config the model
configuration must match the checkpoint.`,
	Args: cobra.ExactArgs(2),
	RunE: runResume,
}

func init() {
	f := resumeCmd.Flags()
	f.StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	f.StringVar(&runMethod, "method", "", "Optimizer: spg, mayfly, hybrid")
	f.IntVar(&runMaxIterations, "max-iterations", 0, "Iterations per optimizer start")
	f.DurationVar(&runTimeLimit, "time-limit", 0, "Wall-clock budget of the optimizer")
	f.Int64Var(&runSeed, "seed", 0, "Random seed of the global search")
	f.IntVar(&runWorkers, "workers", 0, "Gradient goroutines (0 = GOMAXPROCS)")
	f.IntVar(&checkpointInterval, "checkpoint-interval", 0, "Iterations between checkpoints")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID, dest := args[0], args[1]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		return &dice.ConfigurationError{Field: "job", Reason: fmt.Sprintf("no checkpoint for %s in %s", jobID, resumeDataDir)}
	}
	if err != nil {
		return err
	}
	if err := checkpoint.Validate(); err != nil {
		return &dice.ConfigurationError{Field: "checkpoint", Reason: err.Error()}
	}

	cfg := checkpoint.Config
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
		if err := checkpoint.IsCompatible(cfg); err != nil {
			return err
		}
	}
	applyOptimizerFlags(cmd, cfg)
	cfg.Mode = config.ModeOptimize
	cfg.Checkpoint.Dir = resumeDataDir
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.Info("Resuming from checkpoint",
		"job_id", jobID,
		"iteration", checkpoint.Iteration,
		"welfare", checkpoint.Welfare,
		"checkpoint_time", checkpoint.Timestamp,
	)

	out, runErr := executeRun(cmd.Context(), cfg, runOptions{
		RunID:           jobID,
		Starts:          []dice.Trajectory{checkpoint.Trajectory()},
		Resumed:         true,
		IterationOffset: checkpoint.Iteration,
	})
	return finishRun(cmd, dest, out, runErr)
}
