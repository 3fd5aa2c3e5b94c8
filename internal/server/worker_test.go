package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/store"
)

// testConfig is a short-horizon run that finishes in well under a second.
func testConfig(mode string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Mode = mode
	cfg.Horizon = 6
	cfg.Bounds.MiuTailPeriods = 1
	cfg.Optimizer.MaxIterations = 40
	cfg.Optimizer.FTol = 1e-4
	cfg.Optimizer.XTol = 1
	cfg.Optimizer.Patience = 2
	cfg.Optimizer.Workers = 2
	cfg.Checkpoint.Interval = 5
	return cfg
}

func TestRunJob_Simulate(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig(config.ModeSimulate)
	cfg.SCC = true
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if len(updated.States) != 7 {
		t.Fatalf("Expected 7 states, got %d", len(updated.States))
	}
	if updated.Welfare != dice.Welfare(updated.States) {
		t.Errorf("Welfare = %g, want %g", updated.Welfare, dice.Welfare(updated.States))
	}
	if !(updated.States[0].SocialCostOfCarbon > 0) {
		t.Errorf("SCC should be filled, got %g", updated.States[0].SocialCostOfCarbon)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
}

func TestRunJob_Optimize(t *testing.T) {
	jm := NewJobManager()
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	job := jm.CreateJob(testConfig(config.ModeOptimize))

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s (%s)", updated.State, updated.Error)
	}
	if updated.Welfare < updated.InitialWelfare {
		t.Errorf("Welfare %g below baseline %g", updated.Welfare, updated.InitialWelfare)
	}
	if updated.Iterations == 0 || updated.Evaluations == 0 {
		t.Errorf("Progress not recorded: %d iterations, %d evaluations", updated.Iterations, updated.Evaluations)
	}
	if len(updated.Decision) != 12 {
		t.Errorf("Expected 12 decision entries, got %d", len(updated.Decision))
	}

	// The final checkpoint holds the optimum and resumes the same model.
	cp, err := st.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Welfare != updated.Welfare {
		t.Errorf("checkpoint welfare = %g, want %g", cp.Welfare, updated.Welfare)
	}
	if err := cp.IsCompatible(updated.Config); err != nil {
		t.Errorf("checkpoint incompatible with its own job: %v", err)
	}

	rc, err := st.OpenResults(job.ID)
	if err != nil {
		t.Fatalf("OpenResults failed: %v", err)
	}
	rc.Close()

	reader, err := store.NewTraceReader(st.BaseDir(), job.ID)
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != updated.Iterations {
		t.Errorf("trace has %d entries, want %d", len(entries), updated.Iterations)
	}
}

func TestRunJob_ConvergenceFailureCompletes(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig(config.ModeOptimize)
	cfg.Optimizer.MaxIterations = 1
	cfg.Optimizer.FTol = 0
	cfg.Optimizer.XTol = 0
	cfg.Optimizer.GTol = 0
	job := jm.CreateJob(cfg)

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should report convergence on the job, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Fatalf("Job should be completed, got %s", updated.State)
	}
	if updated.Converged {
		t.Error("Job should not be converged")
	}
	if updated.Reason == "" {
		t.Error("Reason should explain the convergence failure")
	}
	if len(updated.States) == 0 {
		t.Error("Best-effort states should be kept")
	}
}

func TestRunJob_InvalidConfiguration(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig(config.ModeSimulate)
	cfg.Preset = "nonexistent"
	job := jm.CreateJob(cfg)

	err := runJob(context.Background(), jm, nil, job.ID)
	if !errors.Is(err, dice.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	cfg := testConfig(config.ModeOptimize)
	cfg.Horizon = 0
	cfg.Optimizer.MaxIterations = 100000
	cfg.Optimizer.FTol = 0
	cfg.Optimizer.XTol = 0
	cfg.Optimizer.GTol = 0
	cfg.Optimizer.Patience = 0
	job := jm.CreateJob(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, job.ID)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("runJob should return context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runJob did not stop after cancellation")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}
