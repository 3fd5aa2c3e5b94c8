package store

import (
	"errors"
	"testing"

	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
	"github.com/google/go-cmp/cmp"
)

func TestRecorder_CheckpointsAtInterval(t *testing.T) {
	st, _ := setupTestStore(t)
	cfg := testConfig()
	cfg.Checkpoint.Interval = 2

	rec := NewRecorder(st, "job", cfg, 9, false)
	tracker := policy.NewTracker(0)

	decisions := [][]float64{{.22, .1, .23, .2}, {.22, .15, .23, .25}, {.21, .12, .2, .3}}
	for i, d := range decisions {
		pr := policy.Progress{Iteration: i + 1, Welfare: 10 + float64(i), Decision: d, Evaluations: 5 * (i + 1)}
		rec.Record(pr, tracker.Observe(pr))

		cp, err := st.LoadCheckpoint("job")
		switch i {
		case 0:
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("no checkpoint expected after one iteration, got %v", err)
			}
		default:
			if err != nil {
				t.Fatalf("LoadCheckpoint failed: %v", err)
			}
			if cp.Iteration != 2 {
				t.Errorf("checkpoint iteration = %d, want 2", cp.Iteration)
			}
			if diff := cmp.Diff(decisions[1], cp.Decision); diff != "" {
				t.Errorf("checkpoint decision mismatch (-want +got):\n%s", diff)
			}
			if cp.InitialWelfare != 9 {
				t.Errorf("initial welfare = %g, want 9", cp.InitialWelfare)
			}
		}
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := NewTraceReader(st.BaseDir(), "job")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 3 || entries[2].Iteration != 3 || entries[2].Evaluations != 15 {
		t.Errorf("unexpected trace: %+v", entries)
	}
}

func TestRecorder_Finish(t *testing.T) {
	st, _ := setupTestStore(t)
	rec := NewRecorder(st, "job", testConfig(), 0, false)
	defer rec.Close()

	if err := rec.Finish(nil); err != nil {
		t.Errorf("Finish(nil) = %v", err)
	}

	res := &policy.Result{
		Controls:        dice.Trajectory{{Savings: .22, ControlRate: .1}, {Savings: .23, ControlRate: .2}},
		Welfare:         12,
		BaselineWelfare: 9,
		Iterations:      7,
	}
	if err := rec.Finish(res); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	cp, err := st.LoadCheckpoint("job")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if cp.Welfare != 12 || cp.InitialWelfare != 9 || cp.Iteration != 7 {
		t.Errorf("final checkpoint = %+v", cp)
	}
	if diff := cmp.Diff(res.Controls, cp.Trajectory()); diff != "" {
		t.Errorf("trajectory mismatch (-want +got):\n%s", diff)
	}
}

func TestRecorder_ResumeAppendsTrace(t *testing.T) {
	st, _ := setupTestStore(t)
	cfg := testConfig()
	cfg.Checkpoint.Interval = 0

	for round, resumed := range []bool{false, true} {
		rec := NewRecorder(st, "job", cfg, 9, resumed)
		tracker := policy.NewTracker(round)
		pr := policy.Progress{Welfare: 10, Decision: []float64{.2, .1, .2, .1}}
		rec.Record(pr, tracker.Observe(pr))
		rec.Close()
	}

	reader, err := NewTraceReader(st.BaseDir(), "job")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Iteration != 1 || entries[1].Iteration != 2 {
		t.Errorf("unexpected trace: %+v", entries)
	}
	if _, err := st.LoadCheckpoint("job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("interval 0 should not checkpoint, got %v", err)
	}
}

func TestRecorder_TraceDecisions(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		st, _ := setupTestStore(t)
		cfg := testConfig()
		cfg.Checkpoint.Interval = 0
		cfg.Checkpoint.TraceDecisions = enabled

		rec := NewRecorder(st, "job", cfg, 9, false)
		decision := []float64{.2, .1, .2, .1}
		pr := policy.Progress{Welfare: 10, Decision: decision}
		rec.Record(pr, policy.NewTracker(0).Observe(pr))
		decision[0] = 1
		if err := rec.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		reader, err := NewTraceReader(st.BaseDir(), "job")
		if err != nil {
			t.Fatalf("NewTraceReader failed: %v", err)
		}
		entries, err := reader.ReadAll()
		reader.Close()
		if err != nil || len(entries) != 1 {
			t.Fatalf("ReadAll = %+v, %v", entries, err)
		}

		var want []float64
		if enabled {
			want = []float64{.2, .1, .2, .1}
		}
		if diff := cmp.Diff(want, entries[0].Decision); diff != "" {
			t.Errorf("trace_decisions=%v: decision mismatch (-want +got):\n%s", enabled, diff)
		}
	}
}
