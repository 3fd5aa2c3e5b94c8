package server

import (
	"context"
	"testing"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
)

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	cfg := config.DefaultConfig()
	cfg.Preset = "stern"
	job := jm.CreateJob(cfg)

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Preset != "stern" {
		t.Errorf("Config not set correctly")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.DefaultConfig())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// Snapshots do not alias the stored job.
	retrieved.State = StateFailed
	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("snapshot mutation leaked into manager: %s", again.State)
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(config.DefaultConfig())
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(config.DefaultConfig())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.DefaultConfig())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.Welfare = 2668.5
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning {
		t.Error("State should be updated")
	}
	if updated.Iterations != 10 {
		t.Error("Iterations should be updated")
	}
	if updated.Welfare != 2668.5 {
		t.Error("Welfare should be updated")
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Job should be listed as running")
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.DefaultConfig())

	if found, cancelled := jm.CancelJob("nonexistent"); found || cancelled {
		t.Error("Cancelling a nonexistent job should report not found")
	}
	if _, cancelled := jm.CancelJob(job.ID); cancelled {
		t.Error("A job that was never started cannot be cancelled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	jm.setCancel(job.ID, cancel)

	found, cancelled := jm.CancelJob(job.ID)
	if !found || !cancelled {
		t.Fatalf("CancelJob = %v, %v; want true, true", found, cancelled)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCancelled })
	if _, cancelled := jm.CancelJob(job.ID); cancelled {
		t.Error("A finished job cannot be cancelled again")
	}

	jm.clearCancel(job.ID)
	if _, cancelled := jm.CancelJob(job.ID); cancelled {
		t.Error("Cleared job should not be cancellable")
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(config.DefaultConfig())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(iteration int) {
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Iterations = iteration
				time.Sleep(1 * time.Millisecond)
			})
			jm.GetJob(job.ID)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}
