package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Job is a background simulate or optimize run.
type Job struct {
	ID     string         `json:"id"`
	State  JobState       `json:"state"`
	Config *config.Config `json:"config"`

	Welfare        float64   `json:"welfare"`
	InitialWelfare float64   `json:"initialWelfare"`
	Decision       []float64 `json:"decision,omitempty"`
	Iterations     int       `json:"iterations"`
	Evaluations    int       `json:"evaluations"`
	Converged      bool      `json:"converged"`
	Reason         string    `json:"reason,omitempty"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	// States is the result sequence, served as CSV.
	States []dice.State `json:"-"`
}

// Finished reports whether the job reached a terminal state.
func (j *Job) Finished() bool {
	return j.State == StateCompleted || j.State == StateFailed || j.State == StateCancelled
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for cfg.
func (jm *JobManager) CreateJob(cfg *config.Config) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}
	jm.jobs[job.ID] = job

	snapshot := *job
	return &snapshot
}

// GetJob returns a snapshot of the job.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		snapshot := *job
		jobs = append(jobs, &snapshot)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].StartTime.Before(jobs[k].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			snapshot := *job
			runningJobs = append(runningJobs, &snapshot)
		}
	}
	return runningJobs
}

// setCancel records how to stop a started job.
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.cancels[id] = cancel
}

// clearCancel releases the cancel function once the job has ended.
func (jm *JobManager) clearCancel(id string) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	if cancel, ok := jm.cancels[id]; ok {
		cancel()
		delete(jm.cancels, id)
	}
}

// CancelJob stops a pending or running job. It reports false when the job
// does not exist or has already finished.
func (jm *JobManager) CancelJob(id string) (found, cancelled bool) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return false, false
	}
	cancel, ok := jm.cancels[id]
	if !ok || job.Finished() {
		return true, false
	}
	cancel()
	return true, true
}
