package store

import (
	"io"
	"log/slog"

	"github.com/cwbudde/dicesim/internal/dice"
)

func logger() *slog.Logger { return slog.With("component", "store") }

// Store persists optimization checkpoints and run results. Implementations
// must be safe for concurrent use.
//
// Load and Delete return an error matching ErrNotFound when the job has no
// checkpoint. Other failures are wrapped with context.
type Store interface {
	// SaveCheckpoint atomically replaces the checkpoint of jobID.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint of jobID.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for every readable checkpoint.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the job directory: checkpoint.json,
	// results.csv and trace.jsonl.
	DeleteCheckpoint(jobID string) error

	// SaveResults atomically writes the state sequence of a finished run.
	SaveResults(jobID string, states []dice.State) error

	// OpenResults opens the results.csv of jobID.
	OpenResults(jobID string) (io.ReadCloser, error)
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint, trace or result file.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
