package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
)

// FSStore keeps each job in <baseDir>/jobs/<jobID>/ as checkpoint.json,
// results.csv and trace.jsonl.
//
// Writes go to a temporary file that is renamed into place, so readers never
// see a partial file and concurrent calls need no locks.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a store rooted at baseDir, creating the directory.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir is the root directory of the store.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) checkpointPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "checkpoint.json")
}

func (fs *FSStore) resultsPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "results.csv")
}

// writeAtomic writes data next to path and renames it into place.
func (fs *FSStore) writeAtomic(jobID, path string, data []byte) error {
	if err := os.MkdirAll(fs.jobDir(jobID), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(tempPath), err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(tempPath), err)
	}
	return nil
}

// SaveCheckpoint atomically saves a checkpoint for the given job.
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	path := fs.checkpointPath(jobID)
	if err := fs.writeAtomic(jobID, path, data); err != nil {
		return err
	}

	logger().Debug("Checkpoint saved", "jobID", jobID, "iteration", checkpoint.Iteration, "welfare", checkpoint.Welfare)
	return nil
}

// LoadCheckpoint retrieves the checkpoint for the given job.
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	data, err := os.ReadFile(fs.checkpointPath(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}

	logger().Debug("Checkpoint loaded", "jobID", jobID)
	return &checkpoint, nil
}

// ListCheckpoints returns metadata for all readable checkpoints, newest
// first. Corrupt checkpoints are logged and skipped.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "jobs"))
	if errors.Is(err, os.ErrNotExist) {
		return []CheckpointInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		jobID := entry.Name()
		if _, err := os.Stat(fs.checkpointPath(jobID)); err != nil {
			continue
		}
		checkpoint, err := fs.LoadCheckpoint(jobID)
		if err != nil {
			logger().Warn("Failed to load checkpoint for listing", "jobID", jobID, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	logger().Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the job directory and everything in it.
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	jobDir := fs.jobDir(jobID)
	if _, err := os.Stat(jobDir); errors.Is(err, os.ErrNotExist) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}
	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	logger().Debug("Checkpoint deleted", "jobID", jobID, "path", jobDir)
	return nil
}

// SaveResults writes states as results.csv.
func (fs *FSStore) SaveResults(jobID string, states []dice.State) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	var buf bytes.Buffer
	if err := csvio.WriteStates(&buf, states); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := fs.writeAtomic(jobID, fs.resultsPath(jobID), buf.Bytes()); err != nil {
		return err
	}
	logger().Debug("Results saved", "jobID", jobID, "periods", len(states))
	return nil
}

// OpenResults opens results.csv of the given job.
func (fs *FSStore) OpenResults(jobID string) (io.ReadCloser, error) {
	f, err := os.Open(fs.resultsPath(jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open results: %w", err)
	}
	return f, nil
}

// TraceWriter opens the trace of jobID, see NewTraceWriter.
func (fs *FSStore) TraceWriter(jobID string, append bool) (*TraceWriter, error) {
	return NewTraceWriter(fs.baseDir, jobID, append)
}
