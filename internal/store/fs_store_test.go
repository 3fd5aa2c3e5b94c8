package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

func createTestCheckpoint(jobID string) *Checkpoint {
	return NewCheckpoint(jobID, []float64{.22, .1, .23, .2}, 52301.4, 52295.5, 40, testConfig())
}

func TestNewFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != dir {
		t.Errorf("BaseDir = %s, want %s", store.BaseDir(), dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Base directory was not created: %v", err)
	}
}

func TestSaveLoadCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "test-job-123"
	checkpoint := createTestCheckpoint(jobID)
	if err := store.SaveCheckpoint(jobID, checkpoint); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	path := filepath.Join(tempDir, "jobs", jobID, "checkpoint.json")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Checkpoint file was not created at %s", path)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file left behind")
	}

	loaded, err := store.LoadCheckpoint(jobID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if err := loaded.Validate(); err != nil {
		t.Errorf("loaded checkpoint invalid: %v", err)
	}
	if loaded.Welfare != checkpoint.Welfare || loaded.Iteration != checkpoint.Iteration {
		t.Errorf("loaded %+v, want %+v", loaded, checkpoint)
	}
	if err := loaded.IsCompatible(checkpoint.Config); err != nil {
		t.Errorf("loaded config incompatible with saved one: %v", err)
	}
}

func TestSaveCheckpoint_InvalidArguments(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveCheckpoint("", createTestCheckpoint("x")); err == nil {
		t.Error("Expected error for empty jobID")
	}
	if err := store.SaveCheckpoint("x", nil); err == nil {
		t.Error("Expected error for nil checkpoint")
	}
	if _, err := store.LoadCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID on load")
	}
}

func TestSaveCheckpoint_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	first := createTestCheckpoint("job")
	if err := store.SaveCheckpoint("job", first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	second := createTestCheckpoint("job")
	second.Iteration = 80
	second.Welfare = 52303
	if err := store.SaveCheckpoint("job", second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	loaded, err := store.LoadCheckpoint("job")
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if loaded.Iteration != 80 || loaded.Welfare != 52303 {
		t.Errorf("overwrite not visible: %+v", loaded)
	}
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadCheckpoint("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListCheckpoints(t *testing.T) {
	store, tempDir := setupTestStore(t)

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected 0 checkpoints, got %d", len(infos))
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "middle", "new"} {
		c := createTestCheckpoint(id)
		c.Timestamp = base.Add(time.Duration(i) * time.Hour)
		if err := store.SaveCheckpoint(id, c); err != nil {
			t.Fatalf("SaveCheckpoint(%s) failed: %v", id, err)
		}
	}

	// A directory without checkpoint.json, a corrupt checkpoint and a stray
	// file are skipped.
	os.MkdirAll(filepath.Join(tempDir, "jobs", "empty"), 0755)
	os.MkdirAll(filepath.Join(tempDir, "jobs", "corrupt"), 0755)
	os.WriteFile(filepath.Join(tempDir, "jobs", "corrupt", "checkpoint.json"), []byte("{"), 0644)
	os.WriteFile(filepath.Join(tempDir, "jobs", "stray.txt"), []byte("x"), 0644)

	infos, err = store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 checkpoints, got %d", len(infos))
	}
	for i, want := range []string{"new", "middle", "old"} {
		if infos[i].JobID != want {
			t.Errorf("infos[%d] = %s, want %s (newest first)", i, infos[i].JobID, want)
		}
	}
}

func TestDeleteCheckpoint(t *testing.T) {
	store, tempDir := setupTestStore(t)

	jobID := "doomed"
	if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	tw, err := store.TraceWriter(jobID, false)
	if err != nil {
		t.Fatalf("TraceWriter failed: %v", err)
	}
	tw.Close()

	if err := store.DeleteCheckpoint(jobID); err != nil {
		t.Fatalf("DeleteCheckpoint failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "jobs", jobID)); !os.IsNotExist(err) {
		t.Error("Job directory still exists after delete")
	}
	if err := store.DeleteCheckpoint(jobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.DeleteCheckpoint(""); err == nil {
		t.Error("Expected error for empty jobID")
	}
}

func TestSaveResults(t *testing.T) {
	store, _ := setupTestStore(t)

	p, err := dice.Build(dice.Overrides{Scalars: map[string]float64{"horizon": 3}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	states, err := dice.Run(p, dice.ConstantTrajectory(3, .22, .1), dice.DefaultInitialConditions())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := store.OpenResults("job"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound before saving, got %v", err)
	}
	if err := store.SaveResults("job", states); err != nil {
		t.Fatalf("SaveResults failed: %v", err)
	}

	rc, err := store.OpenResults("job")
	if err != nil {
		t.Fatalf("OpenResults failed: %v", err)
	}
	defer rc.Close()
	back, err := csvio.ReadStates(rc)
	if err != nil {
		t.Fatalf("ReadStates failed: %v", err)
	}
	if len(back) != len(states) {
		t.Fatalf("read %d states, want %d", len(back), len(states))
	}
	if back[3].TempAtmosphere != states[3].TempAtmosphere {
		t.Errorf("temperature = %g, want %g", back[3].TempAtmosphere, states[3].TempAtmosphere)
	}
}

func TestConcurrentSave(t *testing.T) {
	store, _ := setupTestStore(t)

	const numJobs = 10
	var wg sync.WaitGroup
	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			jobID := fmt.Sprintf("concurrent-job-%d", idx)
			if err := store.SaveCheckpoint(jobID, createTestCheckpoint(jobID)); err != nil {
				t.Errorf("Concurrent save failed for job %s: %v", jobID, err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := store.ListCheckpoints()
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(infos) != numJobs {
		t.Errorf("Expected %d checkpoints, got %d", numJobs, len(infos))
	}
}

var _ Store = (*FSStore)(nil)
