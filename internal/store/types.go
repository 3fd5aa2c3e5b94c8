package store

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/policy"
)

// Checkpoint is the saved state of an optimization run that can be resumed
// later.
//
// Only the best decision vector is saved, not the optimizer's internal
// state (spectral step length, Mayfly population). Resume restarts the
// search with the checkpointed trajectory as the first start, so welfare
// never drops below the checkpoint but the iteration path differs from an
// uninterrupted run.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Decision is the full decision vector (savings and control rate per
	// period, see policy.DecisionVector) of the best trajectory so far.
	Decision []float64 `json:"decision"`

	Welfare        float64 `json:"welfare"`
	InitialWelfare float64 `json:"initialWelfare"`

	// Iteration counts optimizer iterations over all starts.
	Iteration int       `json:"iteration"`
	Start     int       `json:"start"`
	Timestamp time.Time `json:"timestamp"`

	// Config is the run configuration, checked on resume.
	Config *config.Config `json:"config"`
}

// CheckpointInfo is the listing view of a checkpoint, without the decision
// vector.
type CheckpointInfo struct {
	JobID          string    `json:"jobId"`
	Welfare        float64   `json:"welfare"`
	InitialWelfare float64   `json:"initialWelfare"`
	Iteration      int       `json:"iteration"`
	Timestamp      time.Time `json:"timestamp"`
	Preset         string    `json:"preset"`
	Horizon        int       `json:"horizon"`
	Method         string    `json:"method"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(jobID string, decision []float64, welfare, initialWelfare float64, iteration int, cfg *config.Config) *Checkpoint {
	return &Checkpoint{
		JobID:          jobID,
		Decision:       append([]float64(nil), decision...),
		Welfare:        welfare,
		InitialWelfare: initialWelfare,
		Iteration:      iteration,
		Timestamp:      time.Now(),
		Config:         cfg,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	info := CheckpointInfo{
		JobID:          c.JobID,
		Welfare:        c.Welfare,
		InitialWelfare: c.InitialWelfare,
		Iteration:      c.Iteration,
		Timestamp:      c.Timestamp,
		Horizon:        len(c.Decision) / 2,
	}
	if c.Config != nil {
		info.Preset = c.Config.Preset
		info.Method = c.Config.Optimizer.Method
	}
	return info
}

// Trajectory decodes the checkpointed decision vector.
func (c *Checkpoint) Trajectory() dice.Trajectory {
	dv := &policy.DecisionVector{Data: c.Decision, Horizon: len(c.Decision) / 2}
	return dv.Trajectory()
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Decision) == 0 {
		return &ValidationError{Field: "Decision", Reason: "cannot be empty"}
	}
	if len(c.Decision)%2 != 0 {
		return &ValidationError{Field: "Decision", Reason: "length must be a multiple of 2"}
	}
	for i, v := range c.Decision {
		if math.IsNaN(v) || v < 0 {
			return &ValidationError{Field: "Decision", Reason: fmt.Sprintf("entry %d is %g", i, v)}
		}
	}
	if math.IsNaN(c.Welfare) || math.IsInf(c.Welfare, 0) {
		return &ValidationError{Field: "Welfare", Reason: "must be finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config == nil {
		return &ValidationError{Field: "Config", Reason: "cannot be nil"}
	}
	if h := c.Config.Horizon; h > 0 && len(c.Decision) != 2*h {
		return &ValidationError{
			Field:  "Decision",
			Reason: fmt.Sprintf("length mismatch: expected %d entries for horizon %d", 2*h, h),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks that a run configured by cfg optimizes the same model
// as the checkpointed one.
func (c *Checkpoint) IsCompatible(cfg *config.Config) error {
	if c.Config == nil {
		return &CompatibilityError{Field: "Config", Expected: "a configuration", Actual: "none"}
	}
	if c.Config.Preset != cfg.Preset {
		return &CompatibilityError{Field: "Preset", Expected: c.Config.Preset, Actual: cfg.Preset}
	}
	if c.Config.Horizon != cfg.Horizon {
		return &CompatibilityError{
			Field:    "Horizon",
			Expected: fmt.Sprintf("%d", c.Config.Horizon),
			Actual:   fmt.Sprintf("%d", cfg.Horizon),
		}
	}
	if c.Config.Model.DamagesModel != cfg.Model.DamagesModel {
		return &CompatibilityError{Field: "DamagesModel", Expected: c.Config.Model.DamagesModel, Actual: cfg.Model.DamagesModel}
	}
	if !maps.Equal(c.Config.Model.Scalars, cfg.Model.Scalars) {
		return &CompatibilityError{
			Field:    "Parameters",
			Expected: fmt.Sprintf("%v", c.Config.Model.Scalars),
			Actual:   fmt.Sprintf("%v", cfg.Model.Scalars),
		}
	}
	if c.Config.Model.Calibration != cfg.Model.Calibration {
		return &CompatibilityError{Field: "Calibration", Expected: c.Config.Model.Calibration, Actual: cfg.Model.Calibration}
	}
	if !maps.EqualFunc(c.Config.Model.Paths, cfg.Model.Paths, slices.Equal[[]float64]) {
		return &CompatibilityError{Field: "Paths", Expected: "checkpointed path overrides", Actual: "different overrides"}
	}
	if !maps.Equal(c.Config.Initial, cfg.Initial) {
		return &CompatibilityError{
			Field:    "Initial",
			Expected: fmt.Sprintf("%v", c.Config.Initial),
			Actual:   fmt.Sprintf("%v", cfg.Initial),
		}
	}
	if !sameControls(c.Config.Controls, cfg.Controls) {
		return &CompatibilityError{Field: "Controls", Expected: "checkpointed controls", Actual: "different controls"}
	}
	return nil
}

func sameControls(a, b config.ControlsConfig) bool {
	if !slices.Equal(a.SavingsPath, b.SavingsPath) || !slices.Equal(a.MiuPath, b.MiuPath) || !slices.Equal(a.CarbonTax, b.CarbonTax) {
		return false
	}
	if a.Treaty == nil || b.Treaty == nil {
		return a.Treaty == b.Treaty
	}
	return *a.Treaty == *b.Treaty
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

// Is makes a compatibility error count as a configuration error.
func (e *CompatibilityError) Is(target error) bool {
	return target == dice.ErrConfiguration
}
