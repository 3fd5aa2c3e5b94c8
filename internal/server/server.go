package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/dicesim/internal/config"
	"github.com/cwbudde/dicesim/internal/csvio"
	"github.com/cwbudde/dicesim/internal/dice"
	"github.com/cwbudde/dicesim/internal/store"
)

func logger() *slog.Logger { return slog.With("component", "server") }

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server

	// Jobs run under ctx and are tracked by wg so Shutdown can stop them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new HTTP server. A nil store keeps results in memory
// only and disables checkpoints.
func NewServer(addr string, st store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
		ctx:        ctx,
		cancel:     cancel,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed and wrapped handler of the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/healthz", s.handleHealth)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	logger().Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs, waits for their workers and gracefully
// shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger().Info("Shutting down HTTP server", "running_jobs", len(s.jobManager.GetRunningJobs()))
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return s.server.Shutdown(ctx)
}

// startJob runs the job in the background.
func (s *Server) startJob(jobID string) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.setCancel(jobID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.jobManager.clearCancel(jobID)
		if err := runJob(ctx, s.jobManager, s.store, jobID); err != nil {
			logger().Debug("Job ended with error", "job_id", jobID, "error", err)
		}
	}()
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if len(parts) == 1 && r.Method == http.MethodDelete {
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetJobStatus(w, r, jobID)
	} else if parts[1] == "results.csv" {
		s.handleGetResults(w, r, jobID)
	} else if parts[1] == "stream" {
		s.handleJobStream(w, r, jobID)
	} else {
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// JobRequest is the body of POST /api/v1/jobs. Omitted sections keep the
// defaults of the preset and driver; optimizer, bounds and controls are
// merged field by field.
type JobRequest struct {
	Mode         string               `json:"mode"`
	Preset       string               `json:"preset"`
	Horizon      int                  `json:"horizon"`
	Parameters   map[string]float64   `json:"parameters"`
	Paths        map[string][]float64 `json:"paths"`
	DamagesModel string               `json:"damagesModel"`
	Calibration  string               `json:"calibration"`
	Initial      map[string]float64   `json:"initial"`
	SCC          bool                 `json:"scc"`

	Controls  json.RawMessage `json:"controls"`
	Optimizer json.RawMessage `json:"optimizer"`
	Bounds    json.RawMessage `json:"bounds"`

	// CheckpointInterval is in optimizer iterations; zero keeps the default.
	CheckpointInterval int `json:"checkpointInterval"`
}

// Config converts the request into a validated run configuration.
func (req *JobRequest) Config() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if req.Mode != "" {
		cfg.Mode = req.Mode
	}
	if req.Preset != "" {
		cfg.Preset = req.Preset
	}
	cfg.Horizon = req.Horizon
	cfg.Model = dice.Overrides{
		Scalars:      req.Parameters,
		Paths:        req.Paths,
		DamagesModel: req.DamagesModel,
		Calibration:  req.Calibration,
	}
	cfg.Initial = req.Initial
	cfg.SCC = req.SCC
	if req.CheckpointInterval > 0 {
		cfg.Checkpoint.Interval = req.CheckpointInterval
	}

	sections := []struct {
		name string
		raw  json.RawMessage
		dst  any
	}{
		{"controls", req.Controls, &cfg.Controls},
		{"optimizer", req.Optimizer, &cfg.Optimizer},
		{"bounds", req.Bounds, &cfg.Bounds},
	}
	for _, sec := range sections {
		if len(sec.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(sec.raw, sec.dst); err != nil {
			return nil, &dice.ConfigurationError{Field: sec.name, Reason: err.Error()}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := cfg.Parameters()
	if err != nil {
		return nil, err
	}
	ic, err := cfg.InitialConditions(p)
	if err != nil {
		return nil, err
	}
	if cfg.Mode == config.ModeOptimize {
		_, err = cfg.DecisionBounds(p)
	} else {
		_, err = cfg.Trajectory(p, ic)
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req JobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := req.Config()
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job.ID)

	logger().Info("Job created", "job_id", job.ID, "mode", cfg.Mode)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// JobStatus is the body of GET /api/v1/jobs/:id/status.
type JobStatus struct {
	*Job
	Elapsed        float64 `json:"elapsed"`
	EvalsPerSecond float64 `json:"evalsPerSecond"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	elapsed := jobElapsed(job)
	status := JobStatus{Job: job, Elapsed: elapsed.Seconds()}
	if elapsed > 0 {
		status.EvalsPerSecond = float64(job.Evaluations) / elapsed.Seconds()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handleGetResults handles GET /api/v1/jobs/:id/results.csv
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", jobID+".csv"))

	if len(job.States) > 0 {
		if err := csvio.WriteStates(w, job.States); err != nil {
			logger().Error("Failed to write results", "job_id", jobID, "error", err)
		}
		return
	}

	if s.store == nil {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}
	rc, err := s.store.OpenResults(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open results: %v", err), http.StatusInternalServerError)
		return
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		logger().Error("Failed to copy results", "job_id", jobID, "error", err)
	}
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	found, cancelled := s.jobManager.CancelJob(jobID)
	switch {
	case !found:
		http.Error(w, "Job not found", http.StatusNotFound)
	case !cancelled:
		http.Error(w, "Job already finished", http.StatusConflict)
	default:
		logger().Info("Job cancel requested", "job_id", jobID)
		w.WriteHeader(http.StatusAccepted)
	}
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"runningJobs": len(s.jobManager.GetRunningJobs()),
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger().Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
