package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent represents a progress update event
type ProgressEvent struct {
	JobID          string    `json:"jobId"`
	State          JobState  `json:"state"`
	Iterations     int       `json:"iterations"`
	Welfare        float64   `json:"welfare"`
	InitialWelfare float64   `json:"initialWelfare"`
	Evaluations    int       `json:"evaluations"`
	EvalsPerSecond float64   `json:"evalsPerSecond"`
	Timestamp      time.Time `json:"timestamp"`
}

// newProgressEvent snapshots job at the current time.
func newProgressEvent(job *Job) ProgressEvent {
	event := ProgressEvent{
		JobID:          job.ID,
		State:          job.State,
		Iterations:     job.Iterations,
		Welfare:        job.Welfare,
		InitialWelfare: job.InitialWelfare,
		Evaluations:    job.Evaluations,
		Timestamp:      time.Now(),
	}
	if elapsed := jobElapsed(job).Seconds(); elapsed > 0 {
		event.EvalsPerSecond = float64(job.Evaluations) / elapsed
	}
	return event
}

// EventBroadcaster manages SSE connections for a job
type EventBroadcaster struct {
	mu        sync.Mutex
	clients   map[string]map[chan ProgressEvent]bool // jobID -> set of client channels
	lastEvent map[string]ProgressEvent               // jobID -> last event for new clients
}

// NewEventBroadcaster creates a new event broadcaster
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]bool),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe adds a client to receive events for a job
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 10)

	if eb.clients[jobID] == nil {
		eb.clients[jobID] = make(map[chan ProgressEvent]bool)
	}
	eb.clients[jobID][ch] = true

	// Replay the last event for reconnecting clients
	if lastEvent, ok := eb.lastEvent[jobID]; ok {
		select {
		case ch <- lastEvent:
		default:
		}
	}

	logger().Debug("SSE client subscribed", "jobID", jobID, "total_clients", len(eb.clients[jobID]))
	return ch
}

// Unsubscribe removes a client from receiving events
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[jobID]; ok {
		if clients[ch] {
			delete(clients, ch)
			close(ch)
		}
		if len(clients) == 0 {
			delete(eb.clients, jobID)
		}
	}

	logger().Debug("SSE client unsubscribed", "jobID", jobID)
}

// Broadcast sends an event to all subscribed clients for a job
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.JobID] = event

	clients, ok := eb.clients[event.JobID]
	if !ok || len(clients) == 0 {
		return
	}

	logger().Debug("Broadcasting event", "jobID", event.JobID, "clients", len(clients), "iterations", event.Iterations)

	for ch := range clients {
		select {
		case ch <- event:
		default:
			// Slow clients miss events rather than block the worker.
			logger().Warn("SSE channel full, skipping event", "jobID", event.JobID)
		}
	}
}

// Finish delivers a terminal event and then closes every client of the job.
// The event stays available to clients that subscribe later.
func (eb *EventBroadcaster) Finish(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.JobID] = event
	for ch := range eb.clients[event.JobID] {
		select {
		case ch <- event:
		default:
			// Make room by dropping the oldest pending event.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- event:
			default:
			}
		}
		close(ch)
	}
	delete(eb.clients, event.JobID)
}

// CleanupJob removes all clients and cached events for a job
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[jobID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(eb.clients, jobID)
	}

	delete(eb.lastEvent, jobID)
	logger().Debug("Cleaned up SSE resources", "jobID", jobID)
}

// handleJobStream handles SSE connections for job progress
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, eventChan)

	// Re-read after subscribing: a job that finished in between has already
	// closed its clients, so it gets a single event.
	if job, _ = s.jobManager.GetJob(jobID); job.Finished() {
		if err := writeSSEEvent(w, newProgressEvent(job)); err != nil {
			logger().Error("Failed to write SSE event", "error", err)
		}
		flusher.Flush()
		return
	}

	if err := writeSSEEvent(w, newProgressEvent(job)); err != nil {
		logger().Error("Failed to write initial SSE event", "error", err)
		return
	}
	flusher.Flush()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger().Debug("SSE client disconnected", "jobID", jobID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				logger().Error("Failed to write SSE event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an event in SSE format
func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// SSE format: "data: {json}\n\n"
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
