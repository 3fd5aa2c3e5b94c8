package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TraceEntry is one optimizer iteration, stored as a JSON line in
// trace.jsonl.
type TraceEntry struct {
	Iteration   int       `json:"iteration"`
	Start       int       `json:"start"`
	Welfare     float64   `json:"welfare"`
	Evaluations int       `json:"evaluations"`
	Timestamp   time.Time `json:"timestamp"`

	// Decision is the decision vector of the iteration. It is only recorded
	// with checkpoint.trace_decisions set.
	Decision []float64 `json:"decision,omitempty"`
}

func tracePath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, "trace.jsonl")
}

// TraceWriter appends entries to trace.jsonl through a buffer. Safe for
// concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter opens <baseDir>/jobs/<jobID>/trace.jsonl, truncating it
// unless append is set.
func NewTraceWriter(baseDir, jobID string, append bool) (*TraceWriter, error) {
	path := tracePath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write buffers one entry; it reaches the file on Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	data = append(data, '\n')

	tw.mu.Lock()
	defer tw.mu.Unlock()
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	return nil
}

// Flush writes buffered entries and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries line by line.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

// NewTraceReader opens the trace of jobID.
func NewTraceReader(baseDir, jobID string) (*TraceReader, error) {
	file, err := os.Open(tracePath(baseDir, jobID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Lines with decision vectors of long horizons exceed the default limit.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF after the last one.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
	}
	return &entry, nil
}

// ReadAll reads the remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// DeleteTrace removes the trace of jobID. A missing trace is not an error.
func DeleteTrace(baseDir, jobID string) error {
	err := os.Remove(tracePath(baseDir, jobID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete trace file: %w", err)
	}
	return nil
}
