// Package utils holds small shared helpers.
package utils

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLWriter appends JSON records to a newline-delimited log file.
// Appends are serialized under a mutex so concurrent requests never
// interleave partial lines.
type JSONLWriter struct {
	mu   sync.Mutex
	path string
}

// NewJSONLWriter creates a writer for the given path. Parent directories
// are created on first append.
func NewJSONLWriter(path string) *JSONLWriter {
	return &JSONLWriter{path: path}
}

// Append serializes obj as one JSON line and appends it to the file
func (w *JSONLWriter) Append(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal jsonl record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log record: %w", err)
	}
	return nil
}

// Path returns the underlying file path
func (w *JSONLWriter) Path() string { return w.path }

// IterJSONL reads every well-formed JSON line from path. Missing files
// yield an empty slice; malformed lines are skipped.
func IterJSONL(path string, each func(raw json.RawMessage)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		each(raw)
	}
	return scanner.Err()
}
