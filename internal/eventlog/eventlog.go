// Package eventlog builds the crawler's slog loggers and owns the append-only
// event file that the control plane reads back.
package eventlog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"website-extractor/internal/config"
)

// ParseLevel maps a config level string onto an slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", level)
	}
}

// New builds a logger writing to every writer in out.
func New(cfg config.LoggingConfig, out ...io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var w io.Writer
	switch len(out) {
	case 0:
		w = os.Stdout
	case 1:
		w = out[0]
	default:
		w = io.MultiWriter(out...)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Structured {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// File is an append-only event log shared by every crawl in the process.
type File struct {
	path string
	mu   sync.Mutex
	fh   *os.File
}

// Open opens (creating if needed) the event log at path in append mode.
func Open(path string) (*File, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &File{path: path, fh: fh}, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write appends p. Concurrent writers never interleave within a record.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fh.Write(p)
}

// Close releases the file handle.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fh.Close()
}

// ReadLines returns the log's lines, keeping only the last limit when limit > 0.
func ReadLines(path string, limit int) ([]string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer fh.Close()

	lines := make([]string, 0, 64)
	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if limit > 0 && len(lines) > 2*limit {
			lines = append(lines[:0], lines[len(lines)-limit:]...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return lines, nil
}
