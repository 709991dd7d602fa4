// Package faillog is the process-wide, append-only record of stage failures.
// Every failed attempt (first or final) is written with its timestamp, item
// key, stage and error message. The log is write-only during a run; nothing
// in the pipeline reads it back.
package faillog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Failure describes one failed stage attempt.
type Failure struct {
	Time    time.Time `json:"time"`
	RunID   string    `json:"runId,omitempty"`
	Item    string    `json:"item"`
	Stage   string    `json:"stage"`
	Attempt int       `json:"attempt"`
	Final   bool      `json:"final"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Sink persists failures.
type Sink interface {
	Record(ctx context.Context, f Failure) error
}

// SinkFunc adapts a function to Sink. Backing stores (e.g. the DynamoDB run
// store) provide their own write function.
type SinkFunc func(ctx context.Context, f Failure) error

func (fn SinkFunc) Record(ctx context.Context, f Failure) error { return fn(ctx, f) }

// FileLog appends failures as JSON lines to error_<YYYYmmdd_HHMMSS>.log.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	out  zerolog.Logger
	path string
}

// Compile-time interface check.
var _ Sink = (*FileLog)(nil)

// Open creates the log directory if needed and opens a new log file named
// after start.
func Open(dir string, start time.Time) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("error_%s.log", start.Format("20060102_150405")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FileLog{
		file: f,
		out:  zerolog.New(zerolog.SyncWriter(f)),
		path: path,
	}, nil
}

// Path returns the log file path.
func (l *FileLog) Path() string { return l.path }

func (l *FileLog) Record(_ context.Context, f Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("failure log closed")
	}
	l.out.Error().
		Time("time", f.Time).
		Str("runId", f.RunID).
		Str("item", f.Item).
		Str("stage", f.Stage).
		Int("attempt", f.Attempt).
		Bool("final", f.Final).
		Str("kind", f.Kind).
		Msg(f.Message)
	return nil
}

// Close flushes and closes the file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Recorder logs each failure and fans it out to every sink. A sink error is
// logged and never masks the original failure.
type Recorder struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewRecorder creates a Recorder writing to sinks. Nil sinks are skipped.
func NewRecorder(logger zerolog.Logger, sinks ...Sink) *Recorder {
	r := &Recorder{logger: logger}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Record logs the failure and writes it to all sinks.
func (r *Recorder) Record(ctx context.Context, f Failure) {
	if f.Time.IsZero() {
		f.Time = time.Now().UTC()
	}
	evt := r.logger.Warn()
	if f.Final {
		evt = r.logger.Error()
	}
	evt.
		Str("item", f.Item).
		Str("stage", f.Stage).
		Int("attempt", f.Attempt).
		Str("kind", f.Kind).
		Bool("final", f.Final).
		Str("error", f.Message).
		Msg("Stage attempt failed")

	for _, s := range r.sinks {
		if err := s.Record(ctx, f); err != nil {
			log.Warn().Err(err).Str("item", f.Item).Msg("Failed to persist failure record")
		}
	}
}
