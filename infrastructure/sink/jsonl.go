// Package sink provides the append-only persistence adapters. Each sink
// instance backs one logical stream as a JSONL file: the full-batch audit
// stream records every terminal outcome, and the accepted-pairs stream
// records only preference pairs.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ahrav/go-crucible/internal/ports"
)

// Retry defaults for transient write failures.
const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 100 * time.Millisecond
	defaultMaxDelay   = 5 * time.Second
)

// ErrRetriesExhausted wraps the final write error once the bounded retry
// budget is spent. The caller decides whether to abandon the record; the
// sink never drops it silently.
var ErrRetriesExhausted = errors.New("append retries exhausted")

// Option configures a JSONLSink.
type Option func(*JSONLSink)

// WithRetry overrides the bounded retry policy for failed writes.
func WithRetry(maxRetries int, baseDelay, maxDelay time.Duration) Option {
	return func(s *JSONLSink) {
		s.maxRetries = maxRetries
		s.baseDelay = baseDelay
		s.maxDelay = maxDelay
	}
}

// WithLogger sets the sink's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *JSONLSink) { s.logger = logger }
}

// JSONLSink appends JSON-encoded records, one per line, to a single file
// opened with O_APPEND. Writes are serialized under a mutex so concurrent
// appends from the aggregator and the sweep cannot interleave lines.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	path string

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	logger *slog.Logger
}

var _ ports.RecordSink = (*JSONLSink)(nil)

// NewJSONLSink opens (creating if necessary) the stream file at path.
func NewJSONLSink(path string, opts ...Option) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to open sink file: %w", err)
	}

	s := &JSONLSink{
		file:       file,
		path:       path,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		maxDelay:   defaultMaxDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Append writes one record as a JSON line, retrying transient failures
// with exponential backoff. Exhaustion is logged and reported to the
// caller wrapped in ErrRetriesExhausted.
func (s *JSONLSink) Append(ctx context.Context, record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	line = append(line, '\n')

	var lastErr error
	delay := s.baseDelay
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.maxDelay {
				delay = s.maxDelay
			}
		}

		if lastErr = s.writeLine(line); lastErr == nil {
			return nil
		}

		s.logger.Warn("sink append failed",
			slog.String("stream", s.path),
			slog.Int("attempt", attempt+1),
			slog.Any("error", lastErr))
	}

	s.logger.Error("sink append retries exhausted",
		slog.String("stream", s.path),
		slog.Int("max_retries", s.maxRetries),
		slog.Any("error", lastErr))
	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

func (s *JSONLSink) writeLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(line); err != nil {
		return err
	}
	return s.file.Sync()
}

// Path returns the stream's file path.
func (s *JSONLSink) Path() string { return s.path }

// Close flushes and closes the stream file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
