package adpulse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Backend receives batches of poll samples.
type Backend interface {
	Name() string

	// Initialize connects the sink. The pipeline calls it once before
	// any Write.
	Initialize(ctx context.Context) error

	// Write sends a batch of samples to the backend.
	Write(ctx context.Context, samples []*Sample) error

	Close() error

	// Healthy reports whether the last write or health probe succeeded.
	Healthy() bool
}

// Echo is a debug backend that writes samples as line protocol to an io.Writer.
type Echo struct {
	logger *slog.Logger

	mu      sync.RWMutex
	writer  io.Writer
	lines   int
	healthy bool
}

// NewEcho creates a new Echo backend that writes to the given writer.
func NewEcho(w io.Writer, logger *slog.Logger) *Echo {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{
		writer:  w,
		logger:  logger,
		healthy: true,
	}
}

// NewEchoStdout creates an Echo backend that writes to stdout.
func NewEchoStdout(logger *slog.Logger) *Echo {
	return NewEcho(os.Stdout, logger)
}

func (e *Echo) Name() string {
	return "echo"
}

func (e *Echo) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.logger.Debug("echo backend initialized")
	return nil
}

func (e *Echo) Write(ctx context.Context, batch []*Sample) error {
	var b strings.Builder
	for _, s := range batch {
		b.WriteString(s.ToLineProtocol())
		b.WriteByte('\n')
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// One write per batch so concurrent readers never see half a batch.
	if _, err := io.WriteString(e.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write %d samples: %w", len(batch), err)
	}
	e.lines += len(batch)

	e.logger.Debug("echoed samples", "count", len(batch), "total", e.lines)
	return nil
}

// Lines returns how many samples have been echoed.
func (e *Echo) Lines() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lines
}

func (e *Echo) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	e.logger.Debug("echo backend closed")
	return nil
}

func (e *Echo) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// Compile-time check that Echo implements Backend.
var _ Backend = (*Echo)(nil)
