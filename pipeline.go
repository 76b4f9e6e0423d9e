package adpulse

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PipelineConfig configures the sample pipeline.
type PipelineConfig struct {
	BatchSize     int
	MaxBuffered   int // oldest samples are dropped beyond this
	FlushInterval time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// DefaultPipelineConfig returns sensible pipeline defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:     10,
		MaxBuffered:   1000,
		FlushInterval: 10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
		Logger:        slog.Default(),
	}
}

// Pipeline batches samples from the coordinator and delivers them to the
// backends. It implements Recorder.
type Pipeline struct {
	backends []Backend
	cfg      PipelineConfig
	logger   *slog.Logger
	sleep    SleepFunc

	mu      sync.Mutex
	buffer  []*Sample
	dropped int64

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPipeline creates a new sample pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	def := DefaultPipelineConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxBuffered < cfg.BatchSize {
		cfg.MaxBuffered = max(def.MaxBuffered, cfg.BatchSize)
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
		sleep:  sleepContext,
		buffer: make([]*Sample, 0, cfg.BatchSize),
		done:   make(chan struct{}),
	}
}

// AddBackend adds a backend to the pipeline.
func (p *Pipeline) AddBackend(b Backend) {
	p.backends = append(p.backends, b)
}

// Start initializes the backends and begins the background flush goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	for _, b := range p.backends {
		if err := b.Initialize(ctx); err != nil {
			return err
		}
		p.logger.Info("backend initialized", "backend", b.Name())
	}

	p.wg.Add(1)
	go p.flushLoop(ctx)

	return nil
}

// Stop shuts down the pipeline, flushing remaining samples.
func (p *Pipeline) Stop(ctx context.Context) error {
	close(p.done)
	p.wg.Wait()

	if err := p.Flush(ctx); err != nil {
		p.logger.Error("final flush failed", "error", err)
	}

	var lastErr error
	for _, b := range p.backends {
		if err := b.Close(); err != nil {
			p.logger.Error("backend close failed", "backend", b.Name(), "error", err)
			lastErr = err
		}
	}

	return lastErr
}

// Push queues a sample. A full batch triggers an asynchronous flush.
func (p *Pipeline) Push(s *Sample) {
	if err := s.Validate(); err != nil {
		p.logger.Warn("invalid sample dropped", "error", err)
		return
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, s)
	if over := len(p.buffer) - p.cfg.MaxBuffered; over > 0 {
		p.buffer = append(p.buffer[:0:0], p.buffer[over:]...)
		p.dropped += int64(over)
	}
	shouldFlush := len(p.buffer) >= p.cfg.BatchSize
	p.mu.Unlock()

	if shouldFlush {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("batch flush failed", "error", err)
			}
		}()
	}
}

// Flush sends all buffered samples to backends.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.buffer
	p.buffer = make([]*Sample, 0, p.cfg.BatchSize)
	p.mu.Unlock()

	p.logger.Debug("flushing samples", "count", len(batch))

	var lastErr error
	for _, b := range p.backends {
		if !b.Healthy() {
			p.logger.Warn("skipping unhealthy backend", "backend", b.Name())
			continue
		}

		if err := p.writeWithRetry(ctx, b, batch); err != nil {
			p.logger.Error("backend write failed", "backend", b.Name(), "error", err)
			lastErr = err
		}
	}

	return lastErr
}

func (p *Pipeline) writeWithRetry(ctx context.Context, b Backend, batch []*Sample) error {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		err := b.Write(ctx, batch)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < p.cfg.RetryAttempts {
			p.logger.Warn("write failed, retrying",
				"backend", b.Name(),
				"attempt", attempt,
				"error", err,
			)
			if err := p.sleep(ctx, p.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return lastErr
}

func (p *Pipeline) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}

// BufferLen returns the current buffer length.
func (p *Pipeline) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Dropped returns how many samples were discarded because the buffer was full.
func (p *Pipeline) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// BackendCount returns the number of configured backends.
func (p *Pipeline) BackendCount() int {
	return len(p.backends)
}

// Compile-time check that Pipeline can receive coordinator samples.
var _ Recorder = (*Pipeline)(nil)
