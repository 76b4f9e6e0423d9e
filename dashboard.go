package adpulse

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// CatalogStatus is the load state of the campaign list.
type CatalogStatus int

const (
	CatalogUnloaded CatalogStatus = iota
	CatalogLoading
	CatalogReady
	CatalogFailed // initial load failed; RetryNow reloads
)

func (s CatalogStatus) String() string {
	switch s {
	case CatalogUnloaded:
		return "unloaded"
	case CatalogLoading:
		return "loading"
	case CatalogReady:
		return "ready"
	case CatalogFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Catalog is the campaign list offered for selection.
type Catalog struct {
	Status    CatalogStatus
	Campaigns []Campaign
	Err       *ErrorDescriptor // last failed load, if any
	LoadedAt  time.Time
}

// Dashboard is the core runtime consumed by a presentation layer. It
// exposes read access to the state and accepts two intents: SelectCampaign
// and RetryNow.
type Dashboard struct {
	source   Source
	coord    *Coordinator
	pipeline *Pipeline
	logger   *slog.Logger
	levelVar *slog.LevelVar
	clock    Clock
	cfg      *Config
	cfgPath  string
	echoMode bool
	reloadFn func(string) (*Config, error)
	backends []Backend
	ctr      CTRSelector

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu      sync.RWMutex
	catalog Catalog
	closed  bool
}

// New creates a Dashboard. Without WithSource the remote service is reached
// over HTTP using the [service] and [polling] config.
func New(opts ...Option) (*Dashboard, error) {
	d := &Dashboard{}

	for _, opt := range opts {
		opt(d)
	}

	// Load config from file if path given and no config provided directly.
	if d.cfg == nil && d.cfgPath != "" {
		cfg, err := LoadConfig(d.cfgPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		d.cfg = cfg
	}

	// Apply defaults if no config at all.
	if d.cfg == nil {
		d.cfg = DefaultConfig()
	}

	if d.logger == nil {
		d.logger, d.levelVar = NewLogger(d.cfg.Global.LogLevel, d.cfg.Global.LogFormat)
	}
	if d.clock == nil {
		d.clock = SystemClock{}
	}

	if d.source == nil {
		client, err := newHTTPSource(d.cfg, d.logger)
		if err != nil {
			return nil, err
		}
		d.source = client
	}

	if d.echoMode || d.cfg.Sink.Echo {
		d.backends = append(d.backends, NewEchoStdout(d.logger))
	}

	var recorder Recorder
	if len(d.backends) > 0 {
		d.pipeline = NewPipeline(PipelineConfig{
			BatchSize:     d.cfg.Sink.BatchSize,
			FlushInterval: d.cfg.Sink.FlushInterval.Duration,
			RetryAttempts: d.cfg.Sink.RetryAttempts,
			RetryDelay:    d.cfg.Sink.RetryDelay.Duration,
			Logger:        d.logger,
		})
		for _, b := range d.backends {
			d.pipeline.AddBackend(b)
		}
		recorder = d.pipeline
	}

	d.coord = NewCoordinator(d.source, CoordinatorConfig{
		Interval:  d.cfg.Polling.Interval.Duration,
		Threshold: d.cfg.Polling.FailureThreshold,
		Clock:     d.clock,
		Logger:    d.logger,
		Recorder:  recorder,
	})

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

func newHTTPSource(cfg *Config, logger *slog.Logger) (*Client, error) {
	fetcher := NewFetcher(newHTTPClient(cfg.Service.Timeout.Duration), logger)
	client, err := NewClient(
		cfg.Service.BaseURL,
		fetcher,
		cfg.Polling.ListRetry.Policy(),
		cfg.Polling.PollRetry.Policy(),
	)
	if err != nil {
		return nil, fmt.Errorf("building service client: %w", err)
	}
	return client, nil
}

// Run starts the sink pipeline, loads the catalog and blocks until ctx is
// cancelled or a shutdown signal arrives.
func (d *Dashboard) Run(ctx context.Context) error {
	d.logger.Info("starting dashboard",
		"interval", d.cfg.Polling.Interval.Duration,
		"failure_threshold", d.cfg.Polling.FailureThreshold,
	)

	if d.pipeline != nil {
		if err := d.pipeline.Start(ctx); err != nil {
			return fmt.Errorf("failed to start pipeline: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.pipeline.Stop(stopCtx); err != nil {
				d.logger.Error("error stopping pipeline", "error", err)
			}
		}()
	}

	ctx, reload := watchSignals(ctx, d.logger)

	if err := d.OpenCatalog(ctx); err != nil {
		d.logger.Error("campaign list unavailable, waiting for retry", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			d.Close()
			d.logger.Info("shutdown complete")
			return nil

		case <-reload:
			d.handleReload()
		}
	}
}

// OpenCatalog fetches the campaign list and replaces it wholesale on
// success. A failure with no previous list leaves the catalog in
// CatalogFailed; a failure with a previous list keeps it.
func (d *Dashboard) OpenCatalog(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.catalog.Status == CatalogLoading {
		d.mu.Unlock()
		d.logger.Debug("campaign list load already in progress")
		return nil
	}
	d.catalog.Status = CatalogLoading
	d.mu.Unlock()

	return d.loadCatalog(ctx)
}

func (d *Dashboard) loadCatalog(ctx context.Context) error {
	campaigns, err := d.source.Campaigns(ctx)
	now := d.clock.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		desc := Describe(err, now)
		d.catalog.Err = &desc
		if len(d.catalog.Campaigns) == 0 {
			d.catalog.Status = CatalogFailed
		} else {
			d.catalog.Status = CatalogReady
		}
		return fmt.Errorf("loading campaigns: %w", err)
	}

	d.catalog = Catalog{
		Status:    CatalogReady,
		Campaigns: campaigns,
		LoadedAt:  now,
	}
	d.logger.Info("campaigns loaded", "count", len(campaigns))
	return nil
}

// SelectCampaign starts polling the campaign with the given id. The id must
// be present in a loaded catalog.
func (d *Dashboard) SelectCampaign(id int64) error {
	if id < 1 {
		return ErrInvalidCampaign
	}

	d.mu.RLock()
	closed := d.closed
	status := d.catalog.Status
	idx := slices.IndexFunc(d.catalog.Campaigns, func(c Campaign) bool { return c.ID == id })
	var camp Campaign
	if idx >= 0 {
		camp = d.catalog.Campaigns[idx]
	}
	d.mu.RUnlock()

	// A refresh in progress keeps the previous list selectable.
	switch {
	case closed:
		return ErrClosed
	case idx >= 0:
	case status == CatalogReady:
		return fmt.Errorf("campaign %d: %w", id, ErrUnknownCampaign)
	default:
		return ErrCatalogUnavailable
	}

	return d.coord.SelectCampaign(camp)
}

// RetryNow reloads the campaign list if its initial load failed, otherwise
// issues a manual poll while auto-refresh is paused. It reports whether the
// intent was accepted; repeated calls while a retry is pending are ignored.
func (d *Dashboard) RetryNow() bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	if d.catalog.Status == CatalogFailed {
		d.catalog.Status = CatalogLoading
		d.bg.Add(1)
		d.mu.Unlock()

		d.logger.Info("retrying campaign list")
		go func() {
			defer d.bg.Done()
			if err := d.loadCatalog(d.ctx); err != nil {
				d.logger.Warn("campaign list retry failed", "error", err)
			}
		}()
		return true
	}
	d.mu.Unlock()

	return d.coord.RetryNow()
}

// State returns the state of the active selection.
func (d *Dashboard) State() DashboardState {
	return d.coord.State()
}

// View returns the rendered projection of the current state.
func (d *Dashboard) View() View {
	return newView(d.coord.State(), d.clock.Now(), &d.ctr)
}

// Catalog returns the campaign list and its load state.
func (d *Dashboard) Catalog() Catalog {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c := d.catalog
	c.Campaigns = slices.Clone(c.Campaigns)
	if c.Err != nil {
		e := *c.Err
		c.Err = &e
	}
	return c
}

// Phase returns the poll-loop phase of the active selection.
func (d *Dashboard) Phase() Phase {
	return d.coord.Phase()
}

// Stats returns a snapshot of polling statistics.
func (d *Dashboard) Stats() PollStats {
	return d.coord.Stats()
}

// Close stops polling and releases the timer. It is safe to call more than once.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.coord.Close()
	d.bg.Wait()
}

func (d *Dashboard) handleReload() {
	d.logger.Info("reloading configuration")

	var newCfg *Config
	var err error

	if d.reloadFn != nil {
		newCfg, err = d.reloadFn(d.cfgPath)
	} else if d.cfgPath != "" {
		newCfg, err = LoadConfig(d.cfgPath)
	}

	switch {
	case err != nil:
		d.logger.Error("config reload failed, keeping current config", "error", err)
	case newCfg != nil:
		d.applyConfig(newCfg)
	default:
		d.logger.Warn("no config path or reload function, keeping current config")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.bg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.bg.Done()
		if err := d.OpenCatalog(d.ctx); err != nil {
			d.logger.Warn("campaign list refresh failed", "error", err)
		}
	}()
}

func (d *Dashboard) applyConfig(newCfg *Config) {
	if newCfg.Polling.Interval.Duration != d.cfg.Polling.Interval.Duration {
		d.coord.SetInterval(newCfg.Polling.Interval.Duration)
		d.logger.Info("updated poll interval", "interval", newCfg.Polling.Interval.Duration)
	}

	if d.levelVar != nil && newCfg.Global.LogLevel != d.cfg.Global.LogLevel {
		d.levelVar.Set(ParseLogLevel(newCfg.Global.LogLevel))
		d.logger.Info("updated log level", "level", newCfg.Global.LogLevel)
	}

	d.cfg = newCfg
}
