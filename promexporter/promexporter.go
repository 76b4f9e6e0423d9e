// Package promexporter exposes the latest campaign poll samples as
// Prometheus gauges.
package promexporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	adpulse "github.com/danweinerdev/go-adpulse"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adpulse"

var labels = []string{"campaign_id", "campaign"}

// Backend implements adpulse.Backend for Prometheus.
// It runs an HTTP server that exposes metrics at the configured path.
type Backend struct {
	cfg       adpulse.PrometheusConfig
	collector *campaignCollector
	registry  *prometheus.Registry
	server    *http.Server
	logger    *slog.Logger

	mu      sync.RWMutex
	healthy bool
}

// New creates a new Prometheus exporter backend.
func New(cfg adpulse.PrometheusConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:       cfg,
		collector: newCampaignCollector(),
		registry:  prometheus.NewRegistry(),
		logger:    logger,
	}
}

func (b *Backend) Name() string {
	return "prometheus"
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.registry.Register(b.collector); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return fmt.Errorf("failed to register Prometheus collector: %w", err)
		}
	}

	addr := fmt.Sprintf(":%d", b.cfg.Port)
	b.server = &http.Server{
		Addr:         addr,
		Handler:      b.handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		b.logger.Info("starting Prometheus server", "addr", addr, "path", b.cfg.Path)
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.logger.Error("Prometheus server error", "error", err)
			b.mu.Lock()
			b.healthy = false
			b.mu.Unlock()
		}
	}()

	b.healthy = true
	return nil
}

func (b *Backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(b.cfg.Path, promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

func (b *Backend) Write(ctx context.Context, samples []*adpulse.Sample) error {
	for _, s := range samples {
		b.collector.update(s)
	}

	b.logger.Debug("updated Prometheus metrics", "count", len(samples))
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Error("error shutting down Prometheus server", "error", err)
			return err
		}
		b.server = nil
	}

	b.healthy = false
	b.logger.Info("Prometheus server stopped")
	return nil
}

func (b *Backend) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// Compile-time check.
var _ adpulse.Backend = (*Backend)(nil)

// campaignCollector exports the gauges of the campaign currently being
// polled. Counters would be more natural for totals, but a new selection
// restarts accumulation at zero so the values are exported as gauges.
// Series of a previously selected campaign are dropped when samples for
// another campaign arrive.
type campaignCollector struct {
	mu      sync.Mutex
	current prometheus.Labels


	totalImpressions *prometheus.GaugeVec
	totalClicks      *prometheus.GaugeVec
	totalUsers       *prometheus.GaugeVec
	lastImpressions  *prometheus.GaugeVec
	lastClicks       *prometheus.GaugeVec
	lastUsers        *prometheus.GaugeVec
	ctr              *prometheus.GaugeVec
	recentCTR        *prometheus.GaugeVec
	iteration        *prometheus.GaugeVec
	lastPoll         *prometheus.GaugeVec
}

func newCampaignCollector() *campaignCollector {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaign",
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &campaignCollector{
		totalImpressions: gauge("impressions_total", "Impressions accumulated since the campaign was selected."),
		totalClicks:      gauge("clicks_total", "Clicks accumulated since the campaign was selected."),
		totalUsers:       gauge("users_total", "Users accumulated since the campaign was selected."),
		lastImpressions:  gauge("last_impressions", "Impressions reported by the latest poll."),
		lastClicks:       gauge("last_clicks", "Clicks reported by the latest poll."),
		lastUsers:        gauge("last_users", "Users reported by the latest poll."),
		ctr:              gauge("ctr_percent", "Click-through rate over the accumulated totals."),
		recentCTR:        gauge("recent_ctr_percent", "Click-through rate of the latest poll."),
		iteration:        gauge("iteration", "Number of successful polls since the campaign was selected."),
		lastPoll:         gauge("last_poll_timestamp_seconds", "Unix time of the latest successful poll."),
	}
}

func (c *campaignCollector) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		c.totalImpressions, c.totalClicks, c.totalUsers,
		c.lastImpressions, c.lastClicks, c.lastUsers,
		c.ctr, c.recentCTR, c.iteration, c.lastPoll,
	}
}

func (c *campaignCollector) update(s *adpulse.Sample) {
	lv := []string{strconv.FormatInt(s.CampaignID, 10), s.Campaign}
	fields := s.Fields()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil && (c.current["campaign_id"] != lv[0] || c.current["campaign"] != lv[1]) {
		for _, v := range c.vecs() {
			v.Delete(c.current)
		}
	}
	c.current = prometheus.Labels{"campaign_id": lv[0], "campaign": lv[1]}

	c.totalImpressions.WithLabelValues(lv...).Set(float64(s.Totals.Impressions))
	c.totalClicks.WithLabelValues(lv...).Set(float64(s.Totals.Clicks))
	c.totalUsers.WithLabelValues(lv...).Set(float64(s.Totals.Users))
	c.lastImpressions.WithLabelValues(lv...).Set(float64(s.Delta.Impressions))
	c.lastClicks.WithLabelValues(lv...).Set(float64(s.Delta.Clicks))
	c.lastUsers.WithLabelValues(lv...).Set(float64(s.Delta.Users))
	c.ctr.WithLabelValues(lv...).Set(fields["total_ctr"].(float64))
	c.recentCTR.WithLabelValues(lv...).Set(fields["ctr"].(float64))
	c.iteration.WithLabelValues(lv...).Set(float64(s.Iteration))
	c.lastPoll.WithLabelValues(lv...).Set(float64(s.Timestamp.UnixNano()) / 1e9)
}

func (c *campaignCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, v := range c.vecs() {
		v.Describe(ch)
	}
}

func (c *campaignCollector) Collect(ch chan<- prometheus.Metric) {
	for _, v := range c.vecs() {
		v.Collect(ch)
	}
}
