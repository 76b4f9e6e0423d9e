// Package influxdb writes campaign poll samples to InfluxDB 2.x.
package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	adpulse "github.com/danweinerdev/go-adpulse"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Backend implements adpulse.Backend for InfluxDB 2.x.
type Backend struct {
	cfg    adpulse.InfluxDBConfig
	logger *slog.Logger

	mu      sync.RWMutex
	client  influxdb2.Client
	writer  api.WriteAPIBlocking
	healthy bool
}

// New creates a new InfluxDB backend.
func New(cfg adpulse.InfluxDBConfig, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		cfg:    cfg,
		logger: logger,
	}
}

func (b *Backend) Name() string {
	return "influxdb"
}

func (b *Backend) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Info("connecting to InfluxDB", "url", b.cfg.URL, "org", b.cfg.Org, "bucket", b.cfg.Bucket)

	client := influxdb2.NewClientWithOptions(b.cfg.URL, b.cfg.Token, influxdb2.DefaultOptions())

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	b.client = client
	b.writer = client.WriteAPIBlocking(b.cfg.Org, b.cfg.Bucket)
	b.healthy = true

	version := "unknown"
	if health.Version != nil {
		version = *health.Version
	}
	b.logger.Info("connected to InfluxDB", "version", version)
	return nil
}

func (b *Backend) Write(ctx context.Context, samples []*adpulse.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	b.mu.RLock()
	writer := b.writer
	b.mu.RUnlock()

	if writer == nil {
		return fmt.Errorf("InfluxDB not initialized")
	}

	if err := writer.WritePoint(ctx, Points(samples)...); err != nil {
		b.setHealthy(false)
		return fmt.Errorf("failed to write to InfluxDB: %w", err)
	}
	b.setHealthy(true)

	b.logger.Debug("wrote samples to InfluxDB", "count", len(samples))
	return nil
}

// Points converts samples into InfluxDB points.
func Points(samples []*adpulse.Sample) []*write.Point {
	points := make([]*write.Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, influxdb2.NewPoint(
			adpulse.SampleMeasurement,
			s.Tags(),
			s.Fields(),
			s.Timestamp,
		))
	}
	return points
}

func (b *Backend) setHealthy(v bool) {
	b.mu.Lock()
	b.healthy = v
	b.mu.Unlock()
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.client.Close()
		b.client = nil
		b.writer = nil
	}
	b.healthy = false

	b.logger.Info("InfluxDB connection closed")
	return nil
}

func (b *Backend) Healthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.healthy
}

// Compile-time check.
var _ adpulse.Backend = (*Backend)(nil)
