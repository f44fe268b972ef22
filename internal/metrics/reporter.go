package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultInterval is how often the Reporter emits a snapshot.
const DefaultInterval = 10 * time.Second

// Sink receives periodic snapshots.
type Sink interface {
	Report(ctx context.Context, s Snapshot) error
}

// Reporter pushes the collector's snapshot to every sink on a fixed interval.
type Reporter struct {
	collector *Collector
	interval  time.Duration
	sinks     []Sink
	logger    *slog.Logger
}

// NewReporter creates a reporter. A non-positive interval selects
// DefaultInterval.
func NewReporter(c *Collector, interval time.Duration, logger *slog.Logger, sinks ...Sink) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{collector: c, interval: interval, sinks: sinks, logger: logger}
}

// Run reports until ctx is done. A failing sink is logged and retried on the
// next tick.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.collector.Snapshot()
	for _, sink := range r.sinks {
		if err := sink.Report(ctx, snap); err != nil {
			r.logger.Warn("metrics sink failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

// LogSink writes each snapshot as one structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Report(ctx context.Context, snap Snapshot) error {
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "metrics",
		slog.Uint64("uptime_seconds", snap.UptimeSeconds),
		slog.Uint64("logs_processed", snap.LogsProcessed),
		slog.Uint64("errors", snap.Errors),
		slog.Uint64("active_connections", snap.ActiveConnections),
		slog.Uint64("throughput_per_second", snap.ThroughputPerSecond),
		slog.Float64("error_rate", snap.ErrorRate),
	)
	return nil
}

const namespace = "logstreamer"

// PrometheusSink mirrors snapshots into gauges for scraping.
type PrometheusSink struct {
	uptime      prometheus.Gauge
	processed   prometheus.Gauge
	errors      prometheus.Gauge
	connections prometheus.Gauge
	throughput  prometheus.Gauge
	errorRate   prometheus.Gauge
}

// NewPrometheusSink registers the snapshot gauges with reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	s := &PrometheusSink{
		uptime:      gauge("uptime_seconds", "Seconds since the collector started."),
		processed:   gauge("logs_processed", "Records forwarded to the hub."),
		errors:      gauge("errors", "Forwarded records classified as ERROR."),
		connections: gauge("connections", "Ingest connections accepted."),
		throughput:  gauge("throughput_per_second", "Processed records per second of uptime."),
		errorRate:   gauge("error_rate_percent", "Share of processed records classified as ERROR."),
	}
	for _, c := range []prometheus.Collector{s.uptime, s.processed, s.errors, s.connections, s.throughput, s.errorRate} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *PrometheusSink) Report(_ context.Context, snap Snapshot) error {
	s.uptime.Set(float64(snap.UptimeSeconds))
	s.processed.Set(float64(snap.LogsProcessed))
	s.errors.Set(float64(snap.Errors))
	s.connections.Set(float64(snap.ActiveConnections))
	s.throughput.Set(float64(snap.ThroughputPerSecond))
	s.errorRate.Set(snap.ErrorRate)
	return nil
}
