package metrics

import (
	"sync/atomic"
	"time"
)

// Collector holds process-wide ingestion counters. The zero value is not
// usable; create one with New.
type Collector struct {
	processed   atomic.Uint64
	errors      atomic.Uint64
	connections atomic.Uint64

	start time.Time
	now   func() time.Time
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	UptimeSeconds       uint64  `json:"uptime_seconds"`
	LogsProcessed       uint64  `json:"logs_processed"`
	Errors              uint64  `json:"errors"`
	ActiveConnections   uint64  `json:"active_connections"`
	ThroughputPerSecond uint64  `json:"throughput_per_second"`
	ErrorRate           float64 `json:"error_rate"` // percent of processed
}

// New starts a collector whose uptime is measured from now.
func New() *Collector {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Collector {
	return &Collector{start: now(), now: now}
}

// IncProcessed counts one record forwarded to the hub.
func (c *Collector) IncProcessed() { c.processed.Add(1) }

// IncErrors counts one forwarded record classified as ERROR.
func (c *Collector) IncErrors() { c.errors.Add(1) }

// IncConnections counts one accepted ingest connection.
func (c *Collector) IncConnections() { c.connections.Add(1) }

// Snapshot computes the derived rates from the current counters.
func (c *Collector) Snapshot() Snapshot {
	uptime := uint64(c.now().Sub(c.start) / time.Second)
	s := Snapshot{
		UptimeSeconds:     uptime,
		LogsProcessed:     c.processed.Load(),
		Errors:            c.errors.Load(),
		ActiveConnections: c.connections.Load(),
	}
	if uptime > 0 {
		s.ThroughputPerSecond = s.LogsProcessed / uptime
	}
	if s.LogsProcessed > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.LogsProcessed) * 100
	}
	return s
}
