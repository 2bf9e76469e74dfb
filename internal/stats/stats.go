// Package stats aggregates per-operation request counters and optionally
// exports them to InfluxDB.
package stats

import (
	"sync"
	"time"

	"github.com/wrenware/lattice/internal/onem2m"
)

// Exporter receives each recorded sample, typically backed by the
// influxdb client. A nil exporter keeps the collector in-memory only.
type Exporter interface {
	WriteOperationMetric(operation string, status int, elapsed time.Duration)
}

// Snapshot is a point-in-time copy of the collected counters.
type Snapshot struct {
	// Requests counts handled requests per operation name.
	Requests map[string]uint64

	// Failures counts non-2xxx outcomes per operation name.
	Failures map[string]uint64

	// TotalElapsed accumulates handling time per operation name.
	TotalElapsed map[string]time.Duration
}

// Collector implements the dispatcher's Stats interface. Safe for
// concurrent use.
type Collector struct {
	mu       sync.Mutex
	requests map[string]uint64
	failures map[string]uint64
	elapsed  map[string]time.Duration

	exporter Exporter
}

// NewCollector creates a collector. exporter may be nil.
func NewCollector(exporter Exporter) *Collector {
	return &Collector{
		requests: make(map[string]uint64),
		failures: make(map[string]uint64),
		elapsed:  make(map[string]time.Duration),
		exporter: exporter,
	}
}

// Record registers one handled request.
func (c *Collector) Record(op onem2m.Operation, status onem2m.ResponseStatus, elapsed time.Duration) {
	name := op.String()

	c.mu.Lock()
	c.requests[name]++
	if !status.IsSuccess() {
		c.failures[name]++
	}
	c.elapsed[name] += elapsed
	c.mu.Unlock()

	if c.exporter != nil {
		c.exporter.WriteOperationMetric(name, int(status), elapsed)
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Requests:     make(map[string]uint64, len(c.requests)),
		Failures:     make(map[string]uint64, len(c.failures)),
		TotalElapsed: make(map[string]time.Duration, len(c.elapsed)),
	}
	for k, v := range c.requests {
		snap.Requests[k] = v
	}
	for k, v := range c.failures {
		snap.Failures[k] = v
	}
	for k, v := range c.elapsed {
		snap.TotalElapsed[k] = v
	}
	return snap
}
