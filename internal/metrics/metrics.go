// Package metrics holds the Prometheus collectors of a repository.
//
// A Collector registers its metrics on a caller-supplied registerer, so
// several repositories (and tests) can coexist in one process. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "folio"
	subsystem = "repository"
)

// Collector records repository activity.
type Collector struct {
	operations    *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	events        *prometheus.CounterVec
	locks         *prometheus.CounterVec
	revalidated   *prometheus.CounterVec
	schemaVersion prometheus.Gauge
}

// New creates a Collector and registers it on reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Total number of successful repository operations by effect",
			},
			[]string{"op", "effect"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Total number of failed repository operations by error kind",
			},
			[]string{"op", "kind"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Time taken by repository operations",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"op"},
		),
		events: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventlog",
				Name:      "events_total",
				Help:      "Total number of events appended by type",
			},
			[]string{"type"},
		),
		locks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "locks",
				Name:      "operations_total",
				Help:      "Total number of advisory lock operations by result",
			},
			[]string{"op", "result"},
		),
		revalidated: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "revalidated_entities_total",
				Help:      "Total number of entities revalidated or reindexed in the background",
			},
			[]string{"job", "result"},
		),
		schemaVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "schema_version",
				Help:      "Current schema specification version",
			},
		),
	}
}

// Observe records the outcome of one repository operation. kind is the
// error kind, empty on success.
func (c *Collector) Observe(op string, started time.Time, effect string, kind string) {
	if c == nil {
		return
	}
	c.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if kind != "" {
		c.errors.WithLabelValues(op, kind).Inc()
		return
	}
	if effect == "" {
		effect = "none"
	}
	c.operations.WithLabelValues(op, effect).Inc()
}

// EventAppended counts an appended event.
func (c *Collector) EventAppended(eventType string) {
	if c == nil {
		return
	}
	c.events.WithLabelValues(eventType).Inc()
}

// LockOperation counts an advisory lock operation. result is "ok" or an
// error kind.
func (c *Collector) LockOperation(op, result string) {
	if c == nil {
		return
	}
	c.locks.WithLabelValues(op, result).Inc()
}

// Revalidated counts one background revalidation or reindex. valid is
// reported as the result label.
func (c *Collector) Revalidated(job string, valid bool) {
	if c == nil {
		return
	}
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.revalidated.WithLabelValues(job, result).Inc()
}

// SchemaVersion sets the current schema version.
func (c *Collector) SchemaVersion(v int) {
	if c == nil {
		return
	}
	c.schemaVersion.Set(float64(v))
}
