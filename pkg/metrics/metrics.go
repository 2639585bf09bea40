// Package metrics provides Prometheus collectors for import observability.
// Each import run records row outcomes, per-phase durations and the
// currently active phase; a CLI flag exposes them over promhttp for
// long-running imports.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector wraps the Prometheus metrics recorded by the importer.
type Collector struct {
	rowsTotal     *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	activePhase   *prometheus.GaugeVec
	bytesIndexed  prometheus.Counter
}

// NewCollector registers the import metrics on the given registerer.
// Passing nil registers on the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "comet_import_rows_total",
			Help: "Rows processed by the importer, by outcome",
		}, []string{"table", "outcome"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "comet_import_phase_seconds",
			Help:    "Wall-clock duration of import phases",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"phase"}),
		activePhase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "comet_import_active_phase",
			Help: "1 for the phase an import is currently executing",
		}, []string{"phase"}),
		bytesIndexed: factory.NewCounter(prometheus.CounterOpts{
			Name: "comet_import_indexed_bytes_total",
			Help: "Bytes written to per-partition index chunks",
		}),
	}
}

// RecordRows adds to the row outcome counter. Outcome is one of
// "imported", "skipped" or "null_timestamp".
func (c *Collector) RecordRows(table, outcome string, n int64) {
	if c == nil || n == 0 {
		return
	}
	c.rowsTotal.WithLabelValues(table, outcome).Add(float64(n))
}

// PhaseTimer marks a phase active and returns a stop function that
// records its duration.
func (c *Collector) PhaseTimer(phase string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	c.activePhase.WithLabelValues(phase).Set(1)
	return func() {
		c.activePhase.WithLabelValues(phase).Set(0)
		c.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
	}
}

// RecordIndexedBytes adds to the indexed bytes counter.
func (c *Collector) RecordIndexedBytes(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.bytesIndexed.Add(float64(n))
}
