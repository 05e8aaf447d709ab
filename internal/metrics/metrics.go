// Package metrics exposes Prometheus collectors for the update pipeline.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/tilesync/internal/store"
)

const metricsNamespace = "tilesync"

// Collector is a prometheus.Collector tracking update outcomes, update
// durations, queue depth and rejected notification payloads.
type Collector struct {
	updates  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	depth    *prometheus.GaugeVec
	rejected *prometheus.CounterVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "updates_total",
				Help:      "Update engine invocations by dataset, action and status.",
			}, []string{"dataset", "action", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "update_duration_seconds",
				Help:      "Wall time of update engine invocations.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			}, []string{"dataset", "action"},
		),
		depth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "queue_depth",
				Help:      "Pending update events per dataset queue.",
			}, []string{"dataset"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rejected_payloads_total",
				Help:      "Notification payloads dropped by validation.",
			}, []string{"channel"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.updates.Describe(ch)
	c.duration.Describe(ch)
	c.depth.Describe(ch)
	c.rejected.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.updates.Collect(ch)
	c.duration.Collect(ch)
	c.depth.Collect(ch)
	c.rejected.Collect(ch)
}

// RecordUpdate counts a finished invocation. It never fails; the error
// return lets the collector sit next to the journal as an outcome recorder.
func (c *Collector) RecordUpdate(_ context.Context, rec store.UpdateRecord) error {
	c.updates.WithLabelValues(rec.Dataset, rec.Action, rec.Status).Inc()
	c.duration.WithLabelValues(rec.Dataset, rec.Action).Observe(rec.Duration.Seconds())
	return nil
}

// QueueDepth returns the depth gauge of one dataset queue.
func (c *Collector) QueueDepth(dataset string) prometheus.Gauge {
	return c.depth.WithLabelValues(dataset)
}

// RejectedPayload counts a payload dropped on channel.
func (c *Collector) RejectedPayload(channel string) {
	c.rejected.WithLabelValues(channel).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
