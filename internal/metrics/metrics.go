// Package metrics exposes Prometheus counters for the core pipeline:
// probes, degraded live reads, remediation attempts, and hub fan-out.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for core observability.
type Metrics struct {
	ProbesTotal        *prometheus.CounterVec // Probe attempts by outcome (ok, failed)
	DegradedReadsTotal *prometheus.CounterVec // Live reads degraded to fallback, by resource
	RemediationsTotal  *prometheus.CounterVec // Auto-remediation attempts by status
	HubPublishedTotal  *prometheus.CounterVec // Hub messages published by topic
	HubDroppedTotal    *prometheus.CounterVec // Hub messages dropped by topic (slow subscriber)
}

// NewMetrics creates and registers the core metrics with the provided
// registerer (global registry in production, a fresh one in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterdeck_probes_total",
			Help: "Total number of connection probes by outcome",
		}, []string{"outcome"}),
		DegradedReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterdeck_degraded_reads_total",
			Help: "Total number of live reads degraded to a fallback payload",
		}, []string{"resource"}),
		RemediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterdeck_remediations_total",
			Help: "Total number of auto-remediation attempts by status",
		}, []string{"status"}),
		HubPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterdeck_hub_published_total",
			Help: "Total number of messages published to the broadcast hub",
		}, []string{"topic"}),
		HubDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterdeck_hub_dropped_total",
			Help: "Total number of hub messages dropped for slow subscribers",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.ProbesTotal,
		m.DegradedReadsTotal,
		m.RemediationsTotal,
		m.HubPublishedTotal,
		m.HubDroppedTotal,
	)
	return m
}

// ObserveProbe records one probe attempt. Nil-safe for components
// constructed without metrics.
func (m *Metrics) ObserveProbe(outcome string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDegradedRead records one live read that fell back
func (m *Metrics) ObserveDegradedRead(resource string) {
	if m == nil {
		return
	}
	m.DegradedReadsTotal.WithLabelValues(resource).Inc()
}

// ObserveRemediation records one remediation attempt by status
func (m *Metrics) ObserveRemediation(status string) {
	if m == nil {
		return
	}
	m.RemediationsTotal.WithLabelValues(status).Inc()
}

// ObserveHubPublish records one published hub message
func (m *Metrics) ObserveHubPublish(topic string) {
	if m == nil {
		return
	}
	m.HubPublishedTotal.WithLabelValues(topic).Inc()
}

// ObserveHubDrop records one dropped hub message
func (m *Metrics) ObserveHubDrop(topic string) {
	if m == nil {
		return
	}
	m.HubDroppedTotal.WithLabelValues(topic).Inc()
}
