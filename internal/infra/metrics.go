package infra

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "grps"

// Metrics holds the Prometheus collectors for the progression backend. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ingests         *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	syncEntries     *prometheus.CounterVec
	externalLatency *prometheus.HistogramVec
	mirrorFailures  prometheus.Counter
	outboxPublished *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// MustNewMetrics registers all collectors on reg and panics on conflict.
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ingest_total",
			Help:      "Snapshots ingested, by whether the player row was created.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "automation_decisions_total",
			Help:      "Automation decisions produced, by action and whether they were applied.",
		}, []string{"action", "applied"}),
		syncEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sync_entries_total",
			Help:      "Datastore entries processed by reconciliation, by outcome.",
		}, []string{"outcome"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "external_request_duration_seconds",
			Help:      "Latency of calls to the game platform API.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mirror_failures_total",
			Help:      "Best-effort datastore mirror writes that failed.",
		}),
		outboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_events_total",
			Help:      "Outbox events relayed, by result.",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.ingests, m.decisions, m.syncEntries, m.externalLatency, m.mirrorFailures, m.outboxPublished)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncIngest(created bool) {
	if m == nil {
		return
	}
	result := "updated"
	if created {
		result = "created"
	}
	m.ingests.WithLabelValues(result).Inc()
}

func (m *Metrics) IncDecision(action string, applied bool) {
	if m == nil {
		return
	}
	label := "false"
	if applied {
		label = "true"
	}
	m.decisions.WithLabelValues(action, label).Inc()
}

func (m *Metrics) IncSyncEntry(outcome string) {
	if m == nil {
		return
	}
	m.syncEntries.WithLabelValues(outcome).Inc()
}

// ObserveExternalRequest satisfies provider.RequestObserver.
func (m *Metrics) ObserveExternalRequest(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.externalLatency.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}

func (m *Metrics) IncMirrorFailure() {
	if m == nil {
		return
	}
	m.mirrorFailures.Inc()
}

func (m *Metrics) IncOutbox(result string) {
	if m == nil {
		return
	}
	m.outboxPublished.WithLabelValues(result).Inc()
}
