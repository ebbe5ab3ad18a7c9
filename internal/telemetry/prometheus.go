package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric keys recorded by the broadcast server.
const (
	MetricHitsIngested      = "hits_ingested_total"
	MetricMaxRecords        = "max_records_total"
	MetricRoundsArchived    = "rounds_archived_total"
	MetricBroadcastMessages = "broadcast_messages_total"
	MetricBroadcastDrops    = "broadcast_drops_total"
	MetricMalformedMessages = "malformed_messages_total"
	MetricDisplaySubs       = "display_subscribers"
	MetricCurrentRound      = "current_round"
)

const namespace = "beat_hard"

// PrometheusMetrics backs Metrics with Prometheus collectors on a dedicated
// registry. Keys without a dedicated collector land in the generic vectors.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge

	mu           sync.Mutex
	otherCounter *prometheus.CounterVec
	otherGauge   *prometheus.GaugeVec
}

// NewPrometheusMetrics registers the broadcast collectors together with the
// Go runtime and process collectors.
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	m := &PrometheusMetrics{
		registry: registry,
		counters: map[string]prometheus.Counter{
			MetricHitsIngested:      newCounter(MetricHitsIngested, "Strike events accepted by the hit aggregator."),
			MetricMaxRecords:        newCounter(MetricMaxRecords, "Strike events that raised a fighter maximum."),
			MetricRoundsArchived:    newCounter(MetricRoundsArchived, "Rounds archived into the round history."),
			MetricBroadcastMessages: newCounter(MetricBroadcastMessages, "View messages handed to the broadcast channel."),
			MetricBroadcastDrops:    newCounter(MetricBroadcastDrops, "Per-display deliveries dropped on a full queue."),
			MetricMalformedMessages: newCounter(MetricMalformedMessages, "Inbound payloads discarded as malformed."),
		},
		gauges: map[string]prometheus.Gauge{
			MetricDisplaySubs:  newGauge(MetricDisplaySubs, "Displays currently subscribed to the broadcast channel."),
			MetricCurrentRound: newGauge(MetricCurrentRound, "Round currently in progress."),
		},
		otherCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Counters recorded under ad-hoc keys.",
		}, []string{"key"}),
		otherGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "values",
			Help:      "Gauges recorded under ad-hoc keys.",
		}, []string{"key"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.otherCounter,
		m.otherGauge,
	)
	for _, counter := range m.counters {
		registry.MustRegister(counter)
	}
	for _, gauge := range m.gauges {
		registry.MustRegister(gauge)
	}
	return m
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

// Add increments the counter registered for key.
func (m *PrometheusMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	if counter, ok := m.counters[key]; ok {
		counter.Add(float64(delta))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otherCounter.WithLabelValues(key).Add(float64(delta))
}

// Store sets the gauge registered for key.
func (m *PrometheusMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	if gauge, ok := m.gauges[key]; ok {
		gauge.Set(float64(value))
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otherGauge.WithLabelValues(key).Set(float64(value))
}

// Registry exposes the underlying registry for scraping and tests.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Counter returns the dedicated collector for key, if any.
func (m *PrometheusMetrics) Counter(key string) (prometheus.Counter, bool) {
	counter, ok := m.counters[key]
	return counter, ok
}

// Gauge returns the dedicated gauge for key, if any.
func (m *PrometheusMetrics) Gauge(key string) (prometheus.Gauge, bool) {
	gauge, ok := m.gauges[key]
	return gauge, ok
}
