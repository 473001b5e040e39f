package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSink counts events and observes durations carried in event
// metadata. It owns its registry so tests and the app never collide on the
// default one.
type MetricsSink struct {
	registry        *prometheus.Registry
	events          *prometheus.CounterVec
	queryDuration   *prometheus.HistogramVec
	indexDuration   prometheus.Histogram
	filesIndexed    prometheus.Counter
	sourcesReturned prometheus.Histogram
}

func NewMetricsSink() *MetricsSink {
	m := &MetricsSink{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "events_total",
			Help:      "Usage events by name.",
		}, []string{"event"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "query_duration_seconds",
			Help:      "Time from question to answer.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
		}, []string{"model"}),
		indexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "indexing_duration_seconds",
			Help:      "Time spent building an index.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
		filesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "files_indexed_total",
			Help:      "Uploaded files successfully indexed.",
		}),
		sourcesReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docqa",
			Name:      "query_sources",
			Help:      "Passages passed to the model per answered query.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
	m.registry.MustRegister(m.events, m.queryDuration, m.indexDuration, m.filesIndexed, m.sourcesReturned)
	return m
}

func (m *MetricsSink) Record(_ context.Context, ev Event) error {
	m.events.WithLabelValues(ev.Name).Inc()
	switch ev.Name {
	case EventQueryResponse:
		model, _ := ev.Metadata["model"].(string)
		if d, ok := ev.Metadata["response_time_seconds"].(float64); ok {
			m.queryDuration.WithLabelValues(model).Observe(d)
		}
		if n, ok := ev.Metadata["sources_count"].(int); ok {
			m.sourcesReturned.Observe(float64(n))
		}
	case EventDocumentsProcessed:
		if d, ok := ev.Metadata["processing_time_seconds"].(float64); ok {
			m.indexDuration.Observe(d)
		}
		if n, ok := ev.Metadata["file_count"].(int); ok {
			m.filesIndexed.Add(float64(n))
		}
	}
	return nil
}

// Registry exposes the underlying registry.
func (m *MetricsSink) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *MetricsSink) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
