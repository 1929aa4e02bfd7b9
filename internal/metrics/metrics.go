package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gemini_relay"

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	MessagesPersisted  prometheus.Counter
	PersistFailures    prometheus.Counter
	Dispatches         *prometheus.CounterVec
	ValidationRejects  *prometheus.CounterVec
	GenerationFailures *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	MediaGroupsFlushed prometheus.Counter
	MediaGroupSize     prometheus.Histogram
	RetryTriggers      *prometheus.CounterVec
	ArchivedImages     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		MessagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Inbound and outbound messages written to the store.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Store writes that failed.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Commands dispatched, by command and resolution mode.",
		}, []string{"command", "mode"}),
		ValidationRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_rejections_total",
			Help:      "Commands rejected with a guidance reply.",
		}, []string{"command"}),
		GenerationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generation calls that ended in an error reply.",
		}, []string{"command"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time of generation calls including retries.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160, 320, 600},
		}, []string{"command"}),
		MediaGroupsFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_groups_flushed_total",
			Help:      "Aggregated media groups handed to dispatch.",
		}),
		MediaGroupSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "media_group_size",
			Help:      "Messages per flushed media group.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
		}),
		RetryTriggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_triggers_total",
			Help:      "Acknowledge signals by outcome.",
		}, []string{"outcome"}),
		ArchivedImages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_images_total",
			Help:      "Generated images uploaded to object storage.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.MessagesPersisted,
		m.PersistFailures,
		m.Dispatches,
		m.ValidationRejects,
		m.GenerationFailures,
		m.GenerationDuration,
		m.MediaGroupsFlushed,
		m.MediaGroupSize,
		m.RetryTriggers,
		m.ArchivedImages,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
