// Package metrics counts batch pass outcomes for the node exporter textfile
// collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors of one process, registered on their own
// registry so batch runs can dump them to a file.
type Metrics struct {
	Registry *prometheus.Registry

	ItemsProcessed *prometheus.CounterVec
	ItemsFailed    *prometheus.CounterVec
	Unresolved     prometheus.Counter
	CacheLookups   *prometheus.CounterVec
	PassDuration   *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ItemsProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bplens_items_processed_total",
				Help: "Items handled successfully per pass",
			},
			[]string{"pass"},
		),
		ItemsFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bplens_items_failed_total",
				Help: "Items that failed per pass and reason",
			},
			[]string{"pass", "reason"},
		),
		Unresolved: f.NewCounter(prometheus.CounterOpts{
			Name: "bplens_unresolved_input_refs_total",
			Help: "Input references left in place because the input was not declared",
		}),
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bplens_keyword_cache_lookups_total",
				Help: "Keyword count cache lookups by result",
			},
			[]string{"result"},
		),
		PassDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bplens_pass_duration_seconds",
				Help:    "Duration of a batch pass in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"pass"},
		),
	}
}

// ObservePass records the duration of a pass that started at start.
func (m *Metrics) ObservePass(pass string, start time.Time) {
	m.PassDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
}

// WriteTextfile writes every collector in the text exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
