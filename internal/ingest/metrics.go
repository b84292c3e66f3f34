package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "water_ingest"

// Collector is a prometheus.Collector for the ingestion pipeline.
type Collector struct {
	readingsIngested    prometheus.Counter
	validationFailures  *prometheus.CounterVec
	degradedReads       *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	publishFailures     prometheus.Counter
	anomalies           *prometheus.CounterVec
	ingestDuration      prometheus.Histogram
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		readingsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "readings_ingested_total",
				Help:      "The number of readings stored.",
			},
		),
		validationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "validation_failures_total",
				Help:      "The number of submissions rejected, by field.",
			}, []string{"field"},
		),
		degradedReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "degraded_reads_total",
				Help:      "The number of failed reads recovered with a fallback value.",
			}, []string{"stage"},
		),
		persistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "persistence_failures_total",
				Help:      "The number of readings that could not be stored.",
			},
		),
		publishFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "publish_failures_total",
				Help:      "The number of stored readings whose event could not be published.",
			},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "anomalies_total",
				Help:      "The number of anomaly tags raised, by tag.",
			}, []string{"tag"},
		),
		ingestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "ingest_duration_seconds",
				Help:      "The time taken to ingest one reading.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.readingsIngested.Describe(ch)
	c.validationFailures.Describe(ch)
	c.degradedReads.Describe(ch)
	c.persistenceFailures.Describe(ch)
	c.publishFailures.Describe(ch)
	c.anomalies.Describe(ch)
	c.ingestDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.readingsIngested.Collect(ch)
	c.validationFailures.Collect(ch)
	c.degradedReads.Collect(ch)
	c.persistenceFailures.Collect(ch)
	c.publishFailures.Collect(ch)
	c.anomalies.Collect(ch)
	c.ingestDuration.Collect(ch)
}

func (c *Collector) recordIngested(r *Reading) {
	c.readingsIngested.Inc()
	for _, a := range r.Anomalies {
		c.anomalies.WithLabelValues(string(a)).Inc()
	}
}
