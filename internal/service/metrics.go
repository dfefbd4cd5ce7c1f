package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the resolution counters and histograms.
type Metrics struct {
	Resolutions    *prometheus.CounterVec
	Latency        *prometheus.HistogramVec
	Documents      prometheus.Histogram
	ContentFetches *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
}

// NewMetrics registers the resolution metrics with reg. A nil reg uses a
// private registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reftriage",
			Name:      "resolutions_total",
			Help:      "Resolutions by source, contract status and confidence.",
		}, []string{"source", "contract_status", "confidence"}),
		Latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "reftriage",
			Name:      "resolution_duration_seconds",
			Help:      "Time spent in the resolution pipeline, content fetch included.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"source"}),
		Documents: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "reftriage",
			Name:      "resolution_documents",
			Help:      "Number of documents returned per resolution.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		ContentFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reftriage",
			Name:      "document_fetches_total",
			Help:      "Document content fetches by outcome.",
		}, []string{"outcome"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "reftriage",
			Name:      "rate_limited_total",
			Help:      "Resolve calls rejected by the per-project rate limit.",
		}, []string{"source"}),
	}
}
