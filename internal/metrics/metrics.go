package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// AnalysesTotal counts finished analyses by outcome (constants.Outcome).
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carlens",
		Subsystem: "analyzer",
		Name:      "analyses_total",
		Help:      "Total number of image analyses, labeled by outcome.",
	}, []string{"outcome"})

	// AnalysisDurationSeconds is end-to-end time per analysis, preparation included.
	AnalysisDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "carlens",
		Subsystem: "analyzer",
		Name:      "analysis_duration_seconds",
		Help:      "End-to-end time to prepare an image and interpret the model answer.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"outcome"})

	// UpstreamResponsesTotal counts answers from the inference endpoint by HTTP status.
	UpstreamResponsesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "carlens",
		Subsystem: "analyzer",
		Name:      "upstream_responses_total",
		Help:      "Total number of inference endpoint responses, labeled by HTTP status code.",
	}, []string{"code"})

	// PreparedImageBytes is the size of the JPEG sent upstream.
	PreparedImageBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "carlens",
		Subsystem: "analyzer",
		Name:      "prepared_image_bytes",
		Help:      "Size in bytes of the normalized JPEG payload.",
		Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 8),
	})
)

// MustRegister registers all collectors with the default registry. Safe to call more than once.
func MustRegister() {
	once.Do(func() {
		prometheus.MustRegister(
			AnalysesTotal,
			AnalysisDurationSeconds,
			UpstreamResponsesTotal,
			PreparedImageBytes,
		)
	})
}

// ObserveAnalysis records one finished analysis.
func ObserveAnalysis(outcome string, elapsed time.Duration) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
	AnalysisDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObserveUpstream records the HTTP status of one upstream answer.
func ObserveUpstream(status int) {
	UpstreamResponsesTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}
