// Package metrics exposes pipeline counters and histograms for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kurral",
			Subsystem: "pipeline",
			Name:      "stage_outcomes_total",
			Help:      "Stage results by stage and outcome (ok, skipped, failed).",
		},
		[]string{"stage", "outcome"},
	)

	externalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kurral",
			Subsystem: "external",
			Name:      "call_attempts_total",
			Help:      "Oracle and search call attempts by target and result.",
		},
		[]string{"target", "result"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "kurral",
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kurral",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Search cache lookups by layer and result (hit, miss).",
		},
		[]string{"layer", "result"},
	)

	queueJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kurral",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Pipeline jobs handled by result (done, retry, busy, dead).",
		},
		[]string{"result"},
	)
)

// ObserveStage counts a stage outcome.
func ObserveStage(stage, outcome string) {
	stageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// CallObserver returns a retry observer that counts attempts against target.
func CallObserver(target string) func(attempt int, err error) {
	return func(attempt int, err error) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		externalCalls.WithLabelValues(target, result).Inc()
	}
}

// ObserveRun records a completed pipeline run.
func ObserveRun(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

// ObserveCache counts a cache lookup.
func ObserveCache(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(layer, result).Inc()
}

// ObserveJob counts a queue job result.
func ObserveJob(result string) {
	queueJobs.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
