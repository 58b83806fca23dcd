package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_submissions_total", Help: "Synthesis requests submitted"})
	SubmissionFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_submission_failures_total", Help: "Submissions that ended in a network or HTTP error"})
	StreamEventsTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_stream_events_total", Help: "Decoded stream events delivered to the sink"})
	StreamParseErrors     = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_stream_parse_errors_total", Help: "Stream events that failed structured decoding"})
	RegistryMerges        = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_registry_merges_total", Help: "Successful job registry merges"})
	ArtifactFetches       = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_artifact_fetches_total", Help: "Artifacts fetched after completion"})
	ArtifactFetchFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "bark_artifact_fetch_failures_total", Help: "Artifact fetches that failed"})
	JobsInFlight          = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bark_jobs_inflight", Help: "Submission calls currently in flight"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionFailures,
			StreamEventsTotal,
			StreamParseErrors,
			RegistryMerges,
			ArtifactFetches,
			ArtifactFetchFailures,
			JobsInFlight,
		)
	})
	return promhttp.Handler()
}
