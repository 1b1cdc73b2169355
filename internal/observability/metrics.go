package observability

import (
	"sync"
	"time"

	"github.com/danmuck/edgeexport/internal/convert"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	stageRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeexport",
			Subsystem: "stage",
			Name:      "runs_total",
			Help:      "Pipeline stage executions by outcome.",
		},
		[]string{"stage", "outcome"},
	)
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgeexport",
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"stage"},
	)
	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgeexport",
			Subsystem: "pipeline",
			Name:      "conversions_total",
			Help:      "Finished conversions by result kind.",
		},
		[]string{"result"},
	)
	artifactBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "edgeexport",
			Subsystem: "artifact",
			Name:      "bytes",
			Help:      "Size of the last artifact written per program.",
		},
		[]string{"program"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(stageRuns, stageDuration, conversions, artifactBytes)
	})
}

// outcome labels a stage result with its failure kind, or "ok".
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := convert.KindOf(err); ok {
		return kind.String()
	}
	return "error"
}

func RecordStage(stage string, duration time.Duration, err error) {
	RegisterMetrics()
	stageRuns.WithLabelValues(stage, outcome(err)).Inc()
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordConversion(err error) {
	RegisterMetrics()
	conversions.WithLabelValues(outcome(err)).Inc()
}

func RecordArtifact(program string, size int) {
	RegisterMetrics()
	artifactBytes.WithLabelValues(program).Set(float64(size))
}

// WriteTextfile dumps the default registry in text exposition format, for node
// exporter style collection of one-shot runs.
func WriteTextfile(path string) error {
	RegisterMetrics()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
