package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce   sync.Once
	pipelineRuns  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "subburn",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Processed media files by result (ok or the failed stage)",
		}, []string{"result"})

		stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "subburn",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"stage"})
	})
}
