package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage label values and message outcome label values.
const (
	stageRetrieval  = "retrieval"
	stageGeneration = "generation"

	outcomeOK      = "ok"
	outcomeDropped = "dropped"
	outcomeFailed  = "failed"
)

// Metrics holds the Prometheus metrics shared by the stage loops.
// A fresh instance per prometheus.Registry keeps unit tests hermetic.
type Metrics struct {
	// messagesTotal counts processed bus messages, partitioned by stage
	// and outcome: "ok", "dropped" (undecodable or uncorrelatable), or
	// "failed" (a failed response record was written).
	messagesTotal *prometheus.CounterVec

	// stageDurationSeconds records per-message processing time.
	stageDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the stage metrics against reg. Both stage loops
// share one Metrics instance per registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devhelper",
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Total number of bus messages processed, partitioned by stage and outcome.",
		}, []string{"stage", "outcome"}),

		stageDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devhelper",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Per-message processing time of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"stage"}),
	}
}
