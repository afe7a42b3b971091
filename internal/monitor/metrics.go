package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	ActiveJobs           prometheus.Gauge
	StuckJobs            prometheus.Gauge
	UniqueIndexPresent   prometheus.Gauge
	DuplicateGroups      prometheus.Gauge
	SequenceDriftSuspect prometheus.Gauge
	FactRowsApprox       prometheus.Gauge

	RecordsAccepted *prometheus.CounterVec
	LinesRejected   prometheus.Counter
	JobsFinished    *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_active_jobs",
			Help: "Ingestion jobs in a non-terminal state",
		}),
		StuckJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_stuck_jobs",
			Help: "Non-terminal ingestion jobs older than the stuck threshold",
		}),
		UniqueIndexPresent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_unique_index_present",
			Help: "1 when the production fact natural-key index exists",
		}),
		DuplicateGroups: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_duplicate_groups",
			Help: "Natural-key groups with more than one production fact",
		}),
		SequenceDriftSuspect: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_sequence_drift_suspect",
			Help: "1 when the fact id generator is at or behind the max assigned id",
		}),
		FactRowsApprox: factory.NewGauge(prometheus.GaugeOpts{
			Name: "prodfacts_fact_rows_approx",
			Help: "Planner estimate of production fact rows",
		}),
		RecordsAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prodfacts_records_accepted_total",
			Help: "Parsed production records by persistence outcome",
		}, []string{"outcome"}),
		LinesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "prodfacts_lines_rejected_total",
			Help: "Data lines rejected by the parser",
		}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prodfacts_jobs_finished_total",
			Help: "Ingestion jobs that reached a terminal state",
		}, []string{"status"}),
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
