package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/cohort/internal/model"
)

var (
	runsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_runs_total",
			Help: "Total number of finished group runs.",
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cohort_run_duration_seconds",
			Help:    "Wall-clock duration of a group run, from dispatch to the last worker reporting, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cohort_tasks_total",
			Help: "Total number of finished tasks by work kind and final status.",
		},
		[]string{"kind", "status"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cohort_task_duration_seconds",
			Help:    "Task execution time from dispatch to final status, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	activeTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cohort_active_tasks",
			Help: "Number of tasks currently executing.",
		},
	)

	timeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cohort_task_timeouts_total",
			Help: "Total number of tasks whose watcher set the token on deadline.",
		},
		[]string{"kind"},
	)

	broadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_broadcasts_total",
			Help: "Total number of cancellation broadcasts.",
		},
	)

	broadcastTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cohort_broadcast_tokens_total",
			Help: "Total number of tokens set by cancellation broadcasts.",
		},
	)
)

var builtinKinds = []string{model.KindSquare, model.KindSqrt, model.KindFactorial}

func init() {
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(tasksTotal)
	prometheus.MustRegister(taskDuration)
	prometheus.MustRegister(activeTasks)
	prometheus.MustRegister(timeoutsTotal)
	prometheus.MustRegister(broadcastsTotal)
	prometheus.MustRegister(broadcastTokensTotal)

	// Pre-initialize label combinations so they appear in /metrics with
	// value 0 from startup.
	for _, kind := range builtinKinds {
		tasksTotal.WithLabelValues(kind, model.StatusCompleted)
		tasksTotal.WithLabelValues(kind, model.StatusCancelled)
		timeoutsTotal.WithLabelValues(kind)
	}
}
