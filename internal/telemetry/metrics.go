package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Значения label result/outcome.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

var (
	// LaunchesTotal — попытки запуска run по результату.
	LaunchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_launcher_launches_total",
		Help: "Run launch attempts by result",
	}, []string{"result"})

	// TerminationsTotal — вызовы Terminate по результату
	// (skipped — run не в состоянии ACTIVE).
	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_launcher_terminations_total",
		Help: "Run termination requests by result",
	}, []string{"result"})

	// TaskDefinitionsRegistered — зарегистрированные ревизии task definition.
	TaskDefinitionsRegistered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "automata_launcher_task_definitions_registered_total",
		Help: "Task definition revisions registered for runs",
	})

	// ECSRequestDuration — латентность вызовов ECS/EC2 API.
	ECSRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automata_launcher_ecs_request_duration_seconds",
		Help:    "Latency of orchestrator API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})

	// RunsReconciled — переходы статусов, сделанные монитором.
	RunsReconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "automata_launcher_runs_reconciled_total",
		Help: "Run status transitions applied by the monitor",
	}, []string{"status"})

	// HTTPRequestDuration — латентность HTTP API по шаблону маршрута.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automata_launcher_http_request_duration_seconds",
		Help:    "HTTP API request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// ObserveECSCall записывает длительность вызова API.
func ObserveECSCall(operation string, start time.Time, err error) {
	outcome := ResultSuccess
	if err != nil {
		outcome = ResultError
	}
	ECSRequestDuration.WithLabelValues(operation, outcome).Observe(time.Since(start).Seconds())
}

// ResultLabel возвращает success/error по ошибке.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}
