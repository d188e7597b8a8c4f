package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qs_trader_queue_tasks_total",
			Help: "Queue tasks handled by result (completed, failed, duplicate).",
		},
		[]string{"result"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qs_trader_decisions_total",
			Help: "Decisions recorded per outcome and category.",
		},
		[]string{"outcome", "category"},
	)
	ScheduledReanalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qs_trader_scheduled_reanalysis_total",
			Help: "Scheduling requests by result (accepted, rejected).",
		},
		[]string{"result"},
	)
	ReconciledTradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qs_trader_reconciled_trades_total",
			Help: "Trades closed by the reconciliation monitor, by final status.",
		},
		[]string{"status"},
	)
	ReconciliationErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "qs_trader_reconciliation_errors_total",
			Help: "Reconciliation cycles or trades that failed.",
		},
	)
	EngineLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qs_trader_engine_request_seconds",
			Help:    "Latency of reasoning engine requests.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueTasksTotal,
		DecisionsTotal,
		ScheduledReanalysisTotal,
		ReconciledTradesTotal,
		ReconciliationErrorsTotal,
		EngineLatency,
	)
}
