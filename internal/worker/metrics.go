package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: длительность обработки одного батча (оценка + upsert + счетчики)
	BatchDuration prometheus.Histogram

	// Traffic: элементы, прошедшие через эвалюатор, по вердиктам
	ItemsEvaluated *prometheus.CounterVec

	// Errors: пер-элементные сбои оценки
	EvalErrors prometheus.Counter

	// Прогоны, доведенные воркером до PREPARED
	RunsCompleted prometheus.Counter

	// Saturation: состояние Circuit Breaker вокруг эвалюатора (0 - ок, 1 - выбило)
	BreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern — без регистратора метрики живут в локальном реестре
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		BatchDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "evalworker_batch_duration_seconds",
			Help:    "Histogram of evaluation batch latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		ItemsEvaluated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "evalworker_items_evaluated_total",
			Help: "Total number of catalog items evaluated, by verdict.",
		}, []string{"status"}),

		EvalErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "evalworker_item_errors_total",
			Help: "Total number of per-item evaluation failures.",
		}),

		RunsCompleted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "evalworker_runs_completed_total",
			Help: "Total number of runs driven to PREPARED.",
		}),

		BreakerState: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "evalworker_circuit_breaker_state",
			Help: "Current state of the evaluator circuit breaker (0=closed, 1=open).",
		}),
	}
}
