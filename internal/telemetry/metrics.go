package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики платформы. Регистрируются в prometheus.DefaultRegisterer.
var (
	// TransactionsTotal — завершённые транзакции по продукту и статусу.
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_transactions_total",
		Help: "Finished rating transactions by product line and status.",
	}, []string{"product_line", "status"})

	// TransactionDuration — длительность транзакции.
	TransactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rating_transaction_duration_seconds",
		Help:    "Rating transaction duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"product_line"})

	// StepDuration — длительность шага по типу и статусу.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rating_step_duration_seconds",
		Help:    "Step execution duration by step type and status.",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"step_type", "status"})

	// ExternalCallAttempts — попытки внешних вызовов.
	ExternalCallAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_external_call_attempts_total",
		Help: "External call attempts by step type and outcome.",
	}, []string{"step_type", "outcome"})

	// HTTPRequestsTotal — HTTP запросы API.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_http_requests_total",
		Help: "HTTP requests by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	// LookupReloads — перезагрузки справочников.
	LookupReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_lookup_reloads_total",
		Help: "Lookup table reloads by outcome.",
	}, []string{"outcome"})

	// AsyncRequests — сообщения rating.requests, обработанные воркером.
	AsyncRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rating_async_requests_total",
		Help: "Queued rate requests handled by the worker, by outcome.",
	}, []string{"outcome"})

	// TransactionsAbandoned — транзакции, закрытые sweep'ом воркера.
	TransactionsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rating_transactions_abandoned_total",
		Help: "Non-terminal transactions failed by the worker after making no progress.",
	})
)

// ObserveTransaction учитывает завершённую транзакцию.
func ObserveTransaction(productLine, status string, d time.Duration) {
	TransactionsTotal.WithLabelValues(productLine, status).Inc()
	TransactionDuration.WithLabelValues(productLine).Observe(d.Seconds())
}

// ObserveStep учитывает выполненный шаг.
func ObserveStep(stepType, status string, d time.Duration) {
	StepDuration.WithLabelValues(stepType, status).Observe(d.Seconds())
}

// ObserveHTTPRequest учитывает HTTP запрос.
func ObserveHTTPRequest(method, route string, status int) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
