package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	TransactionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_created_total",
			Help: "Transactions written to the ledger, by risk level",
		},
		[]string{"risk"},
	)

	IdempotentReplays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_idempotent_replays_total",
			Help: "Transaction requests answered with an already stored record",
		},
	)
)

// InitMetrics registers the ledger collectors with reg.
func InitMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{RepositoryCalls, RepositoryDuration, TransactionsCreated, IdempotentReplays} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
