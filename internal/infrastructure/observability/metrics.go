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

	OrdersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total number of orders placed with funds held in escrow",
		},
	)

	OrderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of committed order status transitions",
		},
		[]string{"from", "to"},
	)

	// outcome: settled, already_closed, error
	EscrowSettlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_settlements_total",
			Help: "Total number of escrow release and refund attempts",
		},
		[]string{"op", "outcome"},
	)
)

func InitMetrics(registerer prometheus.Registerer) {
	registerer.MustRegister(RepositoryCalls, RepositoryDuration, OrdersPlaced, OrderTransitions, EscrowSettlements)
}
