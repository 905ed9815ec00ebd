// Package metrics содержит метрики Prometheus сервиса баллов.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration отслеживает длительность операций ядра.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "points_operation_duration_seconds",
			Help:    "Duration of core ledger, campaign and archive operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"op", "result"}, // ok или error
	)

	// ArchivePurgedTotal считает записи, удалённые фоновой очисткой архива.
	ArchivePurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "points_archive_purged_total",
			Help: "Total number of archive entries purged by the cleanup worker",
		},
	)

	// TransactionsTotal считает операции с баллами по типу и итоговому статусу.
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_transactions_total",
			Help: "Total number of point transactions by kind and decision",
		},
		[]string{"kind", "decision"},
	)
)

// RecordOperation фиксирует длительность операции ядра.
func RecordOperation(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(op, result).Observe(seconds)
}
