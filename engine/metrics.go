package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "searchlite",
		Name:      "documents_indexed_total",
		Help:      "Documents added to the index.",
	})

	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "searchlite",
		Name:      "queries_total",
		Help:      "Queries served, by operation.",
	}, []string{"op"})

	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "searchlite",
		Name:      "query_duration_seconds",
		Help:      "Wall time spent answering a query across all shards.",
		Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
	})
)
