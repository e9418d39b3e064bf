package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fullSyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_full_sync_duration_seconds",
			Help:    "Duration of full index rebuilds, by outcome",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"outcome"},
	)

	documentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_search_documents_indexed_total",
			Help: "Product documents written to the search index, by sync mode",
		},
		[]string{"mode"},
	)

	documentsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_search_documents_deleted_total",
			Help: "Product documents removed from the search index, by sync mode",
		},
		[]string{"mode"},
	)

	syncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_search_full_sync_in_progress",
			Help: "1 while a full index rebuild is running",
		},
	)

	syncPageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_search_sync_page_failures_total",
			Help: "Sync pages that failed to load or write, by sync mode",
		},
		[]string{"mode"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_search_query_duration_seconds",
			Help:    "Latency of search, id search and suggest calls to the index",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
)

// Sync modes used as metric labels.
const (
	modeFull        = "full"
	modeIncremental = "incremental"
	modeTargeted    = "targeted"
)
