package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchemaEnsureTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "schema_ensure_total",
		Help: "Total number of successful schema initializations",
	})

	SchemaEnsureFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_ensure_failed_total",
		Help: "Total number of failed schema initializations",
	}, []string{"reason"})

	SchemaEnsureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "schema_ensure_latency_seconds",
		Help:    "Latency of schema initialization",
		Buckets: prometheus.DefBuckets,
	})

	ValuationGrandTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_valuation_grand_total",
		Help: "Grand total of the last inventory valuation, in currency minor units",
	})

	ValuationAnomalies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inventory_valuation_anomalies",
		Help: "Rows excluded from the last valuation",
	}, []string{"kind"})

	ValuationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_valuation_runs_total",
		Help: "Total number of valuation runs",
	}, []string{"result"})

	ValuationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_valuation_latency_seconds",
		Help:    "Latency of valuation computation",
		Buckets: prometheus.DefBuckets,
	})

	ValuationCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_valuation_cache_hits_total",
		Help: "Total number of valuation reports served from cache",
	})

	StockMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mutations_total",
		Help: "Total number of stock batch changes",
	}, []string{"reason"})

	StockMutationsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_mutations_failed_total",
		Help: "Total number of rejected stock changes",
	}, []string{"reason"})

	LoansRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loans_recorded_total",
		Help: "Total number of loan events recorded",
	}, []string{"direction"})

	LoansDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loans_deleted_total",
		Help: "Total number of loan events deleted",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
