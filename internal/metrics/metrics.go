// Package metrics exposes Prometheus collectors for the listening pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ingestBatchesTotal         *prometheus.CounterVec
	ingestRowsTotal            *prometheus.CounterVec
	warehouseInsertErrorsTotal *prometheus.CounterVec
	enrichmentMergesTotal      *prometheus.CounterVec
	deliveryMessagesTotal      *prometheus.CounterVec
	clusteringRunsTotal        *prometheus.CounterVec
	labelParseFailuresTotal    prometheus.Counter
	scrapeTriggersTotal        *prometheus.CounterVec
	serpSearchesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ingestBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_ingest_batches_total",
				Help: "Total number of delivered batches processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		ingestRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_ingest_rows_total",
				Help: "Total number of normalized rows written, labeled by source.",
			},
			[]string{"source"},
		)

		warehouseInsertErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_warehouse_insert_errors_total",
				Help: "Total row-level insert errors reported by the warehouse, labeled by table.",
			},
			[]string{"table"},
		)

		enrichmentMergesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_enrichment_merges_total",
				Help: "Total embeddings-cache merge attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		deliveryMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_delivery_messages_total",
				Help: "Total delivery notifications consumed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		clusteringRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_clustering_runs_total",
				Help: "Total clustering runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		labelParseFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listener_label_parse_failures_total",
				Help: "Total topic label responses that failed parsing or validation.",
			},
		)

		scrapeTriggersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_scrape_triggers_total",
				Help: "Total scrape trigger calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		serpSearchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listener_serp_searches_total",
				Help: "Total SERP searches executed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveIngestBatch increments the batch counter for a source and outcome.
func ObserveIngestBatch(source, outcome string) {
	ingestBatchesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveIngestRows adds to the normalized row counter for a source.
func ObserveIngestRows(source string, rows int) {
	if rows > 0 {
		ingestRowsTotal.WithLabelValues(source).Add(float64(rows))
	}
}

// ObserveInsertErrors adds row-level insert errors for a table.
func ObserveInsertErrors(table string, count int) {
	if count > 0 {
		warehouseInsertErrorsTotal.WithLabelValues(table).Add(float64(count))
	}
}

// ObserveEnrichmentMerge increments the merge counter for the given outcome.
func ObserveEnrichmentMerge(outcome string) {
	enrichmentMergesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDeliveryMessage increments the delivery notification counter.
func ObserveDeliveryMessage(outcome string) {
	deliveryMessagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveClusteringRun increments the run counter for the given status.
func ObserveClusteringRun(status string) {
	clusteringRunsTotal.WithLabelValues(status).Inc()
}

// ObserveLabelParseFailure increments the label parse failure counter.
func ObserveLabelParseFailure() {
	labelParseFailuresTotal.Inc()
}

// ObserveScrapeTrigger increments the scrape trigger counter.
func ObserveScrapeTrigger(outcome string) {
	scrapeTriggersTotal.WithLabelValues(outcome).Inc()
}

// ObserveSerpSearch increments the SERP search counter.
func ObserveSerpSearch(outcome string) {
	serpSearchesTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
