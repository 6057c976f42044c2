package utils

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the per-source ingestion health registry. Label is always
// the source platform.
type Metrics struct {
	reg *prometheus.Registry

	RecordsFetched    *prometheus.CounterVec
	RecordsNormalized *prometheus.CounterVec
	RecordsSkipped    *prometheus.CounterVec
	RecordsDegraded   *prometheus.CounterVec
	ListingsCreated   *prometheus.CounterVec
	ListingsMerged    *prometheus.CounterVec
	ListingsUpdated   *prometheus.CounterVec
	ListingsPromoted  *prometheus.CounterVec
	ListingsExpired   *prometheus.CounterVec
	CycleFailures     *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
}

// NewMetrics creates and registers all pipeline collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	bySource := []string{"source"}

	m := &Metrics{
		reg: reg,
		RecordsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_records_fetched_total"}, bySource),
		RecordsNormalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_records_normalized_total"}, bySource),
		RecordsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_records_skipped_total"}, bySource),
		RecordsDegraded: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_records_degraded_total"}, bySource),
		ListingsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_listings_created_total"}, bySource),
		ListingsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_listings_merged_total"}, bySource),
		ListingsUpdated: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_listings_updated_total"}, bySource),
		ListingsPromoted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_listings_promoted_total"}, bySource),
		ListingsExpired: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_listings_expired_total"}, bySource),
		CycleFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_cycle_failures_total"}, bySource),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_cycle_duration_seconds",
				Buckets: prometheus.DefBuckets,
			}, bySource),
	}

	reg.MustRegister(
		m.RecordsFetched, m.RecordsNormalized, m.RecordsSkipped, m.RecordsDegraded,
		m.ListingsCreated, m.ListingsMerged, m.ListingsUpdated, m.ListingsPromoted,
		m.ListingsExpired, m.CycleFailures, m.CycleDuration,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
