// Package metrics exposes Prometheus collectors for the ingestion pipeline
// and the notification dispatcher. HTTP traffic metrics live in the gin
// middleware; the collectors here measure the pipeline itself with bounded
// label cardinality (category and outcome labels only; subdomains are
// unbounded and belong in logs, not labels).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// PagesFetched counts source pages fetched successfully, by category.
	PagesFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_pages_fetched_total",
			Help: "Total number of source pages fetched successfully.",
		},
		[]string{"category"},
	)

	// PageFailures counts pages that exhausted their retries and were skipped.
	PageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_page_failures_total",
			Help: "Total number of pages skipped after exhausting retries.",
		},
		[]string{"category"},
	)

	// RecordsUpserted counts processed records by outcome
	// (created, updated, unchanged, skipped).
	RecordsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Total number of source records processed, by upsert outcome.",
		},
		[]string{"outcome"},
	)

	// JobsFinished counts ingestion jobs by terminal status.
	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_jobs_finished_total",
			Help: "Total number of ingestion jobs reaching a terminal status.",
		},
		[]string{"status"},
	)

	// ReconciliationDiscrepancy gauges the most recent verify result per
	// category (absolute record-count mismatch against the source).
	ReconciliationDiscrepancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_reconciliation_discrepancy",
			Help: "Most recent reconciliation discrepancy (expected - actual).",
		},
		[]string{"category"},
	)

	// MailsHandedOff counts messages handed to the delivery collaborator,
	// by logical stream (search-immediate, search-digest).
	MailsHandedOff = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notify_mails_handed_off_total",
			Help: "Total number of messages handed off for delivery, by stream.",
		},
		[]string{"stream"},
	)
)

func init() {
	prometheus.MustRegister(
		PagesFetched,
		PageFailures,
		RecordsUpserted,
		JobsFinished,
		ReconciliationDiscrepancy,
		MailsHandedOff,
	)
}
