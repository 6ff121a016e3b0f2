package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CatalogMetrics tracks Prometheus metrics for upload and import
// activity.
//
// All metrics use the "catalogd_" prefix. Methods handle nil receivers
// gracefully, so a nil *CatalogMetrics acts as a no-op when metrics
// are disabled.
type CatalogMetrics struct {
	// chunksReceived counts accepted chunk payloads.
	chunksReceived prometheus.Counter

	// chunkBytes counts accepted chunk payload bytes.
	chunkBytes prometheus.Counter

	// uploadsCompleted counts upload sessions by final outcome.
	// Labels: outcome=[completed, failed, cancelled, deduplicated]
	uploadsCompleted *prometheus.CounterVec

	// uploadDuration tracks time from session creation to completion.
	uploadDuration prometheus.Histogram

	// variantResults counts variant generation attempts by variant and result.
	// Labels: variant=[small, medium, large], result=[success, failure, skipped]
	variantResults *prometheus.CounterVec

	// importRows counts processed CSV rows by outcome.
	// Labels: outcome=[imported, updated, invalid, duplicate]
	importRows *prometheus.CounterVec

	// importsFinished counts import runs by final status.
	// Labels: status=[completed, partially_completed, failed]
	importsFinished *prometheus.CounterVec

	// importDuration tracks end-to-end import processing time.
	importDuration prometheus.Histogram

	// jobRetries counts background job retry attempts by kind.
	// Labels: kind=[variant_generate, image_fetch]
	jobRetries *prometheus.CounterVec
}

var (
	catalogMetricsOnce     sync.Once
	catalogMetricsInstance *CatalogMetrics
)

// NewCatalogMetrics creates and registers the catalogue metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// Idempotent: repeated calls return the same instance.
func NewCatalogMetrics() *CatalogMetrics {
	if !IsEnabled() {
		return nil
	}

	catalogMetricsOnce.Do(func() {
		reg := GetRegistry()

		catalogMetricsInstance = &CatalogMetrics{
			chunksReceived: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "catalogd_upload_chunks_received_total",
					Help: "Total accepted chunk payloads",
				},
			),
			chunkBytes: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "catalogd_upload_chunk_bytes_total",
					Help: "Total accepted chunk payload bytes",
				},
			),
			uploadsCompleted: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalogd_uploads_finished_total",
					Help: "Upload sessions by final outcome",
				},
				[]string{"outcome"},
			),
			uploadDuration: promauto.With(reg).NewHistogram(
				prometheus.HistogramOpts{
					Name:    "catalogd_upload_duration_seconds",
					Help:    "Time from upload session creation to completion",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
				},
			),
			variantResults: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalogd_image_variant_results_total",
					Help: "Image variant generation attempts by variant and result",
				},
				[]string{"variant", "result"},
			),
			importRows: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalogd_import_rows_total",
					Help: "Processed CSV rows by outcome",
				},
				[]string{"outcome"},
			),
			importsFinished: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalogd_imports_finished_total",
					Help: "Import runs by final status",
				},
				[]string{"status"},
			),
			importDuration: promauto.With(reg).NewHistogram(
				prometheus.HistogramOpts{
					Name:    "catalogd_import_duration_seconds",
					Help:    "End-to-end import processing time",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
				},
			),
			jobRetries: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "catalogd_job_retries_total",
					Help: "Background job retry attempts by kind",
				},
				[]string{"kind"},
			),
		}
	})

	return catalogMetricsInstance
}

// RecordChunkReceived records an accepted chunk and its payload size.
func (m *CatalogMetrics) RecordChunkReceived(bytes int) {
	if m == nil {
		return
	}
	m.chunksReceived.Inc()
	m.chunkBytes.Add(float64(bytes))
}

// RecordUploadFinished records an upload session reaching a terminal outcome.
func (m *CatalogMetrics) RecordUploadFinished(outcome string) {
	if m == nil {
		return
	}
	m.uploadsCompleted.WithLabelValues(outcome).Inc()
}

// RecordUploadDuration records time from session creation to completion.
func (m *CatalogMetrics) RecordUploadDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.uploadDuration.Observe(d.Seconds())
}

// RecordVariantResult records one variant generation attempt.
func (m *CatalogMetrics) RecordVariantResult(variant, result string) {
	if m == nil {
		return
	}
	m.variantResults.WithLabelValues(variant, result).Inc()
}

// RecordImportRow records one processed CSV row.
func (m *CatalogMetrics) RecordImportRow(outcome string) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues(outcome).Inc()
}

// RecordImportFinished records a finished import run and its duration.
func (m *CatalogMetrics) RecordImportFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.importsFinished.WithLabelValues(status).Inc()
	m.importDuration.Observe(d.Seconds())
}

// RecordJobRetry records a background job retry attempt.
func (m *CatalogMetrics) RecordJobRetry(kind string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(kind).Inc()
}
