package metrics

import (
	"testing"
	"time"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *CatalogMetrics

	// None of these may panic on a nil receiver.
	m.RecordChunkReceived(1024)
	m.RecordUploadFinished("completed")
	m.RecordUploadDuration(time.Second)
	m.RecordVariantResult("small", "success")
	m.RecordImportRow("imported")
	m.RecordImportFinished("completed", time.Second)
	m.RecordJobRetry("variant_generate")
}

func TestMetricsDisabledWithoutRegistry(t *testing.T) {
	if IsEnabled() {
		t.Skip("registry already initialized by another test")
	}
	if m := NewCatalogMetrics(); m != nil {
		t.Error("NewCatalogMetrics() should return nil before InitRegistry")
	}
}

func TestMetricsRecordingAfterInit(t *testing.T) {
	InitRegistry()

	m := NewCatalogMetrics()
	if m == nil {
		t.Fatal("NewCatalogMetrics() returned nil with registry initialized")
	}

	// Idempotent construction returns the same instance.
	if again := NewCatalogMetrics(); again != m {
		t.Error("NewCatalogMetrics() is not idempotent")
	}

	m.RecordChunkReceived(4096)
	m.RecordUploadFinished("completed")
	m.RecordUploadDuration(2 * time.Second)
	m.RecordVariantResult("medium", "failure")
	m.RecordImportRow("duplicate")
	m.RecordImportFinished("partially_completed", 500*time.Millisecond)
	m.RecordJobRetry("image_fetch")

	families, err := GetRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"catalogd_upload_chunks_received_total",
		"catalogd_uploads_finished_total",
		"catalogd_import_rows_total",
		"catalogd_job_retries_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not registered", name)
		}
	}
}
