package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/checksum"
)

func testLimits() Limits {
	return Limits{
		MaxTotalSize: 1 << 30,
		MaxChunks:    100,
		MinChunkSize: 1,
		MaxChunkSize: 1 << 20,
	}
}

func setupEngine(t *testing.T) (*Engine, *store.GORMStore, blob.Store) {
	t.Helper()

	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	blobs, err := blob.NewFilesystemStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}

	return New(s, blobs, nil, nil, testLimits(), time.Hour), s, blobs
}

// initSession initializes a session for the given content split into
// chunks of the given size.
func initSession(t *testing.T, e *Engine, name string, content []byte, chunkSize int) (*models.Upload, [][]byte) {
	t.Helper()

	var chunks [][]byte
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunks = append(chunks, content[off:end])
	}

	res, err := e.Initialize(context.Background(), InitRequest{
		Filename:    name,
		TotalSize:   int64(len(content)),
		TotalChunks: len(chunks),
		Checksum:    checksum.SHA256Hex(content),
		MimeType:    "image/png",
	})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if res.Deduplicated {
		t.Fatal("Initialize() unexpectedly deduplicated")
	}
	return res.Upload, chunks
}

func TestInitializeValidation(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	valid := InitRequest{
		Filename:    "photo.png",
		TotalSize:   1024,
		TotalChunks: 2,
		Checksum:    strings.Repeat("ab", 32),
	}

	tests := []struct {
		name   string
		mutate func(*InitRequest)
		field  string
	}{
		{"empty filename", func(r *InitRequest) { r.Filename = "  " }, "filename"},
		{"zero size", func(r *InitRequest) { r.TotalSize = 0 }, "total_size"},
		{"size over limit", func(r *InitRequest) { r.TotalSize = 1<<30 + 1 }, "total_size"},
		{"zero chunks", func(r *InitRequest) { r.TotalChunks = 0 }, "total_chunks"},
		{"too many chunks", func(r *InitRequest) { r.TotalChunks = 101 }, "total_chunks"},
		{"short checksum", func(r *InitRequest) { r.Checksum = "abcd" }, "checksum"},
		{"non-hex checksum", func(r *InitRequest) { r.Checksum = strings.Repeat("zz", 32) }, "checksum"},
		{"implied chunk too large", func(r *InitRequest) {
			r.TotalSize = 4 << 20
			r.TotalChunks = 2
		}, "total_chunks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := e.Initialize(ctx, req)
			ve, ok := AsValidationErrors(err)
			if !ok {
				t.Fatalf("Initialize() error = %v, want validation errors", err)
			}
			if len(ve[tt.field]) == 0 {
				t.Errorf("expected error on field %s, got %v", tt.field, ve)
			}
		})
	}
}

func TestInitializeNormalizesChecksum(t *testing.T) {
	e, _, _ := setupEngine(t)

	res, err := e.Initialize(context.Background(), InitRequest{
		Filename:    "photo.png",
		TotalSize:   100,
		TotalChunks: 1,
		Checksum:    strings.ToUpper(strings.Repeat("ab", 32)),
	})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if res.Upload.ChecksumSHA256 != strings.Repeat("ab", 32) {
		t.Errorf("checksum stored as %q, want lowercase", res.Upload.ChecksumSHA256)
	}
	if res.Upload.Status != models.UploadPending {
		t.Errorf("status = %s, want pending", res.Upload.Status)
	}
	if !strings.HasSuffix(res.Upload.StoredFilename, ".png") {
		t.Errorf("stored filename %q lost the extension", res.Upload.StoredFilename)
	}
}

func TestChunkedUploadLifecycle(t *testing.T) {
	e, _, blobs := setupEngine(t)
	ctx := context.Background()

	content := bytes.Repeat([]byte("0123456789"), 100)
	u, chunks := initSession(t, e, "photo.png", content, 300)

	// Send chunks out of order.
	order := []int{2, 0, 3, 1}
	for i, idx := range order {
		res, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{
			Index:    idx,
			Data:     chunks[idx],
			Checksum: checksum.SHA256Hex(chunks[idx]),
		})
		if err != nil {
			t.Fatalf("ReceiveChunk(%d) error: %v", idx, err)
		}
		if res.UploadedChunks != i+1 {
			t.Errorf("after chunk %d: uploaded = %d, want %d", idx, res.UploadedChunks, i+1)
		}
		if i == len(order)-1 && !res.ReadyToFinish {
			t.Error("final chunk did not report ready_to_finish")
		}
	}

	// Progress at completion is 100.00.
	st, err := e.GetStatus(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetStatus() error: %v", err)
	}
	if st.Upload.Progress() != 100.00 || len(st.MissingChunks) != 0 {
		t.Errorf("status = %.2f%% missing %v", st.Upload.Progress(), st.MissingChunks)
	}

	completed, err := e.Complete(ctx, u.ID)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if completed.Status != models.UploadCompleted || completed.CompletedAt == nil {
		t.Errorf("completed = %+v", completed)
	}

	assembled, err := blobs.Get(ctx, completed.AssembledObjectKey())
	if err != nil {
		t.Fatalf("assembled blob missing: %v", err)
	}
	if !bytes.Equal(assembled, content) {
		t.Error("assembled content mismatch")
	}

	// Chunks are removed after assembly.
	if exists, _ := blobs.Exists(ctx, u.ChunkObjectKey(0)); exists {
		t.Error("chunk 0 still present after completion")
	}

	// Completing again is idempotent.
	again, err := e.Complete(ctx, u.ID)
	if err != nil {
		t.Fatalf("second Complete() error: %v", err)
	}
	if again.ID != completed.ID {
		t.Error("idempotent complete returned a different upload")
	}
}

func TestReceiveChunkIdempotent(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("hello chunked world")
	u, chunks := initSession(t, e, "a.bin", content, 10)

	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}

	res, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]})
	if err != nil {
		t.Fatalf("duplicate ReceiveChunk() error: %v", err)
	}
	if !res.Duplicate {
		t.Error("duplicate send not flagged")
	}
	if res.UploadedChunks != 1 {
		t.Errorf("uploaded = %d after duplicate send, want 1", res.UploadedChunks)
	}
}

func TestReceiveChunkAfterCompleteAcknowledged(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("already fully uploaded")
	u, chunks := initSession(t, e, "late.bin", content, 100)
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}
	if _, err := e.Complete(ctx, u.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	// A retransmit landing after completion succeeds instead of
	// conflicting.
	res, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]})
	if err != nil {
		t.Fatalf("ReceiveChunk() after complete error: %v", err)
	}
	if !res.Duplicate || !res.ReadyToFinish {
		t.Errorf("late chunk = %+v, want duplicate and ready", res)
	}
	if res.UploadedChunks != 1 {
		t.Errorf("uploaded = %d, want 1", res.UploadedChunks)
	}
}

func TestReceiveChunkErrors(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("hello chunked world!")
	u, chunks := initSession(t, e, "b.bin", content, 10)

	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 5, Data: chunks[0]}); !errors.Is(err, models.ErrChunkOutOfRange) {
		t.Errorf("out-of-range error = %v", err)
	}
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: -1, Data: chunks[0]}); !errors.Is(err, models.ErrChunkOutOfRange) {
		t.Errorf("negative index error = %v", err)
	}

	badSum := strings.Repeat("00", 32)
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0], Checksum: badSum}); !errors.Is(err, models.ErrChecksumMismatch) {
		t.Errorf("checksum mismatch error = %v", err)
	}

	// A rejected chunk is not recorded.
	st, _ := e.GetStatus(ctx, u.ID)
	if st.Upload.UploadedChunks != 0 {
		t.Errorf("uploaded = %d after rejected chunks", st.Upload.UploadedChunks)
	}

	if _, err := e.ReceiveChunk(ctx, "missing", ChunkRequest{Index: 0, Data: chunks[0]}); !errors.Is(err, models.ErrUploadNotFound) {
		t.Errorf("missing upload error = %v", err)
	}
}

func TestCompleteWithMissingChunks(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("incomplete content here")
	u, chunks := initSession(t, e, "c.bin", content, 8)

	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}

	if _, err := e.Complete(ctx, u.ID); !errors.Is(err, models.ErrMissingChunks) {
		t.Errorf("Complete() error = %v, want ErrMissingChunks", err)
	}

	// Session stays resumable after the failed completion attempt.
	st, _ := e.GetStatus(ctx, u.ID)
	if !st.Upload.CanResume() {
		t.Errorf("status = %s, want resumable", st.Upload.Status)
	}
	if len(st.MissingChunks) != 2 {
		t.Errorf("missing = %v, want 2 entries", st.MissingChunks)
	}
}

func TestCompleteChecksumMismatchFailsUpload(t *testing.T) {
	e, s, blobs := setupEngine(t)
	ctx := context.Background()

	content := []byte("expected content")
	res, err := e.Initialize(ctx, InitRequest{
		Filename:    "d.bin",
		TotalSize:   int64(len(content)),
		TotalChunks: 1,
		Checksum:    checksum.SHA256Hex(content),
	})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	u := res.Upload

	// Chunk passes its own check but differs from the declared whole-file hash.
	tampered := []byte("tampered content")
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: tampered}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}

	if _, err := e.Complete(ctx, u.ID); !errors.Is(err, models.ErrChecksumMismatch) {
		t.Errorf("Complete() error = %v, want ErrChecksumMismatch", err)
	}

	got, err := s.GetUpload(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUpload() error: %v", err)
	}
	if got.Status != models.UploadFailed || got.ErrorMessage == "" {
		t.Errorf("upload after mismatch = %s %q", got.Status, got.ErrorMessage)
	}

	if exists, _ := blobs.Exists(ctx, u.AssembledObjectKey()); exists {
		t.Error("assembled blob kept after checksum mismatch")
	}
}

func TestDeduplicationByChecksum(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("identical bytes every time")
	u, chunks := initSession(t, e, "first.png", content, 30)
	for i, c := range chunks {
		if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: i, Data: c}); err != nil {
			t.Fatalf("ReceiveChunk(%d) error: %v", i, err)
		}
	}
	if _, err := e.Complete(ctx, u.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	res, err := e.Initialize(ctx, InitRequest{
		Filename:    "second.png",
		TotalSize:   int64(len(content)),
		TotalChunks: 1,
		Checksum:    strings.ToUpper(checksum.SHA256Hex(content)),
	})
	if err != nil {
		t.Fatalf("Initialize() error: %v", err)
	}
	if !res.Deduplicated {
		t.Error("second upload with same content not deduplicated")
	}
	if res.Upload.ID != u.ID {
		t.Errorf("deduplicated to %s, want %s", res.Upload.ID, u.ID)
	}
}

func TestCancel(t *testing.T) {
	e, _, blobs := setupEngine(t)
	ctx := context.Background()

	content := []byte("to be cancelled soon")
	u, chunks := initSession(t, e, "e.bin", content, 10)
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}

	cancelled, err := e.Cancel(ctx, u.ID)
	if err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if cancelled.Status != models.UploadCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if exists, _ := blobs.Exists(ctx, u.ChunkObjectKey(0)); exists {
		t.Error("chunks kept after cancel")
	}

	// Cancelling again is a no-op.
	if _, err := e.Cancel(ctx, u.ID); err != nil {
		t.Errorf("repeated Cancel() error: %v", err)
	}

	// Chunks after cancel are rejected with a state error.
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 1, Data: chunks[1]}); !models.IsStateError(err) {
		t.Errorf("ReceiveChunk() after cancel error = %v, want state error", err)
	}
	if _, err := e.Complete(ctx, u.ID); !models.IsStateError(err) {
		t.Errorf("Complete() after cancel error = %v, want state error", err)
	}
}

func TestCancelCompletedUploadRejected(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("finished business")
	u, chunks := initSession(t, e, "f.bin", content, 100)
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}
	if _, err := e.Complete(ctx, u.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	if _, err := e.Cancel(ctx, u.ID); !models.IsStateError(err) {
		t.Errorf("Cancel() after complete error = %v, want state error", err)
	}
}

func TestVerifyChecksum(t *testing.T) {
	e, _, _ := setupEngine(t)
	ctx := context.Background()

	content := []byte("verify me please now")
	u, chunks := initSession(t, e, "g.bin", content, 100)

	// Not yet completed.
	if _, err := e.VerifyChecksum(ctx, u.ID, ""); !errors.Is(err, models.ErrUploadNotComplete) {
		t.Errorf("VerifyChecksum() before completion error = %v", err)
	}

	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}
	if _, err := e.Complete(ctx, u.ID); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	ok, err := e.VerifyChecksum(ctx, u.ID, "")
	if err != nil || !ok {
		t.Errorf("VerifyChecksum() = %v, %v, want true", ok, err)
	}

	ok, err = e.VerifyChecksum(ctx, u.ID, strings.Repeat("00", 32))
	if err != nil || ok {
		t.Errorf("VerifyChecksum(wrong) = %v, %v, want false", ok, err)
	}
}

func TestSweepExpired(t *testing.T) {
	e, s, _ := setupEngine(t)
	ctx := context.Background()

	// TTL in the past relative to everything.
	e.sessionTTL = -time.Minute

	content := []byte("stale session content")
	u, chunks := initSession(t, e, "h.bin", content, 10)
	if _, err := e.ReceiveChunk(ctx, u.ID, ChunkRequest{Index: 0, Data: chunks[0]}); err != nil {
		t.Fatalf("ReceiveChunk() error: %v", err)
	}

	expired, err := e.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error: %v", err)
	}
	if expired != 1 {
		t.Errorf("SweepExpired() = %d, want 1", expired)
	}

	got, err := s.GetUpload(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUpload() error: %v", err)
	}
	if got.Status != models.UploadFailed || got.ErrorMessage != "upload session expired" {
		t.Errorf("expired upload = %s %q", got.Status, got.ErrorMessage)
	}
}

func TestIngestFile(t *testing.T) {
	e, _, blobs := setupEngine(t)
	ctx := context.Background()

	content := bytes.Repeat([]byte("local file bytes "), 64)
	path := filepath.Join(t.TempDir(), "shared-image.jpg")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	u, err := e.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("IngestFile() error: %v", err)
	}
	if u.Status != models.UploadCompleted {
		t.Errorf("status = %s, want completed", u.Status)
	}
	if u.OriginalFilename != "shared-image.jpg" || u.MimeType != "image/jpeg" {
		t.Errorf("ingested = %q %q", u.OriginalFilename, u.MimeType)
	}
	if u.ChecksumSHA256 != checksum.SHA256Hex(content) {
		t.Error("ingest checksum mismatch")
	}

	got, err := blobs.Get(ctx, u.AssembledObjectKey())
	if err != nil || !bytes.Equal(got, content) {
		t.Errorf("assembled blob missing or wrong: %v", err)
	}

	// Second ingest of identical content deduplicates.
	again, err := e.IngestFile(ctx, path)
	if err != nil {
		t.Fatalf("second IngestFile() error: %v", err)
	}
	if again.ID != u.ID {
		t.Errorf("second ingest = %s, want dedup to %s", again.ID, u.ID)
	}

	if _, err := e.IngestFile(ctx, filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("IngestFile(missing) expected error")
	}
}
