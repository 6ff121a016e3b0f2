// Package upload implements the chunked upload engine: session
// initialization with content-hash deduplication, idempotent chunk
// receipt with per-chunk integrity checks, assembly with whole-file
// verification, resume, cancel, and expiry of stale sessions.
package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skuforge/catalogd/internal/bytesize"
	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/checksum"
	"github.com/skuforge/catalogd/pkg/metrics"
	"github.com/skuforge/catalogd/pkg/queue"
)

// Limits bounds what an upload session may declare.
type Limits struct {
	MaxTotalSize int64
	MaxChunks    int
	MinChunkSize int64
	MaxChunkSize int64
}

// DefaultLimits returns the standard session limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalSize: int64(5 * bytesize.GiB),
		MaxChunks:    10000,
		MinChunkSize: int64(5 * bytesize.KiB),
		MaxChunkSize: int64(100 * bytesize.MiB),
	}
}

// Engine drives the chunked upload lifecycle. All session mutations
// run under the store's per-upload lock, so concurrent chunk sends
// for one session serialize.
type Engine struct {
	store      *store.GORMStore
	blobs      blob.Store
	jobs       *queue.Queue
	metrics    *metrics.CatalogMetrics
	limits     Limits
	sessionTTL time.Duration
}

// New creates an upload engine. jobs and m may be nil; with a nil jobs
// queue completed image uploads simply get no variant renditions.
func New(s *store.GORMStore, blobs blob.Store, jobs *queue.Queue, m *metrics.CatalogMetrics, limits Limits, sessionTTL time.Duration) *Engine {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &Engine{
		store:      s,
		blobs:      blobs,
		jobs:       jobs,
		metrics:    m,
		limits:     limits,
		sessionTTL: sessionTTL,
	}
}

// MaxFileSize returns the configured upper bound for one file.
func (e *Engine) MaxFileSize() int64 {
	return e.limits.MaxTotalSize
}

// InitRequest declares a new upload session.
type InitRequest struct {
	Filename    string `json:"filename"`
	TotalSize   int64  `json:"total_size"`
	TotalChunks int    `json:"total_chunks"`
	Checksum    string `json:"checksum"`
	MimeType    string `json:"mime_type"`
}

// InitResult is the outcome of session initialization. Deduplicated
// is true when an already-completed upload with the same content hash
// was returned instead of a fresh session.
type InitResult struct {
	Upload       *models.Upload
	Deduplicated bool
}

// Initialize validates the session declaration, deduplicates by
// content hash, and creates a pending session otherwise.
func (e *Engine) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	if errs := e.validateInit(req); len(errs) > 0 {
		return nil, errs
	}

	sum := checksum.Normalize(req.Checksum)

	// A completed upload with the same content hash satisfies the
	// request without moving a byte.
	if existing, err := e.store.FindCompletedByChecksum(ctx, sum); err == nil {
		logger.InfoCtx(ctx, "Upload deduplicated by checksum",
			logger.KeyUploadID, existing.ID,
			logger.KeyChecksum, sum)
		e.metrics.RecordUploadFinished("deduplicated")
		return &InitResult{Upload: existing, Deduplicated: true}, nil
	} else if err != models.ErrUploadNotFound {
		return nil, err
	}

	upload := &models.Upload{
		OriginalFilename: req.Filename,
		StoredFilename:   storedFilename(req.Filename),
		MimeType:         req.MimeType,
		TotalSize:        req.TotalSize,
		TotalChunks:      req.TotalChunks,
		ChecksumSHA256:   sum,
		Status:           models.UploadPending,
		ChunkIndexes:     models.ChunkSet{},
	}
	if _, err := e.store.CreateUpload(ctx, upload); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "Upload session initialized",
		logger.KeyUploadID, upload.ID,
		logger.KeyFilename, upload.OriginalFilename,
		logger.KeyTotalSize, upload.TotalSize,
		logger.KeyChunks, upload.TotalChunks)
	return &InitResult{Upload: upload}, nil
}

func (e *Engine) validateInit(req InitRequest) ValidationErrors {
	errs := ValidationErrors{}

	if strings.TrimSpace(req.Filename) == "" {
		errs.Add("filename", "is required")
	}
	if req.TotalSize < 1 {
		errs.Add("total_size", "must be at least 1 byte")
	} else if req.TotalSize > e.limits.MaxTotalSize {
		errs.Add("total_size", fmt.Sprintf("must not exceed %s", bytesize.ByteSize(e.limits.MaxTotalSize)))
	}
	if req.TotalChunks < 1 {
		errs.Add("total_chunks", "must be at least 1")
	} else if req.TotalChunks > e.limits.MaxChunks {
		errs.Add("total_chunks", fmt.Sprintf("must not exceed %d", e.limits.MaxChunks))
	}
	if !checksum.IsValidHex(req.Checksum) {
		errs.Add("checksum", "must be a 64-character hex SHA-256 digest")
	}

	// Implied chunk size only makes sense once size and count are sane.
	if req.TotalSize >= 1 && req.TotalChunks >= 1 {
		implied := (req.TotalSize + int64(req.TotalChunks) - 1) / int64(req.TotalChunks)
		if implied > e.limits.MaxChunkSize {
			errs.Add("total_chunks", fmt.Sprintf("implied chunk size %s exceeds %s",
				bytesize.ByteSize(implied), bytesize.ByteSize(e.limits.MaxChunkSize)))
		}
		// A single-chunk session may carry any file down to 1 byte.
		if req.TotalChunks > 1 && implied < e.limits.MinChunkSize {
			errs.Add("total_chunks", fmt.Sprintf("implied chunk size %s is below %s",
				bytesize.ByteSize(implied), bytesize.ByteSize(e.limits.MinChunkSize)))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// storedFilename builds a collision-safe name that keeps the original
// extension for MIME sniffing and direct serving.
func storedFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	return fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), uuid.New().String(), ext)
}

// ChunkRequest carries one decoded chunk payload. Checksum is the
// optional client-computed SHA-256 of this chunk.
type ChunkRequest struct {
	Index    int
	Data     []byte
	Checksum string
}

// ChunkResult reports progress after a chunk is stored (or found to be
// a duplicate send).
type ChunkResult struct {
	UploadID       string  `json:"upload_id"`
	ChunkIndex     int     `json:"chunk_index"`
	UploadedChunks int     `json:"uploaded_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Progress       float64 `json:"progress"`
	Duplicate      bool    `json:"duplicate,omitempty"`
	ReadyToFinish  bool    `json:"ready_to_finish"`
}

// ReceiveChunk stores one chunk under the session lock.
//
// Re-sending an already-stored index is an idempotent no-op. When the
// client supplied a per-chunk checksum it is verified before the write,
// and the stored bytes are read back and re-hashed so a torn write
// cannot be recorded as received.
func (e *Engine) ReceiveChunk(ctx context.Context, uploadID string, req ChunkRequest) (*ChunkResult, error) {
	var result *ChunkResult

	err := e.store.WithUploadLock(ctx, uploadID, func(tx *gorm.DB, u *models.Upload) error {
		if u.Status == models.UploadCompleted {
			// A retransmit racing the completion; every chunk is already
			// accounted for, so acknowledge instead of erroring.
			result = &ChunkResult{
				UploadID:       u.ID,
				ChunkIndex:     req.Index,
				UploadedChunks: u.UploadedChunks,
				TotalChunks:    u.TotalChunks,
				Progress:       u.Progress(),
				Duplicate:      true,
				ReadyToFinish:  true,
			}
			return nil
		}
		if !u.CanResume() {
			return models.NewStateError(u.ID, u.Status, "receive chunk")
		}
		if req.Index < 0 || req.Index >= u.TotalChunks {
			return fmt.Errorf("%w: index %d outside [0, %d)", models.ErrChunkOutOfRange, req.Index, u.TotalChunks)
		}

		if u.ChunkIndexes.Has(req.Index) {
			result = &ChunkResult{
				UploadID:       u.ID,
				ChunkIndex:     req.Index,
				UploadedChunks: u.UploadedChunks,
				TotalChunks:    u.TotalChunks,
				Progress:       u.Progress(),
				Duplicate:      true,
				ReadyToFinish:  u.UploadedChunks == u.TotalChunks,
			}
			return nil
		}

		if req.Checksum != "" {
			if !checksum.IsValidHex(req.Checksum) {
				return fmt.Errorf("%w: malformed chunk checksum", models.ErrChecksumMismatch)
			}
			if !checksum.Equal(checksum.SHA256Hex(req.Data), req.Checksum) {
				return fmt.Errorf("%w: chunk %d", models.ErrChecksumMismatch, req.Index)
			}
		}

		key := u.ChunkObjectKey(req.Index)
		if err := e.blobs.Put(ctx, key, req.Data); err != nil {
			return fmt.Errorf("store chunk %d: %w", req.Index, err)
		}

		// Read back what landed on disk before recording receipt.
		stored, err := e.blobs.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("verify chunk %d: %w", req.Index, err)
		}
		if !checksum.Equal(checksum.SHA256Hex(stored), checksum.SHA256Hex(req.Data)) {
			_ = e.blobs.Delete(ctx, key)
			return fmt.Errorf("%w: chunk %d readback", models.ErrChecksumMismatch, req.Index)
		}

		u.ChunkIndexes.Add(req.Index)
		u.UploadedChunks = u.ChunkIndexes.Len()
		if u.Status == models.UploadPending {
			u.Status = models.UploadUploading
		}
		if err := store.SaveUpload(tx, u); err != nil {
			return err
		}

		e.metrics.RecordChunkReceived(len(req.Data))
		result = &ChunkResult{
			UploadID:       u.ID,
			ChunkIndex:     req.Index,
			UploadedChunks: u.UploadedChunks,
			TotalChunks:    u.TotalChunks,
			Progress:       u.Progress(),
			ReadyToFinish:  u.UploadedChunks == u.TotalChunks,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.DebugCtx(ctx, "Chunk received",
		logger.KeyUploadID, result.UploadID,
		logger.KeyChunkIndex, result.ChunkIndex,
		logger.KeyChunks, result.UploadedChunks)
	return result, nil
}

// Complete assembles the chunks in ascending index order, verifies the
// whole-file checksum, and finalizes the session.
//
// On checksum mismatch the assembled blob and the chunks are removed
// and the session is marked failed. Completing an already-completed
// session returns it unchanged.
func (e *Engine) Complete(ctx context.Context, uploadID string) (*models.Upload, error) {
	var completed *models.Upload
	var finalized bool
	var mismatched *models.Upload

	err := e.store.WithUploadLock(ctx, uploadID, func(tx *gorm.DB, u *models.Upload) error {
		if u.Status == models.UploadCompleted {
			completed = u
			return nil
		}
		if !u.CanResume() {
			return models.NewStateError(u.ID, u.Status, "complete upload")
		}
		if missing := u.ChunkIndexes.Missing(u.TotalChunks); len(missing) > 0 {
			return fmt.Errorf("%w: %d of %d missing", models.ErrMissingChunks, len(missing), u.TotalChunks)
		}

		sum, size, err := e.assemble(ctx, u)
		if err != nil {
			return err
		}

		if !checksum.Equal(sum, u.ChecksumSHA256) {
			// Return nil so the transaction commits the failed state;
			// an error here would roll the status write back.
			u.Status = models.UploadFailed
			u.ErrorMessage = "assembled file checksum mismatch"
			if saveErr := store.SaveUpload(tx, u); saveErr != nil {
				return saveErr
			}
			mismatched = u
			return nil
		}
		if size != u.TotalSize {
			logger.WarnCtx(ctx, "Assembled size differs from declared size",
				logger.KeyUploadID, u.ID,
				"declared", u.TotalSize,
				"assembled", size)
			u.TotalSize = size
		}

		now := time.Now()
		u.Status = models.UploadCompleted
		u.CompletedAt = &now
		u.ErrorMessage = ""
		if err := store.SaveUpload(tx, u); err != nil {
			return err
		}

		if err := e.blobs.DeletePrefix(ctx, u.ChunkPrefix()); err != nil {
			logger.WarnCtx(ctx, "Failed to remove chunk directory",
				logger.KeyUploadID, u.ID,
				logger.KeyError, err.Error())
		}

		completed = u
		finalized = true
		e.metrics.RecordUploadFinished("completed")
		e.metrics.RecordUploadDuration(now.Sub(u.CreatedAt))
		return nil
	})
	if err != nil {
		return nil, err
	}

	if mismatched != nil {
		_ = e.blobs.Delete(ctx, mismatched.AssembledObjectKey())
		_ = e.blobs.DeletePrefix(ctx, mismatched.ChunkPrefix())
		e.metrics.RecordUploadFinished("failed")
		return nil, fmt.Errorf("%w: assembled file", models.ErrChecksumMismatch)
	}

	// Only a fresh completion dispatches work; the idempotent path has
	// already done so.
	if finalized {
		e.dispatchVariants(completed)
	}

	logger.InfoCtx(ctx, "Upload completed",
		logger.KeyUploadID, completed.ID,
		logger.KeyFilename, completed.OriginalFilename,
		logger.KeyTotalSize, completed.TotalSize)
	return completed, nil
}

// assemble streams the chunks in order into the final blob while
// hashing, and returns the whole-file digest and byte count.
func (e *Engine) assemble(ctx context.Context, u *models.Upload) (string, int64, error) {
	readers := make([]io.Reader, 0, u.TotalChunks)
	closers := make([]io.Closer, 0, u.TotalChunks)
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	for i := 0; i < u.TotalChunks; i++ {
		r, err := e.blobs.Open(ctx, u.ChunkObjectKey(i))
		if err != nil {
			return "", 0, fmt.Errorf("open chunk %d: %w", i, err)
		}
		readers = append(readers, r)
		closers = append(closers, r)
	}

	hashed := newHashingReader(io.MultiReader(readers...))
	size, err := e.blobs.PutStream(ctx, u.AssembledObjectKey(), hashed)
	if err != nil {
		return "", 0, fmt.Errorf("write assembled file: %w", err)
	}
	return hashed.Sum(), size, nil
}

// dispatchVariants enqueues variant generation for completed image
// uploads. Called outside the session lock so a slow queue cannot hold
// the row.
func (e *Engine) dispatchVariants(u *models.Upload) {
	if e.jobs == nil || u == nil || !u.IsImage() {
		return
	}
	err := e.jobs.Enqueue(queue.Job{
		Kind: queue.KindVariantGenerate,
		Key:  u.ID,
	})
	if err != nil {
		logger.Error("Failed to enqueue variant generation",
			logger.KeyUploadID, u.ID,
			logger.KeyError, err.Error())
	}
}

// Status returns the session with the missing chunk indices, for
// resume decisions.
type Status struct {
	Upload        *models.Upload `json:"upload"`
	MissingChunks []int          `json:"missing_chunks"`
}

// GetStatus returns the current session state.
func (e *Engine) GetStatus(ctx context.Context, uploadID string) (*Status, error) {
	u, err := e.store.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	return &Status{
		Upload:        u,
		MissingChunks: u.ChunkIndexes.Missing(u.TotalChunks),
	}, nil
}

// Cancel marks a resumable session cancelled and removes its chunks.
// Cancelling an already-cancelled session is a no-op; other terminal
// states reject the transition.
func (e *Engine) Cancel(ctx context.Context, uploadID string) (*models.Upload, error) {
	var cancelled *models.Upload

	err := e.store.WithUploadLock(ctx, uploadID, func(tx *gorm.DB, u *models.Upload) error {
		if u.Status == models.UploadCancelled {
			cancelled = u
			return nil
		}
		if !u.CanResume() {
			return models.NewStateError(u.ID, u.Status, "cancel upload")
		}

		u.Status = models.UploadCancelled
		if err := store.SaveUpload(tx, u); err != nil {
			return err
		}
		cancelled = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.blobs.DeletePrefix(ctx, cancelled.ChunkPrefix()); err != nil {
		logger.WarnCtx(ctx, "Failed to remove chunk directory",
			logger.KeyUploadID, cancelled.ID,
			logger.KeyError, err.Error())
	}

	e.metrics.RecordUploadFinished("cancelled")
	logger.InfoCtx(ctx, "Upload cancelled", logger.KeyUploadID, cancelled.ID)
	return cancelled, nil
}

// VerifyChecksum re-hashes the assembled blob of a completed upload
// and compares it against the expected digest.
func (e *Engine) VerifyChecksum(ctx context.Context, uploadID, expected string) (bool, error) {
	u, err := e.store.GetUpload(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if u.Status != models.UploadCompleted {
		return false, fmt.Errorf("%w: upload %s", models.ErrUploadNotComplete, u.ID)
	}
	if expected == "" {
		expected = u.ChecksumSHA256
	}
	if !checksum.IsValidHex(expected) {
		return false, fmt.Errorf("%w: malformed digest", models.ErrChecksumMismatch)
	}

	r, err := e.blobs.Open(ctx, u.AssembledObjectKey())
	if err != nil {
		return false, fmt.Errorf("open assembled file: %w", err)
	}
	defer r.Close()

	actual, err := checksum.SHA256HexReader(r)
	if err != nil {
		return false, err
	}
	return checksum.Equal(actual, expected), nil
}

// SweepExpired fails every resumable session idle past the TTL and
// removes its chunks. Returns the number of sessions expired.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-e.sessionTTL)
	stale, err := e.store.ListStaleUploads(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		err := e.store.WithUploadLock(ctx, candidate.ID, func(tx *gorm.DB, u *models.Upload) error {
			// Re-check under the lock; a chunk may have arrived since.
			if !u.CanResume() || u.UpdatedAt.After(cutoff) {
				return nil
			}
			u.Status = models.UploadFailed
			u.ErrorMessage = "upload session expired"
			return store.SaveUpload(tx, u)
		})
		if err != nil {
			logger.Error("Failed to expire upload",
				logger.KeyUploadID, candidate.ID,
				logger.KeyError, err.Error())
			continue
		}

		if err := e.blobs.DeletePrefix(ctx, candidate.ChunkPrefix()); err != nil {
			logger.Warn("Failed to remove chunk directory",
				logger.KeyUploadID, candidate.ID,
				logger.KeyError, err.Error())
		}
		expired++
		e.metrics.RecordUploadFinished("failed")
	}

	if expired > 0 {
		logger.Info("Expired stale upload sessions", logger.KeyCount, expired)
	}
	return expired, nil
}

// RunSweeper runs SweepExpired on the given interval until the context
// is cancelled.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SweepExpired(ctx); err != nil {
				logger.Error("Upload expiry sweep failed", logger.KeyError, err.Error())
			}
		}
	}
}
