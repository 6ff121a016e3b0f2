package upload

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skuforge/catalogd/internal/bytesize"
	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/checksum"
)

// ingestChunkSize is the nominal chunk size recorded for server-side
// ingested files. No chunks are stored; the value only sizes the
// recorded chunk count.
const ingestChunkSize = int64(10 * bytesize.MiB)

// IngestFile copies a server-local file into the blob store as an
// already-completed upload, deduplicating by content hash like a
// client upload would.
//
// This is the path the CSV import takes when a row references an image
// by filesystem path.
func (e *Engine) IngestFile(ctx context.Context, path string) (*models.Upload, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() || info.Size() < 1 {
		return nil, fmt.Errorf("not an ingestible file: %s", path)
	}
	if info.Size() > e.limits.MaxTotalSize {
		return nil, fmt.Errorf("file %s exceeds size limit %s", path, bytesize.ByteSize(e.limits.MaxTotalSize))
	}

	sum, err := checksum.SHA256HexFile(path)
	if err != nil {
		return nil, err
	}

	if existing, err := e.store.FindCompletedByChecksum(ctx, sum); err == nil {
		logger.DebugCtx(ctx, "Ingest deduplicated by checksum",
			logger.KeyUploadID, existing.ID,
			logger.KeyPath, path)
		return existing, nil
	} else if err != models.ErrUploadNotFound {
		return nil, err
	}

	basename := filepath.Base(path)
	totalChunks := int((info.Size() + ingestChunkSize - 1) / ingestChunkSize)
	if totalChunks < 1 {
		totalChunks = 1
	}

	received := models.ChunkSet{}
	for i := 0; i < totalChunks; i++ {
		received.Add(i)
	}

	now := time.Now()
	u := &models.Upload{
		OriginalFilename: basename,
		StoredFilename:   storedFilename(basename),
		MimeType:         mimeTypeForFile(basename),
		TotalSize:        info.Size(),
		TotalChunks:      totalChunks,
		UploadedChunks:   totalChunks,
		ChecksumSHA256:   sum,
		Status:           models.UploadCompleted,
		ChunkIndexes:     received,
		CompletedAt:      &now,
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := e.blobs.PutStream(ctx, u.AssembledObjectKey(), f); err != nil {
		return nil, fmt.Errorf("copy %s into blob store: %w", path, err)
	}

	if _, err := e.store.CreateUpload(ctx, u); err != nil {
		_ = e.blobs.Delete(ctx, u.AssembledObjectKey())
		return nil, err
	}

	e.metrics.RecordUploadFinished("completed")
	e.dispatchVariants(u)

	logger.InfoCtx(ctx, "Local file ingested",
		logger.KeyUploadID, u.ID,
		logger.KeyPath, path,
		logger.KeyTotalSize, u.TotalSize)
	return u, nil
}

// mimeTypeForFile maps a filename extension to a MIME type, defaulting
// to octet-stream.
func mimeTypeForFile(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t := mime.TypeByExtension(ext); t != "" {
		// TypeByExtension may append a charset parameter.
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
