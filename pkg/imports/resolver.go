package imports

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/queue"
	"github.com/skuforge/catalogd/pkg/upload"
)

// ErrLocalIngestDisabled is returned for filesystem image references
// when no local file root is configured.
var ErrLocalIngestDisabled = errors.New("local image ingestion is not configured")

// FetchPayload is the queue payload for a deferred remote image fetch.
type FetchPayload struct {
	ProductID string
	Source    string
}

// Resolver maps a CSV primary_image reference to an Image attached to
// the product. Four strategies are tried in order, first hit wins:
//
//  1. an existing original Image matching the reference
//  2. a completed Upload matching the basename, promoted to an Image
//  3. a server-local file, ingested synchronously
//  4. a remote URL, fetched by a background job
type Resolver struct {
	store     *store.GORMStore
	uploads   *upload.Engine
	jobs      *queue.Queue
	localRoot string
}

// NewResolver creates a resolver. jobs may be nil to disable remote
// fetches; localRoot may be empty to disable local-file ingestion.
func NewResolver(s *store.GORMStore, uploads *upload.Engine, jobs *queue.Queue, localRoot string) *Resolver {
	return &Resolver{store: s, uploads: uploads, jobs: jobs, localRoot: localRoot}
}

// Resolve attaches an image for source to the product, or schedules
// work that will. A nil return means the reference was either resolved
// or handed to the fetch queue.
func (r *Resolver) Resolve(ctx context.Context, productID, source string) error {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil
	}
	base := refBasename(source)

	img, err := r.store.FindOriginalImage(ctx, source, base)
	if err == nil {
		return r.attach(ctx, productID, img.ID)
	}
	if !errors.Is(err, models.ErrImageNotFound) {
		return err
	}

	u, err := r.store.FindCompletedUploadByFilename(ctx, base)
	if err == nil {
		img, err := r.ensureOriginalImage(ctx, u)
		if err != nil {
			return err
		}
		return r.attach(ctx, productID, img.ID)
	}
	if !errors.Is(err, models.ErrUploadNotFound) {
		return err
	}

	if isLocalPath(source) {
		return r.resolveLocal(ctx, productID, source)
	}
	if isRemote(source) {
		return r.enqueueFetch(ctx, productID, source)
	}

	return fmt.Errorf("image reference %q matches no image, upload, path or URL", source)
}

// ensureOriginalImage returns the original-variant Image for a
// completed upload, creating it if absent.
func (r *Resolver) ensureOriginalImage(ctx context.Context, u *models.Upload) (*models.Image, error) {
	img, err := r.store.GetImageByUploadAndVariant(ctx, u.ID, models.VariantOriginal)
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, models.ErrImageNotFound) {
		return nil, err
	}

	img = &models.Image{
		UploadID:  u.ID,
		Variant:   models.VariantOriginal,
		Path:      u.AssembledObjectKey(),
		SizeBytes: u.TotalSize,
		MimeType:  u.MimeType,
	}
	if _, err := r.store.CreateImage(ctx, img); err != nil {
		if errors.Is(err, models.ErrDuplicateImage) {
			return r.store.GetImageByUploadAndVariant(ctx, u.ID, models.VariantOriginal)
		}
		return nil, err
	}
	return img, nil
}

func (r *Resolver) attach(ctx context.Context, productID, imageID string) error {
	return r.store.AttachPrimaryImage(ctx, productID, imageID)
}

// resolveLocal ingests a file under the configured local root. The
// reference is confined to the root; traversal outside it is rejected
// by cleaning the path rooted.
func (r *Resolver) resolveLocal(ctx context.Context, productID, source string) error {
	if r.localRoot == "" {
		return ErrLocalIngestDisabled
	}

	rel := strings.ReplaceAll(source, `\`, "/")
	if len(rel) >= 2 && rel[1] == ':' {
		rel = rel[2:]
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	full := filepath.Join(r.localRoot, filepath.FromSlash(rel))
	u, err := r.uploads.IngestFile(ctx, full)
	if err != nil {
		return fmt.Errorf("ingest local image %s: %w", source, err)
	}

	img, err := r.ensureOriginalImage(ctx, u)
	if err != nil {
		return err
	}
	return r.attach(ctx, productID, img.ID)
}

func (r *Resolver) enqueueFetch(ctx context.Context, productID, source string) error {
	if r.jobs == nil {
		return fmt.Errorf("remote image reference %q: no fetch queue configured", source)
	}
	err := r.jobs.Enqueue(queue.Job{
		Kind:    queue.KindImageFetch,
		Key:     source,
		Payload: FetchPayload{ProductID: productID, Source: source},
	})
	if err != nil {
		return err
	}
	logger.DebugCtx(ctx, "Scheduled remote image fetch",
		logger.KeyProductID, productID,
		logger.KeyImageRef, source)
	return nil
}

// refBasename extracts the filename portion of an image reference,
// whatever its shape: URL, POSIX path, or Windows path.
func refBasename(source string) string {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		return path.Base(u.Path)
	}
	return path.Base(strings.ReplaceAll(source, `\`, "/"))
}

// isRemote reports whether the reference is a URL the fetcher can
// retrieve. Unknown schemes are not remote, so they fail at resolution
// instead of dying in the fetch queue.
func isRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return true
	}
	return false
}

// isLocalPath reports whether the reference looks like a filesystem
// path rather than a URL or bare filename.
func isLocalPath(source string) bool {
	if isRemote(source) {
		return false
	}
	return strings.HasPrefix(source, "/") || strings.Contains(source, `:\`)
}
