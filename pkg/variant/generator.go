// Package variant turns a completed image upload into its resized
// renditions (small, medium, large) and records each as an Image row.
package variant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/metrics"
)

// jpegQuality is the encoder quality for resized JPEG renditions.
const jpegQuality = 85

// ErrNotAnImage is returned when the upload's MIME type is not a
// supported image format.
var ErrNotAnImage = errors.New("upload is not a supported image")

// Generator produces resized renditions for completed uploads.
//
// Generation is idempotent per (upload, variant): renditions that
// already exist are skipped, so a retried job only redoes the failed
// ones. A failure on one variant does not stop the others.
type Generator struct {
	store   *store.GORMStore
	blobs   blob.Store
	metrics *metrics.CatalogMetrics
}

// New creates a Generator. metrics may be nil.
func New(s *store.GORMStore, blobs blob.Store, m *metrics.CatalogMetrics) *Generator {
	return &Generator{store: s, blobs: blobs, metrics: m}
}

// GenerateAll decodes the assembled upload once, registers the
// original rendition if missing, and produces every resized variant
// that does not exist yet.
//
// Returns an error if any variant failed, so a caller driving retries
// can run it again; successful variants are not redone.
func (g *Generator) GenerateAll(ctx context.Context, uploadID string) error {
	upload, err := g.store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	if upload.Status != models.UploadCompleted {
		return models.NewStateError(upload.ID, upload.Status, "generate variants")
	}
	if !upload.IsImage() {
		return fmt.Errorf("%w: %s", ErrNotAnImage, upload.MimeType)
	}

	data, err := g.blobs.Get(ctx, upload.AssembledObjectKey())
	if err != nil {
		return fmt.Errorf("read assembled upload: %w", err)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	bounds := src.Bounds()

	if err := g.ensureOriginal(ctx, upload, bounds, int64(len(data))); err != nil {
		return err
	}

	var failed []string
	for _, v := range models.ResizedVariants() {
		if err := g.generateOne(ctx, upload, src, data, format, v); err != nil {
			g.metrics.RecordVariantResult(string(v), "failure")
			logger.Error("Variant generation failed",
				logger.KeyUploadID, upload.ID,
				logger.KeyVariant, string(v),
				logger.KeyError, err.Error())
			failed = append(failed, string(v))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("variants failed for upload %s: %v", upload.ID, failed)
	}
	return nil
}

// ensureOriginal records the assembled blob itself as the original
// rendition. No pixel data is copied.
func (g *Generator) ensureOriginal(ctx context.Context, upload *models.Upload, bounds image.Rectangle, size int64) error {
	_, err := g.store.GetImageByUploadAndVariant(ctx, upload.ID, models.VariantOriginal)
	if err == nil {
		return nil
	}
	if err != models.ErrImageNotFound {
		return err
	}

	img := &models.Image{
		UploadID:  upload.ID,
		Variant:   models.VariantOriginal,
		Path:      upload.AssembledObjectKey(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		SizeBytes: size,
		MimeType:  upload.MimeType,
	}
	if _, err := g.store.CreateImage(ctx, img); err != nil && err != models.ErrDuplicateImage {
		return fmt.Errorf("record original image: %w", err)
	}
	return nil
}

func (g *Generator) generateOne(ctx context.Context, upload *models.Upload, src image.Image, data []byte, format string, v models.ImageVariant) error {
	if _, err := g.store.GetImageByUploadAndVariant(ctx, upload.ID, v); err == nil {
		g.metrics.RecordVariantResult(string(v), "skipped")
		return nil
	} else if err != models.ErrImageNotFound {
		return err
	}

	bounds := src.Bounds()
	width, height := targetSize(bounds.Dx(), bounds.Dy(), v.MaxDimension())

	var encoded []byte
	var mimeType, ext string
	if width == bounds.Dx() && height == bounds.Dy() {
		// Source already fits this rendition. Reuse its bytes instead
		// of upscaling or re-encoding, so every variant still exists.
		encoded = data
		mimeType = upload.MimeType
		ext = extForFormat(format)
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

		var err error
		encoded, mimeType, ext, err = encode(dst, format)
		if err != nil {
			return fmt.Errorf("encode %s variant: %w", v, err)
		}
	}

	key := objectKey(v, ext)
	if err := g.blobs.Put(ctx, key, encoded); err != nil {
		return fmt.Errorf("store %s variant: %w", v, err)
	}

	img := &models.Image{
		UploadID:  upload.ID,
		Variant:   v,
		Path:      key,
		Width:     width,
		Height:    height,
		SizeBytes: int64(len(encoded)),
		MimeType:  mimeType,
	}
	if _, err := g.store.CreateImage(ctx, img); err != nil {
		if err == models.ErrDuplicateImage {
			// Lost a race with a concurrent job; the blob we wrote is
			// orphaned but harmless.
			_ = g.blobs.Delete(ctx, key)
			g.metrics.RecordVariantResult(string(v), "skipped")
			return nil
		}
		return fmt.Errorf("record %s variant: %w", v, err)
	}

	g.metrics.RecordVariantResult(string(v), "success")
	logger.Info("Variant generated",
		logger.KeyUploadID, upload.ID,
		logger.KeyVariant, string(v),
		"width", width,
		"height", height)
	return nil
}

// targetSize scales (w, h) so the longer edge equals maxDim, keeping
// aspect ratio with the shorter edge rounded to the nearest pixel.
// A source whose longer edge already fits is returned unchanged, since
// renditions are never upscaled.
func targetSize(w, h, maxDim int) (int, int) {
	longer := w
	if h > w {
		longer = h
	}
	if longer <= maxDim {
		return w, h
	}

	if w >= h {
		scaled := (h*maxDim + w/2) / w
		if scaled < 1 {
			scaled = 1
		}
		return maxDim, scaled
	}
	scaled := (w*maxDim + h/2) / h
	if scaled < 1 {
		scaled = 1
	}
	return scaled, maxDim
}

// extForFormat maps a decoded image format to its file extension.
func extForFormat(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "gif":
		return "gif"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}

// encode serializes a rendition. JPEG and GIF sources keep their
// format; PNG and WebP are written as PNG since WebP has no encoder.
func encode(img image.Image, sourceFormat string) ([]byte, string, string, error) {
	var buf bytes.Buffer
	switch sourceFormat {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "image/jpeg", "jpg", nil
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "image/gif", "gif", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), "image/png", "png", nil
	}
}

// objectKey builds the blob path for a resized rendition.
func objectKey(v models.ImageVariant, ext string) string {
	return path.Join("images", string(v), uuid.New().String()+"."+ext)
}
