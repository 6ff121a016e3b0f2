package variant

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

func setupGenerator(t *testing.T) (*Generator, *store.GORMStore, blob.Store) {
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

	return New(s, blobs, nil), s, blobs
}

// seedImageUpload stores a PNG of the given dimensions as a completed
// upload and returns it.
func seedImageUpload(t *testing.T, s *store.GORMStore, blobs blob.Store, w, h int) *models.Upload {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}

	upload := &models.Upload{
		OriginalFilename: "photo.png",
		StoredFilename:   "stored_photo.png",
		MimeType:         "image/png",
		TotalSize:        int64(buf.Len()),
		TotalChunks:      1,
		ChecksumSHA256:   "cafe",
		Status:           models.UploadCompleted,
		ChunkIndexes:     models.ChunkSet{},
	}
	if _, err := s.CreateUpload(context.Background(), upload); err != nil {
		t.Fatalf("CreateUpload() error: %v", err)
	}
	if err := blobs.Put(context.Background(), upload.AssembledObjectKey(), buf.Bytes()); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	return upload
}

func TestGenerateAllProducesVariants(t *testing.T) {
	g, s, blobs := setupGenerator(t)
	ctx := context.Background()

	upload := seedImageUpload(t, s, blobs, 2048, 1024)

	if err := g.GenerateAll(ctx, upload.ID); err != nil {
		t.Fatalf("GenerateAll() error: %v", err)
	}

	// Original plus all three renditions.
	images, err := s.ListImagesByUpload(ctx, upload.ID)
	if err != nil {
		t.Fatalf("ListImagesByUpload() error: %v", err)
	}
	if len(images) != 4 {
		t.Fatalf("got %d images, want 4", len(images))
	}

	byVariant := map[models.ImageVariant]*models.Image{}
	for _, img := range images {
		byVariant[img.Variant] = img
	}

	original := byVariant[models.VariantOriginal]
	if original == nil || original.Width != 2048 || original.Height != 1024 {
		t.Errorf("original = %+v", original)
	}
	if original != nil && original.Path != upload.AssembledObjectKey() {
		t.Errorf("original path = %q, want assembled key", original.Path)
	}

	tests := []struct {
		variant models.ImageVariant
		width   int
		height  int
	}{
		{models.VariantSmall, 256, 128},
		{models.VariantMedium, 512, 256},
		{models.VariantLarge, 1024, 512},
	}
	for _, tt := range tests {
		img := byVariant[tt.variant]
		if img == nil {
			t.Errorf("variant %s missing", tt.variant)
			continue
		}
		if img.Width != tt.width || img.Height != tt.height {
			t.Errorf("%s = %dx%d, want %dx%d", tt.variant, img.Width, img.Height, tt.width, tt.height)
		}
		if !strings.HasPrefix(img.Path, "images/"+string(tt.variant)+"/") {
			t.Errorf("%s path = %q", tt.variant, img.Path)
		}
		if exists, _ := blobs.Exists(ctx, img.Path); !exists {
			t.Errorf("%s blob missing at %s", tt.variant, img.Path)
		}
		if img.MimeType != "image/png" {
			t.Errorf("%s mime = %q", tt.variant, img.MimeType)
		}
	}
}

func TestGenerateAllIdempotent(t *testing.T) {
	g, s, blobs := setupGenerator(t)
	ctx := context.Background()

	upload := seedImageUpload(t, s, blobs, 1200, 1200)

	if err := g.GenerateAll(ctx, upload.ID); err != nil {
		t.Fatalf("first GenerateAll() error: %v", err)
	}
	first, _ := s.ListImagesByUpload(ctx, upload.ID)

	if err := g.GenerateAll(ctx, upload.ID); err != nil {
		t.Fatalf("second GenerateAll() error: %v", err)
	}
	second, _ := s.ListImagesByUpload(ctx, upload.ID)

	if len(first) != len(second) {
		t.Errorf("image count changed across runs: %d -> %d", len(first), len(second))
	}
	paths := map[string]bool{}
	for _, img := range first {
		paths[img.Path] = true
	}
	for _, img := range second {
		if !paths[img.Path] {
			t.Errorf("second run produced new blob %s", img.Path)
		}
	}
}

func TestGenerateAllNeverUpscales(t *testing.T) {
	g, s, blobs := setupGenerator(t)
	ctx := context.Background()

	// 300px source: small (256) is resized, medium and large reuse the
	// source bytes at their original dimensions.
	upload := seedImageUpload(t, s, blobs, 300, 200)
	original, err := blobs.Get(ctx, upload.AssembledObjectKey())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if err := g.GenerateAll(ctx, upload.ID); err != nil {
		t.Fatalf("GenerateAll() error: %v", err)
	}

	images, _ := s.ListImagesByUpload(ctx, upload.ID)
	byVariant := map[models.ImageVariant]*models.Image{}
	for _, img := range images {
		byVariant[img.Variant] = img
	}
	if len(images) != 4 {
		t.Fatalf("got %d images, want all 4 variants", len(images))
	}

	small := byVariant[models.VariantSmall]
	if small == nil || small.Width != 256 || small.Height != 171 {
		t.Errorf("small = %+v, want 256x171", small)
	}

	for _, v := range []models.ImageVariant{models.VariantMedium, models.VariantLarge} {
		img := byVariant[v]
		if img == nil {
			t.Errorf("variant %s missing", v)
			continue
		}
		if img.Width != 300 || img.Height != 200 {
			t.Errorf("%s = %dx%d, want source dimensions 300x200", v, img.Width, img.Height)
		}
		data, err := blobs.Get(ctx, img.Path)
		if err != nil {
			t.Errorf("%s blob missing: %v", v, err)
			continue
		}
		if !bytes.Equal(data, original) {
			t.Errorf("%s bytes differ from source, want pass-through copy", v)
		}
	}
}

func TestGenerateAllRejectsNonImage(t *testing.T) {
	g, s, blobs := setupGenerator(t)
	ctx := context.Background()

	upload := &models.Upload{
		OriginalFilename: "report.pdf",
		StoredFilename:   "stored_report.pdf",
		MimeType:         "application/pdf",
		TotalSize:        10,
		TotalChunks:      1,
		ChecksumSHA256:   "beef",
		Status:           models.UploadCompleted,
		ChunkIndexes:     models.ChunkSet{},
	}
	if _, err := s.CreateUpload(ctx, upload); err != nil {
		t.Fatalf("CreateUpload() error: %v", err)
	}
	if err := blobs.Put(ctx, upload.AssembledObjectKey(), []byte("%PDF-1.4")); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	err := g.GenerateAll(ctx, upload.ID)
	if err == nil || !strings.Contains(err.Error(), "not a supported image") {
		t.Errorf("GenerateAll() error = %v, want ErrNotAnImage", err)
	}
}

func TestGenerateAllRequiresCompletedUpload(t *testing.T) {
	g, s, _ := setupGenerator(t)
	ctx := context.Background()

	upload := &models.Upload{
		OriginalFilename: "early.png",
		StoredFilename:   "stored_early.png",
		MimeType:         "image/png",
		TotalSize:        10,
		TotalChunks:      1,
		ChecksumSHA256:   "f00d",
		Status:           models.UploadUploading,
		ChunkIndexes:     models.ChunkSet{},
	}
	if _, err := s.CreateUpload(ctx, upload); err != nil {
		t.Fatalf("CreateUpload() error: %v", err)
	}

	if err := g.GenerateAll(ctx, upload.ID); !models.IsStateError(err) {
		t.Errorf("GenerateAll() error = %v, want state error", err)
	}
}

func TestTargetSize(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		maxDim int
		wantW  int
		wantH  int
	}{
		{"landscape downscale", 2048, 1024, 256, 256, 128},
		{"portrait downscale", 1024, 2048, 256, 128, 256},
		{"square downscale", 1000, 1000, 512, 512, 512},
		{"already fits", 200, 100, 256, 200, 100},
		{"exact fit", 256, 128, 256, 256, 128},
		{"rounds half up", 300, 200, 256, 256, 171},
		{"rounds to nearest", 1000, 667, 256, 256, 171},
		{"extreme aspect", 10000, 1, 256, 256, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotW, gotH := targetSize(tt.w, tt.h, tt.maxDim)
			if gotW != tt.wantW || gotH != tt.wantH {
				t.Errorf("targetSize(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tt.w, tt.h, tt.maxDim, gotW, gotH, tt.wantW, tt.wantH)
			}
		})
	}
}
