package store

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

func setupStore(t *testing.T) *GORMStore {
	t.Helper()

	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: ":memory:"},
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func seedUpload(t *testing.T, s *GORMStore, status models.UploadStatus, original, checksum string) *models.Upload {
	t.Helper()

	upload := &models.Upload{
		OriginalFilename: original,
		StoredFilename:   "stored_" + original,
		MimeType:         "image/png",
		TotalSize:        10,
		TotalChunks:      2,
		ChecksumSHA256:   checksum,
		Status:           status,
		ChunkIndexes:     models.ChunkSet{},
	}
	if _, err := s.CreateUpload(context.Background(), upload); err != nil {
		t.Fatalf("Failed to create upload: %v", err)
	}
	return upload
}

func TestUploadCreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created := seedUpload(t, s, models.UploadPending, "logo.png", "aaaa")

	got, err := s.GetUpload(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetUpload() error: %v", err)
	}
	if got.OriginalFilename != "logo.png" || got.Status != models.UploadPending {
		t.Errorf("GetUpload() = %+v", got)
	}

	if _, err := s.GetUpload(ctx, "missing"); err != models.ErrUploadNotFound {
		t.Errorf("GetUpload(missing) error = %v, want ErrUploadNotFound", err)
	}
}

func TestFindCompletedByChecksum(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	seedUpload(t, s, models.UploadPending, "a.png", "cafe01")
	done := seedUpload(t, s, models.UploadCompleted, "b.png", "cafe01")

	got, err := s.FindCompletedByChecksum(ctx, "cafe01")
	if err != nil {
		t.Fatalf("FindCompletedByChecksum() error: %v", err)
	}
	if got.ID != done.ID {
		t.Errorf("FindCompletedByChecksum() = %s, want %s", got.ID, done.ID)
	}

	if _, err := s.FindCompletedByChecksum(ctx, "beef02"); err != models.ErrUploadNotFound {
		t.Errorf("FindCompletedByChecksum(unknown) error = %v, want ErrUploadNotFound", err)
	}
}

func TestWithUploadLockMutation(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	upload := seedUpload(t, s, models.UploadPending, "c.png", "dddd")

	err := s.WithUploadLock(ctx, upload.ID, func(tx *gorm.DB, u *models.Upload) error {
		u.ChunkIndexes.Add(0)
		u.UploadedChunks = 1
		u.Status = models.UploadUploading
		return SaveUpload(tx, u)
	})
	if err != nil {
		t.Fatalf("WithUploadLock() error: %v", err)
	}

	got, err := s.GetUpload(ctx, upload.ID)
	if err != nil {
		t.Fatalf("GetUpload() error: %v", err)
	}
	if got.Status != models.UploadUploading || got.UploadedChunks != 1 || !got.ChunkIndexes.Has(0) {
		t.Errorf("mutation not persisted: %+v", got)
	}

	if err := s.WithUploadLock(ctx, "missing", func(tx *gorm.DB, u *models.Upload) error { return nil }); err != models.ErrUploadNotFound {
		t.Errorf("WithUploadLock(missing) error = %v, want ErrUploadNotFound", err)
	}
}

func TestImageVariantUniqueness(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	upload := seedUpload(t, s, models.UploadCompleted, "d.png", "eeee")

	img := &models.Image{UploadID: upload.ID, Variant: models.VariantOriginal, Path: "uploads/d.png", MimeType: "image/png"}
	if _, err := s.CreateImage(ctx, img); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	dup := &models.Image{UploadID: upload.ID, Variant: models.VariantOriginal, Path: "uploads/d.png"}
	if _, err := s.CreateImage(ctx, dup); err != models.ErrDuplicateImage {
		t.Errorf("CreateImage(dup) error = %v, want ErrDuplicateImage", err)
	}

	got, err := s.GetImageByUploadAndVariant(ctx, upload.ID, models.VariantOriginal)
	if err != nil {
		t.Fatalf("GetImageByUploadAndVariant() error: %v", err)
	}
	if got.ID != img.ID {
		t.Errorf("GetImageByUploadAndVariant() = %s, want %s", got.ID, img.ID)
	}
}

func TestDeleteImageNullsProductReference(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	upload := seedUpload(t, s, models.UploadCompleted, "e.png", "ffff")
	img := &models.Image{UploadID: upload.ID, Variant: models.VariantOriginal, Path: "uploads/e.png"}
	if _, err := s.CreateImage(ctx, img); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	product := &models.Product{SKU: "SKU100", Name: "Widget", Price: 9.99, Status: models.ProductActive}
	if _, err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("CreateProduct() error: %v", err)
	}
	if err := s.AttachPrimaryImage(ctx, product.ID, img.ID); err != nil {
		t.Fatalf("AttachPrimaryImage() error: %v", err)
	}

	if err := s.DeleteImage(ctx, img.ID); err != nil {
		t.Fatalf("DeleteImage() error: %v", err)
	}

	got, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct() error: %v", err)
	}
	if got.PrimaryImageID != nil {
		t.Errorf("PrimaryImageID = %v, want nil after image deletion", *got.PrimaryImageID)
	}
}

func TestAttachPrimaryImageIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	upload := seedUpload(t, s, models.UploadCompleted, "f.png", "abab")
	img := &models.Image{UploadID: upload.ID, Variant: models.VariantOriginal, Path: "uploads/f.png"}
	if _, err := s.CreateImage(ctx, img); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	product := &models.Product{SKU: "SKU200", Name: "Gadget", Price: 19.99, Status: models.ProductActive}
	if _, err := s.CreateProduct(ctx, product); err != nil {
		t.Fatalf("CreateProduct() error: %v", err)
	}

	if err := s.AttachPrimaryImage(ctx, product.ID, img.ID); err != nil {
		t.Fatalf("first AttachPrimaryImage() error: %v", err)
	}
	first, _ := s.GetProduct(ctx, product.ID)

	if err := s.AttachPrimaryImage(ctx, product.ID, img.ID); err != nil {
		t.Fatalf("second AttachPrimaryImage() error: %v", err)
	}
	second, _ := s.GetProduct(ctx, product.ID)

	if first.PrimaryImageID == nil || second.PrimaryImageID == nil || *first.PrimaryImageID != *second.PrimaryImageID {
		t.Error("AttachPrimaryImage is not idempotent")
	}
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("second attach mutated the product row")
	}
}

func TestProductDuplicateSKU(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p := &models.Product{SKU: "SKU300", Name: "Thing", Price: 1.00, Status: models.ProductActive}
	if _, err := s.CreateProduct(ctx, p); err != nil {
		t.Fatalf("CreateProduct() error: %v", err)
	}

	dup := &models.Product{SKU: "SKU300", Name: "Other", Price: 2.00, Status: models.ProductActive}
	if _, err := s.CreateProduct(ctx, dup); err != models.ErrDuplicateProduct {
		t.Errorf("CreateProduct(dup) error = %v, want ErrDuplicateProduct", err)
	}
}

func TestFindOriginalImageOrdering(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Older image matches only via upload filename; newer matches by path.
	oldUpload := seedUpload(t, s, models.UploadCompleted, "logo.png", "0101")
	oldImg := &models.Image{UploadID: oldUpload.ID, Variant: models.VariantOriginal, Path: "uploads/stored_old.bin"}
	if _, err := s.CreateImage(ctx, oldImg); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	newUpload := seedUpload(t, s, models.UploadCompleted, "other.png", "0202")
	newImg := &models.Image{UploadID: newUpload.ID, Variant: models.VariantOriginal, Path: "uploads/logo.png"}
	if _, err := s.CreateImage(ctx, newImg); err != nil {
		t.Fatalf("CreateImage() error: %v", err)
	}

	// Path-contains beats the upload-filename fallback.
	got, err := s.FindOriginalImage(ctx, "logo.png", "logo.png")
	if err != nil {
		t.Fatalf("FindOriginalImage() error: %v", err)
	}
	if got.ID != newImg.ID {
		t.Errorf("FindOriginalImage() = %s, want path match %s", got.ID, newImg.ID)
	}

	// A source that only matches the upload's original filename.
	got, err = s.FindOriginalImage(ctx, "/mnt/shared/logo.png", "logo.png")
	if err != nil {
		t.Fatalf("FindOriginalImage() error: %v", err)
	}
	if got.ID != newImg.ID {
		// basename still matches the newer image path first
		t.Errorf("FindOriginalImage() = %s, want %s", got.ID, newImg.ID)
	}

	if _, err := s.FindOriginalImage(ctx, "absent.jpg", "absent.jpg"); err != models.ErrImageNotFound {
		t.Errorf("FindOriginalImage(absent) error = %v, want ErrImageNotFound", err)
	}
}

func TestImportLogPaginationAndStatistics(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		log := &models.ImportLog{
			Filename:              "products.csv",
			Status:                models.ImportCompleted,
			TotalRows:             10,
			ImportedRows:          8,
			UpdatedRows:           2,
			ErrorDetails:          models.RowErrors{},
			ProcessingTimeSeconds: 1.5,
		}
		if _, err := s.CreateImportLog(ctx, log); err != nil {
			t.Fatalf("CreateImportLog() error: %v", err)
		}
	}

	page, err := s.ListImportLogs(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListImportLogs() error: %v", err)
	}
	if page.Total != 3 || len(page.Logs) != 2 {
		t.Errorf("ListImportLogs() total=%d len=%d, want 3/2", page.Total, len(page.Logs))
	}

	stats, err := s.GetImportStatistics(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("GetImportStatistics() error: %v", err)
	}
	if stats.TotalImports != 3 || stats.TotalRows != 30 || stats.ImportedRows != 24 {
		t.Errorf("GetImportStatistics() = %+v", stats)
	}
	if stats.ByStatus[string(models.ImportCompleted)] != 3 {
		t.Errorf("ByStatus = %v", stats.ByStatus)
	}
}

func TestListStaleUploads(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	stale := seedUpload(t, s, models.UploadUploading, "stale.png", "1111")
	seedUpload(t, s, models.UploadCompleted, "done.png", "2222")

	got, err := s.ListStaleUploads(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStaleUploads() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("ListStaleUploads() = %d uploads, want the stale one", len(got))
	}
}
