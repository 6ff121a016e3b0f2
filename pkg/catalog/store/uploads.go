package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

// ============================================
// UPLOAD OPERATIONS
// ============================================

func (s *GORMStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	return getByField[models.Upload](s.db, ctx, "id", id, models.ErrUploadNotFound)
}

func (s *GORMStore) GetUploadWithImages(ctx context.Context, id string) (*models.Upload, error) {
	return getByField[models.Upload](s.db, ctx, "id", id, models.ErrUploadNotFound, "Images")
}

func (s *GORMStore) CreateUpload(ctx context.Context, upload *models.Upload) (string, error) {
	upload.CreatedAt = time.Now()
	return createWithID(s.db, ctx, upload, func(u *models.Upload, id string) { u.ID = id }, upload.ID, gorm.ErrDuplicatedKey)
}

// FindCompletedByChecksum returns the most recent completed upload with
// the given whole-file checksum, or ErrUploadNotFound. Used for
// initialize-time deduplication.
func (s *GORMStore) FindCompletedByChecksum(ctx context.Context, checksum string) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Where("checksum_sha256 = ? AND status = ?", checksum, models.UploadCompleted).
		Order("created_at DESC").
		First(&upload).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return &upload, nil
}

// FindCompletedUploadByFilename locates a completed upload whose
// original filename matches exactly, falling back to a substring match
// on the stored filename. Most recent first within each strategy.
func (s *GORMStore) FindCompletedUploadByFilename(ctx context.Context, basename string) (*models.Upload, error) {
	var upload models.Upload
	err := s.db.WithContext(ctx).
		Where("status = ? AND original_filename = ?", models.UploadCompleted, basename).
		Order("created_at DESC").
		First(&upload).Error
	if err == nil {
		return &upload, nil
	}
	if err := convertNotFoundError(err, models.ErrUploadNotFound); err != models.ErrUploadNotFound {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Where("status = ? AND stored_filename LIKE ?", models.UploadCompleted, "%"+basename+"%").
		Order("created_at DESC").
		First(&upload).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}
	return &upload, nil
}

// ListStaleUploads returns non-terminal uploads whose last update is
// older than the cutoff. Used by the expiry sweep.
func (s *GORMStore) ListStaleUploads(ctx context.Context, cutoff time.Time) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []models.UploadStatus{models.UploadPending, models.UploadUploading}, cutoff).
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

// WithUploadLock runs fn inside a transaction holding a row-level
// exclusive lock on the upload. On PostgreSQL this is SELECT ... FOR
// UPDATE; SQLite serialises writers at the database level, so the
// locking clause is skipped there. fn receives the transaction handle
// and the locked row; all mutations must go through tx so they commit
// atomically with the lock release.
func (s *GORMStore) WithUploadLock(ctx context.Context, id string, fn func(tx *gorm.DB, upload *models.Upload) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if s.rowLocking {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var upload models.Upload
		if err := q.Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}
		return fn(tx, &upload)
	})
}

// SaveUpload persists all fields of the upload row within tx.
func SaveUpload(tx *gorm.DB, upload *models.Upload) error {
	return tx.Save(upload).Error
}
