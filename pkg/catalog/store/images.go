package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

// ============================================
// IMAGE OPERATIONS
// ============================================

func (s *GORMStore) GetImage(ctx context.Context, id string) (*models.Image, error) {
	return getByField[models.Image](s.db, ctx, "id", id, models.ErrImageNotFound)
}

func (s *GORMStore) CreateImage(ctx context.Context, image *models.Image) (string, error) {
	image.CreatedAt = time.Now()
	return createWithID(s.db, ctx, image, func(i *models.Image, id string) { i.ID = id }, image.ID, models.ErrDuplicateImage)
}

// GetImageByUploadAndVariant returns the image row for one
// (upload, variant) pair, or ErrImageNotFound. Variant generation uses
// this for idempotency.
func (s *GORMStore) GetImageByUploadAndVariant(ctx context.Context, uploadID string, variant models.ImageVariant) (*models.Image, error) {
	var image models.Image
	err := s.db.WithContext(ctx).
		Where("upload_id = ? AND variant = ?", uploadID, variant).
		First(&image).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrImageNotFound)
	}
	return &image, nil
}

func (s *GORMStore) ListImagesByUpload(ctx context.Context, uploadID string) ([]*models.Image, error) {
	var images []*models.Image
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("created_at ASC").
		Find(&images).Error
	if err != nil {
		return nil, err
	}
	return images, nil
}

// DeleteImage removes an image row and nulls any product primary-image
// references to it. Products hold only a weak reference, so deletion
// must not fail because a product points at the image.
func (s *GORMStore) DeleteImage(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&models.Image{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrImageNotFound
		}
		return tx.Model(&models.Product{}).
			Where("primary_image_id = ?", id).
			Update("primary_image_id", nil).Error
	})
}

// FindOriginalImage resolves a CSV image reference against the images
// table. Sub-strategies are tried in order, most recent row first
// within each:
//
//  1. exact path match on the source string
//  2. path containing the basename
//  3. the owning upload's original filename equal to the basename
//  4. the owning upload's stored filename containing the basename
//
// Only original-variant rows are considered.
func (s *GORMStore) FindOriginalImage(ctx context.Context, source, basename string) (*models.Image, error) {
	var image models.Image

	firstOriginal := func(q *gorm.DB) error {
		return q.Where("images.variant = ?", models.VariantOriginal).
			Order("images.created_at DESC").
			First(&image).Error
	}

	err := firstOriginal(s.db.WithContext(ctx).Where("images.path = ?", source))
	if err == nil {
		return &image, nil
	}
	if err = convertNotFoundError(err, models.ErrImageNotFound); err != models.ErrImageNotFound {
		return nil, err
	}

	err = firstOriginal(s.db.WithContext(ctx).Where("images.path LIKE ?", "%"+basename+"%"))
	if err == nil {
		return &image, nil
	}
	if err = convertNotFoundError(err, models.ErrImageNotFound); err != models.ErrImageNotFound {
		return nil, err
	}

	err = firstOriginal(s.db.WithContext(ctx).Model(&models.Image{}).
		Joins("JOIN uploads ON uploads.id = images.upload_id").
		Where("uploads.original_filename = ?", basename))
	if err == nil {
		return &image, nil
	}
	if err = convertNotFoundError(err, models.ErrImageNotFound); err != models.ErrImageNotFound {
		return nil, err
	}

	err = firstOriginal(s.db.WithContext(ctx).Model(&models.Image{}).
		Joins("JOIN uploads ON uploads.id = images.upload_id").
		Where("uploads.stored_filename LIKE ?", "%"+basename+"%"))
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrImageNotFound)
	}
	return &image, nil
}
