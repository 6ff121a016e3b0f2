package store

import (
	"context"
	"time"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

// ============================================
// PRODUCT OPERATIONS
// ============================================

func (s *GORMStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getByField[models.Product](s.db, ctx, "id", id, models.ErrProductNotFound)
}

func (s *GORMStore) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	return getByField[models.Product](s.db, ctx, "sku", sku, models.ErrProductNotFound)
}

func (s *GORMStore) CreateProduct(ctx context.Context, product *models.Product) (string, error) {
	product.CreatedAt = time.Now()
	return createWithID(s.db, ctx, product, func(p *models.Product, id string) { p.ID = id }, product.ID, models.ErrDuplicateProduct)
}

// UpdateProductFields updates the catalogue fields of an existing
// product from an import row. The primary image reference is managed
// separately via AttachPrimaryImage.
func (s *GORMStore) UpdateProductFields(ctx context.Context, product *models.Product) error {
	var existing models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", product.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrProductNotFound)
	}

	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "Description", "Price", "StockQuantity", "Status").
		Updates(product).Error
}

// AttachPrimaryImage sets the product's primary image reference.
// Idempotent: attaching the image already referenced is a no-op.
// Last writer wins when two importers race on the same product.
func (s *GORMStore) AttachPrimaryImage(ctx context.Context, productID, imageID string) error {
	var product models.Product
	if err := s.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		return convertNotFoundError(err, models.ErrProductNotFound)
	}

	if product.PrimaryImageID != nil && *product.PrimaryImageID == imageID {
		return nil
	}

	return s.db.WithContext(ctx).
		Model(&product).
		Update("primary_image_id", imageID).Error
}

func (s *GORMStore) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Product{}).Count(&count).Error
	return count, err
}
