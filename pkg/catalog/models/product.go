package models

import "time"

// ProductStatus represents the catalogue availability of a product.
type ProductStatus string

const (
	ProductActive       ProductStatus = "active"
	ProductInactive     ProductStatus = "inactive"
	ProductDiscontinued ProductStatus = "discontinued"
)

// IsValid checks if the status is a known ProductStatus.
func (s ProductStatus) IsValid() bool {
	switch s {
	case ProductActive, ProductInactive, ProductDiscontinued:
		return true
	}
	return false
}

// Product is a catalogue row keyed by its natural SKU.
//
// PrimaryImageID is a weak reference: it does not own the Image and is
// nulled when the referent is deleted.
type Product struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	SKU            string        `gorm:"uniqueIndex;not null;size:128" json:"sku"`
	Name           string        `gorm:"not null;size:512" json:"name"`
	Description    string        `gorm:"type:text" json:"description,omitempty"`
	Price          float64       `gorm:"type:numeric(12,2);not null" json:"price"`
	StockQuantity  int           `gorm:"not null;default:0" json:"stock_quantity"`
	Status         ProductStatus `gorm:"not null;default:active;size:20" json:"status"`
	PrimaryImageID *string       `gorm:"size:36" json:"primary_image_id,omitempty"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Product.
func (Product) TableName() string {
	return "products"
}
