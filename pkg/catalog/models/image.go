package models

import "time"

// ImageVariant identifies one rendition of an uploaded image.
type ImageVariant string

const (
	// VariantOriginal is the assembled blob as uploaded, unmodified.
	VariantOriginal ImageVariant = "original"
	VariantSmall    ImageVariant = "small"
	VariantMedium   ImageVariant = "medium"
	VariantLarge    ImageVariant = "large"
)

// IsValid checks if the variant is a known ImageVariant.
func (v ImageVariant) IsValid() bool {
	switch v {
	case VariantOriginal, VariantSmall, VariantMedium, VariantLarge:
		return true
	}
	return false
}

// MaxDimension returns the maximum pixel size of the longer edge for
// this variant, or 0 for the original (no resizing).
func (v ImageVariant) MaxDimension() int {
	switch v {
	case VariantSmall:
		return 256
	case VariantMedium:
		return 512
	case VariantLarge:
		return 1024
	default:
		return 0
	}
}

// ResizedVariants lists the variants produced by resizing, in the order
// they are generated.
func ResizedVariants() []ImageVariant {
	return []ImageVariant{VariantSmall, VariantMedium, VariantLarge}
}

// Image is one variant (original or resized) derived from a completed
// Upload. (UploadID, Variant) is unique; an Image cannot exist without
// its Upload.
type Image struct {
	ID        string       `gorm:"primaryKey;size:36" json:"id"`
	UploadID  string       `gorm:"not null;size:36;uniqueIndex:idx_images_upload_variant" json:"upload_id"`
	Variant   ImageVariant `gorm:"not null;size:16;uniqueIndex:idx_images_upload_variant" json:"variant"`
	Path      string       `gorm:"not null;size:512" json:"path"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	SizeBytes int64        `json:"size_bytes"`
	MimeType  string       `gorm:"size:128" json:"mime_type"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for Image.
func (Image) TableName() string {
	return "images"
}
