// Package models defines the persistent entities of the catalogue:
// uploads, images, products and import logs. Models are plain GORM
// structs; business rules live in the upload and import engines.
package models

// AllModels returns all models for GORM auto-migration.
// Order matters for foreign key creation: uploads before images.
func AllModels() []any {
	return []any{
		&Upload{},
		&Image{},
		&Product{},
		&ImportLog{},
	}
}
