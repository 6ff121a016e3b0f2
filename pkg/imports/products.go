package imports

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

// ProductHandler imports product rows keyed by SKU. When a resolver is
// set, rows carrying a primary_image reference get their image attached
// (or scheduled) after the product write.
type ProductHandler struct {
	store    *store.GORMStore
	resolver *Resolver
}

// NewProductHandler creates a product row handler. resolver may be nil,
// in which case primary_image columns are ignored.
func NewProductHandler(s *store.GORMStore, resolver *Resolver) *ProductHandler {
	return &ProductHandler{store: s, resolver: resolver}
}

func (h *ProductHandler) ImportType() string {
	return "products"
}

func (h *ProductHandler) RequiredColumns() []string {
	return []string{"sku", "name", "price", "stock_quantity"}
}

func (h *ProductHandler) OptionalColumns() []string {
	return []string{"description", "status", "primary_image"}
}

// Validate checks one row and returns a message per problem.
func (h *ProductHandler) Validate(row *Row) []string {
	var msgs []string

	if row.Get("sku") == "" {
		msgs = append(msgs, "SKU is required")
	}
	if row.Get("name") == "" {
		msgs = append(msgs, "Name is required")
	}

	price, err := strconv.ParseFloat(row.Get("price"), 64)
	switch {
	case err != nil || math.IsNaN(price) || math.IsInf(price, 0):
		msgs = append(msgs, "Invalid price format")
	case price < 0:
		msgs = append(msgs, "Price cannot be negative")
	}

	qty, err := strconv.Atoi(row.Get("stock_quantity"))
	switch {
	case err != nil:
		msgs = append(msgs, "Invalid stock quantity format")
	case qty < 0:
		msgs = append(msgs, "Stock quantity cannot be negative")
	}

	if s := row.Get("status"); s != "" && !models.ProductStatus(s).IsValid() {
		msgs = append(msgs, "Invalid status: must be active, inactive or discontinued")
	}

	return msgs
}

// Upsert creates or updates the product for the row's SKU. The row must
// already have passed Validate.
func (h *ProductHandler) Upsert(ctx context.Context, row *Row, opts UpsertOptions) (Outcome, error) {
	sku := row.Get("sku")

	existing, err := h.store.GetProductBySKU(ctx, sku)
	if err != nil && !errors.Is(err, models.ErrProductNotFound) {
		return "", err
	}

	if existing != nil && !opts.UpdateExisting {
		return OutcomeDuplicate, nil
	}
	if opts.DryRun {
		if existing != nil {
			return OutcomeUpdated, nil
		}
		return OutcomeImported, nil
	}

	product := h.productFromRow(row)

	var outcome Outcome
	if existing != nil {
		product.ID = existing.ID
		if err := h.store.UpdateProductFields(ctx, product); err != nil {
			return "", err
		}
		outcome = OutcomeUpdated
	} else {
		if _, err := h.store.CreateProduct(ctx, product); err != nil {
			return "", err
		}
		outcome = OutcomeImported
	}

	if ref := row.Get("primary_image"); ref != "" && h.resolver != nil {
		// Image resolution failure does not invalidate the row; the
		// product row is already persisted.
		if err := h.resolver.Resolve(ctx, product.ID, ref); err != nil {
			logger.WarnCtx(ctx, "Could not resolve primary image",
				logger.KeySKU, sku,
				logger.KeyImageRef, ref,
				logger.KeyError, err.Error())
		}
	}

	return outcome, nil
}

func (h *ProductHandler) productFromRow(row *Row) *models.Product {
	price, _ := strconv.ParseFloat(row.Get("price"), 64)
	qty, _ := strconv.Atoi(row.Get("stock_quantity"))

	status := models.ProductStatus(row.Get("status"))
	if status == "" {
		status = models.ProductActive
	}

	return &models.Product{
		SKU:           row.Get("sku"),
		Name:          row.Get("name"),
		Description:   row.Get("description"),
		Price:         price,
		StockQuantity: qty,
		Status:        status,
	}
}
