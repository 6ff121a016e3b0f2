package imports

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

const mixedCSV = "sku,name,price,stock_quantity\n" +
	"SKU001,Product 1,10.00,100\n" +
	"SKU002,Product 2,invalid,200\n" +
	"SKU003,Product 3,30.00,300\n"

func setupImportEngine(t *testing.T) (*Engine, *store.GORMStore) {
	t.Helper()
	s := setupStore(t)
	return NewEngine(s, NewProductHandler(s, nil), nil, 0), s
}

func TestImportMixedRows(t *testing.T) {
	e, s := setupImportEngine(t)
	ctx := context.Background()

	res, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), DefaultOptions())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	if res.Total != 3 || res.Imported != 2 || res.Updated != 0 || res.Invalid != 1 || res.Duplicates != 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Processed != 2 || res.SuccessRate != 66.67 {
		t.Errorf("processed = %d rate = %.2f, want 2 and 66.67", res.Processed, res.SuccessRate)
	}
	if len(res.Errors) != 1 || res.Errors[0].Row != 3 || res.Errors[0].Errors[0] != "Invalid price format" {
		t.Errorf("errors = %+v", res.Errors)
	}

	log, err := s.GetImportLog(ctx, res.ImportLogID)
	if err != nil {
		t.Fatalf("GetImportLog() error: %v", err)
	}
	if log.Status != models.ImportPartiallyCompleted {
		t.Errorf("log status = %s, want partially_completed", log.Status)
	}
	if log.AccountedRows() != log.TotalRows {
		t.Errorf("counters %d do not account for %d rows", log.AccountedRows(), log.TotalRows)
	}
	if log.StartedAt == nil || log.CompletedAt == nil || log.ProcessingTimeSeconds < 0 {
		t.Errorf("timing fields = %+v", log)
	}
	if log.FileHash == "" {
		t.Error("file hash not recorded")
	}

	if _, err := s.GetProductBySKU(ctx, "SKU001"); err != nil {
		t.Errorf("SKU001 not imported: %v", err)
	}
	if _, err := s.GetProductBySKU(ctx, "SKU002"); !errors.Is(err, models.ErrProductNotFound) {
		t.Errorf("invalid row SKU002 persisted: %v", err)
	}
}

func TestReimportWithoutUpdates(t *testing.T) {
	e, _ := setupImportEngine(t)
	ctx := context.Background()

	if _, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), DefaultOptions()); err != nil {
		t.Fatalf("first Import() error: %v", err)
	}

	opts := DefaultOptions()
	opts.UpdateExisting = false
	res, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), opts)
	if err != nil {
		t.Fatalf("second Import() error: %v", err)
	}
	if res.Total != 3 || res.Imported != 0 || res.Updated != 0 || res.Invalid != 1 || res.Duplicates != 2 {
		t.Errorf("re-import result = %+v", res)
	}
}

func TestReimportUpdatesExisting(t *testing.T) {
	e, s := setupImportEngine(t)
	ctx := context.Background()

	if _, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), DefaultOptions()); err != nil {
		t.Fatalf("first Import() error: %v", err)
	}

	changed := strings.ReplaceAll(mixedCSV, "Product 1", "Product One")
	res, err := e.Import(ctx, "products.csv", strings.NewReader(changed), DefaultOptions())
	if err != nil {
		t.Fatalf("second Import() error: %v", err)
	}
	if res.Updated != 2 || res.Imported != 0 {
		t.Errorf("re-import result = %+v", res)
	}

	p, _ := s.GetProductBySKU(ctx, "SKU001")
	if p.Name != "Product One" {
		t.Errorf("name = %q after update", p.Name)
	}
}

func TestImportValidateOnly(t *testing.T) {
	e, s := setupImportEngine(t)
	ctx := context.Background()

	opts := DefaultOptions()
	opts.ValidateOnly = true
	res, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), opts)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Total != 3 || res.Imported != 2 || res.Invalid != 1 {
		t.Errorf("validate-only result = %+v", res)
	}
	if res.ImportLogID != "" {
		t.Error("validate-only run created an import log")
	}

	if n, _ := s.CountProducts(ctx); n != 0 {
		t.Errorf("validate-only run persisted %d products", n)
	}
	page, _ := s.ListImportLogs(ctx, 1, 10)
	if page.Total != 0 {
		t.Errorf("validate-only run persisted %d import logs", page.Total)
	}
}

func TestImportAbortsOnInvalidRow(t *testing.T) {
	e, s := setupImportEngine(t)
	ctx := context.Background()

	opts := DefaultOptions()
	opts.SkipInvalid = false
	res, err := e.Import(ctx, "products.csv", strings.NewReader(mixedCSV), opts)
	if !errors.Is(err, models.ErrImportAborted) {
		t.Fatalf("Import() error = %v, want ErrImportAborted", err)
	}
	if res.Total != 2 || res.Imported != 1 || res.Invalid != 1 {
		t.Errorf("aborted result = %+v", res)
	}

	log, err := s.GetImportLog(ctx, res.ImportLogID)
	if err != nil {
		t.Fatalf("GetImportLog() error: %v", err)
	}
	if log.Status != models.ImportFailed {
		t.Errorf("log status = %s, want failed", log.Status)
	}
	if len(log.ErrorDetails) != 1 || log.ErrorDetails[0].Row != 3 {
		t.Errorf("error details = %+v", log.ErrorDetails)
	}
}

func TestImportMissingColumns(t *testing.T) {
	e, s := setupImportEngine(t)
	ctx := context.Background()

	csv := "sku,name\nSKU001,Product 1\n"
	res, err := e.Import(ctx, "broken.csv", strings.NewReader(csv), DefaultOptions())
	if !errors.Is(err, models.ErrMissingColumns) {
		t.Fatalf("Import() error = %v, want ErrMissingColumns", err)
	}

	log, err := s.GetImportLog(ctx, res.ImportLogID)
	if err != nil {
		t.Fatalf("GetImportLog() error: %v", err)
	}
	if log.Status != models.ImportFailed {
		t.Errorf("log status = %s, want failed", log.Status)
	}
}

func TestImportHeaderOnly(t *testing.T) {
	e, _ := setupImportEngine(t)

	res, err := e.Import(context.Background(), "empty.csv",
		strings.NewReader("sku,name,price,stock_quantity\n"), DefaultOptions())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Total != 0 || res.SuccessRate != 0 {
		t.Errorf("header-only result = %+v", res)
	}
}

func TestImportErrorDetailCap(t *testing.T) {
	s := setupStore(t)
	e := NewEngine(s, NewProductHandler(s, nil), nil, 2)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("sku,name,price,stock_quantity\n")
	for i := 0; i < 5; i++ {
		b.WriteString("SKU,Name,bad,1\n")
	}

	res, err := e.Import(ctx, "bad.csv", strings.NewReader(b.String()), DefaultOptions())
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Invalid != 5 {
		t.Errorf("invalid = %d, want 5", res.Invalid)
	}
	if len(res.Errors) != 2 {
		t.Errorf("retained errors = %d, want cap of 2", len(res.Errors))
	}
}

func TestValidateHeader(t *testing.T) {
	e, _ := setupImportEngine(t)

	check, err := e.Validate(strings.NewReader("sku,name,price,stock_quantity\nrow,is,not,read\n"))
	if err != nil || !check.Valid {
		t.Errorf("Validate() = %+v, %v", check, err)
	}

	check, err = e.Validate(strings.NewReader("sku,name\n"))
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if check.Valid || len(check.MissingColumns) != 2 {
		t.Errorf("Validate() = %+v, want invalid with 2 missing columns", check)
	}
}
