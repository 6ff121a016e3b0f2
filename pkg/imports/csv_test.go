package imports

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

var productColumns = []string{"sku", "name", "price", "stock_quantity"}

func TestNewParserHeaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		missing []string
	}{
		{"all required", "sku,name,price,stock_quantity", nil},
		{"mixed case and spacing", "SKU, Name ,PRICE,Stock_Quantity", nil},
		{"unknown columns tolerated", "sku,name,price,stock_quantity,color,weight", nil},
		{"one missing", "sku,name,price", []string{"stock_quantity"}},
		{"all missing", "color,weight", productColumns},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewParser(strings.NewReader(tt.header+"\n"), productColumns)
			if tt.missing == nil {
				if err != nil {
					t.Fatalf("NewParser() error: %v", err)
				}
				return
			}
			var mc *MissingColumnsError
			if !errors.As(err, &mc) {
				t.Fatalf("NewParser() error = %v, want MissingColumnsError", err)
			}
			if !errors.Is(err, models.ErrMissingColumns) {
				t.Error("MissingColumnsError does not wrap ErrMissingColumns")
			}
			if strings.Join(mc.Missing, ",") != strings.Join(tt.missing, ",") {
				t.Errorf("missing = %v, want %v", mc.Missing, tt.missing)
			}
		})
	}
}

func TestParserEmptyFile(t *testing.T) {
	_, err := NewParser(strings.NewReader(""), productColumns)
	var mc *MissingColumnsError
	if !errors.As(err, &mc) {
		t.Fatalf("NewParser() on empty input error = %v, want MissingColumnsError", err)
	}
}

func TestParserStreamsRows(t *testing.T) {
	csv := "sku,name,price,stock_quantity,extra\n" +
		"SKU001,First,10.00,5,ignored\n" +
		"SKU002, Second ,20.00,10\n"

	p, err := NewParser(strings.NewReader(csv), productColumns)
	if err != nil {
		t.Fatalf("NewParser() error: %v", err)
	}

	row, err := p.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if row.Line != 2 {
		t.Errorf("first row line = %d, want 2", row.Line)
	}
	if row.Get("sku") != "SKU001" || row.Get("extra") != "ignored" {
		t.Errorf("first row = %v", row.Fields)
	}

	row, err = p.Next()
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if row.Line != 3 {
		t.Errorf("second row line = %d, want 3", row.Line)
	}
	if row.Get("name") != "Second" {
		t.Errorf("name = %q, want trimmed value", row.Get("name"))
	}
	// Short row: the missing trailing column reads as empty.
	if row.Get("extra") != "" {
		t.Errorf("extra = %q on short row, want empty", row.Get("extra"))
	}

	if _, err := p.Next(); err != io.EOF {
		t.Errorf("Next() after last row = %v, want io.EOF", err)
	}
}

func TestParserHeaderOnly(t *testing.T) {
	p, err := NewParser(strings.NewReader("sku,name,price,stock_quantity\n"), productColumns)
	if err != nil {
		t.Fatalf("NewParser() error: %v", err)
	}
	if _, err := p.Next(); err != io.EOF {
		t.Errorf("Next() = %v, want io.EOF", err)
	}
}
