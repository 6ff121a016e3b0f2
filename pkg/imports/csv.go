// Package imports turns CSV files into catalogue rows: a streaming
// parser, per-row validation, an import engine with an audit trail, and
// the resolver that maps image references to stored uploads.
package imports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/skuforge/catalogd/pkg/catalog/models"
)

// MissingColumnsError reports required header columns absent from the
// CSV file.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return models.ErrMissingColumns
}

// Row is one data row keyed by header column name. Line is the 1-based
// file line number; the header occupies line 1.
type Row struct {
	Line   int
	Fields map[string]string
}

// Get returns the trimmed value of a column, or "" when the column is
// absent or the row is short.
func (r *Row) Get(column string) string {
	return strings.TrimSpace(r.Fields[column])
}

// Parser streams rows out of a CSV file without buffering the file.
// The header is consumed at construction; unknown columns are carried
// through so handlers can ignore them.
type Parser struct {
	reader  *csv.Reader
	columns []string
	line    int
}

// NewParser reads the header line and verifies the required columns
// are present. Column matching is case-insensitive.
func NewParser(r io.Reader, required []string) (*Parser, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &MissingColumnsError{Missing: required}
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		columns[i] = name
		seen[name] = true
	}

	var missing []string
	for _, col := range required {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}

	return &Parser{reader: cr, columns: columns, line: 1}, nil
}

// Next returns the next data row, or io.EOF when the file is
// exhausted. Short rows leave trailing columns empty; extra fields
// beyond the header are dropped.
func (p *Parser) Next() (*Row, error) {
	record, err := p.reader.Read()
	if err != nil {
		return nil, err
	}
	p.line++

	fields := make(map[string]string, len(p.columns))
	for i, col := range p.columns {
		if i < len(record) {
			fields[col] = record[i]
		} else {
			fields[col] = ""
		}
	}
	return &Row{Line: p.line, Fields: fields}, nil
}
