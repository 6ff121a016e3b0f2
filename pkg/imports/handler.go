package imports

import "context"

// Outcome classifies what an upsert did with a valid row.
type Outcome string

const (
	OutcomeImported  Outcome = "imported"
	OutcomeUpdated   Outcome = "updated"
	OutcomeDuplicate Outcome = "duplicate"
)

// UpsertOptions controls how a handler persists one row.
type UpsertOptions struct {
	// UpdateExisting overwrites a row whose key already exists. When
	// false the row is counted as a duplicate and left untouched.
	UpdateExisting bool

	// DryRun classifies the row without writing anything.
	DryRun bool
}

// RowHandler adapts the import engine to one record type. The engine
// itself is agnostic about what a row becomes; handlers supply the
// column contract, validation, and keyed persistence.
type RowHandler interface {
	// ImportType names the record type, e.g. "products".
	ImportType() string

	// RequiredColumns lists header columns that must be present.
	RequiredColumns() []string

	// OptionalColumns lists header columns that are recognised when
	// present.
	OptionalColumns() []string

	// Validate returns human-readable messages for every problem in
	// the row, or nil when the row is importable.
	Validate(row *Row) []string

	// Upsert persists a validated row keyed by its natural key and
	// reports whether it was created, updated, or skipped as a
	// duplicate.
	Upsert(ctx context.Context, row *Row, opts UpsertOptions) (Outcome, error)
}
