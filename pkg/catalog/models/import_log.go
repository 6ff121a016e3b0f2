package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ImportStatus represents the lifecycle state of a CSV import run.
type ImportStatus string

const (
	ImportPending    ImportStatus = "pending"
	ImportProcessing ImportStatus = "processing"
	// ImportCompleted means every row was imported or updated. Terminal.
	ImportCompleted ImportStatus = "completed"
	// ImportPartiallyCompleted means the run finished with at least one
	// invalid row. Terminal.
	ImportPartiallyCompleted ImportStatus = "partially_completed"
	// ImportFailed means the run aborted on a fatal error. Terminal.
	ImportFailed ImportStatus = "failed"
)

// IsValid checks if the status is a known ImportStatus.
func (s ImportStatus) IsValid() bool {
	switch s {
	case ImportPending, ImportProcessing, ImportCompleted, ImportPartiallyCompleted, ImportFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the import run is finished.
func (s ImportStatus) IsTerminal() bool {
	return s == ImportCompleted || s == ImportPartiallyCompleted || s == ImportFailed
}

// RowError records the validation failures of a single CSV row.
// Row numbers are 1-based file line numbers (header is line 1).
type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

// RowErrors is an ordered list of per-row failures, persisted as JSON.
type RowErrors []RowError

// Value implements driver.Valuer.
func (r RowErrors) Value() (driver.Value, error) {
	if r == nil {
		r = RowErrors{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (r *RowErrors) Scan(src any) error {
	if src == nil {
		*r = RowErrors{}
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RowErrors", src)
	}
	if len(raw) == 0 {
		*r = RowErrors{}
		return nil
	}
	return json.Unmarshal(raw, r)
}

// ImportLog is the audit record of one CSV import run.
//
// Invariant: imported + updated + invalid + duplicate <= total, with
// equality once the status is terminal.
type ImportLog struct {
	ID                    string       `gorm:"primaryKey;size:36" json:"id"`
	Filename              string       `gorm:"not null;size:512" json:"filename"`
	FileHash              string       `gorm:"size:64" json:"file_hash,omitempty"`
	Status                ImportStatus `gorm:"not null;default:pending;size:24" json:"status"`
	TotalRows             int          `gorm:"not null;default:0" json:"total_rows"`
	ImportedRows          int          `gorm:"not null;default:0" json:"imported_rows"`
	UpdatedRows           int          `gorm:"not null;default:0" json:"updated_rows"`
	InvalidRows           int          `gorm:"not null;default:0" json:"invalid_rows"`
	DuplicateRows         int          `gorm:"not null;default:0" json:"duplicate_rows"`
	ErrorDetails          RowErrors    `gorm:"type:text" json:"error_details"`
	StartedAt             *time.Time   `json:"started_at,omitempty"`
	CompletedAt           *time.Time   `json:"completed_at,omitempty"`
	ProcessingTimeSeconds float64      `gorm:"default:0" json:"processing_time_seconds"`
	CreatedAt             time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for ImportLog.
func (ImportLog) TableName() string {
	return "import_logs"
}

// AccountedRows returns the sum of the per-outcome counters.
func (l *ImportLog) AccountedRows() int {
	return l.ImportedRows + l.UpdatedRows + l.InvalidRows + l.DuplicateRows
}
