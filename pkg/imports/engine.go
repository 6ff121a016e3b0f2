package imports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"
	"strings"
	"time"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/metrics"
)

// Options controls one import run.
type Options struct {
	// ValidateOnly runs the full parse and validation pass without
	// persisting products or an ImportLog.
	ValidateOnly bool

	// SkipInvalid continues past invalid rows. When false the first
	// invalid row aborts the run and marks the ImportLog failed.
	SkipInvalid bool

	// UpdateExisting overwrites products whose SKU already exists.
	// When false such rows are counted as duplicates.
	UpdateExisting bool
}

// DefaultOptions returns the options applied when a request leaves
// them unspecified.
func DefaultOptions() Options {
	return Options{SkipInvalid: true, UpdateExisting: true}
}

// Result summarises one import run.
type Result struct {
	Total       int              `json:"total"`
	Imported    int              `json:"imported"`
	Updated     int              `json:"updated"`
	Invalid     int              `json:"invalid"`
	Duplicates  int              `json:"duplicates"`
	Processed   int              `json:"processed"`
	SuccessRate float64          `json:"success_rate"`
	Errors      models.RowErrors `json:"errors"`
	ImportLogID string           `json:"import_log_id,omitempty"`
}

// HeaderCheck is the outcome of validating a CSV header.
type HeaderCheck struct {
	Valid          bool     `json:"valid"`
	MissingColumns []string `json:"missing_columns,omitempty"`
}

// Engine streams CSV files through a RowHandler, keeping an ImportLog
// audit record per run. The engine is generic over the record type;
// product imports are one handler.
type Engine struct {
	store           *store.GORMStore
	handler         RowHandler
	metrics         *metrics.CatalogMetrics
	maxErrorDetails int
}

// NewEngine creates an import engine. maxErrorDetails caps how many
// per-row errors are retained; rows past the cap are still counted.
func NewEngine(s *store.GORMStore, handler RowHandler, m *metrics.CatalogMetrics, maxErrorDetails int) *Engine {
	if maxErrorDetails <= 0 {
		maxErrorDetails = 1000
	}
	return &Engine{store: s, handler: handler, metrics: m, maxErrorDetails: maxErrorDetails}
}

// Handler returns the row handler the engine runs.
func (e *Engine) Handler() RowHandler {
	return e.handler
}

// Validate parses only the header and reports whether the file can be
// imported.
func (e *Engine) Validate(r io.Reader) (*HeaderCheck, error) {
	_, err := NewParser(r, e.handler.RequiredColumns())
	var missing *MissingColumnsError
	if errors.As(err, &missing) {
		return &HeaderCheck{Valid: false, MissingColumns: missing.Missing}, nil
	}
	if err != nil {
		return nil, err
	}
	return &HeaderCheck{Valid: true}, nil
}

// Import streams the file through the handler. The returned Result is
// populated even when the run aborts; the error then wraps
// models.ErrImportAborted or the fatal cause.
func (e *Engine) Import(ctx context.Context, filename string, r io.Reader, opts Options) (*Result, error) {
	start := time.Now()
	result := &Result{Errors: models.RowErrors{}}

	hasher := sha256.New()
	body := io.TeeReader(r, hasher)

	var log *models.ImportLog
	if !opts.ValidateOnly {
		log = &models.ImportLog{
			Filename:     filename,
			Status:       models.ImportPending,
			ErrorDetails: models.RowErrors{},
		}
		if _, err := e.store.CreateImportLog(ctx, log); err != nil {
			return nil, err
		}
		result.ImportLogID = log.ID

		now := time.Now()
		log.StartedAt = &now
		log.Status = models.ImportProcessing
		if err := e.store.SaveImportLog(ctx, log); err != nil {
			return nil, err
		}
	}

	parser, err := NewParser(body, e.handler.RequiredColumns())
	if err != nil {
		e.finalize(ctx, log, result, models.ImportFailed, start, hasher)
		return result, err
	}

	for {
		row, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Structural CSV damage; the stream cannot be trusted
			// past this point.
			result.Total++
			result.Invalid++
			e.appendError(result, models.RowError{Row: result.Total + 1, Errors: []string{err.Error()}})
			e.finalize(ctx, log, result, models.ImportFailed, start, hasher)
			return result, fmt.Errorf("parse CSV: %w", err)
		}

		result.Total++
		if msgs := e.handler.Validate(row); len(msgs) > 0 {
			result.Invalid++
			e.recordRow(opts, "invalid")
			e.appendError(result, models.RowError{Row: row.Line, Errors: msgs})
			if !opts.SkipInvalid {
				e.finalize(ctx, log, result, models.ImportFailed, start, hasher)
				return result, fmt.Errorf("%w: row %d: %s",
					models.ErrImportAborted, row.Line, strings.Join(msgs, "; "))
			}
			continue
		}

		outcome, err := e.handler.Upsert(ctx, row, UpsertOptions{
			UpdateExisting: opts.UpdateExisting,
			DryRun:         opts.ValidateOnly,
		})
		if err != nil {
			result.Invalid++
			e.recordRow(opts, "invalid")
			e.appendError(result, models.RowError{Row: row.Line, Errors: []string{err.Error()}})
			if !opts.SkipInvalid {
				e.finalize(ctx, log, result, models.ImportFailed, start, hasher)
				return result, fmt.Errorf("%w: row %d: %v", models.ErrImportAborted, row.Line, err)
			}
			continue
		}

		switch outcome {
		case OutcomeImported:
			result.Imported++
		case OutcomeUpdated:
			result.Updated++
		case OutcomeDuplicate:
			result.Duplicates++
		}
		e.recordRow(opts, string(outcome))
	}

	status := models.ImportCompleted
	if result.Invalid > 0 {
		status = models.ImportPartiallyCompleted
	}
	e.finalize(ctx, log, result, status, start, hasher)

	logger.InfoCtx(ctx, "Import finished",
		logger.KeyImportID, result.ImportLogID,
		logger.KeyImportStat, string(status),
		logger.KeyCount, result.Total,
		logger.KeyDurationMs, time.Since(start).Milliseconds())
	return result, nil
}

func (e *Engine) recordRow(opts Options, outcome string) {
	if !opts.ValidateOnly {
		e.metrics.RecordImportRow(outcome)
	}
}

// appendError retains a row error up to the configured cap. Counters
// keep increasing past the cap; only the detail list is bounded.
func (e *Engine) appendError(result *Result, re models.RowError) {
	if len(result.Errors) < e.maxErrorDetails {
		result.Errors = append(result.Errors, re)
	}
}

// finalize computes derived result fields and persists the terminal
// ImportLog state. log is nil on validate-only runs.
func (e *Engine) finalize(ctx context.Context, log *models.ImportLog, result *Result, status models.ImportStatus, start time.Time, hasher hash.Hash) {
	result.Processed = result.Imported + result.Updated
	if result.Total > 0 {
		rate := 100 * float64(result.Processed) / float64(result.Total)
		result.SuccessRate = math.Round(rate*100) / 100
	}

	if log == nil {
		return
	}

	log.Status = status
	log.TotalRows = result.Total
	log.ImportedRows = result.Imported
	log.UpdatedRows = result.Updated
	log.InvalidRows = result.Invalid
	log.DuplicateRows = result.Duplicates
	log.ErrorDetails = result.Errors
	log.FileHash = hex.EncodeToString(hasher.Sum(nil))

	now := time.Now()
	log.CompletedAt = &now
	elapsed := now.Sub(start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	log.ProcessingTimeSeconds = elapsed

	if err := e.store.SaveImportLog(ctx, log); err != nil {
		logger.ErrorCtx(ctx, "Failed to persist import log",
			logger.KeyImportID, log.ID,
			logger.KeyError, err.Error())
	}

	e.metrics.RecordImportFinished(string(status), now.Sub(start))
}
