package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/imports"
)

// maxMultipartMemory bounds the in-memory portion of a multipart parse;
// larger files spill to disk.
const maxMultipartMemory = 32 << 20

// ImportHandler serves the CSV import endpoints.
type ImportHandler struct {
	engine *imports.Engine
	store  *store.GORMStore
}

// NewImportHandler creates an import handler.
func NewImportHandler(engine *imports.Engine, s *store.GORMStore) *ImportHandler {
	return &ImportHandler{engine: engine, store: s}
}

// openUploadedFile extracts the "file" part of a multipart request. On
// failure the error response is already written.
func openUploadedFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		Fail(w, http.StatusBadRequest, "invalid multipart request")
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		Fail(w, http.StatusBadRequest, "missing file field")
		return nil, nil, false
	}
	return file, header, true
}

// formBool reads a boolean form field, keeping the fallback when the
// field is absent or unparseable.
func formBool(r *http.Request, field string, fallback bool) bool {
	v := r.FormValue(field)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Import runs a CSV import. Options arrive as form fields alongside
// the file: validate_only, skip_invalid, update_existing.
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	file, header, ok := openUploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	opts := imports.DefaultOptions()
	opts.ValidateOnly = formBool(r, "validate_only", opts.ValidateOnly)
	opts.SkipInvalid = formBool(r, "skip_invalid", opts.SkipInvalid)
	opts.UpdateExisting = formBool(r, "update_existing", opts.UpdateExisting)

	result, err := h.engine.Import(r.Context(), header.Filename, file, opts)
	if err != nil {
		var mc *imports.MissingColumnsError
		switch {
		case errors.As(err, &mc):
			FailValidation(w, mc.Error(), map[string][]string{"columns": mc.Missing})
		case errors.Is(err, models.ErrImportAborted):
			writeJSON(w, http.StatusUnprocessableEntity, Envelope{
				Success: false,
				Error:   err.Error(),
				Data:    result,
			})
		default:
			WriteError(w, err)
		}
		return
	}

	OK(w, result)
}

// Validate checks only the CSV header.
func (h *ImportHandler) Validate(w http.ResponseWriter, r *http.Request) {
	file, _, ok := openUploadedFile(w, r)
	if !ok {
		return
	}
	defer file.Close()

	check, err := h.engine.Validate(file)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !check.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, Envelope{
			Success: false,
			Error:   "missing required columns",
			Data:    check,
		})
		return
	}
	OK(w, check)
}

// Columns describes the CSV contract of the import type.
func (h *ImportHandler) Columns(w http.ResponseWriter, r *http.Request) {
	handler := h.engine.Handler()
	OK(w, map[string]any{
		"import_type":      handler.ImportType(),
		"required_columns": handler.RequiredColumns(),
		"optional_columns": handler.OptionalColumns(),
	})
}

// History returns a page of past import runs, newest first.
func (h *ImportHandler) History(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))

	logs, err := h.store.ListImportLogs(r.Context(), page, perPage)
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, logs)
}

// Get returns one import run with a derived summary.
func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	log, err := h.store.GetImportLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	summary := map[string]any{
		"processed": log.ImportedRows + log.UpdatedRows,
		"accounted": log.AccountedRows(),
		"terminal":  log.Status.IsTerminal(),
	}
	OK(w, map[string]any{
		"import":  log,
		"summary": summary,
	})
}

// Statistics aggregates import activity over a trailing window of days
// (default 30).
func (h *ImportHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		days = 30
	}

	to := time.Now()
	from := to.AddDate(0, 0, -days)
	stats, err := h.store.GetImportStatistics(r.Context(), from)
	if err != nil {
		WriteError(w, err)
		return
	}

	OK(w, map[string]any{
		"statistics": stats,
		"period": map[string]time.Time{
			"from": from,
			"to":   to,
		},
	})
}
