// Package handlers provides the HTTP handlers for the catalogd API.
package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/imports"
	"github.com/skuforge/catalogd/pkg/queue"
	"github.com/skuforge/catalogd/pkg/upload"
)

// Envelope is the response wrapper every endpoint returns.
//
//   - Success reports the overall result.
//   - Data carries the payload on success.
//   - Error carries a human-readable message on failure.
//   - Errors carries field-level details for validation failures.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// writeJSON writes a JSON response with the given status code. Encoding
// goes to a buffer first so an encoding failure can still produce an
// error response before headers are sent.
func writeJSON(w http.ResponseWriter, status int, body Envelope) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		logger.Error("Failed to encode JSON response", logger.KeyError, err.Error())
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// OK writes a 200 success envelope.
func OK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 success envelope.
func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, Envelope{Success: true, Data: data})
}

// OKMessage writes a 200 success envelope with a message and no data.
func OKMessage(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, Envelope{Success: true, Message: message})
}

// Fail writes a failure envelope with the given status and message.
func Fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Envelope{Success: false, Error: message})
}

// FailValidation writes a 422 failure envelope carrying field-level
// details.
func FailValidation(w http.ResponseWriter, message string, details any) {
	writeJSON(w, http.StatusUnprocessableEntity, Envelope{Success: false, Error: message, Errors: details})
}

// WriteError maps a domain error to the appropriate failure response.
func WriteError(w http.ResponseWriter, err error) {
	var ve upload.ValidationErrors
	if errors.As(err, &ve) {
		FailValidation(w, "validation failed", ve)
		return
	}
	var mc *imports.MissingColumnsError
	if errors.As(err, &mc) {
		FailValidation(w, mc.Error(), map[string][]string{"columns": mc.Missing})
		return
	}

	switch {
	case errors.Is(err, models.ErrUploadNotFound),
		errors.Is(err, models.ErrProductNotFound),
		errors.Is(err, models.ErrImageNotFound),
		errors.Is(err, models.ErrImportLogNotFound):
		Fail(w, http.StatusNotFound, err.Error())
	case models.IsStateError(err):
		Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrChecksumMismatch),
		errors.Is(err, models.ErrChunkOutOfRange),
		errors.Is(err, models.ErrMissingChunks),
		errors.Is(err, models.ErrUploadNotComplete):
		Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		Fail(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error("Request failed", logger.KeyError, err.Error())
		Fail(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSONBody decodes a JSON request body into v. On failure a 400
// response is written and false returned.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		Fail(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
