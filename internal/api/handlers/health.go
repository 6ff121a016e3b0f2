package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/store"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store *store.GORMStore
	blobs blob.Store
}

// NewHealthHandler creates a health handler. Either dependency may be
// nil; the corresponding readiness check is then skipped.
func NewHealthHandler(s *store.GORMStore, blobs blob.Store) *HealthHandler {
	return &HealthHandler{store: s, blobs: blobs}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	OK(w, map[string]string{"status": "alive"})
}

// Readiness reports whether the database and blob store are reachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if h.blobs != nil {
		if _, err := h.blobs.Exists(ctx, "healthcheck"); err != nil {
			checks["storage"] = err.Error()
			healthy = false
		} else {
			checks["storage"] = "ok"
		}
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Data: checks, Error: "not ready"})
		return
	}
	OK(w, checks)
}
