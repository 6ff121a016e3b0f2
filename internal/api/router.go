package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/skuforge/catalogd/internal/api/handlers"
	"github.com/skuforge/catalogd/internal/logger"
	"github.com/skuforge/catalogd/pkg/blob"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/imports"
	"github.com/skuforge/catalogd/pkg/upload"
)

// Dependencies collects everything the router serves.
type Dependencies struct {
	Store   *store.GORMStore
	Blobs   blob.Store
	Uploads *upload.Engine
	Imports *imports.Engine
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET  /health - liveness probe
//   - GET  /health/ready - readiness probe (database + storage)
//   - POST /api/v1/uploads/initialize - open an upload session
//   - POST /api/v1/uploads/chunk - receive one chunk
//   - GET  /api/v1/uploads/{id}/status - session progress
//   - GET  /api/v1/uploads/{id}/resume - missing-chunk listing
//   - GET  /api/v1/uploads/{id}/verify - re-hash the assembled blob
//   - POST /api/v1/uploads/{id}/complete - assemble and verify
//   - DELETE /api/v1/uploads/{id}/cancel - abort a session
//   - POST /api/v1/imports/products - run a CSV import
//   - POST /api/v1/imports/products/validate - header-only validation
//   - GET  /api/v1/imports/products/columns - CSV contract
//   - GET  /api/v1/imports/history - paginated past runs
//   - GET  /api/v1/imports/statistics - trailing-window aggregates
//   - GET  /api/v1/imports/{id} - one run with summary
func NewRouter(config APIConfig, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(config.RequestTimeout))
	r.Use(maxBodySize(int64(config.MaxBodySize)))

	healthHandler := handlers.NewHealthHandler(deps.Store, deps.Blobs)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	uploadHandler := handlers.NewUploadHandler(deps.Uploads, deps.Store)
	importHandler := handlers.NewImportHandler(deps.Imports, deps.Store)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/initialize", uploadHandler.Initialize)
			r.Post("/chunk", uploadHandler.ReceiveChunk)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/status", uploadHandler.Status)
				r.Get("/resume", uploadHandler.Resume)
				r.Get("/verify", uploadHandler.Verify)
				r.Post("/complete", uploadHandler.Complete)
				r.Delete("/cancel", uploadHandler.Cancel)
			})
		})

		r.Route("/imports", func(r chi.Router) {
			r.Route("/products", func(r chi.Router) {
				r.Post("/", importHandler.Import)
				r.Post("/validate", importHandler.Validate)
				r.Get("/columns", importHandler.Columns)
			})

			r.Get("/history", importHandler.History)
			r.Get("/statistics", importHandler.Statistics)
			r.Get("/{id}", importHandler.Get)
		})
	})

	return r
}

// maxBodySize caps request bodies so an oversized chunk payload fails
// fast instead of filling the disk.
func maxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// isHealthPath returns true if the request path is a healthcheck endpoint.
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// requestLogger logs requests using the internal logger.
//
// Request start is logged at DEBUG; completion at INFO with method,
// path, status and duration. Healthcheck requests complete at DEBUG to
// reduce noise. A LogContext is stored in the request context so
// downstream Ctx logging carries the request ID.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())

		lc := logger.NewLogContext(r.RemoteAddr)
		lc.RequestID = requestID
		r = r.WithContext(logger.WithContext(r.Context(), lc))

		logger.Debug("API request started",
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyRoute, r.URL.Path,
			logger.KeyClientIP, r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logArgs := []any{
			logger.KeyRequestID, requestID,
			logger.KeyMethod, r.Method,
			logger.KeyRoute, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			"bytes", ww.BytesWritten(),
			logger.KeyDurationMs, lc.DurationMs(),
		}

		if isHealthPath(r.URL.Path) {
			logger.Debug("API request completed", logArgs...)
		} else {
			logger.Info("API request completed", logArgs...)
		}
	})
}
