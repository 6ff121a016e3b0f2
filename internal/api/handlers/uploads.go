package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/skuforge/catalogd/pkg/catalog/models"
	"github.com/skuforge/catalogd/pkg/catalog/store"
	"github.com/skuforge/catalogd/pkg/upload"
)

// UploadHandler serves the chunked upload endpoints.
type UploadHandler struct {
	engine *upload.Engine
	store  *store.GORMStore
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(engine *upload.Engine, s *store.GORMStore) *UploadHandler {
	return &UploadHandler{engine: engine, store: s}
}

type initializeRequest struct {
	OriginalFilename string `json:"original_filename"`
	TotalChunks      int    `json:"total_chunks"`
	TotalSize        int64  `json:"total_size"`
	ChecksumSHA256   string `json:"checksum_sha256"`
	MimeType         string `json:"mime_type"`
}

type uploadSummary struct {
	UploadID       string  `json:"upload_id"`
	Status         string  `json:"status"`
	TotalChunks    int     `json:"total_chunks"`
	UploadedChunks int     `json:"uploaded_chunks"`
	Progress       float64 `json:"progress"`
	Deduplicated   bool    `json:"deduplicated,omitempty"`
}

// Initialize opens a new upload session, or returns an existing
// completed upload with the same content hash.
func (h *UploadHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.engine.Initialize(r.Context(), upload.InitRequest{
		Filename:    req.OriginalFilename,
		TotalSize:   req.TotalSize,
		TotalChunks: req.TotalChunks,
		Checksum:    req.ChecksumSHA256,
		MimeType:    req.MimeType,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	u := res.Upload
	body := uploadSummary{
		UploadID:       u.ID,
		Status:         string(u.Status),
		TotalChunks:    u.TotalChunks,
		UploadedChunks: u.UploadedChunks,
		Progress:       u.Progress(),
		Deduplicated:   res.Deduplicated,
	}
	if res.Deduplicated {
		OK(w, body)
		return
	}
	Created(w, body)
}

type chunkRequest struct {
	UploadID   string `json:"upload_id"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkData  string `json:"chunk_data"`
	Checksum   string `json:"checksum"`
}

type chunkResponse struct {
	UploadID       string  `json:"upload_id"`
	ChunkIndex     int     `json:"chunk_index"`
	UploadedChunks int     `json:"uploaded_chunks"`
	TotalChunks    int     `json:"total_chunks"`
	Progress       float64 `json:"progress"`
	Status         string  `json:"status"`
	Duplicate      bool    `json:"duplicate,omitempty"`
}

// ReceiveChunk accepts one base64-encoded chunk.
func (h *UploadHandler) ReceiveChunk(w http.ResponseWriter, r *http.Request) {
	var req chunkRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.UploadID == "" {
		Fail(w, http.StatusBadRequest, "upload_id is required")
		return
	}
	if req.Checksum == "" {
		Fail(w, http.StatusBadRequest, "checksum is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.ChunkData)
	if err != nil {
		Fail(w, http.StatusBadRequest, "chunk_data is not valid base64")
		return
	}

	res, err := h.engine.ReceiveChunk(r.Context(), req.UploadID, upload.ChunkRequest{
		Index:    req.ChunkIndex,
		Data:     data,
		Checksum: req.Checksum,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	OK(w, chunkResponse{
		UploadID:       res.UploadID,
		ChunkIndex:     res.ChunkIndex,
		UploadedChunks: res.UploadedChunks,
		TotalChunks:    res.TotalChunks,
		Progress:       res.Progress,
		Status:         string(models.UploadUploading),
		Duplicate:      res.Duplicate,
	})
}

type completeRequest struct {
	// GenerateVariants is accepted for wire compatibility; variant
	// generation is dispatched asynchronously and is idempotent.
	GenerateVariants *bool `json:"generate_variants"`
}

type completeResponse struct {
	UploadID    string          `json:"upload_id"`
	Status      string          `json:"status"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Images      []*models.Image `json:"images"`
}

// Complete assembles the chunks and verifies the whole-file checksum.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if r.ContentLength > 0 {
		var req completeRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}

	u, err := h.engine.Complete(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}

	images, err := h.store.ListImagesByUpload(r.Context(), u.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	OK(w, completeResponse{
		UploadID:    u.ID,
		Status:      string(u.Status),
		CompletedAt: u.CompletedAt,
		Images:      images,
	})
}

type statusResponse struct {
	UploadID         string     `json:"upload_id"`
	OriginalFilename string     `json:"original_filename"`
	MimeType         string     `json:"mime_type,omitempty"`
	Status           string     `json:"status"`
	Progress         float64    `json:"progress"`
	UploadedChunks   int        `json:"uploaded_chunks"`
	TotalChunks      int        `json:"total_chunks"`
	TotalSize        int64      `json:"total_size"`
	ChecksumSHA256   string     `json:"checksum_sha256"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Status returns the session's progress and state.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	u := st.Upload
	OK(w, statusResponse{
		UploadID:         u.ID,
		OriginalFilename: u.OriginalFilename,
		MimeType:         u.MimeType,
		Status:           string(u.Status),
		Progress:         u.Progress(),
		UploadedChunks:   u.UploadedChunks,
		TotalChunks:      u.TotalChunks,
		TotalSize:        u.TotalSize,
		ChecksumSHA256:   u.ChecksumSHA256,
		ErrorMessage:     u.ErrorMessage,
		CompletedAt:      u.CompletedAt,
		CreatedAt:        u.CreatedAt,
	})
}

type resumeResponse struct {
	CanResume      bool    `json:"can_resume"`
	UploadedChunks []int   `json:"uploaded_chunks"`
	MissingChunks  []int   `json:"missing_chunks"`
	Progress       float64 `json:"progress"`
}

// Resume reports which chunks a client still has to send.
func (h *UploadHandler) Resume(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}

	u := st.Upload
	OK(w, resumeResponse{
		CanResume:      u.CanResume(),
		UploadedChunks: u.ChunkIndexes.Indices(),
		MissingChunks:  st.MissingChunks,
		Progress:       u.Progress(),
	})
}

// Verify re-hashes the assembled blob and compares it against the
// recorded checksum.
func (h *UploadHandler) Verify(w http.ResponseWriter, r *http.Request) {
	valid, err := h.engine.VerifyChecksum(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("checksum"))
	if err != nil {
		WriteError(w, err)
		return
	}
	OK(w, map[string]bool{"checksum_valid": valid})
}

type cancelResponse struct {
	UploadID  string `json:"upload_id"`
	Status    string `json:"status,omitempty"`
	Cancelled bool   `json:"cancelled"`
}

// Cancel aborts a resumable session and removes its chunks. An unknown
// or already-finished upload is a no-op reported as cancelled: false.
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrUploadNotFound) || models.IsStateError(err) {
			OK(w, cancelResponse{UploadID: id, Cancelled: false})
			return
		}
		WriteError(w, err)
		return
	}

	OK(w, cancelResponse{
		UploadID:  u.ID,
		Status:    string(u.Status),
		Cancelled: true,
	})
}
