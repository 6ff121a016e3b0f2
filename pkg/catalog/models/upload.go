package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// UploadStatus represents the lifecycle state of an upload.
type UploadStatus string

const (
	// UploadPending is the initial state after initialize.
	UploadPending UploadStatus = "pending"
	// UploadUploading is entered when the first chunk is stored.
	UploadUploading UploadStatus = "uploading"
	// UploadCompleted means all chunks were assembled and the whole-file
	// checksum verified. Terminal.
	UploadCompleted UploadStatus = "completed"
	// UploadFailed means assembly or verification failed. Terminal.
	UploadFailed UploadStatus = "failed"
	// UploadCancelled means the client cancelled the upload. Terminal.
	UploadCancelled UploadStatus = "cancelled"
)

// IsValid checks if the status is a known UploadStatus.
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadPending, UploadUploading, UploadCompleted, UploadFailed, UploadCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed || s == UploadCancelled
}

// CanTransitionTo reports whether the transition s -> next is legal.
// Transitions are monotonic; terminal states admit nothing.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	switch s {
	case UploadPending:
		return next == UploadUploading || next == UploadFailed || next == UploadCancelled
	case UploadUploading:
		return next == UploadCompleted || next == UploadFailed || next == UploadCancelled
	default:
		return false
	}
}

// ChunkSet is the set of chunk indices received so far, persisted as a
// JSON array of sorted integers in a single column.
type ChunkSet map[int]struct{}

// Has reports whether the chunk index is in the set.
func (c ChunkSet) Has(index int) bool {
	_, ok := c[index]
	return ok
}

// Add inserts a chunk index. Returns false if it was already present.
func (c *ChunkSet) Add(index int) bool {
	if *c == nil {
		*c = make(ChunkSet)
	}
	if _, ok := (*c)[index]; ok {
		return false
	}
	(*c)[index] = struct{}{}
	return true
}

// Len returns the number of chunks in the set.
func (c ChunkSet) Len() int { return len(c) }

// Indices returns the chunk indices in ascending order.
func (c ChunkSet) Indices() []int {
	out := make([]int, 0, len(c))
	for i := range c {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Missing returns the ascending indices in [0, total) not present in the set.
func (c ChunkSet) Missing(total int) []int {
	out := make([]int, 0, total-len(c))
	for i := 0; i < total; i++ {
		if _, ok := c[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Value implements driver.Valuer, encoding the set as a JSON array.
func (c ChunkSet) Value() (driver.Value, error) {
	data, err := json.Marshal(c.Indices())
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, decoding a JSON array of indices.
func (c *ChunkSet) Scan(src any) error {
	if src == nil {
		*c = make(ChunkSet)
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ChunkSet", src)
	}
	if len(raw) == 0 {
		*c = make(ChunkSet)
		return nil
	}
	var indices []int
	if err := json.Unmarshal(raw, &indices); err != nil {
		return fmt.Errorf("invalid chunk set encoding: %w", err)
	}
	set := make(ChunkSet, len(indices))
	for _, i := range indices {
		set[i] = struct{}{}
	}
	*c = set
	return nil
}

// Upload represents one in-progress or finished blob delivered as a
// client-side chunked upload.
//
// Invariants maintained by the upload engine:
//   - UploadedChunks == len(ChunkIndexes)
//   - every index in ChunkIndexes is in [0, TotalChunks)
//   - Status == completed implies UploadedChunks == TotalChunks and the
//     assembled blob's SHA-256 equals ChecksumSHA256
type Upload struct {
	ID               string       `gorm:"primaryKey;size:36" json:"id"`
	OriginalFilename string       `gorm:"not null;size:512" json:"original_filename"`
	StoredFilename   string       `gorm:"not null;size:512" json:"stored_filename"`
	MimeType         string       `gorm:"size:128" json:"mime_type,omitempty"`
	TotalSize        int64        `gorm:"not null" json:"total_size"`
	TotalChunks      int          `gorm:"not null" json:"total_chunks"`
	UploadedChunks   int          `gorm:"not null;default:0" json:"uploaded_chunks"`
	ChecksumSHA256   string       `gorm:"index;not null;size:64" json:"checksum_sha256"`
	Status           UploadStatus `gorm:"not null;default:pending;size:20" json:"status"`
	ChunkIndexes     ChunkSet     `gorm:"type:text" json:"uploaded_chunk_indices"`
	ErrorMessage     string       `gorm:"size:512" json:"error_message,omitempty"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	CreatedAt        time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"autoUpdateTime" json:"updated_at"`

	// Images derived from this upload (original + resized variants).
	Images []Image `gorm:"foreignKey:UploadID" json:"images,omitempty"`
}

// TableName returns the table name for Upload.
func (Upload) TableName() string {
	return "uploads"
}

// Progress returns the upload progress as a percentage with two-decimal
// rounding, e.g. 60.00 for 3 of 5 chunks.
func (u *Upload) Progress() float64 {
	if u.TotalChunks == 0 {
		return 0
	}
	pct := float64(u.UploadedChunks) / float64(u.TotalChunks) * 100
	return math.Round(pct*100) / 100
}

// CanResume reports whether further chunks may still be sent.
func (u *Upload) CanResume() bool {
	return u.Status == UploadPending || u.Status == UploadUploading
}

// ChunkObjectKey returns the blob store key of one chunk.
func (u *Upload) ChunkObjectKey(index int) string {
	return fmt.Sprintf("chunks/%s/chunk_%d", u.ID, index)
}

// ChunkPrefix returns the blob store prefix holding all chunks.
func (u *Upload) ChunkPrefix() string {
	return fmt.Sprintf("chunks/%s", u.ID)
}

// AssembledObjectKey returns the blob store key of the assembled blob.
func (u *Upload) AssembledObjectKey() string {
	return "uploads/" + u.StoredFilename
}

// IsImage reports whether the declared MIME type is a supported image
// format eligible for variant generation.
func (u *Upload) IsImage() bool {
	switch u.MimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return true
	}
	return false
}
