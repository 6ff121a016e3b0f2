// Package blob provides a path-keyed byte store for upload chunks,
// assembled blobs and image variants. Keys are slash-separated
// relative paths under two reserved prefixes: chunks/<upload_id>/
// (transient) and uploads/ (durable); variants live under
// images/<variant>/.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists at the requested path.
var ErrNotFound = errors.New("blob not found")

// Store is a whole-object byte store. Put must be atomic to concurrent
// readers; DeletePrefix must be safe to call repeatedly.
type Store interface {
	// Put writes the full object at path, creating parent directories
	// as needed. Concurrent readers never observe a partial object.
	Put(ctx context.Context, path string, data []byte) error

	// PutStream writes the object from r without buffering it whole.
	// Same atomicity guarantee as Put.
	PutStream(ctx context.Context, path string, r io.Reader) (int64, error)

	// Get reads the full object at path.
	Get(ctx context.Context, path string) ([]byte, error)

	// Open returns a streaming reader for the object at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing object is
	// not an error.
	Delete(ctx context.Context, path string) error

	// DeletePrefix removes every object under the prefix, including the
	// directory itself. Idempotent.
	DeletePrefix(ctx context.Context, prefix string) error

	// PathOnFS returns the absolute filesystem path of the object, for
	// callers that hand files to external tooling.
	PathOnFS(path string) string
}
