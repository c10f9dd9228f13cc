package blobstore

import (
	"context"

	"github.com/medvault/dlt-phr/pkg/types"
)

// Store is the narrow blob store interface the vault consumes. Locators are
// opaque to callers; this implementation happens to be content-addressed.
type Store interface {
	// Put persists a blob and returns its locator. Storing the same bytes
	// twice returns the same locator.
	Put(ctx context.Context, data []byte) (string, error)
	// Get fetches a blob by locator. Unknown locators return a not found
	// error.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Close releases store resources.
	Close() error
}

// ErrBlobNotFound is returned by Get for unknown locators
var ErrBlobNotFound = types.NewNotFoundError(types.ErrCodeNotFound, "blob not found")
