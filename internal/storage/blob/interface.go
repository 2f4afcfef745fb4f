// internal/storage/blob/interface.go
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when no object exists at the path
var ErrNotFound = errors.New("blob not found")

// Storage is a flat object store used as the persisted cache tier
type Storage interface {
	// Write replaces the object at path
	Write(ctx context.Context, path string, data []byte) error

	// Read returns the object at path, or ErrNotFound
	Read(ctx context.Context, path string) ([]byte, error)

	// List returns all paths under the prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error
}
