package memory

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record matches a key.
var ErrNotFound = errors.New("memory: record not found")

// Backend is the storage collaborator surface. Implementations rank Recall
// results by combined relevance (decayed confidence blended with recency).
type Backend interface {
	// Store inserts or replaces a record by key.
	Store(ctx context.Context, rec *Record) error

	// List returns all records, most relevant first.
	List(ctx context.Context) ([]*Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Recall returns up to limit records matching the query on key or
	// content, most relevant first.
	Recall(ctx context.Context, query string, limit int) ([]*Record, error)

	// Forget deletes a record by key. Deleting an absent key is not an error.
	Forget(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}
