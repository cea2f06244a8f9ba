package ports

import (
	"context"
	"time"
)

// Storage is the host-provided key/value backing of the token store. Every
// write of a single key must be atomic: a reader sees either the previous or
// the new value, never a mix.
type Storage interface {
	// Get returns the value stored under key, or core.ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value under key. A positive ttl lets the host expire the
	// entry on its own; zero keeps it until deleted.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Keys lists every stored key.
	Keys(ctx context.Context) ([]string, error)
}
