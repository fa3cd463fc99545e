// Package cache provides the decision cache: a shared key-value store with
// per-entry TTLs and namespace invalidation. Cache failures are never fatal
// to a decision; callers fall back to the authoritative store.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired
var ErrNotFound = errors.New("cache: key not found")

// ErrUnavailable is returned when the cache backend cannot be reached.
// Callers treat it as a miss and read from the authoritative store.
var ErrUnavailable = errors.New("cache: unavailable")

// Cache is the decision cache contract. Values are opaque bytes; callers own
// serialization. All operations observe the context's deadline.
type Cache interface {
	// Get returns the value stored under key, ErrNotFound on a miss, or
	// ErrUnavailable when the backend is unreachable.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeleteNamespace removes every key with the given prefix.
	DeleteNamespace(ctx context.Context, prefix string) error

	// Stats returns hit/miss counters.
	Stats() Stats

	// Close releases backend resources.
	Close() error
}

// Stats contains cache statistics
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
