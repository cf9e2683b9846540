// Package cache provides the best-effort TTL cache used for task
// projections. Failures are never fatal to task progress: callers log
// and move on.
package cache

import (
	"context"
	"time"
)

// Cache is a TTL key/value store for JSON-encoded task projections.
type Cache interface {
	// Set stores a value with the given expiry. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key. The bool reports whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases underlying resources.
	Close() error
}

// Noop is a Cache that stores nothing. Used when caching is disabled.
type Noop struct{}

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Noop) Delete(context.Context, string) error                     { return nil }
func (Noop) Close() error                                             { return nil }
