// Package cache stores opaque values by key with a per-entry time to live.
package cache

import (
	"context"
	"time"
)

// Store is a key/value cache with expiring entries.
//
// note: fault injection point
type Store interface {
	// Get returns the value stored under key, ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set stores value under key for ttl, replacing any previous value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Clear removes every key starting with prefix and returns how many were removed.
	Clear(ctx context.Context, prefix string) (int, error)
}
