// Package cache defines the shared key-value contract the pipeline keeps its
// cross-batch state in, plus in-memory and badger implementations.
//
// There is no lock around pipeline state: AddIfAbsent and Increment must be
// single atomic operations in every implementation. A Get followed by a Set
// is never a substitute for either.
package cache

import (
	"context"
	"time"
)

// Cache is an atomic, TTL-bearing key-value store. A ttl <= 0 means the entry
// does not expire.
type Cache interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// AddIfAbsent stores value only if key is absent. It reports whether the
	// value was added. Atomic.
	AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Increment adds by to the counter under key and returns the new value.
	// An absent counter starts at seed. A ttl > 0 (re)sets the expiration.
	// Atomic.
	Increment(ctx context.Context, key string, by int64, ttl time.Duration, seed int64) (int64, error)

	// SetExpiration changes the TTL of an existing key. Missing keys are ignored.
	SetExpiration(ctx context.Context, key string, ttl time.Duration) error

	// Remove deletes key. Missing keys are ignored.
	Remove(ctx context.Context, key string) error

	// RemoveAll deletes every key given.
	RemoveAll(ctx context.Context, keys ...string) error
}
