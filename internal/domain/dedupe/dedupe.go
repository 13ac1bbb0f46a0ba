// Package dedupe guards against a client reference id being accepted twice.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/faultline/internal/adapters/cache"
)

// Deduper records seen reference ids to ensure at-most-once acceptance.
type Deduper interface {
	// SeenAndRecord atomically checks if the reference was seen and records
	// it with the short TTL if not. Returns true if it was already seen.
	SeenAndRecord(ctx context.Context, projectID, referenceID string) (bool, error)

	// Commit keeps the marker for the long TTL once the event was accepted.
	Commit(ctx context.Context, projectID, referenceID string) error

	// Unrecord removes a marker so the event can be retried. Only used when
	// the event was recorded but failed to be processed.
	Unrecord(ctx context.Context, projectID, referenceID string) error
}

// Key returns the cache key of a reference marker.
func Key(projectID, referenceID string) string {
	return projectID + ":" + referenceID
}

// cacheDeduper implements Deduper on the shared cache. Correctness rests on
// AddIfAbsent being atomic; nothing is held in process.
type cacheDeduper struct {
	cache    cache.Cache
	shortTTL time.Duration
	longTTL  time.Duration
}

// NewCacheDeduper creates a deduper storing markers in c.
func NewCacheDeduper(c cache.Cache, opts ...Option) Deduper {
	d := &cacheDeduper{
		cache:    c,
		shortTTL: time.Minute,
		longTTL:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var marker = []byte("1")

// SeenAndRecord implements Deduper.
func (d *cacheDeduper) SeenAndRecord(ctx context.Context, projectID, referenceID string) (bool, error) {
	added, err := d.cache.AddIfAbsent(ctx, Key(projectID, referenceID), marker, d.shortTTL)
	if err != nil {
		return false, fmt.Errorf("record reference: %w", err)
	}
	return !added, nil
}

// Commit implements Deduper. Set rather than SetExpiration re-creates a
// marker whose short TTL already ran out during a slow run.
func (d *cacheDeduper) Commit(ctx context.Context, projectID, referenceID string) error {
	if err := d.cache.Set(ctx, Key(projectID, referenceID), marker, d.longTTL); err != nil {
		return fmt.Errorf("commit reference: %w", err)
	}
	return nil
}

// Unrecord implements Deduper.
func (d *cacheDeduper) Unrecord(ctx context.Context, projectID, referenceID string) error {
	if err := d.cache.Remove(ctx, Key(projectID, referenceID)); err != nil {
		return fmt.Errorf("unrecord reference: %w", err)
	}
	return nil
}
