package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// GetString reads a string value.
func GetString(ctx context.Context, c Cache, key string) (string, bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// SetString stores a string value.
func SetString(ctx context.Context, c Cache, key, value string, ttl time.Duration) error {
	return c.Set(ctx, key, []byte(value), ttl)
}

// GetJSON reads and decodes a JSON value.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cache value %q: %w", key, err)
	}
	return out, true, nil
}

// SetJSON encodes value as JSON and stores it.
func SetJSON[T any](ctx context.Context, c Cache, key string, value T, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value %q: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
