package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// BreakerSettings configures a BreakerCache.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Timeout          time.Duration
	MaxRequests      uint32
	Logger           logger.Logger
}

// BreakerCache guards another Cache with a circuit breaker. Once the inner
// cache has failed FailureThreshold times in a row, calls fail fast with
// ErrUnavailable until Timeout elapses.
type BreakerCache struct {
	inner Cache
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerCache wraps inner.
func NewBreakerCache(inner Cache, s BreakerSettings) *BreakerCache {
	if s.Name == "" {
		s.Name = "cache"
	}
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Logger == nil {
		s.Logger = logger.Nop()
	}
	threshold, log := s.FailureThreshold, s.Logger
	settings := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// caller mistakes are not outages
			return err == nil || errors.Is(err, ErrNotCounter) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "cache breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	}
	return &BreakerCache{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// State reports the breaker state, e.g. "closed" or "open".
func (b *BreakerCache) State() string {
	return b.cb.State().String()
}

func (b *BreakerCache) run(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if err == nil {
		return nil
	}
	metrics.RecordCacheError(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
	}
	return err
}

// Get implements Cache.
func (b *BreakerCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value []byte
		ok    bool
	)
	err := b.run("get", func() error {
		var err error
		value, ok, err = b.inner.Get(ctx, key)
		return err
	})
	return value, ok, err
}

// Set implements Cache.
func (b *BreakerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.run("set", func() error {
		return b.inner.Set(ctx, key, value, ttl)
	})
}

// AddIfAbsent implements Cache.
func (b *BreakerCache) AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var added bool
	err := b.run("add", func() error {
		var err error
		added, err = b.inner.AddIfAbsent(ctx, key, value, ttl)
		return err
	})
	return added, err
}

// Increment implements Cache.
func (b *BreakerCache) Increment(ctx context.Context, key string, by int64, ttl time.Duration, seed int64) (int64, error) {
	var n int64
	err := b.run("increment", func() error {
		var err error
		n, err = b.inner.Increment(ctx, key, by, ttl, seed)
		return err
	})
	return n, err
}

// SetExpiration implements Cache.
func (b *BreakerCache) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	return b.run("expire", func() error {
		return b.inner.SetExpiration(ctx, key, ttl)
	})
}

// Remove implements Cache.
func (b *BreakerCache) Remove(ctx context.Context, key string) error {
	return b.run("remove", func() error {
		return b.inner.Remove(ctx, key)
	})
}

// RemoveAll implements Cache.
func (b *BreakerCache) RemoveAll(ctx context.Context, keys ...string) error {
	return b.run("remove_all", func() error {
		return b.inner.RemoveAll(ctx, keys...)
	})
}
