package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Default memory cache configuration constants.
const (
	defaultShardCount      = 16
	defaultJanitorInterval = time.Minute
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type shard struct {
	mu    sync.Mutex
	items map[string]entry
}

// MemoryCache is an in-process Cache. Keys are spread across independently
// locked shards; every operation holds exactly one shard lock, which is what
// makes AddIfAbsent and Increment atomic.
type MemoryCache struct {
	shards []*shard
	now    func() time.Time
}

// Option applies a configuration option to the MemoryCache.
type Option func(*MemoryCache)

// WithShardCount sets the number of shards.
func WithShardCount(n int) Option {
	return func(c *MemoryCache) {
		if n > 0 {
			c.shards = make([]*shard, n)
		}
	}
}

// WithClock overrides the time source used for expirations.
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		shards: make([]*shard, defaultShardCount),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *MemoryCache) shardFor(key string) *shard {
	return c.shards[murmur3.Sum32([]byte(key))%uint32(len(c.shards))]
}

func (c *MemoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// lookup must be called with s.mu held.
func (c *MemoryCache) lookup(s *shard, key string) (entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(c.now()) {
		delete(s.items, key)
		return entry{}, false
	}
	return e, true
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := c.lookup(s, key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = entry{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return nil
}

// AddIfAbsent implements Cache.
func (c *MemoryCache) AddIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := c.lookup(s, key); ok {
		return false, nil
	}
	s.items[key] = entry{value: append([]byte(nil), value...), expiresAt: c.expiry(ttl)}
	return true, nil
}

// Increment implements Cache.
func (c *MemoryCache) Increment(_ context.Context, key string, by int64, ttl time.Duration, seed int64) (int64, error) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	current := seed
	e, ok := c.lookup(s, key)
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, ErrNotCounter
		}
		current = n
	}

	next := current + by
	expiresAt := e.expiresAt
	if ttl > 0 || !ok {
		expiresAt = c.expiry(ttl)
	}
	s.items[key] = entry{value: []byte(strconv.FormatInt(next, 10)), expiresAt: expiresAt}
	return next, nil
}

// SetExpiration implements Cache.
func (c *MemoryCache) SetExpiration(_ context.Context, key string, ttl time.Duration) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := c.lookup(s, key)
	if !ok {
		return nil
	}
	e.expiresAt = c.expiry(ttl)
	s.items[key] = e
	return nil
}

// Remove implements Cache.
func (c *MemoryCache) Remove(_ context.Context, key string) error {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// RemoveAll implements Cache.
func (c *MemoryCache) RemoveAll(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of live entries.
func (c *MemoryCache) Len() int {
	total := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.items {
			if !e.expired(now) {
				total++
			}
		}
		s.mu.Unlock()
	}
	return total
}

// Sweep drops expired entries and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	removed := 0
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.items {
			if e.expired(now) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// RunJanitor sweeps expired entries every interval until ctx is done.
func (c *MemoryCache) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
