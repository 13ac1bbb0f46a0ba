package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// maxConflictRetries bounds optimistic transaction retries for the atomic
// operations. Badger aborts a transaction with ErrConflict when another one
// committed a write to a key it read.
const maxConflictRetries = 64

// BadgerCache is a Cache backed by an embedded badger database. It survives
// restarts when opened on disk and shares state between goroutines of one
// process.
type BadgerCache struct {
	db     *badger.DB
	owned  bool
	mu     sync.RWMutex
	closed bool
}

// OpenBadger opens a badger database at path. An empty path opens an
// in-memory database.
func OpenBadger(path string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerCache{db: db, owned: true}, nil
}

// NewBadgerCache wraps an already open database. Close does not close db.
func NewBadgerCache(db *badger.DB) *BadgerCache {
	return &BadgerCache{db: db}
}

func (c *BadgerCache) ensureOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (c *BadgerCache) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := c.ensureOpen(); err != nil {
		return err
	}
	var err error
	for range maxConflictRetries {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Get implements Cache.
func (c *BadgerCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.ensureOpen(); err != nil {
		return nil, false, err
	}
	var (
		value []byte
		found bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		found = err == nil
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("badger get %q: %w", key, err)
	}
	return value, found, nil
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

// Set implements Cache.
func (c *BadgerCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := c.update(ctx, func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger set %q: %w", key, err)
	}
	return nil
}

// AddIfAbsent implements Cache.
func (c *BadgerCache) AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var added bool
	err := c.update(ctx, func(txn *badger.Txn) error {
		added = false
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(newEntry(key, value, ttl)); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badger add %q: %w", key, err)
	}
	return added, nil
}

// Increment implements Cache.
func (c *BadgerCache) Increment(ctx context.Context, key string, by int64, ttl time.Duration, seed int64) (int64, error) {
	var next int64
	err := c.update(ctx, func(txn *badger.Txn) error {
		current := seed
		var expiresAt uint64

		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			n, err := strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return ErrNotCounter
			}
			current = n
			expiresAt = item.ExpiresAt()
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}

		next = current + by
		e := newEntry(key, []byte(strconv.FormatInt(next, 10)), ttl)
		if ttl <= 0 {
			e.ExpiresAt = expiresAt
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return 0, fmt.Errorf("badger increment %q: %w", key, err)
	}
	return next, nil
}

// SetExpiration implements Cache.
func (c *BadgerCache) SetExpiration(ctx context.Context, key string, ttl time.Duration) error {
	err := c.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.SetEntry(newEntry(key, raw, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger expire %q: %w", key, err)
	}
	return nil
}

// Remove implements Cache.
func (c *BadgerCache) Remove(ctx context.Context, key string) error {
	return c.RemoveAll(ctx, key)
}

// RemoveAll implements Cache.
func (c *BadgerCache) RemoveAll(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.update(ctx, func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete([]byte(key)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger remove: %w", err)
	}
	return nil
}

// RunGC runs value log garbage collection every interval until ctx is done.
// In-memory databases have no value log, so this returns immediately.
func (c *BadgerCache) RunGC(ctx context.Context, interval time.Duration) {
	if c.db.Opts().InMemory {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for c.ensureOpen() == nil && c.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Close closes the database if this cache opened it.
func (c *BadgerCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.owned {
		return nil
	}
	return c.db.Close()
}
