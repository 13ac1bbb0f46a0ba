// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New() builds a Config with defaults; Load layers file and env on top.
//   - Stages never read Config directly; they receive the immutable
//     pipeline.Settings derived from it.
package config

import (
	"runtime"
	"time"
)

// Supported backends.
const (
	BackendMemory    = "memory"
	BackendBadger    = "badger"
	BackendWatermill = "watermill"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr" validate:"required"`

	// IntakeRateLimit caps intake requests per client IP per IntakeRateWindow. 0 disables it.
	IntakeRateLimit  int           `koanf:"intake_rate_limit" validate:"gte=0"`
	IntakeRateWindow time.Duration `koanf:"intake_rate_window" validate:"gte=0"`

	// MaxBatchSize bounds the number of events accepted per submission.
	MaxBatchSize int `koanf:"max_batch_size" validate:"gte=1"`

	// CacheBackend selects the shared cache: memory or badger.
	CacheBackend string `koanf:"cache_backend" validate:"oneof=memory badger"`
	// CachePath is the badger directory; empty keeps badger in memory.
	CachePath string `koanf:"cache_path"`
	// CacheShardCount sets the number of shards of the memory cache.
	CacheShardCount int `koanf:"cache_shard_count" validate:"gte=1"`
	// CacheBreakerFailures trips the cache circuit breaker after this many consecutive failures.
	CacheBreakerFailures uint32 `koanf:"cache_breaker_failures" validate:"gte=1"`
	// CacheBreakerTimeout is how long the breaker stays open.
	CacheBreakerTimeout time.Duration `koanf:"cache_breaker_timeout" validate:"gt=0"`

	// QueueBackend selects the work queue: memory or watermill.
	QueueBackend string `koanf:"queue_backend" validate:"oneof=memory watermill"`
	// WorkQueueSize bounds the work queue.
	WorkQueueSize int `koanf:"queue_size" validate:"gte=1"`
	// WorkerCount sets the number of work item workers.
	WorkerCount int `koanf:"worker_count" validate:"gte=1"`

	// DedupeShortTTL guards a reference id while its event is in flight.
	DedupeShortTTL time.Duration `koanf:"dedupe_short_ttl" validate:"gt=0"`
	// DedupeLongTTL suppresses late retransmissions after acceptance.
	DedupeLongTTL time.Duration `koanf:"dedupe_long_ttl" validate:"gtfield=DedupeShortTTL"`

	// BotThrottleLimit is the number of events one IP may submit per window.
	BotThrottleLimit int64 `koanf:"bot_throttle_limit" validate:"gte=1"`
	// BotThrottleWindow is the floor-aligned throttle bucket size.
	BotThrottleWindow time.Duration `koanf:"bot_throttle_window" validate:"gt=0"`

	// SessionTTL is how long an idle session stays active in the cache.
	SessionTTL time.Duration `koanf:"session_ttl" validate:"gt=0"`

	// StackCacheTTL bounds how long a resolved stack is served from cache.
	StackCacheTTL time.Duration `koanf:"stack_cache_ttl" validate:"gt=0"`

	// NeighborCandidateLimit sizes the first candidate window of previous/next lookups.
	NeighborCandidateLimit int `koanf:"neighbor_candidate_limit" validate:"gte=1"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:               "info",
		Addr:                   ":9080",
		IntakeRateLimit:        0,
		IntakeRateWindow:       time.Minute,
		MaxBatchSize:           1_000,
		CacheBackend:           BackendMemory,
		CachePath:              "",
		CacheShardCount:        16,
		CacheBreakerFailures:   5,
		CacheBreakerTimeout:    10 * time.Second,
		QueueBackend:           BackendMemory,
		WorkQueueSize:          10_000,
		WorkerCount:            runtime.NumCPU(),
		DedupeShortTTL:         time.Minute,
		DedupeLongTTL:          24 * time.Hour,
		BotThrottleLimit:       3_500,
		BotThrottleWindow:      5 * time.Minute,
		SessionTTL:             24 * time.Hour,
		StackCacheTTL:          time.Hour,
		NeighborCandidateLimit: 10,
	}
}
