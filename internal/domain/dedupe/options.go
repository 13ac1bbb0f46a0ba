package dedupe

import "time"

// Option applies a configuration option to the cache deduper.
type Option func(*cacheDeduper)

// WithShortTTL sets how long a marker lives before its event is accepted.
func WithShortTTL(ttl time.Duration) Option {
	return func(d *cacheDeduper) {
		if ttl > 0 {
			d.shortTTL = ttl
		}
	}
}

// WithLongTTL sets how long a marker lives after its event was accepted.
func WithLongTTL(ttl time.Duration) Option {
	return func(d *cacheDeduper) {
		if ttl > 0 {
			d.longTTL = ttl
		}
	}
}
