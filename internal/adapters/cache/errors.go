package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	// ErrUnavailable marks a transient collaborator failure: the cache could
	// not be reached or its circuit breaker is open. Callers may retry.
	ErrUnavailable = errors.New("cache unavailable")
	// ErrNotCounter is returned when Increment meets a non-numeric value.
	ErrNotCounter = errors.New("cache value is not a counter")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache closed")
)
