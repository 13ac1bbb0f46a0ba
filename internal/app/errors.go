package service

import "errors"

var (
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrEmptyBatch is returned when a submission carries no events.
	ErrEmptyBatch = errors.New("empty batch")
)
