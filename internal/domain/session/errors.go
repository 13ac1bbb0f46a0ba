package session

import "errors"

var (
	// ErrPersistSynthesized indicates a synthesized session event could not
	// be stored.
	ErrPersistSynthesized = errors.New("persist synthesized session event")
	// ErrUpdateStart indicates the persisted session start could not be
	// updated.
	ErrUpdateStart = errors.New("update session start")
)
