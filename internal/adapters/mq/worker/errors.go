package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrUnknownItemType = errors.New("no handler for work item type")
	ErrHandlerPanic    = errors.New("work item handler panicked")
	ErrInvalidItem     = errors.New("invalid work item")
)
