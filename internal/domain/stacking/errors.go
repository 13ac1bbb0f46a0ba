package stacking

import "errors"

var (
	// ErrResolveStack indicates the stack for a signature could not be read
	// or created.
	ErrResolveStack = errors.New("resolve stack")
)
