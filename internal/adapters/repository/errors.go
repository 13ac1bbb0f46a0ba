package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrEventExists   = errors.New("event id already stored")
	ErrStackExists   = errors.New("stack already exists for signature")
	ErrInvalidLimit  = errors.New("invalid neighbor limit")
	ErrInvalidRecord = errors.New("invalid record")
)
