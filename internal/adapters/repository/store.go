// Package repository defines the event and stack stores the pipeline persists
// into, with in-memory implementations.
package repository

import (
	"context"
	"time"

	"github.com/okian/faultline/internal/domain/model"
)

// Direction selects which side of a pivot date a neighbor query scans.
type Direction int

// Neighbor scan directions.
const (
	// Previous scans dates <= pivot, newest first.
	Previous Direction = iota
	// Next scans dates >= pivot, oldest first.
	Next
)

func (d Direction) String() string {
	if d == Next {
		return "next"
	}
	return "previous"
}

// EventStore persists events.
type EventStore interface {
	// Add inserts events. It stores nothing and returns ErrEventExists when
	// any ID is already stored or repeated in the call.
	Add(ctx context.Context, events ...*model.Event) error

	// GetByID returns a copy of the event. Returns ErrNotFound if unknown.
	GetByID(ctx context.Context, id string) (*model.Event, error)

	// UpdateSessionStartLastActivity advances the duration of a persisted
	// session-start event. The duration never decreases. isSessionEnd sets
	// the end time and hasError latches the session error flag. Reports
	// whether the stored event changed.
	UpdateSessionStartLastActivity(ctx context.Context, id string, lastActivity time.Time, isSessionEnd, hasError bool) (bool, error)

	// FindNeighbors returns up to limit events of stackID on the given side of
	// date, inclusive of date itself. Previous results are ordered by
	// (date, id) descending, Next results ascending.
	FindNeighbors(ctx context.Context, stackID string, date time.Time, dir Direction, limit int) ([]*model.Event, error)

	// HideByClientIP hides every event of the organization reported from ip
	// within [from, to). Returns the number of events newly hidden.
	HideByClientIP(ctx context.Context, organizationID, ip string, from, to time.Time) (int, error)

	// SetLocation stores a resolved location on an event.
	SetLocation(ctx context.Context, id string, loc model.Location) error

	// Count returns the number of stored events.
	Count(ctx context.Context) int
}

// StackStore persists stacks. Exactly one stack exists per
// (project, signature hash).
type StackStore interface {
	GetByID(ctx context.Context, id string) (*model.Stack, error)
	GetBySignature(ctx context.Context, projectID, signatureHash string) (*model.Stack, error)

	// Create inserts a new stack. Returns ErrStackExists when another stack
	// already holds the same (project, signature hash).
	Create(ctx context.Context, stack *model.Stack) error

	// IncrementOccurrences adds count occurrences and widens the
	// first/last occurrence range to include date.
	IncrementOccurrences(ctx context.Context, id string, date time.Time, count int64) error

	// MarkRegressed flips a fixed stack back to regressed and returns it.
	MarkRegressed(ctx context.Context, id string) (*model.Stack, error)

	// MarkFixed records that the stack was fixed in version at the given time.
	MarkFixed(ctx context.Context, id, version string, at time.Time) (*model.Stack, error)

	// SetStatus changes the triage status.
	SetStatus(ctx context.Context, id string, status model.StackStatus) (*model.Stack, error)

	Count(ctx context.Context) int
}
