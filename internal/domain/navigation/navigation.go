// Package navigation finds the events next to a given one within its stack.
package navigation

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
)

// EventReader is the part of the event store navigation needs.
type EventReader interface {
	GetByID(ctx context.Context, id string) (*model.Event, error)
	FindNeighbors(ctx context.Context, stackID string, date time.Time, dir repository.Direction, limit int) ([]*model.Event, error)
}

// Navigator resolves previous and next events. Events sharing a date are
// ordered by id so every event has exactly one neighbor on each side.
type Navigator struct {
	events EventReader
	limit  int
}

// NewNavigator creates a navigator reading candidates from events.
func NewNavigator(events EventReader, settings pipeline.Settings) *Navigator {
	limit := settings.NeighborCandidateLimit
	if limit < 1 {
		limit = 10
	}
	return &Navigator{events: events, limit: limit}
}

// PreviousEventID returns the id of the event before id in its stack, or ""
// if id is the first.
func (n *Navigator) PreviousEventID(ctx context.Context, id string) (string, error) {
	return n.neighbor(ctx, id, repository.Previous)
}

// NextEventID returns the id of the event after id in its stack, or "" if id
// is the last.
func (n *Navigator) NextEventID(ctx context.Context, id string) (string, error) {
	return n.neighbor(ctx, id, repository.Next)
}

func (n *Navigator) neighbor(ctx context.Context, id string, dir repository.Direction) (string, error) {
	target, err := n.events.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if target.StackID == "" {
		return "", nil
	}

	// The store scans inclusive of the date, so the window may open with
	// events tied to the target that sit on the wrong side of its id. Widen
	// until a neighbor shows up or the stack runs out.
	limit := n.limit + 1
	for {
		found, err := n.events.FindNeighbors(ctx, target.StackID, target.Date, dir, limit)
		if err != nil {
			return "", fmt.Errorf("find %s neighbors of %s: %w", dir, id, err)
		}
		for _, e := range found {
			if beyond(e, target, dir) {
				return e.ID, nil
			}
		}
		if len(found) < limit {
			return "", nil
		}
		limit *= 2
	}
}

// beyond reports whether e lies strictly past target in direction dir, by
// date and then id.
func beyond(e, target *model.Event, dir repository.Direction) bool {
	var before bool
	if e.Date.Equal(target.Date) {
		if e.ID == target.ID {
			return false
		}
		before = e.ID < target.ID
	} else {
		before = e.Date.Before(target.Date)
	}
	if dir == repository.Previous {
		return before
	}
	return !before
}
