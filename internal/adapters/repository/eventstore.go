package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/metrics"
)

// MemoryEventStore is an in-memory EventStore. Events are indexed by ID and,
// per stack, by a (date, id) ordered timeline.
type MemoryEventStore struct {
	mu      sync.RWMutex
	byID    map[string]*model.Event
	byStack map[string]*timeline

	opts     options
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryEventStore constructs an empty store and starts its metrics
// updater, which runs until ctx is done or Close is called.
func NewMemoryEventStore(ctx context.Context, opts ...Option) *MemoryEventStore {
	s := &MemoryEventStore{
		byID:     make(map[string]*model.Event),
		byStack:  make(map[string]*timeline),
		opts:     newOptions(opts),
		stopChan: make(chan struct{}),
	}
	s.startMetricsUpdater(ctx)
	return s
}

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, metrics.SinceMillis(start))
}

// Add implements EventStore.
func (s *MemoryEventStore) Add(_ context.Context, events ...*model.Event) error {
	defer observe("event_add", time.Now())

	for _, e := range events {
		if e == nil || e.ID == "" {
			return fmt.Errorf("%w: event without id", ErrInvalidRecord)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make(map[string]struct{}, len(events))
	for _, e := range events {
		if _, ok := s.byID[e.ID]; ok {
			return fmt.Errorf("%w: %s", ErrEventExists, e.ID)
		}
		if _, ok := pending[e.ID]; ok {
			return fmt.Errorf("%w: %s repeated", ErrEventExists, e.ID)
		}
		pending[e.ID] = struct{}{}
	}
	for _, e := range events {
		stored := e.Clone()
		s.byID[e.ID] = stored
		s.index(stored)
	}
	return nil
}

// index must be called with s.mu held.
func (s *MemoryEventStore) index(e *model.Event) {
	if e.StackID == "" {
		return
	}
	tl, ok := s.byStack[e.StackID]
	if !ok {
		tl = &timeline{}
		s.byStack[e.StackID] = tl
	}
	tl.insert(timelineKey{date: e.Date, id: e.ID})
}

// GetByID implements EventStore.
func (s *MemoryEventStore) GetByID(_ context.Context, id string) (*model.Event, error) {
	defer observe("event_get", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

// UpdateSessionStartLastActivity implements EventStore.
func (s *MemoryEventStore) UpdateSessionStartLastActivity(_ context.Context, id string, lastActivity time.Time, isSessionEnd, hasError bool) (bool, error) {
	defer observe("session_update", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if !e.IsSessionStart() {
		return false, fmt.Errorf("%w: event %s is not a session start", ErrInvalidRecord, id)
	}

	changed := e.UpdateSessionStart(lastActivity, isSessionEnd)
	if hasError && !e.SessionHasError {
		e.SessionHasError = true
		changed = true
	}
	return changed, nil
}

// FindNeighbors implements EventStore.
func (s *MemoryEventStore) FindNeighbors(_ context.Context, stackID string, date time.Time, dir Direction, limit int) ([]*model.Event, error) {
	defer observe("event_neighbors", time.Now())

	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	tl, ok := s.byStack[stackID]
	if !ok {
		return nil, nil
	}
	ids := tl.scan(date, dir, limit)
	out := make([]*model.Event, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

// HideByClientIP implements EventStore.
func (s *MemoryEventStore) HideByClientIP(_ context.Context, organizationID, ip string, from, to time.Time) (int, error) {
	defer observe("event_hide", time.Now())

	if ip == "" {
		return 0, fmt.Errorf("%w: empty client ip", ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	hidden := 0
	for _, e := range s.byID {
		if e.IsHidden || e.OrganizationID != organizationID || e.ClientIP() != ip {
			continue
		}
		if e.Date.Before(from) || !e.Date.Before(to) {
			continue
		}
		e.IsHidden = true
		hidden++
	}
	return hidden, nil
}

// SetLocation implements EventStore.
func (s *MemoryEventStore) SetLocation(_ context.Context, id string, loc model.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	e.Location = &loc
	return nil
}

// Count implements EventStore.
func (s *MemoryEventStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close stops the metrics updater.
func (s *MemoryEventStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryEventStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.opts.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				metrics.UpdateRepositoryRecords("events", s.Count(ctx))
			}
		}
	}()
}
