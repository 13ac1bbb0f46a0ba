package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/metrics"
)

// MemoryStackStore is an in-memory StackStore.
type MemoryStackStore struct {
	mu          sync.RWMutex
	byID        map[string]*model.Stack
	bySignature map[string]string

	opts     options
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStackStore constructs an empty store.
func NewMemoryStackStore(ctx context.Context, opts ...Option) *MemoryStackStore {
	s := &MemoryStackStore{
		byID:        make(map[string]*model.Stack),
		bySignature: make(map[string]string),
		opts:        newOptions(opts),
		stopChan:    make(chan struct{}),
	}
	s.startMetricsUpdater(ctx)
	return s
}

func signatureKey(projectID, hash string) string {
	return projectID + "\x00" + hash
}

// GetByID implements StackStore.
func (s *MemoryStackStore) GetByID(_ context.Context, id string) (*model.Stack, error) {
	defer observe("stack_get", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// GetBySignature implements StackStore.
func (s *MemoryStackStore) GetBySignature(_ context.Context, projectID, signatureHash string) (*model.Stack, error) {
	defer observe("stack_get_signature", time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySignature[signatureKey(projectID, signatureHash)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// Create implements StackStore.
func (s *MemoryStackStore) Create(_ context.Context, stack *model.Stack) error {
	defer observe("stack_create", time.Now())

	if stack == nil || stack.ID == "" || stack.ProjectID == "" || stack.SignatureHash == "" {
		return fmt.Errorf("%w: stack needs id, project and signature", ErrInvalidRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := signatureKey(stack.ProjectID, stack.SignatureHash)
	if _, ok := s.bySignature[key]; ok {
		return ErrStackExists
	}
	if _, ok := s.byID[stack.ID]; ok {
		return fmt.Errorf("%w: duplicate stack id %s", ErrInvalidRecord, stack.ID)
	}
	s.byID[stack.ID] = stack.Clone()
	s.bySignature[key] = stack.ID
	return nil
}

// update applies fn to the stored stack under the write lock.
func (s *MemoryStackStore) update(id string, fn func(*model.Stack)) (*model.Stack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(st)
	return st.Clone(), nil
}

// IncrementOccurrences implements StackStore.
func (s *MemoryStackStore) IncrementOccurrences(_ context.Context, id string, date time.Time, count int64) error {
	defer observe("stack_increment", time.Now())

	_, err := s.update(id, func(st *model.Stack) {
		st.TotalOccurrences += count
		if st.FirstOccurrence.IsZero() || date.Before(st.FirstOccurrence) {
			st.FirstOccurrence = date
		}
		if date.After(st.LastOccurrence) {
			st.LastOccurrence = date
		}
	})
	return err
}

// MarkRegressed implements StackStore.
func (s *MemoryStackStore) MarkRegressed(_ context.Context, id string) (*model.Stack, error) {
	return s.update(id, func(st *model.Stack) {
		st.Status = model.StackRegressed
		st.DateFixed = nil
	})
}

// MarkFixed implements StackStore.
func (s *MemoryStackStore) MarkFixed(_ context.Context, id, version string, at time.Time) (*model.Stack, error) {
	return s.update(id, func(st *model.Stack) {
		st.Status = model.StackFixed
		st.FixedInVersion = version
		st.DateFixed = &at
	})
}

// SetStatus implements StackStore.
func (s *MemoryStackStore) SetStatus(_ context.Context, id string, status model.StackStatus) (*model.Stack, error) {
	return s.update(id, func(st *model.Stack) {
		st.Status = status
	})
}

// Count implements StackStore.
func (s *MemoryStackStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close stops the metrics updater.
func (s *MemoryStackStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

func (s *MemoryStackStore) startMetricsUpdater(ctx context.Context) {
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
				metrics.UpdateRepositoryRecords("stacks", s.Count(ctx))
			}
		}
	}()
}
