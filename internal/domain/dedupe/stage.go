package dedupe

import (
	"context"
	"errors"

	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// PropertyAddedReference marks a context whose marker this run created.
const PropertyAddedReference = "AddedReferenceId"

// Discard reasons recorded by the stage.
const (
	DiscardDuplicate   = "duplicate"
	DiscardDuplicateID = "duplicate_id"
)

// EventLookup finds stored events by id.
type EventLookup interface {
	GetByID(ctx context.Context, id string) (*model.Event, error)
}

// Stage drops events whose reference id was already accepted, and events
// whose id is already taken.
type Stage struct {
	deduper Deduper
	events  EventLookup
	log     logger.Logger
}

// StageOption applies a configuration option to the Stage.
type StageOption func(*Stage)

// WithEventLookup makes the stage drop events whose id is already stored,
// in any project.
func WithEventLookup(l EventLookup) StageOption {
	return func(s *Stage) {
		s.events = l
	}
}

// NewStage creates the deduplication stage.
func NewStage(d Deduper, log logger.Logger, opts ...StageOption) *Stage {
	if log == nil {
		log = logger.Nop()
	}
	s := &Stage{deduper: d, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessBatch implements pipeline.BatchProcessor. An id repeated within the
// batch keeps its first event.
func (s *Stage) ProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	seen := make(map[string]struct{}, len(contexts))
	for _, ec := range contexts {
		id := ec.Event.ID
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			s.discardID(ctx, ec)
			continue
		}
		seen[id] = struct{}{}
		if s.events == nil {
			continue
		}
		_, err := s.events.GetByID(ctx, id)
		switch {
		case err == nil:
			s.discardID(ctx, ec)
		case !errors.Is(err, repository.ErrNotFound):
			ec.SetError(err)
		}
	}
	return nil
}

func (s *Stage) discardID(ctx context.Context, ec *pipeline.EventContext) {
	s.log.Debug(ctx, "duplicate event id",
		logger.String("project", ec.ProjectID()),
		logger.String("event", ec.ID()))
	ec.Discard(DiscardDuplicateID)
}

// ProcessEvent implements pipeline.EventProcessor.
func (s *Stage) ProcessEvent(ctx context.Context, ec *pipeline.EventContext) error {
	ref := ec.Event.ReferenceID
	if ref == "" {
		return nil
	}
	seen, err := s.deduper.SeenAndRecord(ctx, ec.ProjectID(), ref)
	if err != nil {
		return err
	}
	if seen {
		metrics.RecordDuplicateReference()
		s.log.Debug(ctx, "duplicate reference id",
			logger.String("project", ec.ProjectID()),
			logger.String("reference", ref))
		ec.Discard(DiscardDuplicate)
		return nil
	}
	ec.SetProperty(PropertyAddedReference, ref)
	return nil
}

// PostProcessBatch implements pipeline.PostBatchProcessor: accepted events
// keep their marker for the long TTL, failed ones release it for a retry.
// Marker updates are best effort and never fail an accepted event.
func (s *Stage) PostProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	for _, ec := range contexts {
		ref := ec.StringProperty(PropertyAddedReference)
		if ref == "" {
			continue
		}
		var err error
		switch {
		case ec.HasError():
			err = s.deduper.Unrecord(ctx, ec.ProjectID(), ref)
		case ec.IsProcessed:
			err = s.deduper.Commit(ctx, ec.ProjectID(), ref)
		}
		if err != nil {
			s.log.Error(ctx, "reference marker update failed",
				logger.String("project", ec.ProjectID()),
				logger.String("event", ec.ID()),
				logger.Error(err))
		}
	}
	return nil
}
