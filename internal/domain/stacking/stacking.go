// Package stacking assigns fingerprinted events to their stack.
//
// Stacks are resolved once per (project, signature hash) in a batch through a
// cache fronted read of the stack store and created when missing. Stack
// status decides whether events are accepted, discarded or reopen a fixed
// stack. Occurrence counters are only advanced for accepted events, after
// every other stage has run.
package stacking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/internal/domain/signature"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// Discard reasons recorded by the stage.
const (
	DiscardNoSignature  = "no_signature"
	DiscardStack        = "stack_discarded"
	DiscardFixedVersion = "fixed_version"
)

// Stage resolves stacks and applies their status policy.
type Stage struct {
	stacks repository.StackStore
	cache  cache.Cache
	ttl    time.Duration
	log    logger.Logger
	newID  func() (string, error)
}

// Option applies a configuration option to the Stage.
type Option func(*Stage)

// WithLogger sets the stage logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDGenerator overrides how new stack ids are made.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Stage) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStage creates the stack assignment stage.
func NewStage(stacks repository.StackStore, c cache.Cache, settings pipeline.Settings, opts ...Option) *Stage {
	s := &Stage{
		stacks: stacks,
		cache:  c,
		ttl:    settings.StackCacheTTL,
		log:    logger.Nop(),
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey returns the cache key a stack is stored under.
func CacheKey(projectID, hash string) string {
	return projectID + ":stack:" + hash
}

type group struct {
	projectID string
	hash      string
	contexts  []*pipeline.EventContext
}

// ProcessBatch implements pipeline.BatchProcessor.
func (s *Stage) ProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	var (
		groups []*group
		index  = make(map[string]*group)
	)
	for _, ec := range contexts {
		if len(ec.SignatureData) == 0 {
			ec.Discard(DiscardNoSignature)
			continue
		}
		ec.SignatureHash = signature.Hash(ec.SignatureData)
		key := ec.ProjectID() + "\x00" + ec.SignatureHash
		g, ok := index[key]
		if !ok {
			g = &group{projectID: ec.ProjectID(), hash: ec.SignatureHash}
			index[key] = g
			groups = append(groups, g)
		}
		g.contexts = append(g.contexts, ec)
	}

	for _, g := range groups {
		if err := s.assign(ctx, g); err != nil {
			s.log.Error(ctx, "stack assignment failed",
				logger.String("project", g.projectID),
				logger.String("signature", g.hash),
				logger.Error(err))
			for _, ec := range g.contexts {
				ec.SetError(err)
			}
		}
	}
	return nil
}

func (s *Stage) assign(ctx context.Context, g *group) error {
	first := g.contexts[0]
	stack, created, err := s.resolve(ctx, first)
	if err != nil {
		return err
	}
	if created {
		first.IsNew = true
	}

	for _, ec := range g.contexts {
		switch stack.Status {
		case model.StackDiscarded:
			ec.Discard(DiscardStack)
			continue
		case model.StackFixed:
			if fixedBy(ec.Event.Version, stack.FixedInVersion) {
				if ec.Organization.DiscardsFixedVersions() {
					ec.Discard(DiscardFixedVersion)
					continue
				}
				break
			}
			if stack, err = s.regress(ctx, stack); err != nil {
				return err
			}
			ec.IsRegression = true
		}
		ec.Stack = stack
		ec.Event.StackID = stack.ID
	}
	return nil
}

// resolve returns the stack for the context's signature, creating it when
// absent. Cache failures degrade to store reads.
func (s *Stage) resolve(ctx context.Context, ec *pipeline.EventContext) (*model.Stack, bool, error) {
	key := CacheKey(ec.ProjectID(), ec.SignatureHash)
	cached, ok, err := cache.GetJSON[model.Stack](ctx, s.cache, key)
	if err != nil {
		s.log.Warn(ctx, "stack cache read failed", logger.String("key", key), logger.Error(err))
	}
	if ok {
		return &cached, false, nil
	}

	stack, err := s.stacks.GetBySignature(ctx, ec.ProjectID(), ec.SignatureHash)
	created := false
	switch {
	case errors.Is(err, repository.ErrNotFound):
		stack, err = s.create(ctx, ec)
		if errors.Is(err, repository.ErrStackExists) {
			stack, err = s.stacks.GetBySignature(ctx, ec.ProjectID(), ec.SignatureHash)
		} else {
			created = err == nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w %s: %w", ErrResolveStack, ec.SignatureHash, err)
	}

	s.store(ctx, key, stack)
	return stack, created, nil
}

func (s *Stage) create(ctx context.Context, ec *pipeline.EventContext) (*model.Stack, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	info := make(map[string]string, len(ec.SignatureData))
	for k, v := range ec.SignatureData {
		info[k] = v
	}
	stack := &model.Stack{
		ID:              id,
		ProjectID:       ec.ProjectID(),
		OrganizationID:  ec.Organization.ID,
		SignatureHash:   ec.SignatureHash,
		SignatureInfo:   info,
		Title:           ec.StringProperty(signature.PropertyTitle),
		Type:            ec.Event.Type,
		Status:          model.StackOpen,
		FirstOccurrence: ec.Event.Date,
		LastOccurrence:  ec.Event.Date,
	}
	if err := s.stacks.Create(ctx, stack); err != nil {
		return nil, err
	}
	metrics.RecordStackCreated()
	s.log.Debug(ctx, "stack created",
		logger.String("project", stack.ProjectID),
		logger.String("stack", stack.ID),
		logger.String("title", stack.Title))
	return stack, nil
}

func (s *Stage) regress(ctx context.Context, stack *model.Stack) (*model.Stack, error) {
	updated, err := s.stacks.MarkRegressed(ctx, stack.ID)
	if err != nil {
		return nil, fmt.Errorf("mark stack %s regressed: %w", stack.ID, err)
	}
	metrics.RecordStackRegression()
	s.log.Info(ctx, "stack regressed",
		logger.String("project", stack.ProjectID),
		logger.String("stack", stack.ID),
		logger.String("fixed_in", stack.FixedInVersion))
	s.store(ctx, CacheKey(stack.ProjectID, stack.SignatureHash), updated)
	return updated, nil
}

func (s *Stage) store(ctx context.Context, key string, stack *model.Stack) {
	if err := cache.SetJSON(ctx, s.cache, key, stack, s.ttl); err != nil {
		s.log.Warn(ctx, "stack cache write failed", logger.String("key", key), logger.Error(err))
	}
}

// Invalidate drops a cached stack, e.g. after its status changed outside the
// pipeline.
func (s *Stage) Invalidate(ctx context.Context, projectID, hash string) error {
	return s.cache.Remove(ctx, CacheKey(projectID, hash))
}

// PostProcessBatch implements pipeline.PostBatchProcessor. Each accepted
// event adds one occurrence to its stack.
func (s *Stage) PostProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	type tally struct {
		count       int64
		first, last time.Time
	}
	var (
		order  []string
		totals = make(map[string]*tally)
	)
	for _, ec := range contexts {
		if !ec.IsProcessed || ec.Stack == nil {
			continue
		}
		t, ok := totals[ec.Stack.ID]
		if !ok {
			t = &tally{first: ec.Event.Date, last: ec.Event.Date}
			totals[ec.Stack.ID] = t
			order = append(order, ec.Stack.ID)
		}
		t.count++
		if ec.Event.Date.Before(t.first) {
			t.first = ec.Event.Date
		}
		if ec.Event.Date.After(t.last) {
			t.last = ec.Event.Date
		}
	}

	for _, id := range order {
		t := totals[id]
		err := s.stacks.IncrementOccurrences(ctx, id, t.last, t.count)
		if err == nil && t.first.Before(t.last) {
			err = s.stacks.IncrementOccurrences(ctx, id, t.first, 0)
		}
		if err != nil {
			s.log.Error(ctx, "occurrence update failed",
				logger.String("stack", id),
				logger.Int64("count", t.count),
				logger.Error(err))
		}
	}
	return nil
}
