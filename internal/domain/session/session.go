// Package session reconstructs user sessions from the raw event stream.
//
// Events are grouped either by the client supplied session id (manual mode)
// or by user identity (automatic mode). Each group walks the same state
// machine: no session, active, closed. The active session of a group lives
// only in the shared cache, under StartKey and, in automatic mode,
// IdentityKey. Start events carry the session duration in Value and are
// updated in place as later activity arrives.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// Session modes.
const (
	ModeManual = "manual"
	ModeAuto   = "auto"
)

// Discard reasons recorded by the stage.
const (
	DiscardDuplicateBoundary = "session_duplicate"
	DiscardOrphanEnd         = "session_orphan_end"
)

// PropertySynthesized marks contexts wrapping events this stage created.
// They are persisted through the pipeline and skipped by this stage.
const PropertySynthesized = "session.synthesized"

// Persister stores events the stage synthesizes.
type Persister interface {
	Persist(ctx context.Context, project *model.Project, org *model.Organization, events ...*model.Event) error
}

// StartUpdater advances a persisted session start.
type StartUpdater interface {
	UpdateSessionStartLastActivity(ctx context.Context, id string, lastActivity time.Time, isSessionEnd, hasError bool) (bool, error)
}

// Stage is the session reconstructor.
type Stage struct {
	cache     cache.Cache
	starts    StartUpdater
	persister Persister
	ttl       time.Duration
	newID     func() string
	log       logger.Logger
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

// WithIDGenerator overrides how session and synthesized event ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(s *Stage) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewStage creates the session reconstructor.
func NewStage(c cache.Cache, starts StartUpdater, persister Persister, settings pipeline.Settings, opts ...Option) *Stage {
	s := &Stage{
		cache:     c,
		starts:    starts,
		persister: persister,
		ttl:       settings.SessionTTL,
		newID:     newID,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type group struct {
	mode     string
	key      string // session id in manual mode, identity in auto mode
	project  *model.Project
	org      *model.Organization
	contexts []*pipeline.EventContext
}

func (g *group) projectID() string { return g.project.ID }

// state is the resolved session of a group.
type state struct {
	id      string
	startID string
	// start is set when the start event has not been persisted yet and is
	// updated in memory.
	start       *model.Event
	startCtx    *pipeline.EventContext
	synthesized bool
}

// ProcessBatch implements pipeline.BatchProcessor.
func (s *Stage) ProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	for _, g := range groupContexts(contexts) {
		if err := s.reconstruct(ctx, g); err != nil {
			s.log.Error(ctx, "session reconstruction failed",
				logger.String("project", g.projectID()),
				logger.String("mode", g.mode),
				logger.Error(err))
			for _, ec := range g.contexts {
				if ec.Active() {
					ec.SetError(err)
				}
			}
		}
	}
	return nil
}

func groupContexts(contexts []*pipeline.EventContext) []*group {
	var (
		groups []*group
		index  = make(map[string]*group)
	)
	for _, ec := range contexts {
		if ec.HasProperty(PropertySynthesized) {
			continue
		}
		mode, key := ModeManual, ec.Event.SessionID
		if key == "" {
			mode, key = ModeAuto, ec.Event.Identity()
		}
		if key == "" {
			continue
		}
		id := mode + "\x00" + ec.ProjectID() + "\x00" + key
		g, ok := index[id]
		if !ok {
			g = &group{mode: mode, key: key, project: ec.Project, org: ec.Organization}
			index[id] = g
			groups = append(groups, g)
		}
		g.contexts = append(g.contexts, ec)
	}
	for _, g := range groups {
		sort.SliceStable(g.contexts, func(i, j int) bool {
			return g.contexts[i].Event.Date.Before(g.contexts[j].Event.Date)
		})
	}
	return groups
}

// boundaries keeps the first start and the last end of the group and
// discards the others.
func boundaries(g *group) (start *pipeline.EventContext) {
	var end *pipeline.EventContext
	for _, ec := range g.contexts {
		switch {
		case ec.Event.IsSessionStart():
			if start == nil {
				start = ec
				continue
			}
			ec.Discard(DiscardDuplicateBoundary)
		case ec.Event.IsSessionEnd():
			if end != nil {
				end.Discard(DiscardDuplicateBoundary)
			}
			end = ec
		}
	}
	return start
}

func (s *Stage) reconstruct(ctx context.Context, g *group) error {
	start := boundaries(g)

	active, err := s.lookup(ctx, g)
	if err != nil {
		return err
	}
	if start == nil {
		return s.attach(ctx, g, active, pipeline.Active(g.contexts))
	}

	before, from := split(g.contexts, start)
	if g.mode == ModeManual && (active != nil || len(before) > 0) {
		// the client retried opening a running session, or opened it after
		// activity already started it
		start.Discard(DiscardDuplicateBoundary)
		return s.attach(ctx, g, active, pipeline.Active(g.contexts))
	}

	if len(before) > 0 {
		st := s.resolve(ctx, g, active, before)
		active = nil
		if st != nil {
			ended, err := s.stamp(ctx, g, st, before)
			if err != nil {
				return err
			}
			if ended {
				metrics.RecordSessionEnded(g.mode, "client")
				if err := s.forget(ctx, g, st.id); err != nil {
					return err
				}
			} else {
				active = st
			}
		}
	}
	if active != nil {
		if err := s.closeActive(ctx, g, active, start.Event); err != nil {
			return err
		}
	}
	return s.apply(ctx, g, s.open(g, start), from)
}

// split separates the active contexts dated before the start from the start
// and everything after it.
func split(contexts []*pipeline.EventContext, start *pipeline.EventContext) (before, from []*pipeline.EventContext) {
	for _, ec := range pipeline.Active(contexts) {
		if ec != start && ec.Event.Date.Before(start.Event.Date) {
			before = append(before, ec)
			continue
		}
		from = append(from, ec)
	}
	return before, from
}

// attach joins events to the running session, or to a synthesized one when
// nothing is running.
func (s *Stage) attach(ctx context.Context, g *group, active *state, events []*pipeline.EventContext) error {
	st := s.resolve(ctx, g, active, events)
	if st == nil {
		return nil
	}
	return s.apply(ctx, g, st, events)
}

// resolve picks the session events belong to. Nil means nothing is left to
// stamp.
func (s *Stage) resolve(ctx context.Context, g *group, active *state, events []*pipeline.EventContext) *state {
	if len(events) == 0 {
		return nil
	}
	if active != nil {
		return active
	}
	if orphanEnds(events) {
		for _, ec := range events {
			s.log.Debug(ctx, "orphan session end dropped",
				logger.String("project", g.projectID()),
				logger.String("event", ec.ID()))
			ec.Discard(DiscardOrphanEnd)
		}
		return nil
	}
	return s.synthesizeStart(g, events)
}

// lookup reads the active session of the group from the cache. A nil state
// means no session is running.
func (s *Stage) lookup(ctx context.Context, g *group) (*state, error) {
	sessionID := g.key
	if g.mode == ModeAuto {
		id, ok, err := cache.GetString(ctx, s.cache, IdentityKey(g.projectID(), g.key))
		if err != nil || !ok {
			return nil, err
		}
		sessionID = id
	}
	startID, ok, err := cache.GetString(ctx, s.cache, StartKey(g.projectID(), sessionID))
	if err != nil || !ok {
		return nil, err
	}
	return &state{id: sessionID, startID: startID}, nil
}

func (s *Stage) open(g *group, start *pipeline.EventContext) *state {
	id := start.Event.SessionID
	if id == "" {
		id = s.newID()
		start.Event.SessionID = id
	}
	metrics.RecordSessionStarted(g.mode, "client")
	return &state{id: id, startID: start.Event.ID, start: start.Event, startCtx: start}
}

func (s *Stage) synthesizeStart(g *group, events []*pipeline.EventContext) *state {
	first := events[0].Event
	id := g.key
	if g.mode == ModeAuto {
		id = s.newID()
	}
	start := &model.Event{
		ID:             s.newID(),
		ProjectID:      g.projectID(),
		OrganizationID: g.org.ID,
		Type:           model.TypeSessionStart,
		Date:           first.Date,
		SessionID:      id,
	}
	if first.User != nil {
		u := *first.User
		start.User = &u
	}
	if first.Request != nil {
		r := *first.Request
		start.Request = &r
	}
	metrics.RecordSessionStarted(g.mode, "synthesized")
	return &state{id: id, startID: start.ID, start: start, synthesized: true}
}

// closeActive ends the running session at the date a new one starts.
func (s *Stage) closeActive(ctx context.Context, g *group, active *state, next *model.Event) error {
	end := &model.Event{
		ID:             s.newID(),
		ProjectID:      g.projectID(),
		OrganizationID: g.org.ID,
		Type:           model.TypeSessionEnd,
		Date:           next.Date,
		SessionID:      active.id,
	}
	if next.User != nil {
		u := *next.User
		end.User = &u
	}
	if err := s.updateStart(ctx, active.startID, next.Date, true, false); err != nil {
		return err
	}
	if err := s.persister.Persist(ctx, g.project, g.org, end); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistSynthesized, err)
	}
	if err := s.forget(ctx, g, active.id); err != nil {
		return err
	}
	metrics.RecordSessionEnded(g.mode, "synthesized")
	s.log.Debug(ctx, "session closed by new start",
		logger.String("project", g.projectID()),
		logger.String("session", active.id),
		logger.Time("closed_at", next.Date))
	return nil
}

// apply stamps events with their session and remembers or forgets it.
func (s *Stage) apply(ctx context.Context, g *group, st *state, events []*pipeline.EventContext) error {
	ended, err := s.stamp(ctx, g, st, events)
	if err != nil {
		return err
	}
	if ended {
		metrics.RecordSessionEnded(g.mode, "client")
		return s.forget(ctx, g, st.id)
	}
	return s.remember(ctx, g, st)
}

// stamp assigns the session to events and advances its start. Reports
// whether a client end closed the session.
func (s *Stage) stamp(ctx context.Context, g *group, st *state, events []*pipeline.EventContext) (bool, error) {
	var (
		lastActivity time.Time
		isEnd        bool
		hasError     bool
	)
	for _, ec := range events {
		e := ec.Event
		e.SessionID = st.id
		if e.IsSessionHeartbeat() {
			e.IsHidden = true
		}
		if e.IsError() {
			hasError = true
		}
		if ec == st.startCtx {
			continue
		}
		if e.Date.After(lastActivity) {
			lastActivity = e.Date
		}
		if e.IsSessionEnd() {
			isEnd = true
		}
	}

	switch {
	case st.start != nil:
		if !lastActivity.IsZero() {
			st.start.UpdateSessionStart(lastActivity, isEnd)
		}
		if hasError {
			st.start.SessionHasError = true
		}
	case !lastActivity.IsZero():
		if err := s.updateStart(ctx, st.startID, lastActivity, isEnd, hasError); err != nil {
			return false, err
		}
	}

	if st.synthesized {
		if err := s.persister.Persist(ctx, g.project, g.org, st.start); err != nil {
			return false, fmt.Errorf("%w: %w", ErrPersistSynthesized, err)
		}
	}
	if st.start != nil {
		s.log.Debug(ctx, "session stamped",
			logger.String("project", g.projectID()),
			logger.String("session", st.id),
			logger.Float64("duration_seconds", st.start.SessionDuration()),
			logger.Bool("ended", isEnd))
	}
	return isEnd, nil
}

// updateStart advances a persisted start. A start that is not stored yet
// was opened by a batch still in flight and is left alone.
func (s *Stage) updateStart(ctx context.Context, id string, lastActivity time.Time, isEnd, hasError bool) error {
	_, err := s.starts.UpdateSessionStartLastActivity(ctx, id, lastActivity, isEnd, hasError)
	if errors.Is(err, repository.ErrNotFound) {
		s.log.Warn(ctx, "session start not found", logger.String("event", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrUpdateStart, id, err)
	}
	return nil
}

func (s *Stage) remember(ctx context.Context, g *group, st *state) error {
	if err := cache.SetString(ctx, s.cache, StartKey(g.projectID(), st.id), st.startID, s.ttl); err != nil {
		return err
	}
	if g.mode == ModeAuto {
		return cache.SetString(ctx, s.cache, IdentityKey(g.projectID(), g.key), st.id, s.ttl)
	}
	return nil
}

func (s *Stage) forget(ctx context.Context, g *group, sessionID string) error {
	keys := []string{StartKey(g.projectID(), sessionID)}
	if g.mode == ModeAuto {
		keys = append(keys, IdentityKey(g.projectID(), g.key))
	}
	return s.cache.RemoveAll(ctx, keys...)
}

func orphanEnds(events []*pipeline.EventContext) bool {
	for _, ec := range events {
		if !ec.Event.IsSessionEnd() {
			return false
		}
	}
	return true
}
