package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/internal/domain/session"
	. "github.com/smartystreets/goconvey/convey"
)

var (
	project = &model.Project{ID: "p1", OrganizationID: "o1"}
	org     = &model.Organization{ID: "o1"}
	t0      = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

// storePersister persists synthesized events straight into the store.
type storePersister struct {
	store *repository.MemoryEventStore
	mu    sync.Mutex
	saved []*model.Event
}

func (p *storePersister) Persist(ctx context.Context, _ *model.Project, _ *model.Organization, events ...*model.Event) error {
	p.mu.Lock()
	p.saved = append(p.saved, events...)
	p.mu.Unlock()
	return p.store.Add(ctx, events...)
}

func (p *storePersister) ofType(t model.EventType) []*model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*model.Event
	for _, e := range p.saved {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	ctx       context.Context
	cache     *cache.MemoryCache
	store     *repository.MemoryEventStore
	persister *storePersister
	x         *pipeline.Executor
	seq       int
}

func newHarness() *harness {
	ctx := context.Background()
	h := &harness{ctx: ctx, cache: cache.NewMemoryCache(), store: repository.NewMemoryEventStore(ctx)}
	h.persister = &storePersister{store: h.store}
	stage := session.NewStage(h.cache, h.store, h.persister, pipeline.DefaultSettings(),
		session.WithIDGenerator(func() string {
			h.seq++
			return fmt.Sprintf("gen-%02d", h.seq)
		}))
	x, err := pipeline.NewExecutor(pipeline.DefaultSettings(), []pipeline.Registration{{Name: "session", Priority: 70, Stage: stage}})
	So(err, ShouldBeNil)
	h.x = x
	return h
}

// submit runs a batch and persists what was accepted, like the service does.
func (h *harness) submit(events ...*model.Event) []*pipeline.EventContext {
	out := h.x.Run(h.ctx, pipeline.NewEventContexts(events, project, org))
	for _, ec := range out {
		if ec.IsProcessed {
			So(h.store.Add(h.ctx, ec.Event), ShouldBeNil)
		}
	}
	return out
}

func (h *harness) stored(id string) *model.Event {
	e, err := h.store.GetByID(h.ctx, id)
	So(err, ShouldBeNil)
	return e
}

func manual(id string, typ model.EventType, sessionID string, offset time.Duration) *model.Event {
	return &model.Event{ID: id, ProjectID: project.ID, Type: typ, SessionID: sessionID, Date: t0.Add(offset)}
}

func auto(id string, typ model.EventType, identity string, offset time.Duration) *model.Event {
	return &model.Event{ID: id, ProjectID: project.ID, Type: typ, Date: t0.Add(offset), User: &model.UserInfo{Identity: identity}}
}

func TestManualSessions(t *testing.T) {
	Convey("Given a session reconstructor", t, func() {
		h := newHarness()
		Reset(func() { _ = h.store.Close() })

		Convey("A start, heartbeat and end in one batch form one closed session", func() {
			out := h.submit(
				manual("start", model.TypeSessionStart, "S", 0),
				manual("hb", model.TypeSessionHeartbeat, "S", 10*time.Second),
				manual("end", model.TypeSessionEnd, "S", 20*time.Second),
			)
			for _, ec := range out {
				So(ec.IsProcessed, ShouldBeTrue)
			}

			start := h.stored("start")
			So(start.SessionDuration(), ShouldEqual, 20)
			So(start.HasSessionEndTime(), ShouldBeTrue)
			So(start.SessionEnd.Equal(t0.Add(20*time.Second)), ShouldBeTrue)
			So(h.stored("hb").IsHidden, ShouldBeTrue)
			So(h.persister.saved, ShouldBeEmpty)

			_, ok, _ := h.cache.Get(h.ctx, session.StartKey("p1", "S"))
			So(ok, ShouldBeFalse)
		})

		Convey("A session spanning batches keeps advancing its start", func() {
			h.submit(manual("start", model.TypeSessionStart, "S", 0))
			startID, ok, _ := cache.GetString(h.ctx, h.cache, session.StartKey("p1", "S"))
			So(ok, ShouldBeTrue)
			So(startID, ShouldEqual, "start")

			h.submit(manual("hb1", model.TypeSessionHeartbeat, "S", 30*time.Second))
			So(h.stored("start").SessionDuration(), ShouldEqual, 30)

			Convey("A late, older heartbeat never shortens it", func() {
				h.submit(manual("hb0", model.TypeSessionHeartbeat, "S", 5*time.Second))
				So(h.stored("start").SessionDuration(), ShouldEqual, 30)
			})

			Convey("An error marks the session", func() {
				h.submit(manual("err", model.TypeError, "S", 40*time.Second))
				So(h.stored("start").SessionHasError, ShouldBeTrue)
			})

			Convey("The end closes it and clears the cache", func() {
				h.submit(manual("end", model.TypeSessionEnd, "S", time.Minute))
				start := h.stored("start")
				So(start.SessionDuration(), ShouldEqual, 60)
				So(start.HasSessionEndTime(), ShouldBeTrue)

				_, ok, _ := h.cache.Get(h.ctx, session.StartKey("p1", "S"))
				So(ok, ShouldBeFalse)
			})

			Convey("A retried start is dropped", func() {
				out := h.submit(manual("start-again", model.TypeSessionStart, "S", 45*time.Second))
				So(out[0].IsDiscarded, ShouldBeTrue)
				So(out[0].DiscardReason, ShouldEqual, session.DiscardDuplicateBoundary)
			})
		})

		Convey("Repeated boundaries keep the first start and the last end", func() {
			out := h.submit(
				manual("s1", model.TypeSessionStart, "S", 0),
				manual("s2", model.TypeSessionStart, "S", time.Second),
				manual("e1", model.TypeSessionEnd, "S", 10*time.Second),
				manual("e2", model.TypeSessionEnd, "S", 12*time.Second),
			)
			So(out[0].IsProcessed, ShouldBeTrue)
			So(out[1].DiscardReason, ShouldEqual, session.DiscardDuplicateBoundary)
			So(out[2].DiscardReason, ShouldEqual, session.DiscardDuplicateBoundary)
			So(out[3].IsProcessed, ShouldBeTrue)
			So(h.stored("s1").SessionDuration(), ShouldEqual, 12)
		})

		Convey("An end without any session is dropped", func() {
			out := h.submit(manual("end", model.TypeSessionEnd, "S", 0))
			So(out[0].IsDiscarded, ShouldBeTrue)
			So(out[0].DiscardReason, ShouldEqual, session.DiscardOrphanEnd)
		})

		Convey("A start arriving after activity of its session is dropped", func() {
			out := h.submit(
				manual("log", model.TypeLog, "S", 0),
				manual("late-start", model.TypeSessionStart, "S", time.Minute),
				manual("log2", model.TypeLog, "S", 2*time.Minute),
			)
			So(out[1].DiscardReason, ShouldEqual, session.DiscardDuplicateBoundary)

			starts := h.persister.ofType(model.TypeSessionStart)
			So(starts, ShouldHaveLength, 1)
			So(starts[0].Date.Equal(t0), ShouldBeTrue)
			So(starts[0].SessionDuration(), ShouldEqual, 120)
			So(out[2].Event.SessionID, ShouldEqual, "S")
		})

		Convey("Activity without a start synthesizes one", func() {
			h.submit(
				manual("log", model.TypeLog, "S", 0),
				manual("end", model.TypeSessionEnd, "S", 90*time.Second),
			)
			starts := h.persister.ofType(model.TypeSessionStart)
			So(starts, ShouldHaveLength, 1)
			So(starts[0].SessionID, ShouldEqual, "S")
			So(starts[0].Date.Equal(t0), ShouldBeTrue)
			So(starts[0].SessionDuration(), ShouldEqual, 90)
			So(starts[0].HasSessionEndTime(), ShouldBeTrue)
		})
	})
}

func TestAutomaticSessions(t *testing.T) {
	Convey("Given a session reconstructor", t, func() {
		h := newHarness()
		Reset(func() { _ = h.store.Close() })

		Convey("Two events of one identity five minutes apart open one session", func() {
			out := h.submit(
				auto("a", model.TypeLog, "user@example.com", 0),
				auto("b", model.TypeLog, "user@example.com", 5*time.Minute),
			)
			starts := h.persister.ofType(model.TypeSessionStart)
			So(starts, ShouldHaveLength, 1)
			start := starts[0]
			So(start.SessionDuration(), ShouldEqual, 300)
			So(start.HasSessionEndTime(), ShouldBeFalse)
			So(start.Identity(), ShouldEqual, "user@example.com")
			So(out[0].Event.SessionID, ShouldEqual, start.SessionID)
			So(out[1].Event.SessionID, ShouldEqual, start.SessionID)

			sessionID, ok, _ := cache.GetString(h.ctx, h.cache, session.IdentityKey("p1", "user@example.com"))
			So(ok, ShouldBeTrue)
			So(sessionID, ShouldEqual, start.SessionID)
			startID, _, _ := cache.GetString(h.ctx, h.cache, session.StartKey("p1", sessionID))
			So(startID, ShouldEqual, start.ID)

			Convey("Later events join it", func() {
				later := h.submit(auto("c", model.TypeSessionHeartbeat, "user@example.com", 10*time.Minute))
				So(later[0].Event.SessionID, ShouldEqual, start.SessionID)
				So(later[0].Event.IsHidden, ShouldBeTrue)
				So(h.stored(start.ID).SessionDuration(), ShouldEqual, 600)
				So(h.persister.ofType(model.TypeSessionStart), ShouldHaveLength, 1)
			})

			Convey("A new start closes it first", func() {
				next := h.submit(auto("s2", model.TypeSessionStart, "user@example.com", 20*time.Minute))
				So(next[0].IsProcessed, ShouldBeTrue)
				So(next[0].Event.SessionID, ShouldNotEqual, start.SessionID)

				ends := h.persister.ofType(model.TypeSessionEnd)
				So(ends, ShouldHaveLength, 1)
				So(ends[0].SessionID, ShouldEqual, start.SessionID)
				So(ends[0].Date.Equal(t0.Add(20*time.Minute)), ShouldBeTrue)

				old := h.stored(start.ID)
				So(old.HasSessionEndTime(), ShouldBeTrue)
				So(old.SessionDuration(), ShouldEqual, 1200)

				sessionID, _, _ := cache.GetString(h.ctx, h.cache, session.IdentityKey("p1", "user@example.com"))
				So(sessionID, ShouldEqual, next[0].Event.SessionID)
			})

			Convey("An end closes it and forgets the identity", func() {
				h.submit(auto("end", model.TypeSessionEnd, "user@example.com", 6*time.Minute))
				So(h.stored(start.ID).HasSessionEndTime(), ShouldBeTrue)
				_, ok, _ := h.cache.Get(h.ctx, session.IdentityKey("p1", "user@example.com"))
				So(ok, ShouldBeFalse)
			})
		})

		Convey("A client start gets a generated session id", func() {
			out := h.submit(
				auto("s", model.TypeSessionStart, "u2", 0),
				auto("l", model.TypeLog, "u2", time.Minute),
			)
			So(out[0].Event.SessionID, ShouldNotBeEmpty)
			So(out[1].Event.SessionID, ShouldEqual, out[0].Event.SessionID)
			So(h.stored("s").SessionDuration(), ShouldEqual, 60)
			So(h.persister.saved, ShouldBeEmpty)
		})

		Convey("Activity dated before a client start gets its own earlier session", func() {
			out := h.submit(
				auto("early", model.TypeLog, "u", 0),
				auto("s", model.TypeSessionStart, "u", time.Minute),
				auto("late", model.TypeLog, "u", 90*time.Second),
			)
			for _, ec := range out {
				So(ec.IsProcessed, ShouldBeTrue)
			}

			starts := h.persister.ofType(model.TypeSessionStart)
			So(starts, ShouldHaveLength, 1)
			So(starts[0].Date.Equal(t0), ShouldBeTrue)
			So(out[0].Event.SessionID, ShouldEqual, starts[0].SessionID)

			earlier := h.stored(starts[0].ID)
			So(earlier.SessionDuration(), ShouldEqual, 60)
			So(earlier.HasSessionEndTime(), ShouldBeTrue)

			ends := h.persister.ofType(model.TypeSessionEnd)
			So(ends, ShouldHaveLength, 1)
			So(ends[0].SessionID, ShouldEqual, starts[0].SessionID)
			So(ends[0].Date.Equal(t0.Add(time.Minute)), ShouldBeTrue)

			So(out[1].Event.SessionID, ShouldNotEqual, starts[0].SessionID)
			So(out[2].Event.SessionID, ShouldEqual, out[1].Event.SessionID)
			So(h.stored("s").SessionDuration(), ShouldEqual, 30)

			sessionID, _, _ := cache.GetString(h.ctx, h.cache, session.IdentityKey("p1", "u"))
			So(sessionID, ShouldEqual, out[1].Event.SessionID)
		})

		Convey("A client end before a later start closes the earlier session itself", func() {
			out := h.submit(
				auto("early", model.TypeLog, "u", 0),
				auto("bye", model.TypeSessionEnd, "u", 20*time.Second),
				auto("s", model.TypeSessionStart, "u", time.Minute),
			)
			So(out[1].IsProcessed, ShouldBeTrue)
			So(out[1].Event.SessionID, ShouldEqual, out[0].Event.SessionID)
			So(h.persister.ofType(model.TypeSessionEnd), ShouldBeEmpty)

			starts := h.persister.ofType(model.TypeSessionStart)
			So(starts, ShouldHaveLength, 1)
			So(h.stored(starts[0].ID).SessionDuration(), ShouldEqual, 20)
			So(out[2].Event.SessionID, ShouldNotEqual, out[0].Event.SessionID)
		})

		Convey("Different identities get different sessions", func() {
			out := h.submit(auto("a", model.TypeLog, "u1", 0), auto("b", model.TypeLog, "u2", 0))
			So(out[0].Event.SessionID, ShouldNotEqual, out[1].Event.SessionID)
			So(h.persister.ofType(model.TypeSessionStart), ShouldHaveLength, 2)
		})

		Convey("Events without identity or session id are left alone", func() {
			out := h.submit(&model.Event{ID: "x", ProjectID: "p1", Type: model.TypeLog, Date: t0})
			So(out[0].Event.SessionID, ShouldBeEmpty)
			So(h.persister.saved, ShouldBeEmpty)
		})

		Convey("Synthesized contexts are skipped", func() {
			ec := pipeline.NewEventContext(auto("a", model.TypeLog, "u1", 0), project, org)
			ec.SetProperty(session.PropertySynthesized, true)
			h.x.RunOne(h.ctx, ec)
			So(ec.Event.SessionID, ShouldBeEmpty)
		})
	})
}

func TestSessionKeys(t *testing.T) {
	Convey("Cache keys follow the shared layout", t, func() {
		So(session.StartKey("p1", "S"), ShouldEqual, "p1:start:S")
		So(session.IdentityKey("p1", "abc"), ShouldEqual, "p1:identity:a9993e364706816aba3e25717850c26c9cd0d89d")
	})
}
