package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/faultline/internal/adapters/repository"
	service "github.com/okian/faultline/internal/app"
	"github.com/okian/faultline/internal/config"
	"github.com/okian/faultline/internal/domain/dedupe"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/stacking"
	"github.com/okian/faultline/internal/domain/throttle"
	"github.com/okian/faultline/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var (
	project = &model.Project{ID: "p1", OrganizationID: "o1", Name: "checkout"}
	org     = &model.Organization{ID: "o1", PlanID: "business"}
)

func testConfig() *config.Config {
	cfg := config.New()
	cfg.WorkerCount = 2
	cfg.WorkQueueSize = 100
	return cfg
}

func startService(cfg *config.Config) *service.Service {
	svc := service.New(service.WithConfig(cfg))
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

func errorEvent(id string) *model.Event {
	return &model.Event{
		ID:    id,
		Type:  model.TypeError,
		Error: &model.ErrorInfo{Type: "KeyError", Message: "cart_id"},
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithConfig(testConfig()))

		Convey("Operations fail before Start", func() {
			_, err := svc.Submit(context.Background(), project, org, []*model.Event{errorEvent("e1")})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When starting the service", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then it reports its components", func() {
				stats := svc.GetStats()
				So(stats["started"], ShouldEqual, true)
				So(stats["workerCount"], ShouldEqual, 2)
				So(stats["cacheState"], ShouldEqual, "closed")
				So(stats["stages"], ShouldResemble, []string{
					"enrich", "signature.manual", "signature.error", "signature.default",
					"dedupe", "throttle", "stacking", "session", "persist",
				})
			})

			Convey("And starting twice is a no-op", func() {
				So(svc.Start(ctx), ShouldBeNil)
			})

			Convey("And an empty batch is rejected", func() {
				_, err := svc.Submit(ctx, project, org, nil)
				So(errors.Is(err, service.ErrEmptyBatch), ShouldBeTrue)
			})
		})

		Convey("Stop without Start is safe", func() {
			svc.Stop()
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc := startService(testConfig())
		Reset(svc.Stop)

		Convey("Identical errors land in one stack and are persisted", func() {
			res, err := svc.Submit(ctx, project, org, []*model.Event{errorEvent("e1"), errorEvent("e2"), errorEvent("e3")})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 3)

			stackID := res.Outcomes[0].StackID
			So(stackID, ShouldNotBeEmpty)
			newCount := 0
			for _, o := range res.Outcomes {
				So(o.Status, ShouldEqual, service.StatusAccepted)
				So(o.StackID, ShouldEqual, stackID)
				if o.IsNew {
					newCount++
				}
			}
			So(newCount, ShouldEqual, 1)

			stack, err := svc.GetStack(ctx, stackID)
			So(err, ShouldBeNil)
			So(stack.TotalOccurrences, ShouldEqual, 3)

			stored, err := svc.GetEvent(ctx, "e2")
			So(err, ShouldBeNil)
			So(stored.StackID, ShouldEqual, stackID)
			So(stored.ProjectID, ShouldEqual, "p1")
			So(stored.Date.IsZero(), ShouldBeFalse)

			Convey("Navigation walks the stack", func() {
				next, err := svc.NextEventID(ctx, "e1")
				So(err, ShouldBeNil)
				prev, err := svc.PreviousEventID(ctx, next)
				So(err, ShouldBeNil)
				So(prev, ShouldEqual, "e1")
			})

			Convey("A fixed stack drops events from covered versions", func() {
				_, err := svc.MarkStackFixed(ctx, stackID, "3.1.0")
				So(err, ShouldBeNil)

				old := errorEvent("e4")
				old.Version = "3.0.9"
				newer := errorEvent("e5")
				newer.Version = "3.2.0"
				res, err := svc.Submit(ctx, project, org, []*model.Event{old, newer})
				So(err, ShouldBeNil)
				So(res.Outcomes[0].Reason, ShouldEqual, stacking.DiscardFixedVersion)
				So(res.Outcomes[1].Status, ShouldEqual, service.StatusAccepted)

				stack, _ := svc.GetStack(ctx, stackID)
				So(stack.Status, ShouldEqual, model.StackRegressed)
			})

			Convey("A stored event id is never replaced", func() {
				otherProject := &model.Project{ID: "p2", OrganizationID: "o2"}
				otherOrg := &model.Organization{ID: "o2", PlanID: "business"}
				res, err := svc.Submit(ctx, otherProject, otherOrg, []*model.Event{errorEvent("e1")})
				So(err, ShouldBeNil)
				So(res.Outcomes[0].Status, ShouldEqual, service.StatusDiscarded)
				So(res.Outcomes[0].Reason, ShouldEqual, dedupe.DiscardDuplicateID)

				res, err = svc.Submit(ctx, project, org, []*model.Event{errorEvent("e2")})
				So(err, ShouldBeNil)
				So(res.Outcomes[0].Reason, ShouldEqual, dedupe.DiscardDuplicateID)

				stored, err := svc.GetEvent(ctx, "e1")
				So(err, ShouldBeNil)
				So(stored.ProjectID, ShouldEqual, "p1")
				stack, _ := svc.GetStack(ctx, stackID)
				So(stack.TotalOccurrences, ShouldEqual, 3)
			})

			Convey("A discarded stack drops everything", func() {
				_, err := svc.SetStackStatus(ctx, stackID, model.StackDiscarded)
				So(err, ShouldBeNil)
				res, _ := svc.Submit(ctx, project, org, []*model.Event{errorEvent("e6")})
				So(res.Outcomes[0].Reason, ShouldEqual, stacking.DiscardStack)
				_, err = svc.GetEvent(ctx, "e6")
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("An error with only a message is stacked by it", func() {
			res, err := svc.Submit(ctx, project, org, []*model.Event{
				{ID: "m1", Type: model.TypeError, Message: "boom"},
				{ID: "m2", Type: model.TypeError, Message: "boom"},
			})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 2)
			So(res.Outcomes[0].StackID, ShouldNotBeEmpty)
			So(res.Outcomes[1].StackID, ShouldEqual, res.Outcomes[0].StackID)
		})

		Convey("A reference id is accepted once", func() {
			first := errorEvent("")
			first.ReferenceID = "order-42"
			again := errorEvent("")
			again.ReferenceID = "order-42"

			res, err := svc.Submit(ctx, project, org, []*model.Event{first})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 1)

			res, err = svc.Submit(ctx, project, org, []*model.Event{again})
			So(err, ShouldBeNil)
			So(res.Discarded, ShouldEqual, 1)
			So(res.Outcomes[0].Reason, ShouldEqual, dedupe.DiscardDuplicate)
		})

		Convey("A manual session in one batch is closed", func() {
			t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			res, err := svc.Submit(ctx, project, org, []*model.Event{
				{ID: "start", Type: model.TypeSessionStart, SessionID: "S", Date: t0},
				{ID: "hb", Type: model.TypeSessionHeartbeat, SessionID: "S", Date: t0.Add(10 * time.Second)},
				{ID: "end", Type: model.TypeSessionEnd, SessionID: "S", Date: t0.Add(20 * time.Second)},
			})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 3)

			start, _ := svc.GetEvent(ctx, "start")
			So(start.SessionDuration(), ShouldEqual, float64(20))
			So(start.HasSessionEndTime(), ShouldBeTrue)
			hb, _ := svc.GetEvent(ctx, "hb")
			So(hb.IsHidden, ShouldBeTrue)
		})

		Convey("Automatic sessions persist their synthesized start", func() {
			t0 := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			user := &model.UserInfo{Identity: "dana@example.com"}
			res, err := svc.Submit(ctx, project, org, []*model.Event{
				{ID: "a", Type: model.TypeLog, Source: "web", Date: t0, User: user},
				{ID: "b", Type: model.TypeLog, Source: "web", Date: t0.Add(5 * time.Minute), User: user},
			})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 2)

			a, _ := svc.GetEvent(ctx, "a")
			So(a.SessionID, ShouldNotBeEmpty)
			So(svc.GetStats()["events"], ShouldEqual, 3)
		})
	})
}

func TestService_Throttle(t *testing.T) {
	Convey("Given a service throttling at 10 events per window", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.BotThrottleLimit = 10
		cfg.BotThrottleWindow = time.Hour
		svc := startService(cfg)
		Reset(svc.Stop)

		events := make([]*model.Event, 11)
		for i := range events {
			events[i] = &model.Event{
				ID:      fmt.Sprintf("e%02d", i),
				Type:    model.TypeLog,
				Source:  "crawler",
				Request: &model.RequestInfo{ClientIP: "203.0.113.50"},
			}
		}

		Convey("The eleventh event is discarded and the rest hidden", func() {
			res, err := svc.Submit(ctx, project, org, events)
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 10)
			So(res.Outcomes[10].Reason, ShouldEqual, throttle.DiscardThrottled)

			deadline := time.Now().Add(5 * time.Second)
			hidden := false
			for time.Now().Before(deadline) {
				e, err := svc.GetEvent(ctx, "e00")
				So(err, ShouldBeNil)
				if e.IsHidden {
					hidden = true
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			So(hidden, ShouldBeTrue)
		})
	})
}

func TestService_Backends(t *testing.T) {
	Convey("Given badger and watermill backends", t, func() {
		ctx := context.Background()
		cfg := testConfig()
		cfg.CacheBackend = config.BackendBadger
		cfg.QueueBackend = config.BackendWatermill
		svc := startService(cfg)
		Reset(svc.Stop)

		Convey("Submissions behave the same", func() {
			first := errorEvent("e1")
			first.ReferenceID = "r1"
			dup := errorEvent("e2")
			dup.ReferenceID = "r1"
			res, err := svc.Submit(ctx, project, org, []*model.Event{first, dup})
			So(err, ShouldBeNil)
			So(res.Accepted, ShouldEqual, 1)
			So(res.Discarded, ShouldEqual, 1)
			So(svc.GetStats()["cacheBackend"], ShouldEqual, config.BackendBadger)
		})
	})
}
