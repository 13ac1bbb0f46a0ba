package throttle_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/internal/domain/throttle"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingQueue struct {
	mu    sync.Mutex
	items []model.WorkItem
}

func (q *recordingQueue) Enqueue(_ context.Context, item model.WorkItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return true
}

func events(n int, ip string) []*model.Event {
	out := make([]*model.Event, n)
	for i := range out {
		out[i] = &model.Event{
			ID:             fmt.Sprintf("e%d", i),
			ProjectID:      "p1",
			OrganizationID: "o1",
			Type:           model.TypeLog,
			Request:        &model.RequestInfo{ClientIP: ip},
		}
	}
	return out
}

func discarded(out []*pipeline.EventContext) int {
	n := 0
	for _, ec := range out {
		if ec.IsDiscarded {
			So(ec.DiscardReason, ShouldEqual, throttle.DiscardThrottled)
			n++
		}
	}
	return n
}

func TestStage(t *testing.T) {
	Convey("Given a throttle of 10 events per 5 minutes", t, func() {
		ctx := context.Background()
		now := time.Date(2024, 5, 1, 12, 7, 30, 0, time.UTC)
		c := cache.NewMemoryCache(cache.WithClock(func() time.Time { return now }))
		q := &recordingQueue{}

		settings := pipeline.DefaultSettings()
		settings.BotThrottleLimit = 10
		settings.BotThrottleWindow = 5 * time.Minute
		stage := throttle.NewStage(c, q, settings, throttle.WithClock(func() time.Time { return now }))
		x, err := pipeline.NewExecutor(settings, []pipeline.Registration{{Name: "throttle", Priority: 10, Stage: stage}})
		So(err, ShouldBeNil)

		project := &model.Project{ID: "p1", OrganizationID: "o1"}
		org := &model.Organization{ID: "o1"}
		bucket := time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)

		Convey("The eleventh event from one address is discarded", func() {
			out := x.Run(ctx, pipeline.NewEventContexts(events(11, "203.0.113.9"), project, org))
			So(discarded(out), ShouldEqual, 1)
			So(out[10].IsDiscarded, ShouldBeTrue)

			Convey("And a bulk hide is queued for the address and window", func() {
				So(q.items, ShouldHaveLength, 1)
				item := q.items[0]
				So(item.Type, ShouldEqual, model.WorkBulkHide)
				So(item.ClientIP, ShouldEqual, "203.0.113.9")
				So(item.OrganizationID, ShouldEqual, "o1")
				So(item.WindowStart.Equal(bucket), ShouldBeTrue)
				So(item.WindowEnd.Equal(bucket.Add(5*time.Minute)), ShouldBeTrue)
			})

			Convey("And the counter lives under the bucket key", func() {
				n, ok, err := cache.GetString(ctx, c, throttle.Key("203.0.113.9", bucket))
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(n, ShouldEqual, "11")
			})

			Convey("Later batches in the window are dropped without another hide", func() {
				out := x.Run(ctx, pipeline.NewEventContexts(events(3, "203.0.113.9"), project, org))
				So(discarded(out), ShouldEqual, 3)
				So(q.items, ShouldHaveLength, 1)
			})

			Convey("The next window starts fresh", func() {
				now = now.Add(5 * time.Minute)
				out := x.Run(ctx, pipeline.NewEventContexts(events(3, "203.0.113.9"), project, org))
				So(discarded(out), ShouldEqual, 0)
			})
		})

		Convey("Counts accumulate across batches", func() {
			x.Run(ctx, pipeline.NewEventContexts(events(8, "203.0.113.9"), project, org))
			out := x.Run(ctx, pipeline.NewEventContexts(events(4, "203.0.113.9"), project, org))
			So(discarded(out), ShouldEqual, 2)
			So(out[0].IsProcessed, ShouldBeTrue)
			So(out[1].IsProcessed, ShouldBeTrue)
		})

		Convey("Private addresses are never throttled", func() {
			out := x.Run(ctx, pipeline.NewEventContexts(events(20, "10.0.0.4"), project, org))
			So(discarded(out), ShouldEqual, 0)
			So(q.items, ShouldBeEmpty)
		})

		Convey("Projects can opt out", func() {
			optedOut := &model.Project{ID: "p1", OrganizationID: "o1", BotThrottleDisabled: true}
			out := x.Run(ctx, pipeline.NewEventContexts(events(20, "203.0.113.9"), optedOut, org))
			So(discarded(out), ShouldEqual, 0)
		})
	})
}

func TestIsPublic(t *testing.T) {
	Convey("Given client addresses", t, func() {
		So(throttle.IsPublic("203.0.113.9"), ShouldBeTrue)
		So(throttle.IsPublic("2001:db8::1"), ShouldBeTrue)
		So(throttle.IsPublic("10.1.2.3"), ShouldBeFalse)
		So(throttle.IsPublic("192.168.0.1"), ShouldBeFalse)
		So(throttle.IsPublic("127.0.0.1"), ShouldBeFalse)
		So(throttle.IsPublic("::1"), ShouldBeFalse)
		So(throttle.IsPublic("169.254.1.1"), ShouldBeFalse)
		So(throttle.IsPublic(""), ShouldBeFalse)
		So(throttle.IsPublic("not-an-ip"), ShouldBeFalse)
	})
}
