package navigation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/navigation"
	"github.com/okian/faultline/internal/domain/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

var base = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

func stackEvent(id string, offset time.Duration) *model.Event {
	return &model.Event{ID: id, StackID: "s1", ProjectID: "p1", Type: model.TypeError, Date: base.Add(offset)}
}

func TestNavigator(t *testing.T) {
	Convey("Given events of one stack", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryEventStore(ctx)
		Reset(func() { _ = store.Close() })
		nav := navigation.NewNavigator(store, pipeline.DefaultSettings())

		Convey("With dates T, T and T+1 for ids A, B and C", func() {
			So(store.Add(ctx, stackEvent("A", 0), stackEvent("B", 0), stackEvent("C", time.Second)), ShouldBeNil)

			prev, err := nav.PreviousEventID(ctx, "C")
			So(err, ShouldBeNil)
			So(prev, ShouldEqual, "B")

			prev, _ = nav.PreviousEventID(ctx, "B")
			So(prev, ShouldEqual, "A")

			prev, _ = nav.PreviousEventID(ctx, "A")
			So(prev, ShouldEqual, "")

			next, _ := nav.NextEventID(ctx, "A")
			So(next, ShouldEqual, "B")

			next, _ = nav.NextEventID(ctx, "B")
			So(next, ShouldEqual, "C")

			next, _ = nav.NextEventID(ctx, "C")
			So(next, ShouldEqual, "")
		})

		Convey("Distinct dates resolve to the nearest event", func() {
			So(store.Add(ctx,
				stackEvent("e1", 0),
				stackEvent("e2", time.Minute),
				stackEvent("e3", 2*time.Minute),
				&model.Event{ID: "other", StackID: "s2", Date: base.Add(90 * time.Second)},
			), ShouldBeNil)

			prev, _ := nav.PreviousEventID(ctx, "e3")
			So(prev, ShouldEqual, "e2")
			next, _ := nav.NextEventID(ctx, "e1")
			So(next, ShouldEqual, "e2")
		})

		Convey("Ties outnumbering the candidate window still resolve", func() {
			settings := pipeline.DefaultSettings()
			settings.NeighborCandidateLimit = 2
			small := navigation.NewNavigator(store, settings)
			So(store.Add(ctx,
				stackEvent("a", -time.Minute),
				stackEvent("b", 0), stackEvent("c", 0), stackEvent("d", 0), stackEvent("e", 0), stackEvent("f", 0),
				stackEvent("g", time.Minute),
			), ShouldBeNil)

			prev, err := small.PreviousEventID(ctx, "b")
			So(err, ShouldBeNil)
			So(prev, ShouldEqual, "a")
			prev, _ = small.PreviousEventID(ctx, "d")
			So(prev, ShouldEqual, "c")

			next, _ := small.NextEventID(ctx, "e")
			So(next, ShouldEqual, "f")
			next, _ = small.NextEventID(ctx, "f")
			So(next, ShouldEqual, "g")
			next, _ = small.NextEventID(ctx, "g")
			So(next, ShouldEqual, "")
		})

		Convey("Unknown events are reported", func() {
			_, err := nav.NextEventID(ctx, "missing")
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("Unstacked events have no neighbors", func() {
			So(store.Add(ctx, &model.Event{ID: "loose", Date: base}), ShouldBeNil)
			next, err := nav.NextEventID(ctx, "loose")
			So(err, ShouldBeNil)
			So(next, ShouldEqual, "")
		})
	})
}
