package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/faultline/internal/domain/enrich"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeResolver struct {
	loc model.Location
	err error
}

func (f fakeResolver) Resolve(_ context.Context, ip string) (model.Location, bool, error) {
	if f.err != nil {
		return model.Location{}, false, f.err
	}
	if ip == "198.51.100.1" {
		return f.loc, true, nil
	}
	return model.Location{}, false, nil
}

func run(stage *enrich.Stage, e *model.Event) *pipeline.EventContext {
	x, err := pipeline.NewExecutor(pipeline.DefaultSettings(), []pipeline.Registration{{Name: "enrich", Priority: 30, Stage: stage}})
	So(err, ShouldBeNil)
	return x.RunOne(context.Background(), pipeline.NewEventContext(e, &model.Project{ID: "p1", OrganizationID: "o1"}, &model.Organization{ID: "o1"}))
}

func TestStage(t *testing.T) {
	Convey("Given the enrichment stage", t, func() {
		now := time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

		Convey("Missing ids, dates and types are filled in", func() {
			stage := enrich.NewStage(enrich.WithClock(func() time.Time { return now }), enrich.WithIDGenerator(func() string { return "generated" }))
			ec := run(stage, &model.Event{User: &model.UserInfo{Identity: "  alice  "}})
			So(ec.Event.ID, ShouldEqual, "generated")
			So(ec.Event.Date.Equal(now), ShouldBeTrue)
			So(ec.Event.Type, ShouldEqual, model.TypeLog)
			So(ec.Event.ProjectID, ShouldEqual, "p1")
			So(ec.Event.OrganizationID, ShouldEqual, "o1")
			So(ec.Event.Identity(), ShouldEqual, "alice")
		})

		Convey("Default ids are time ordered uuids", func() {
			ec := run(enrich.NewStage(), &model.Event{})
			So(ec.Event.ID, ShouldHaveLength, 36)
		})

		Convey("Client supplied values are kept", func() {
			date := now.Add(-time.Hour)
			ec := run(enrich.NewStage(), &model.Event{ID: "e1", Date: date, Type: model.TypeError})
			So(ec.Event.ID, ShouldEqual, "e1")
			So(ec.Event.Date.Equal(date), ShouldBeTrue)
			So(ec.Event.Type, ShouldEqual, model.TypeError)
		})

		Convey("User agents are parsed", func() {
			ec := run(enrich.NewStage(), &model.Event{Request: &model.RequestInfo{
				UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			}})
			So(ec.Event.Request.Browser, ShouldEqual, "Chrome")
			So(ec.Event.Request.OS, ShouldEqual, "Windows")
			So(ec.Event.Request.IsBot, ShouldBeFalse)
		})

		Convey("Crawlers are flagged", func() {
			ec := run(enrich.NewStage(), &model.Event{Request: &model.RequestInfo{
				UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
			}})
			So(ec.Event.Request.IsBot, ShouldBeTrue)
		})

		Convey("Known addresses get a location", func() {
			stage := enrich.NewStage(enrich.WithGeoResolver(fakeResolver{loc: model.Location{Country: "NL"}}))
			ec := run(stage, &model.Event{Request: &model.RequestInfo{ClientIP: "198.51.100.1"}})
			So(ec.Event.Location, ShouldNotBeNil)
			So(ec.Event.Location.Country, ShouldEqual, "NL")
			So(enrich.BackfillItems([]*pipeline.EventContext{ec}), ShouldBeEmpty)
		})

		Convey("Failed lookups are deferred, not fatal", func() {
			stage := enrich.NewStage(enrich.WithGeoResolver(fakeResolver{err: errors.New("geo service down")}))
			ec := run(stage, &model.Event{ID: "e1", Request: &model.RequestInfo{ClientIP: "198.51.100.1"}})
			So(ec.IsProcessed, ShouldBeTrue)
			So(ec.Event.Location, ShouldBeNil)

			items := enrich.BackfillItems([]*pipeline.EventContext{ec})
			So(items, ShouldHaveLength, 1)
			So(items[0].Type, ShouldEqual, model.WorkGeoBackfill)
			So(items[0].EventID, ShouldEqual, "e1")
			So(items[0].ClientIP, ShouldEqual, "198.51.100.1")
		})

		Convey("Private addresses are not looked up", func() {
			stage := enrich.NewStage(enrich.WithGeoResolver(fakeResolver{err: errors.New("must not be called")}))
			ec := run(stage, &model.Event{Request: &model.RequestInfo{ClientIP: "192.168.1.10"}})
			So(ec.HasProperty(enrich.PropertyGeoBackfill), ShouldBeFalse)
		})
	})
}
