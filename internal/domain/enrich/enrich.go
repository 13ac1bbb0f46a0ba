// Package enrich normalises incoming events and attaches client details.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mileusna/useragent"

	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/internal/domain/throttle"
	"github.com/okian/faultline/pkg/logger"
)

// PropertyGeoBackfill marks a context whose location should be resolved
// after it was persisted.
const PropertyGeoBackfill = "enrich.geo_backfill"

// UserAgent is the parsed form of a user agent header.
type UserAgent struct {
	Browser string
	OS      string
	Device  string
	IsBot   bool
}

// UserAgentParser parses user agent headers.
type UserAgentParser interface {
	Parse(ua string) UserAgent
}

// GeoResolver resolves a client address to a location. ok is false when the
// address is unknown.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (loc model.Location, ok bool, err error)
}

// DefaultParser parses user agents with github.com/mileusna/useragent.
type DefaultParser struct{}

// Parse implements UserAgentParser.
func (DefaultParser) Parse(ua string) UserAgent {
	p := useragent.Parse(ua)
	device := p.Device
	switch {
	case device != "":
	case p.Mobile:
		device = "mobile"
	case p.Tablet:
		device = "tablet"
	case p.Desktop:
		device = "desktop"
	}
	return UserAgent{Browser: p.Name, OS: p.OS, Device: device, IsBot: p.Bot}
}

// Stage fills ids and dates, binds events to their project and resolves
// client details.
type Stage struct {
	parser   UserAgentParser
	resolver GeoResolver
	now      func() time.Time
	newID    func() string
	log      logger.Logger
}

// Option applies a configuration option to the Stage.
type Option func(*Stage)

// WithUserAgentParser sets the parser. A nil parser disables parsing.
func WithUserAgentParser(p UserAgentParser) Option {
	return func(s *Stage) { s.parser = p }
}

// WithGeoResolver sets the geo resolver. Without one locations are left
// untouched.
func WithGeoResolver(r GeoResolver) Option {
	return func(s *Stage) { s.resolver = r }
}

// WithClock overrides the time source used for undated events.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides how missing event ids are made.
func WithIDGenerator(fn func() string) Option {
	return func(s *Stage) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithLogger sets the stage logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Stage) {
		if l != nil {
			s.log = l
		}
	}
}

// NewStage creates the enrichment stage.
func NewStage(opts ...Option) *Stage {
	s := &Stage{
		parser: DefaultParser{},
		now:    time.Now,
		newID:  NewID,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a time ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ProcessEvent implements pipeline.EventProcessor.
func (s *Stage) ProcessEvent(ctx context.Context, ec *pipeline.EventContext) error {
	e := ec.Event
	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Date.IsZero() {
		e.Date = s.now()
	}
	if e.Type == "" {
		e.Type = model.TypeLog
	}
	e.ProjectID = ec.Project.ID
	e.OrganizationID = ec.Organization.ID
	if e.User != nil {
		e.User.Identity = strings.TrimSpace(e.User.Identity)
	}

	if e.Request == nil {
		return nil
	}
	if s.parser != nil && e.Request.UserAgent != "" {
		ua := s.parser.Parse(e.Request.UserAgent)
		e.Request.Browser = ua.Browser
		e.Request.OS = ua.OS
		e.Request.Device = ua.Device
		e.Request.IsBot = ua.IsBot
	}
	s.locate(ctx, ec)
	return nil
}

func (s *Stage) locate(ctx context.Context, ec *pipeline.EventContext) {
	e := ec.Event
	ip := e.ClientIP()
	if s.resolver == nil || e.Location != nil || !throttle.IsPublic(ip) {
		return
	}
	loc, ok, err := s.resolver.Resolve(ctx, ip)
	switch {
	case err != nil:
		s.log.Debug(ctx, "geo lookup deferred",
			logger.String("event", e.ID),
			logger.String("client_ip", ip),
			logger.Error(err))
		ec.SetProperty(PropertyGeoBackfill, ip)
	case ok:
		e.Location = &loc
	}
}

// BackfillItems returns geo backfill work for accepted contexts whose lookup
// failed. Queue them once the events are persisted.
func BackfillItems(contexts []*pipeline.EventContext) []model.WorkItem {
	var items []model.WorkItem
	for _, ec := range contexts {
		ip := ec.StringProperty(PropertyGeoBackfill)
		if ip == "" || !ec.Active() {
			continue
		}
		items = append(items, model.WorkItem{
			ID:             uuid.NewString(),
			Type:           model.WorkGeoBackfill,
			OrganizationID: ec.Event.OrganizationID,
			ProjectID:      ec.Event.ProjectID,
			EventID:        ec.Event.ID,
			ClientIP:       ip,
		})
	}
	return items
}
