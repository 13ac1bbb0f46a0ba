// Package throttle suppresses bursts of events from one client address.
package throttle

import (
	"context"
	"net/netip"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// DiscardThrottled is the discard reason of throttled events.
const DiscardThrottled = "throttled"

// PropertyBulkHide carries the bulk hide work item of a tripped window until
// the batch has been persisted.
const PropertyBulkHide = "throttle.bulk_hide"

// Enqueuer hands deferred work to the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, item model.WorkItem) bool
}

// Stage counts events per public client address in floor aligned windows.
// Once a window's count passes the limit the excess is discarded and the
// events accepted from that address in the window are hidden out of band.
type Stage struct {
	cache  cache.Cache
	queue  Enqueuer
	limit  int64
	window time.Duration
	now    func() time.Time
	log    logger.Logger
}

// Option applies a configuration option to the Stage.
type Option func(*Stage)

// WithClock overrides the time source that picks the window.
func WithClock(now func() time.Time) Option {
	return func(s *Stage) {
		if now != nil {
			s.now = now
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

// NewStage creates the bot throttle stage.
func NewStage(c cache.Cache, q Enqueuer, settings pipeline.Settings, opts ...Option) *Stage {
	s := &Stage{
		cache:  c,
		queue:  q,
		limit:  settings.BotThrottleLimit,
		window: settings.BotThrottleWindow,
		now:    time.Now,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the counter key of ip for the window starting at bucket. The
// bucket is rendered in 100ns ticks.
func Key(ip string, bucket time.Time) string {
	return "bot:" + ip + ":" + strconv.FormatInt(bucket.UnixNano()/100, 10)
}

// IsPublic reports whether ip is a routable address worth throttling.
func IsPublic(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return !addr.IsPrivate() && !addr.IsLoopback() && !addr.IsUnspecified() &&
		!addr.IsLinkLocalUnicast() && !addr.IsLinkLocalMulticast()
}

// ProcessBatch implements pipeline.BatchProcessor.
func (s *Stage) ProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	if s.limit <= 0 || s.window <= 0 {
		return nil
	}

	var (
		order  []string
		groups = make(map[string][]*pipeline.EventContext)
	)
	for _, ec := range contexts {
		if ec.Project.BotThrottleDisabled {
			continue
		}
		ip := ec.Event.ClientIP()
		if !IsPublic(ip) {
			continue
		}
		if _, ok := groups[ip]; !ok {
			order = append(order, ip)
		}
		groups[ip] = append(groups[ip], ec)
	}
	if len(order) == 0 {
		return nil
	}

	bucket := s.now().UTC().Truncate(s.window)
	for _, ip := range order {
		s.count(ctx, ip, groups[ip], bucket)
	}
	return nil
}

func (s *Stage) count(ctx context.Context, ip string, group []*pipeline.EventContext, bucket time.Time) {
	size := int64(len(group))
	ttl := s.window + s.window/5

	n, err := s.cache.Increment(ctx, Key(ip, bucket), size, ttl, 0)
	if err != nil {
		// counting is advisory; events pass when the cache is down
		s.log.Warn(ctx, "throttle counter unavailable",
			logger.String("client_ip", ip),
			logger.Error(err))
		return
	}
	if n <= s.limit {
		return
	}

	allowed := max(0, s.limit-(n-size))
	for _, ec := range group[allowed:] {
		ec.Discard(DiscardThrottled)
	}

	if n-size > s.limit {
		// an earlier batch already tripped this window
		return
	}
	metrics.RecordThrottleTrip()
	s.log.Info(ctx, "client throttled",
		logger.String("client_ip", ip),
		logger.String("project", group[0].ProjectID()),
		logger.Int64("count", n),
		logger.Time("window", bucket))

	item := model.WorkItem{
		ID:             uuid.NewString(),
		Type:           model.WorkBulkHide,
		OrganizationID: group[0].Organization.ID,
		ProjectID:      group[0].ProjectID(),
		ClientIP:       ip,
		WindowStart:    bucket,
		WindowEnd:      bucket.Add(s.window),
	}
	group[allowed].SetProperty(PropertyBulkHide, item)
}

// PostProcessBatch implements pipeline.PostBatchProcessor. Bulk hides are
// queued only now so they also cover the events this batch persisted.
func (s *Stage) PostProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	for _, ec := range contexts {
		v, ok := ec.Property(PropertyBulkHide)
		if !ok {
			continue
		}
		item, ok := v.(model.WorkItem)
		if !ok {
			continue
		}
		if s.queue == nil || !s.queue.Enqueue(ctx, item) {
			s.log.Warn(ctx, "bulk hide not queued", logger.String("client_ip", item.ClientIP))
		}
	}
	return nil
}
