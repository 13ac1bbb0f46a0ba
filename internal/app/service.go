// Package service wires the stores, cache, work queue and event pipeline
// into the intake service the HTTP API depends on.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/faultline/internal/adapters/cache"
	"github.com/okian/faultline/internal/adapters/mq/queue"
	"github.com/okian/faultline/internal/adapters/mq/worker"
	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/config"
	"github.com/okian/faultline/internal/domain/dedupe"
	"github.com/okian/faultline/internal/domain/enrich"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/navigation"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/internal/domain/session"
	"github.com/okian/faultline/internal/domain/signature"
	"github.com/okian/faultline/internal/domain/stacking"
	"github.com/okian/faultline/internal/domain/throttle"
	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// Stage priorities. Lower runs first.
const (
	priorityEnrich           = 10
	prioritySignatureManual  = 20
	prioritySignatureError   = 21
	prioritySignatureDefault = 22
	priorityDedupe           = 30
	priorityThrottle         = 40
	priorityStacking         = 50
	prioritySession          = 60
	priorityPersist          = 100
)

const (
	cacheJanitorInterval = time.Minute
	badgerGCInterval     = 5 * time.Minute
)

// Service implements the API dependencies for event intake.
type Service struct {
	mu sync.RWMutex

	// Configuration
	cfg    *config.Config
	geo    enrich.GeoResolver
	parser enrich.UserAgentParser

	// Core components
	cache     cache.Cache
	breaker   *cache.BreakerCache
	events    *repository.MemoryEventStore
	stacks    *repository.MemoryStackStore
	workQueue queue.Queue
	pool      *worker.Pool
	executor  *pipeline.Executor
	navigator *navigation.Navigator
	stacker   *stacking.Stage

	// State
	started bool
	cancel  context.CancelFunc
	closers []func() error

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig sets the process configuration.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.cfg = cfg
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGeoResolver enables location lookups and geo backfill work.
func WithGeoResolver(r enrich.GeoResolver) Option {
	return func(s *Service) {
		s.geo = r
	}
}

// WithUserAgentParser replaces the default user agent parser.
func WithUserAgentParser(p enrich.UserAgentParser) Option {
	return func(s *Service) {
		if p != nil {
			s.parser = p
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		cfg:    config.New(),
		parser: enrich.DefaultParser{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings derives the immutable pipeline settings from cfg.
func Settings(cfg *config.Config) pipeline.Settings {
	return pipeline.Settings{
		DedupeShortTTL:         cfg.DedupeShortTTL,
		DedupeLongTTL:          cfg.DedupeLongTTL,
		BotThrottleLimit:       cfg.BotThrottleLimit,
		BotThrottleWindow:      cfg.BotThrottleWindow,
		SessionTTL:             cfg.SessionTTL,
		StackCacheTTL:          cfg.StackCacheTTL,
		NeighborCandidateLimit: cfg.NeighborCandidateLimit,
	}
}

// Start initializes and starts the service components. Background jobs
// outlive ctx and run until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting event service...")

	bg, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.closers = nil

	if err := s.startCache(bg); err != nil {
		s.teardown()
		return err
	}
	if err := s.startQueue(); err != nil {
		s.teardown()
		return err
	}
	s.events = repository.NewMemoryEventStore(bg)
	s.stacks = repository.NewMemoryStackStore(bg)
	s.closers = append(s.closers, s.events.Close, s.stacks.Close)

	handlers := worker.Handlers{
		model.WorkBulkHide: worker.BulkHideHandler(s.events, s.logger.Named("bulk-hide")),
	}
	if s.geo != nil {
		handlers[model.WorkGeoBackfill] = worker.GeoBackfillHandler(s.geo, s.events)
	}
	s.pool = worker.NewPool(s.cfg.WorkerCount, s.workQueue, handlers)
	s.pool.Start(bg)

	settings := Settings(s.cfg)
	s.stacker = stacking.NewStage(s.stacks, s.cache, settings, stacking.WithLogger(s.logger.Named("stacking")))
	executor, err := pipeline.NewExecutor(settings, s.registrations(settings), pipeline.WithLogger(s.logger.Named("pipeline")))
	if err != nil {
		s.teardown()
		return fmt.Errorf("build pipeline: %w", err)
	}
	s.executor = executor
	s.navigator = navigation.NewNavigator(s.events, settings)

	s.started = true
	s.logger.Info(ctx, "event service started",
		logger.String("cache", s.cfg.CacheBackend),
		logger.String("queue", s.cfg.QueueBackend),
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.cfg.WorkQueueSize),
		logger.Any("stages", executor.Stages()),
	)
	return nil
}

func (s *Service) startCache(ctx context.Context) error {
	var inner cache.Cache
	switch s.cfg.CacheBackend {
	case config.BackendBadger:
		bc, err := cache.OpenBadger(s.cfg.CachePath)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, bc.Close)
		go bc.RunGC(ctx, badgerGCInterval)
		inner = bc
	default:
		mc := cache.NewMemoryCache(cache.WithShardCount(s.cfg.CacheShardCount))
		go mc.RunJanitor(ctx, cacheJanitorInterval)
		inner = mc
	}
	s.breaker = cache.NewBreakerCache(inner, cache.BreakerSettings{
		Name:             "cache." + s.cfg.CacheBackend,
		FailureThreshold: s.cfg.CacheBreakerFailures,
		Timeout:          s.cfg.CacheBreakerTimeout,
		Logger:           s.logger.Named("cache"),
	})
	s.cache = s.breaker
	return nil
}

func (s *Service) startQueue() error {
	switch s.cfg.QueueBackend {
	case config.BackendWatermill:
		q, err := queue.NewWatermillQueue(s.cfg.WorkQueueSize, s.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("start work queue: %w", err)
		}
		s.workQueue = q
	default:
		s.workQueue = queue.NewInMemoryQueue(
			queue.WithCapacity(s.cfg.WorkQueueSize),
			queue.WithBufferSize(s.cfg.WorkQueueSize),
		)
	}
	return nil
}

func (s *Service) registrations(settings pipeline.Settings) []pipeline.Registration {
	log := s.logger.Named("pipeline")
	deduper := dedupe.NewCacheDeduper(s.cache,
		dedupe.WithShortTTL(settings.DedupeShortTTL),
		dedupe.WithLongTTL(settings.DedupeLongTTL),
	)
	return []pipeline.Registration{
		{Name: "enrich", Priority: priorityEnrich, Stage: enrich.NewStage(
			enrich.WithUserAgentParser(s.parser),
			enrich.WithGeoResolver(s.geo),
			enrich.WithLogger(log),
		)},
		{Name: "signature.manual", Priority: prioritySignatureManual, Stage: signature.NewManualStage()},
		{Name: "signature.error", Priority: prioritySignatureError, Stage: signature.NewErrorStage()},
		{Name: "signature.default", Priority: prioritySignatureDefault, Stage: signature.NewDefaultStage()},
		{Name: "dedupe", Priority: priorityDedupe, Stage: dedupe.NewStage(deduper, log, dedupe.WithEventLookup(s.events))},
		{Name: "throttle", Priority: priorityThrottle, Stage: throttle.NewStage(s.cache, s.workQueue, settings, throttle.WithLogger(log))},
		{Name: "stacking", Priority: priorityStacking, Stage: s.stacker},
		{Name: "session", Priority: prioritySession, Stage: session.NewStage(s.cache, s.events, s, settings, session.WithLogger(log))},
		{Name: "persist", Priority: priorityPersist, Stage: &persistStage{events: s.events, queue: s.workQueue, log: log}},
	}
}

// teardown releases every started component. Must hold s.mu.
func (s *Service) teardown() {
	if s.pool != nil {
		if err := s.pool.Shutdown(context.Background()); err != nil {
			s.logger.Warn(context.Background(), "worker pool shutdown", logger.Error(err))
		}
		s.pool = nil
	} else if s.workQueue != nil {
		_ = s.workQueue.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn(context.Background(), "close component", logger.Error(err))
		}
	}
	s.closers = nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping event service...")
	s.teardown()
	s.started = false
	s.logger.Info(context.Background(), "event service stopped")
}

func (s *Service) running() (*pipeline.Executor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.executor, nil
}

// Submit runs a batch of events of one project through the pipeline. Accepted
// events are persisted before Submit returns.
func (s *Service) Submit(ctx context.Context, project *model.Project, org *model.Organization, events []*model.Event) (*Result, error) {
	x, err := s.running()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, e := range events {
		if e != nil {
			metrics.RecordEventSubmitted(string(e.Type))
		}
	}
	contexts := x.Run(ctx, pipeline.NewEventContexts(events, project, org))
	return summarize(contexts), nil
}

// Persist implements session.Persister. Synthesized session events take the
// regular pipeline, minus session reconstruction.
func (s *Service) Persist(ctx context.Context, project *model.Project, org *model.Organization, events ...*model.Event) error {
	x, err := s.running()
	if err != nil {
		return err
	}
	contexts := pipeline.NewEventContexts(events, project, org)
	for _, ec := range contexts {
		ec.SetProperty(session.PropertySynthesized, true)
	}
	for _, ec := range x.Run(ctx, contexts) {
		if ec.HasError() {
			return ec.Err
		}
	}
	return nil
}

// GetEvent returns a stored event.
func (s *Service) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	return s.events.GetByID(ctx, id)
}

// GetStack returns a stored stack.
func (s *Service) GetStack(ctx context.Context, id string) (*model.Stack, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	return s.stacks.GetByID(ctx, id)
}

// PreviousEventID returns the event before id within its stack.
func (s *Service) PreviousEventID(ctx context.Context, id string) (string, error) {
	if _, err := s.running(); err != nil {
		return "", err
	}
	return s.navigator.PreviousEventID(ctx, id)
}

// NextEventID returns the event after id within its stack.
func (s *Service) NextEventID(ctx context.Context, id string) (string, error) {
	if _, err := s.running(); err != nil {
		return "", err
	}
	return s.navigator.NextEventID(ctx, id)
}

// MarkStackFixed records that a stack was fixed in version. Later events from
// covered versions are discarded for paying plans; newer ones regress it.
func (s *Service) MarkStackFixed(ctx context.Context, id, version string) (*model.Stack, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	stack, err := s.stacks.MarkFixed(ctx, id, version, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return stack, s.stacker.Invalidate(ctx, stack.ProjectID, stack.SignatureHash)
}

// SetStackStatus changes a stack's triage status.
func (s *Service) SetStackStatus(ctx context.Context, id string, status model.StackStatus) (*model.Stack, error) {
	if _, err := s.running(); err != nil {
		return nil, err
	}
	stack, err := s.stacks.SetStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	return stack, s.stacker.Invalidate(ctx, stack.ProjectID, stack.SignatureHash)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":      s.started,
		"cacheBackend": s.cfg.CacheBackend,
		"queueBackend": s.cfg.QueueBackend,
		"queueSize":    s.cfg.WorkQueueSize,
	}
	if s.started {
		queueLen := s.workQueue.Len(ctx)
		stats["workerCount"] = s.pool.Size()
		stats["queueLength"] = queueLen
		stats["events"] = s.events.Count(ctx)
		stats["stacks"] = s.stacks.Count(ctx)
		stats["cacheState"] = s.breaker.State()
		stats["stages"] = s.executor.Stages()
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
