package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// Hook names used in errors, logs and metrics.
const (
	HookEvent = "event"
	HookBatch = "batch"
	HookPost  = "post"
)

// Executor runs registered stages over batches of event contexts. It holds
// no per-run state and is safe for concurrent use.
type Executor struct {
	stages   []Registration
	settings Settings
	log      logger.Logger
}

// Option applies a configuration option to the Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l logger.Logger) Option {
	return func(x *Executor) {
		if l != nil {
			x.log = l
		}
	}
}

// NewExecutor builds an executor from an explicit registration table.
func NewExecutor(settings Settings, regs []Registration, opts ...Option) (*Executor, error) {
	for _, r := range regs {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	x := &Executor{
		stages:   sortRegistrations(regs),
		settings: settings,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x, nil
}

// Settings returns the settings the executor was built with.
func (x *Executor) Settings() Settings {
	return x.settings
}

// Stages returns stage names in run order.
func (x *Executor) Stages() []string {
	names := make([]string, len(x.stages))
	for i, r := range x.stages {
		names[i] = r.Name
	}
	return names
}

// RunOne runs the pipeline over a single context.
func (x *Executor) RunOne(ctx context.Context, ec *EventContext) *EventContext {
	x.Run(ctx, []*EventContext{ec})
	return ec
}

// Run executes every stage over contexts and returns them. Contexts that end
// neither cancelled nor errored are marked processed.
func (x *Executor) Run(ctx context.Context, contexts []*EventContext) []*EventContext {
	metrics.RecordBatchSize(len(contexts))

	for _, c := range contexts {
		if c.Event == nil || c.Project == nil || c.Organization == nil {
			c.SetError(ErrMissingProject)
		}
	}

	for _, reg := range x.stages {
		if b, ok := reg.Stage.(BatchProcessor); ok {
			if active := Active(contexts); len(active) > 0 {
				x.runBatch(ctx, reg, HookBatch, active, b.ProcessBatch)
			}
		}
		if ev, ok := reg.Stage.(EventProcessor); ok {
			start := time.Now()
			for _, c := range contexts {
				if c.Active() {
					x.runEvent(ctx, reg, c, ev)
				}
			}
			metrics.RecordStageLatency(reg.Name, HookEvent, metrics.SinceMillis(start))
		}
	}

	for _, c := range contexts {
		c.IsProcessed = c.Active()
	}

	for _, reg := range x.stages {
		if pb, ok := reg.Stage.(PostBatchProcessor); ok {
			x.runBatch(ctx, reg, HookPost, contexts, pb.PostProcessBatch)
		}
	}

	for _, c := range contexts {
		switch {
		case c.HasError():
			c.IsProcessed = false
			metrics.RecordEventErrored(failedStage(c.Err))
		case c.IsDiscarded:
			metrics.RecordEventDiscarded(c.DiscardReason)
		case c.IsProcessed:
			metrics.RecordEventProcessed()
		}
	}
	return contexts
}

func (x *Executor) runEvent(ctx context.Context, reg Registration, c *EventContext, ev EventProcessor) {
	defer func() {
		if r := recover(); r != nil {
			x.fail(ctx, c, &StageError{Stage: reg.Name, Hook: HookEvent, EventID: c.ID(), Err: fmt.Errorf("%w: %v", ErrStagePanic, r)})
		}
	}()
	if err := ev.ProcessEvent(ctx, c); err != nil {
		x.fail(ctx, c, &StageError{Stage: reg.Name, Hook: HookEvent, EventID: c.ID(), Err: err})
	}
}

// runBatch runs a batch hook. A returned error or panic is recorded on every
// context of the slice that is still active.
func (x *Executor) runBatch(ctx context.Context, reg Registration, hook string, contexts []*EventContext, fn func(context.Context, []*EventContext) error) {
	start := time.Now()
	defer func() {
		metrics.RecordStageLatency(reg.Name, hook, metrics.SinceMillis(start))
	}()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrStagePanic, r)
			}
		}()
		return fn(ctx, contexts)
	}()
	if err == nil {
		return
	}
	for _, c := range contexts {
		if c.Active() {
			x.fail(ctx, c, &StageError{Stage: reg.Name, Hook: hook, EventID: c.ID(), Err: err})
		}
	}
}

func (x *Executor) fail(ctx context.Context, c *EventContext, err *StageError) {
	c.SetError(err)
	x.log.Error(ctx, "stage failed",
		logger.String("stage", err.Stage),
		logger.String("hook", err.Hook),
		logger.String("project", c.ProjectID()),
		logger.String("event", err.EventID),
		logger.Error(err.Err))
}

func failedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	if errors.Is(err, ErrMissingProject) {
		return "validation"
	}
	return "unknown"
}
