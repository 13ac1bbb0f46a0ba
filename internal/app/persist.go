package service

import (
	"context"

	"github.com/okian/faultline/internal/adapters/mq/queue"
	"github.com/okian/faultline/internal/adapters/repository"
	"github.com/okian/faultline/internal/domain/enrich"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/internal/domain/pipeline"
	"github.com/okian/faultline/pkg/logger"
)

// persistStage stores the events still active at the end of the pipeline.
// A store failure fails every event of the batch, which lets the post hooks
// release reference markers and skip occurrence counting.
type persistStage struct {
	events repository.EventStore
	queue  queue.Queue
	log    logger.Logger
}

// ProcessBatch implements pipeline.BatchProcessor.
func (p *persistStage) ProcessBatch(ctx context.Context, contexts []*pipeline.EventContext) error {
	batch := make([]*model.Event, 0, len(contexts))
	for _, ec := range contexts {
		batch = append(batch, ec.Event)
	}
	if err := p.events.Add(ctx, batch...); err != nil {
		return err
	}

	for _, item := range enrich.BackfillItems(contexts) {
		if !p.queue.Enqueue(ctx, item) {
			p.log.Warn(ctx, "geo backfill not queued",
				logger.String("event", item.EventID),
				logger.String("client_ip", item.ClientIP))
		}
	}
	return nil
}
