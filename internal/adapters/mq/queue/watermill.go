package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/okian/faultline/pkg/logger"
	"github.com/okian/faultline/pkg/metrics"
)

// DefaultTopic is the topic work items are published on.
const DefaultTopic = "faultline.work"

// WatermillQueue implements Queue on a watermill publisher/subscriber pair.
// Items travel as JSON messages. The default transport is watermill's
// in-process gochannel pubsub; any other watermill transport can be plugged
// in through NewWatermillQueueWith.
type WatermillQueue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	messages   <-chan *message.Message
	topic      string
	capacity   int64
	pending    atomic.Int64
	log        logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewWatermillQueue creates a queue on an in-process gochannel pubsub.
func NewWatermillQueue(capacity int, log logger.Logger) (*WatermillQueue, error) {
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: int64(capacity)},
		watermill.NewStdLogger(false, false),
	)
	return NewWatermillQueueWith(pubsub, pubsub, DefaultTopic, capacity, log)
}

// NewWatermillQueueWith creates a queue on the given transport. The
// subscription is opened immediately so nothing published is lost.
func NewWatermillQueueWith(pub message.Publisher, sub message.Subscriber, topic string, capacity int, log logger.Logger) (*WatermillQueue, error) {
	if capacity < 1 {
		capacity = defaultQueueCapacity
	}
	if log == nil {
		log = logger.Nop()
	}
	messages, err := sub.Subscribe(context.Background(), topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	metrics.UpdateQueueCapacity(capacity)
	return &WatermillQueue{
		publisher:  pub,
		subscriber: sub,
		messages:   messages,
		topic:      topic,
		capacity:   int64(capacity),
		log:        log.Named("watermill-queue"),
	}, nil
}

// Enqueue implements Queue.
func (q *WatermillQueue) Enqueue(ctx context.Context, item Item) bool { //nolint:gocritic // hugeParam
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return false
	}
	if q.pending.Add(1) > q.capacity {
		q.pending.Add(-1)
		metrics.RecordQueueEnqueueError("capacity_exceeded")
		return false
	}

	payload, err := json.Marshal(item)
	if err != nil {
		q.pending.Add(-1)
		metrics.RecordQueueEnqueueError("encode")
		q.log.Error(ctx, "encode work item", logger.String("type", string(item.Type)), logger.Error(err))
		return false
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set("type", string(item.Type))

	if err := q.publisher.Publish(q.topic, msg); err != nil {
		q.pending.Add(-1)
		metrics.RecordQueueEnqueueError("publish")
		q.log.Error(ctx, "publish work item", logger.Error(err))
		return false
	}
	metrics.RecordQueueEnqueue()
	metrics.UpdateQueueSize(int(q.pending.Load()))
	return true
}

// Dequeue implements Queue.
func (q *WatermillQueue) Dequeue(ctx context.Context) <-chan Item {
	out := make(chan Item)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-q.messages:
				if !ok {
					return
				}
				var item Item
				if err := json.Unmarshal(msg.Payload, &item); err != nil {
					q.log.Error(ctx, "decode work item", logger.String("message_id", msg.UUID), logger.Error(err))
					q.pending.Add(-1)
					msg.Ack()
					continue
				}
				select {
				case out <- item:
					q.pending.Add(-1)
					msg.Ack()
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(int(q.pending.Load()))
				case <-ctx.Done():
					msg.Nack()
					return
				}
			}
		}
	}()
	return out
}

// Len implements Queue.
func (q *WatermillQueue) Len(_ context.Context) int {
	return int(q.pending.Load())
}

// Close implements Queue.
func (q *WatermillQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	if err := q.publisher.Close(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	if any(q.subscriber) != any(q.publisher) {
		if err := q.subscriber.Close(); err != nil {
			return fmt.Errorf("close subscriber: %w", err)
		}
	}
	return nil
}

// IsClosed implements Queue.
func (q *WatermillQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
