package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/supoclip/api/internal/logger"
	"github.com/supoclip/api/internal/model"
)

// RedisBus broadcasts progress events over Redis pub/sub, one channel
// per task. Works across processes, so API nodes see events published
// by worker nodes.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func channelFor(taskID string) string {
	return fmt.Sprintf("progress:task:%s", taskID)
}

// Publish sends the event to every current subscriber of the task
func (b *RedisBus) Publish(ctx context.Context, event model.ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return b.client.Publish(ctx, channelFor(event.TaskID), data).Err()
}

// Subscribe opens a live subscription for one task
func (b *RedisBus) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channelFor(taskID))

	// Force the SUBSCRIBE round-trip so a snapshot read taken after
	// this call cannot race ahead of the subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", taskID, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan model.ProgressEvent, 16),
	}
	go sub.pump(taskID, pubsub.Channel())
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan model.ProgressEvent
}

// pump forwards broker messages to the events channel. A subscriber
// that stops draining with a full buffer is dropped, same policy as
// MemoryBus: blocking here would park this goroutine forever, since
// Close cannot unblock a parked channel send.
func (s *redisSubscription) pump(taskID string, msgs <-chan *redis.Message) {
	defer close(s.events)
	log := logger.WithTaskID(taskID)
	for msg := range msgs {
		var event model.ProgressEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			log.Warn().Err(err).Msg("dropping malformed progress event")
			continue
		}
		select {
		case s.events <- event:
		default:
			log.Warn().Msg("dropping slow progress subscriber")
			if s.pubsub != nil {
				_ = s.pubsub.Close()
			}
			return
		}
	}
}

func (s *redisSubscription) Events() <-chan model.ProgressEvent {
	return s.events
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
