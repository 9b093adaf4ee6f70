package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

type relayMessage struct {
	OwnerID uuid.UUID       `json:"owner_id"`
	Event   json.RawMessage `json:"event"`
}

// RedisRelay publishes events to one redis channel; a single subscriber per
// instance hands them to the local hub. Every instance, including the
// publisher, delivers from the subscription, so per-owner order is the
// channel order.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	logger  *log.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, logger *log.Logger) *RedisRelay {
	if channel == "" {
		channel = "todo-events"
	}
	return &RedisRelay{client: client, channel: channel, hub: hub, logger: logger}
}

// Start subscribes and returns once the subscription is confirmed.
func (r *RedisRelay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	r.mu.Lock()
	r.pubsub = pubsub
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(pubsub.Channel())
	r.logger.Info("realtime relay subscribed", "channel", r.channel)
	return nil
}

func (r *RedisRelay) run(messages <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range messages {
		var relayed relayMessage
		if err := json.Unmarshal([]byte(msg.Payload), &relayed); err != nil {
			r.logger.Warn("dropping malformed relay message", "err", err)
			continue
		}
		r.hub.deliver(relayed.OwnerID, relayed.Event)
	}
}

// Broadcast publishes the event. When redis refuses it the event is still
// delivered to this instance's connections.
func (r *RedisRelay) Broadcast(ownerID uuid.UUID, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to encode event", "type", event.Type, "owner_id", ownerID, "err", err)
		return
	}
	payload, err := json.Marshal(relayMessage{OwnerID: ownerID, Event: data})
	if err != nil {
		r.logger.Error("failed to encode relay message", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed, delivering locally", "owner_id", ownerID, "type", event.Type, "err", err)
		r.hub.deliver(ownerID, data)
	}
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	pubsub := r.pubsub
	r.pubsub = nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	r.wg.Wait()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
