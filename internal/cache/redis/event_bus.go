package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kentomson01/stacksbet/internal/ws"
)

const publishTimeout = 2 * time.Second

// Sink receives relayed messages, typically the local ws.Hub.
type Sink interface {
	Deliver(room string, payload []byte)
}

// EventBus publishes engine events on one Pub/Sub channel so every instance
// relays them to its own WebSocket clients.
type EventBus struct {
	rdb     *redis.Client
	channel string
	log     *zap.Logger
}

func NewEventBus(c *Client, channel string, log *zap.Logger) *EventBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventBus{rdb: c.rdb, channel: channel, log: log.Named("redis")}
}

// Publish has the engine's publish signature. Failures are logged; the
// event is already committed.
func (b *EventBus) Publish(room, msgType string, data any) {
	payload, err := json.Marshal(ws.Msg{Type: msgType, Room: room, Data: data})
	if err != nil {
		b.log.Warn("encode event", zap.String("type", msgType), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.log.Warn("publish event", zap.String("channel", b.channel), zap.String("type", msgType), zap.Error(err))
	}
}

// Relay forwards every message on the channel to sink until ctx is done.
func (b *EventBus) Relay(ctx context.Context, sink Sink) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}
	b.log.Info("relaying events", zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis: subscription %s closed", b.channel)
			}
			var head struct {
				Room string `json:"room"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &head); err != nil || head.Room == "" {
				b.log.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			sink.Deliver(head.Room, []byte(msg.Payload))
		}
	}
}
