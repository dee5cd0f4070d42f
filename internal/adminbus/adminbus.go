// Package adminbus publishes backend lifecycle events to a Redis pub/sub
// channel for any number of rushd admin consumers (CLI watchers, dashboards)
// to observe. It is strictly advisory: every event is also visible through
// the regular backend manager API, so a missed or delayed publish never
// causes incorrect behavior, only a stale external view.
package adminbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nilsbr/rushd/internal/logger"
)

const channel = "rushd:admin:events"

// Event is one backend lifecycle notification.
type Event struct {
	Type      string    `json:"type"` // "created" | "started" | "stopped" | "failed" | "deleted"
	BackendID string    `json:"backend_id"`
	Name      string    `json:"name"`
	Port      int       `json:"port"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes and subscribes to admin events over Redis. A Bus built
// with a nil client (what the orchestrator does when Redis is not
// configured) and a nil *Bus are both safe to use: Publish is a no-op and
// Subscribe returns a closed channel, since the bus is optional
// infrastructure, not the source of truth.
type Bus struct {
	client *redis.Client
	log    logger.Logger
}

// New wraps an already-connected client. Pass nil to get a no-op Bus when
// redis_addr is unset in config.
func New(client *redis.Client, log logger.Logger) *Bus {
	return &Bus{client: client, log: log}
}

// Publish sends event to every subscriber. Errors are logged, not
// returned: a failed publish must never fail the backend operation that
// triggered it.
func (b *Bus) Publish(ctx context.Context, event Event) {
	if b == nil || b.client == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn("marshal admin event failed", logger.Error(err))
		return
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.log.Warn("publish admin event failed", logger.Error(err))
	}
}

// Subscribe returns a channel of Events for external consumers (the admin
// CLI's watch mode). Closing ctx or calling the returned cancel function
// tears down the subscription.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, func(), error) {
	if b == nil || b.client == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}, nil
	}

	sub := b.client.Subscribe(ctx, channel)
	out := make(chan Event, 32)

	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			var msg *redis.Message
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				msg = m
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("decode admin event failed", logger.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
