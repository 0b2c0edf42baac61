// Package redisbridge relays realtime changes between service instances over
// Redis pub/sub.
package redisbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/attendance-coordinator/internal/realtime"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "attendance:changes"

// Bridge publishes local changes to the hub and to Redis, and replays changes
// from other instances into the hub.
type Bridge struct {
	client  *redis.Client
	hub     *realtime.Hub
	channel string
	origin  string
	logger  *slog.Logger
}

// New creates a bridge. An empty channel selects DefaultChannel.
func New(client *redis.Client, hub *realtime.Hub, channel string, logger *slog.Logger) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "redisbridge", "channel", channel),
	}
}

// Origin returns the id stamped on changes published by this instance.
func (b *Bridge) Origin() string {
	return b.origin
}

// Publish delivers the change locally and forwards it to other instances.
// Redis failures are logged; local delivery still happens.
func (b *Bridge) Publish(ctx context.Context, change realtime.Change) {
	change.Origin = b.origin
	b.hub.Publish(ctx, change)

	payload, err := json.Marshal(change)
	if err != nil {
		b.logger.ErrorContext(ctx, "failed to encode change", "error", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		b.logger.WarnContext(ctx, "failed to forward change to redis", "error", err, "change_id", change.ID)
	}
}

// Run relays remote changes into the hub until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.logger.InfoContext(ctx, "relaying remote changes")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redisbridge: subscription closed")
			}
			var change realtime.Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.WarnContext(ctx, "dropping malformed change", "error", err)
				continue
			}
			if change.Origin == b.origin {
				continue
			}
			b.hub.Publish(ctx, change)
		}
	}
}
