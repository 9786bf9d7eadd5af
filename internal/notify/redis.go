package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel alerts are published on
const DefaultRedisChannel = "guardian:alerts"

// Publisher is the subset of *redis.Client the sink uses
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes notifications as JSON on a Redis pub/sub channel
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink creates a sink publishing on channel (DefaultRedisChannel if empty)
func NewRedisSink(client Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (r *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel
func (r *RedisSink) Channel() string { return r.channel }

func (r *RedisSink) Send(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}
