package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type publishCmdable interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher publishes events with PUBLISH on "<prefix><topic>".
type RedisPublisher struct {
	client publishCmdable
	raw    *redis.Client
	prefix string
}

// NewRedisPublisher wraps a connected client. Channels are named prefix+topic.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, raw: client, prefix: prefix}
}

// DialRedis parses url, verifies connectivity and returns a publisher.
func DialRedis(ctx context.Context, url, prefix string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("relay/redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay/redis: ping: %w", err)
	}
	return NewRedisPublisher(client, prefix), nil
}

// Channel returns the channel a topic is published on.
func (p *RedisPublisher) Channel(topic string) string { return p.prefix + topic }

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	if err := p.client.Publish(ctx, p.Channel(topic), body).Err(); err != nil {
		return fmt.Errorf("relay/redis: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *RedisPublisher) Close() error {
	if p.raw == nil {
		return nil
	}
	return p.raw.Close()
}
