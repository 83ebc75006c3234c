package realtime

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes envelopes with PUBLISH so every process's hub sees them
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish implements port.Publisher
func (p *RedisPublisher) Publish(ctx context.Context, channel, eventName string, payload interface{}) error {
	data, err := encode(eventName, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventName, err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s on %s: %w", eventName, channel, err)
	}
	return nil
}

// Close implements port.Publisher
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// RedisSource adapts redis SUBSCRIBE to Source
type RedisSource struct {
	client *redis.Client
}

// NewRedisSource creates a RedisSource
func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// Subscribe implements Source
func (s *RedisSource) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
