package redis

import (
	"context"
	"sync"

	"github.com/focushall/focushall-bot/internal/infrastructure/messaging"
)

// EventBusClient adapts a Cache to the messaging.RedisClient contract so the
// Redis event bus can ride the same connection pool as the data cache.
type EventBusClient struct {
	cache *Cache

	mu      sync.Mutex
	pubsubs []interface{ Close() error }
}

// NewEventBusClient wraps the cache for event bus use.
func NewEventBusClient(cache *Cache) *EventBusClient {
	return &EventBusClient{cache: cache}
}

// Publish sends a message to a channel.
func (c *EventBusClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return c.cache.Client().Publish(ctx, channel, message).Err()
}

// Subscribe subscribes to channels and converts the go-redis message stream
// into the bus's message type. The goroutine ends when the subscription is
// closed or the context is cancelled.
func (c *EventBusClient) Subscribe(ctx context.Context, channels ...string) (<-chan messaging.RedisMessage, error) {
	pubsub := c.cache.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	c.mu.Lock()
	c.pubsubs = append(c.pubsubs, pubsub)
	c.mu.Unlock()

	out := make(chan messaging.RedisMessage)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				select {
				case out <- messaging.RedisMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes all open subscriptions. The underlying cache connection is
// owned by the caller and stays open.
func (c *EventBusClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, ps := range c.pubsubs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.pubsubs = nil
	return firstErr
}
