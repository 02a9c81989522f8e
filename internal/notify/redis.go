package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// channel returns the pub/sub channel name for a batch.
func channel(batchID string) string {
	return "batch:" + batchID
}

// RedisNotifier implements Notifier and Subscriber on Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier parses a redis URL and connects a client.
func NewRedisNotifier(ctx context.Context, url string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisNotifier{client: client}, nil
}

// NewRedisNotifierWithClient wraps an existing client.
func NewRedisNotifierWithClient(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Close releases the client.
func (n *RedisNotifier) Close() error { return n.client.Close() }

// Publish sends the event to the batch channel. Failures are logged and
// swallowed.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal progress event", "batch", event.BatchID, "error", err)
		return
	}

	if err := n.client.Publish(ctx, channel(event.BatchID), data).Err(); err != nil {
		slog.Warn("publish progress event failed",
			"batch", event.BatchID, "file", event.FileID, "error", err)
	}
}

// Subscribe streams the batch channel until ctx is cancelled.
func (n *RedisNotifier) Subscribe(ctx context.Context, batchID string) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, channel(batchID))

	// Force the subscription to establish before returning so callers
	// do not miss events published right after Subscribe.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe to batch %s: %w", batchID, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Warn("skipping malformed progress event", "batch", batchID, "error", err)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
