package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/precog-trading/precog/internal/domain"
)

const (
	// defaultStreamMaxLen caps streams via XADD MAXLEN ~ when no cap is given.
	defaultStreamMaxLen int64 = 10000
	// subscriberBuffer is the per-subscription backlog before go-redis starts
	// dropping messages for a slow reader.
	subscriberBuffer = 128

	fieldPayload     = "payload"
	fieldPublishedAt = "published_at"
)

// SignalBus implements domain.SignalBus. Control signals (circuit breaker,
// rebalance) travel over Pub/Sub; exit lifecycle messages are appended to a
// capped stream so downstream consumers can replay them.
type SignalBus struct {
	rdb    *redis.Client
	maxLen int64
	now    func() time.Time
}

// NewSignalBus creates a SignalBus. Streams are trimmed to roughly maxLen
// entries; zero selects the default.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &SignalBus{rdb: c.rdb, maxLen: maxLen, now: time.Now}
}

// Publish sends payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the payloads published on channel. The subscription is
// confirmed before Subscribe returns; go-redis re-subscribes on reconnect.
// The returned channel closes when ctx is done.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := sb.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	in := pubsub.Channel(redis.WithChannelSize(subscriberBuffer))
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// StreamAppend appends payload to stream with its publish time, trimming the
// stream to about maxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	err := sb.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]any{
			fieldPayload:     payload,
			fieldPublishedAt: sb.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID without blocking. "0"
// reads from the start of the stream. An empty stream yields no messages and
// no error.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			// go-redis decodes field values as strings.
			payload, ok := msg.Values[fieldPayload].(string)
			if !ok {
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: []byte(payload)})
		}
	}
	return messages, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
