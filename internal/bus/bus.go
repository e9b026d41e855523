// Package bus is the pipeline event bus on Redis Streams. Delivery is
// at-least-once: events are acknowledged only after the handler returns
// nil, and unacknowledged events are reclaimed after an idle window, so
// consumers must be idempotent.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stream and consumer group names.
const (
	StreamItemFetched    = "items:fetched"
	StreamItemTranslated = "items:translated"
	GroupPipeline        = "pipeline"
)

// Event names.
const (
	EventItemFetched    = "item.fetched"
	EventItemTranslated = "item.translated"
)

const (
	readBlock     = 5 * time.Second
	readCount     = 10
	reclaimMinAge = time.Minute
)

// Event is one pipeline message.
type Event struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ItemID         string    `json:"item_id"`
	AuthorID       string    `json:"author_id"`
	Text           string    `json:"text"`
	TranslatedText string    `json:"translated_text,omitempty"`
	Media          []string  `json:"media,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Bus publishes and consumes pipeline events.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis at addr.
func New(addr, password string, db int, logger *zap.Logger) *Bus {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		// Read timeout must exceed the XReadGroup block duration to
		// avoid spurious i/o timeouts on idle streams.
		ReadTimeout: readBlock * 2,
	})
	return &Bus{rdb: rdb, logger: logger}
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, logger *zap.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Publish appends an event to a stream. The event id is assigned when
// empty.
func (b *Bus) Publish(ctx context.Context, stream string, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Name, err)
	}

	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"payload": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it does not exist, starting
// from the beginning of the stream.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume runs a blocking loop delivering stream events to handler.
// Events are acknowledged only when handler returns nil; failed events
// stay pending and are reclaimed once idle for reclaimMinAge. Returns
// when ctx is cancelled.
func (b *Bus) Consume(ctx context.Context, stream, group, consumer string, handler func(context.Context, Event) error) error {
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b.reclaim(ctx, stream, group, consumer, handler)

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Blocking reads time out when idle; that is not an error.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			b.logger.Error("stream read failed", zap.String("stream", stream), zap.Error(err))
			continue
		}

		// Independent items in one batch are processed concurrently;
		// per-item ordering across stages comes from event causality.
		var wg sync.WaitGroup
		for _, s := range streams {
			for _, msg := range s.Messages {
				wg.Add(1)
				go func(m redis.XMessage) {
					defer wg.Done()
					b.deliver(ctx, stream, group, m, handler)
				}(msg)
			}
		}
		wg.Wait()
	}
}

// reclaim picks up events another consumer (or a previous run) left
// pending, so a crash between external call and ack is redelivered.
func (b *Bus) reclaim(ctx context.Context, stream, group, consumer string, handler func(context.Context, Event) error) {
	msgs, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  reclaimMinAge,
		Start:    "0-0",
		Count:    readCount,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.logger.Debug("reclaim failed", zap.String("stream", stream), zap.Error(err))
		}
		return
	}

	for _, msg := range msgs {
		b.deliver(ctx, stream, group, msg, handler)
	}
}

func (b *Bus) deliver(ctx context.Context, stream, group string, msg redis.XMessage, handler func(context.Context, Event) error) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		b.logger.Error("malformed stream message, dropping",
			zap.String("stream", stream), zap.String("message_id", msg.ID))
		b.ack(ctx, stream, group, msg.ID)
		return
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		b.logger.Error("unparsable event, dropping",
			zap.String("stream", stream), zap.String("message_id", msg.ID), zap.Error(err))
		b.ack(ctx, stream, group, msg.ID)
		return
	}

	if err := handler(ctx, ev); err != nil {
		b.logger.Error("event handler failed, leaving pending",
			zap.String("stream", stream),
			zap.String("event", ev.Name),
			zap.String("item_id", ev.ItemID),
			zap.Error(err))
		return
	}

	b.ack(ctx, stream, group, msg.ID)
}

func (b *Bus) ack(ctx context.Context, stream, group, msgID string) {
	if err := b.rdb.XAck(ctx, stream, group, msgID).Err(); err != nil && ctx.Err() == nil {
		b.logger.Error("ack failed",
			zap.String("stream", stream), zap.String("message_id", msgID), zap.Error(err))
	}
}
