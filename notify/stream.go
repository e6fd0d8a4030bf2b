/*
stream.go - Redis stream transport for tenancy events

PURPOSE:
  Decouples the API process from notification delivery. StreamSink
  appends each event as JSON to a redis stream; StreamConsumer reads the
  stream with a consumer group and forwards events to any EventSink
  (normally a Dispatcher). Entries are acknowledged after the sink
  accepts them, so an entry the sink refused is redelivered from the
  pending list on restart.

ENTRY FORMAT:
  XADD <stream> * type <event type> data <event JSON>

SEE ALSO:
  - dispatcher.go: the usual downstream sink
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/smartdorm/tenancy-engine/tenancy"
)

// StreamSink publishes events to a redis stream.
type StreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamSink creates a sink appending to stream. maxLen caps the
// stream length approximately; zero leaves it unbounded.
func NewStreamSink(client *redis.Client, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *StreamSink) Publish(ctx context.Context, e tenancy.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"type": string(e.Type),
			"data": string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish event to stream %s: %w", s.stream, err)
	}
	return nil
}

// =============================================================================
// CONSUMER
// =============================================================================

// StreamConsumer forwards stream entries to a sink.
type StreamConsumer struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	sink     tenancy.EventSink
	logger   *zap.Logger

	// Block is how long one read waits for new entries.
	Block time.Duration
	Count int64
}

// NewStreamConsumer creates a consumer in group reading stream.
func NewStreamConsumer(client *redis.Client, stream, group, consumer string, sink tenancy.EventSink, logger *zap.Logger) *StreamConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamConsumer{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		sink:     sink,
		logger:   logger,
		Block:    5 * time.Second,
		Count:    16,
	}
}

// EnsureGroup creates the consumer group and the stream if needed.
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", c.group, err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Pending entries of this consumer
// are replayed first.
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	// 1. Replay entries delivered before a restart but never acknowledged
	if _, err := c.Poll(ctx, "0"); err != nil && ctx.Err() == nil {
		c.logger.Warn("pending replay failed", zap.Error(err))
	}

	// 2. Consume new entries
	for ctx.Err() == nil {
		if _, err := c.Poll(ctx, ">"); err != nil && ctx.Err() == nil {
			c.logger.Warn("stream read failed", zap.String("stream", c.stream), zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
		}
	}
	return nil
}

// Poll reads one batch starting at id (">" for new entries, "0" for this
// consumer's pending entries) and returns how many were handed to the
// sink.
func (c *StreamConsumer) Poll(ctx context.Context, id string) (int, error) {
	block := c.Block
	if id != ">" {
		block = -1
	}
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, id},
		Count:    c.Count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	handled := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Warn("stream entry not handled",
					zap.String("entry_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
				return handled, fmt.Errorf("failed to ack %s: %w", msg.ID, err)
			}
			handled++
		}
	}
	return handled, nil
}

func (c *StreamConsumer) handle(ctx context.Context, msg redis.XMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("stream entry without data", zap.String("entry_id", msg.ID))
		return nil
	}
	var e tenancy.Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.logger.Warn("stream entry not decodable", zap.String("entry_id", msg.ID), zap.Error(err))
		return nil
	}
	return c.sink.Publish(ctx, e)
}

var _ tenancy.EventSink = (*StreamSink)(nil)
