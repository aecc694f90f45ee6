package eventpublisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iho/botledger/internal/domain"
)

// StreamPublisher appends events to a Redis stream, one stream per identity.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a StreamPublisher writing to
// "botledger:events:<identity>". maxLen <= 0 leaves the stream untrimmed.
func NewStreamPublisher(client *redis.Client, identity domain.Identity, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: "botledger:events:" + identity.String(),
		maxLen: maxLen,
	}
}

// Stream returns the stream key.
func (p *StreamPublisher) Stream() string { return p.stream }

// Publish appends the event with XADD.
func (p *StreamPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":       event.ID,
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
			"payload":        string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append event %s: %w", event.ID, err)
	}
	return nil
}
