package eventpublisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// EventPublisher relays outbox events to a Publisher.
type EventPublisher struct {
	outboxRepo usecase.OutboxRepository
	publisher  Publisher
	logger     zerolog.Logger
	batchSize  int
	interval   time.Duration
	retention  time.Duration
}

// Publisher defines the interface for publishing events to external systems.
type Publisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Config for EventPublisher.
type Config struct {
	OutboxRepo usecase.OutboxRepository
	Publisher  Publisher
	Logger     zerolog.Logger
	BatchSize  int           // Number of events to fetch per batch
	Interval   time.Duration // Polling interval
	Retention  time.Duration // Published events older than this are purged; 0 keeps them
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(cfg Config) *EventPublisher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}

	return &EventPublisher{
		outboxRepo: cfg.OutboxRepo,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger.With().Str("component", "event_publisher").Logger(),
		batchSize:  cfg.BatchSize,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
	}
}

// Start begins the event publishing worker.
// It runs continuously until the context is cancelled.
func (ep *EventPublisher) Start(ctx context.Context) error {
	ep.logger.Info().
		Int("batch_size", ep.batchSize).
		Dur("interval", ep.interval).
		Msg("event publisher started")

	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	// Process immediately on start
	if err := ep.processEvents(ctx); err != nil {
		ep.logger.Error().Err(err).Msg("error processing events on start")
	}

	for {
		select {
		case <-ctx.Done():
			ep.logger.Info().Msg("event publisher shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := ep.processEvents(ctx); err != nil {
				ep.logger.Error().Err(err).Msg("error processing events")
			}
			if err := ep.purge(ctx); err != nil {
				ep.logger.Error().Err(err).Msg("error purging published events")
			}
		}
	}
}

// Drain publishes until the outbox is empty. The server calls it once on
// shutdown.
func (ep *EventPublisher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := ep.processBatch(ctx)
		total += n
		if err != nil || n < ep.batchSize {
			return total, err
		}
	}
}

// processEvents fetches and publishes a batch of unpublished events.
func (ep *EventPublisher) processEvents(ctx context.Context) error {
	_, err := ep.processBatch(ctx)
	return err
}

func (ep *EventPublisher) processBatch(ctx context.Context) (int, error) {
	events, err := ep.outboxRepo.GetUnpublished(ctx, ep.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	ep.logger.Debug().Int("count", len(events)).Msg("processing events")

	published := 0
	for _, event := range events {
		if err := ep.publishEvent(ctx, event); err != nil {
			ep.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.EventType).
				Msg("failed to publish event")
			// Continue processing other events even if one fails
			continue
		}

		if err := ep.outboxRepo.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil {
			ep.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Msg("failed to mark event as published")
			continue
		}
		published++
	}

	// A batch with failures is reported short so Drain stops instead of
	// spinning on the same events.
	if published < len(events) {
		return published, nil
	}
	return len(events), nil
}

func (ep *EventPublisher) purge(ctx context.Context) error {
	if ep.retention <= 0 {
		return nil
	}
	return ep.outboxRepo.DeletePublished(ctx, time.Now().UTC().Add(-ep.retention))
}

// publishEvent publishes a single event.
func (ep *EventPublisher) publishEvent(ctx context.Context, event *domain.OutboxEvent) error {
	if err := ep.publisher.Publish(ctx, event); err != nil {
		return err
	}

	ep.logger.Debug().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("aggregate_type", event.AggregateType).
		Str("aggregate_id", event.AggregateID).
		Msg("event published")

	return nil
}

// LogPublisher is a simple publisher that logs events.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs the event.
func (p *LogPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}

	p.logger.Info().
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("aggregate_type", event.AggregateType).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", payload).
		Msg("ledger event")

	return nil
}
