package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const outboxColumns = `id, aggregate_id, aggregate_type, event_type, payload, created_at, published_at, published`

// OutboxRepository implements usecase.OutboxRepository.
type OutboxRepository struct {
	db querier
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{db: pool}
}

// Create creates a new outbox event within a transaction.
func (r *OutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = txQuerier(tx).Exec(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, aggregate_type, event_type, payload, created_at, published)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.AggregateID, event.AggregateType, event.EventType, data,
		timeToPgTimestamptz(event.CreatedAt), event.Published)
	return classify("insert outbox event", err)
}

// GetUnpublished retrieves unpublished events, oldest first.
func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE NOT published
		ORDER BY created_at, id
		LIMIT $1`, limit)
}

// MarkPublished marks an event as published.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE outbox_events SET published = TRUE, published_at = $2
		WHERE id = $1`, id, timeToPgTimestamptz(publishedAt))
	return classify("mark event published", err)
}

// GetByAggregate retrieves events for a specific aggregate.
func (r *OutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM outbox_events
		WHERE aggregate_type = $1 AND aggregate_id = $2
		ORDER BY created_at, id
		LIMIT $3 OFFSET $4`, aggregateType, aggregateID, limit, offset)
}

// DeletePublished deletes published events older than the given time.
func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM outbox_events
		WHERE published AND published_at < $1`, timeToPgTimestamptz(before))
	return classify("delete published events", err)
}

func (r *OutboxRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("list outbox events", err)
	}
	events, err := pgx.CollectRows(rows, scanOutboxEvent)
	if err != nil {
		return nil, classify("list outbox events", err)
	}
	return events, nil
}

func scanOutboxEvent(row pgx.CollectableRow) (*domain.OutboxEvent, error) {
	var (
		e                      domain.OutboxEvent
		payload                []byte
		createdAt, publishedAt pgtype.Timestamptz
	)
	if err := row.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &payload,
		&createdAt, &publishedAt, &e.Published); err != nil {
		return nil, err
	}

	m, err := unmarshalJSONB(payload)
	if err != nil {
		return nil, fmt.Errorf("event %s payload: %w", e.ID, err)
	}
	e.Payload = m
	e.CreatedAt = pgTimestamptzToTime(createdAt)
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		e.PublishedAt = &t
	}
	return &e, nil
}
