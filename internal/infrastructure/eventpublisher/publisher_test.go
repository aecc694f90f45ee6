package eventpublisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func TestProcessEventsPublishesAndMarks(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{{ID: "evt-1", EventType: domain.EventTypeGroupPosted}},
	}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents failed: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.published))
	}
	if len(repo.marked) != 1 || repo.marked[0] != "evt-1" {
		t.Fatalf("expected event to be marked published, got %#v", repo.marked)
	}
}

func TestProcessEventsContinuesOnPublishError(t *testing.T) {
	repo := &stubOutboxRepo{
		events: []*domain.OutboxEvent{
			{ID: "evt-1", EventType: domain.EventTypeLotOpened},
			{ID: "evt-2", EventType: domain.EventTypeLotClosed},
		},
	}
	pub := &stubPublisher{
		errorsByID: map[string]error{"evt-1": errors.New("fail")},
	}
	ep := newTestPublisher(repo, pub)

	if err := ep.processEvents(context.Background()); err != nil {
		t.Fatalf("processEvents returned error: %v", err)
	}

	if len(pub.published) != 1 || pub.published[0].ID != "evt-2" {
		t.Fatalf("expected only evt-2 to be published, got %#v", pub.published)
	}
	if len(repo.marked) != 1 || repo.marked[0] != "evt-2" {
		t.Fatalf("expected only evt-2 to be marked, got %#v", repo.marked)
	}
}

func TestDrainEmptiesOutbox(t *testing.T) {
	repo := &stubOutboxRepo{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		repo.events = append(repo.events, &domain.OutboxEvent{ID: id, EventType: domain.EventTypeSyncCompleted})
	}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub)
	ep.batchSize = 2

	n, err := ep.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 5 || len(pub.published) != 5 {
		t.Fatalf("expected 5 events drained, got %d (%d published)", n, len(pub.published))
	}
}

func TestDrainStopsOnPersistentFailure(t *testing.T) {
	repo := &stubOutboxRepo{events: []*domain.OutboxEvent{{ID: "bad"}, {ID: "good"}}}
	pub := &stubPublisher{errorsByID: map[string]error{"bad": errors.New("down")}}
	ep := newTestPublisher(repo, pub)
	ep.batchSize = 2

	n, err := ep.Drain(context.Background())
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one event drained, got %d", n)
	}
}

func TestPurgeHonoursRetention(t *testing.T) {
	repo := &stubOutboxRepo{}
	ep := newTestPublisher(repo, &stubPublisher{})

	if err := ep.purge(context.Background()); err != nil || !repo.purgedBefore.IsZero() {
		t.Fatalf("purge without retention should be a no-op, got %v %v", err, repo.purgedBefore)
	}

	ep.retention = time.Hour
	if err := ep.purge(context.Background()); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if time.Since(repo.purgedBefore) < time.Hour-time.Minute {
		t.Fatalf("unexpected purge cutoff %v", repo.purgedBefore)
	}
}

func TestStartStopsOnContextCancellation(t *testing.T) {
	repo := &stubOutboxRepo{}
	pub := &stubPublisher{}
	ep := newTestPublisher(repo, pub)
	ep.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ep.Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop after cancel")
	}
}

func newTestPublisher(repo *stubOutboxRepo, pub *stubPublisher) *EventPublisher {
	return NewEventPublisher(Config{
		OutboxRepo: repo,
		Publisher:  pub,
		Logger:     zerolog.Nop(),
		BatchSize:  10,
		Interval:   5 * time.Millisecond,
	})
}

type stubOutboxRepo struct {
	events       []*domain.OutboxEvent
	marked       []string
	purgedBefore time.Time
}

func (s *stubOutboxRepo) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	return nil
}

func (s *stubOutboxRepo) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	var pending []*domain.OutboxEvent
	for _, e := range s.events {
		if !e.Published {
			pending = append(pending, e)
		}
	}
	if len(pending) <= limit {
		return pending, nil
	}
	return pending[:limit], nil
}

func (s *stubOutboxRepo) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	s.marked = append(s.marked, id)
	for _, e := range s.events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
		}
	}
	return nil
}

func (s *stubOutboxRepo) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	return nil, nil
}

func (s *stubOutboxRepo) DeletePublished(ctx context.Context, before time.Time) error {
	s.purgedBefore = before
	return nil
}

type stubPublisher struct {
	published  []*domain.OutboxEvent
	errorsByID map[string]error
}

func (s *stubPublisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	if err := s.errorsByID[event.ID]; err != nil {
		return err
	}
	s.published = append(s.published, event)
	return nil
}
