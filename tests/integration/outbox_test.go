package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/infrastructure/eventpublisher"
	"github.com/iho/botledger/internal/usecase"
	"github.com/iho/botledger/tests/testutil"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (p *capturePublisher) Publish(_ context.Context, event *domain.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

func TestOutbox_EventsRelayedOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tl := testutil.NewTestLedger(t)
	ctx := context.Background()

	_, err := tl.Posting.Post(ctx, usecase.PostInput{
		GroupID: "G-1",
		Legs: []*domain.Leg{
			testutil.Leg("Assets:Cash", domain.SideDebit, "25"),
			testutil.Leg("Equity:Contributions", domain.SideCredit, "25"),
		},
	})
	require.NoError(t, err)
	openLot(t, tl, "B1", "IBM", domain.PositionLong, "1", "200", day)
	_, err = tl.Lots.Close(ctx, usecase.CloseInput{
		ClosedAt:      day.Add(time.Hour),
		Symbol:        "IBM",
		Side:          domain.PositionLong,
		CloseTradeID:  "S1",
		Qty:           testutil.D("1"),
		ProceedsTotal: testutil.D("210"),
	})
	require.NoError(t, err)

	pending, err := tl.OutboxRepo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	pub := &capturePublisher{}
	relay := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: tl.OutboxRepo,
		Publisher:  pub,
		Logger:     zerolog.Nop(),
		BatchSize:  10,
		Interval:   time.Second,
	})

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{domain.EventTypeGroupPosted, domain.EventTypeLotClosed}, pub.types())

	pending, err = tl.OutboxRepo.GetUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
