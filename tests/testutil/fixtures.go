package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/app"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/infrastructure/config"
)

// TestLedger is a fully wired ledger in its own throwaway schema.
type TestLedger struct {
	*app.App
	Feed *StaticFeed
	t    *testing.T
}

// NewTestLedger migrates a fresh schema for a unique identity and builds the
// application on top of it. The schema is dropped when the test ends.
func NewTestLedger(t *testing.T) *TestLedger {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.BotIdentity = fmt.Sprintf("TEST_US_PAPER_t%d", time.Now().UnixNano())
	cfg.SnapshotDir = t.TempDir()
	cfg.LotPolicy = "fifo"
	cfg.PnLFeesAffect = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := zerolog.Nop()
	if err := app.Migrate(ctx, cfg, logger); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	feed := &StaticFeed{}
	a, err := app.New(ctx, cfg, logger, app.Options{Broker: feed})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}

	tl := &TestLedger{App: a, Feed: feed, t: t}
	t.Cleanup(tl.drop)
	return tl
}

func (tl *TestLedger) drop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tl.Close()

	conn, err := pgx.Connect(ctx, tl.Config.DatabaseURL)
	if err != nil {
		tl.t.Logf("drop schema: %v", err)
		return
	}
	defer conn.Close(ctx)

	schema := pgx.Identifier{tl.Identity.SchemaName()}.Sanitize()
	if _, err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
		tl.t.Logf("drop schema: %v", err)
	}
}

// CountLegs returns the number of leg rows in the ledger.
func (tl *TestLedger) CountLegs(ctx context.Context) int {
	tl.t.Helper()

	var n int
	if err := tl.Pool.QueryRow(ctx, "SELECT count(*) FROM trade_legs").Scan(&n); err != nil {
		tl.t.Fatalf("count legs: %v", err)
	}
	return n
}

// StaticFeed is an in-memory broker feed. Records are filtered by the
// requested window the same way the real feeds do it.
type StaticFeed struct {
	mu     sync.Mutex
	Trades []domain.BrokerRecord
	Cash   []domain.BrokerRecord
}

// Add appends records to the feed, routing them by kind.
func (f *StaticFeed) Add(records ...domain.BrokerRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range records {
		if r.Kind == domain.KindCash {
			f.Cash = append(f.Cash, r)
			continue
		}
		f.Trades = append(f.Trades, r)
	}
}

func (f *StaticFeed) FetchTrades(_ context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return window(f.Trades, start, end), nil
}

func (f *StaticFeed) FetchCashActivity(_ context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return window(f.Cash, start, end), nil
}

func window(records []domain.BrokerRecord, start, end *time.Time) []domain.BrokerRecord {
	out := make([]domain.BrokerRecord, 0, len(records))
	for _, r := range records {
		if start != nil && r.TimestampUTC.Before(*start) {
			continue
		}
		if end != nil && r.TimestampUTC.After(*end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// D parses a decimal literal.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Leg builds a leg with an unsigned value; the side sets the sign.
func Leg(account string, side domain.Side, value string) *domain.Leg {
	return &domain.Leg{AccountCode: account, Side: side, TotalValue: D(value)}
}

// Trade builds a broker trade record.
func Trade(tradeID, action, symbol, qty, price string, ts time.Time) domain.BrokerRecord {
	return domain.BrokerRecord{
		TradeID:      tradeID,
		Kind:         domain.KindTrade,
		Action:       action,
		Symbol:       symbol,
		Qty:          D(qty),
		Price:        D(price),
		TimestampUTC: ts,
	}
}
