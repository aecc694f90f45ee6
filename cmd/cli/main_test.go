package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/usecase"
)

type fakeLedger struct {
	ok        bool
	imbalance error
	posted    usecase.PostInput
}

func (f *fakeLedger) Post(ctx context.Context, input usecase.PostInput) (*usecase.PostResult, error) {
	f.posted = input
	return &usecase.PostResult{GroupID: "G1", InsertedIDs: []string{"L1", "L2"}, Balanced: true}, nil
}

func (f *fakeLedger) AccountBalances(ctx context.Context, filter usecase.BalanceFilter) (*usecase.BalanceReport, error) {
	return &usecase.BalanceReport{Roots: map[string]decimal.Decimal{}}, nil
}

func (f *fakeLedger) ValidateDoubleEntry(ctx context.Context) (bool, error) {
	return f.ok, f.imbalance
}

type fakeSync struct {
	summary *usecase.SyncSummary
	err     error
	input   usecase.SyncInput
}

func (f *fakeSync) SyncBrokerLedger(ctx context.Context, input usecase.SyncInput) (*usecase.SyncSummary, error) {
	f.input = input
	return f.summary, f.err
}

type fakeMapping struct {
	upserted usecase.UpsertRuleInput
	imported []byte
}

func (f *fakeMapping) LoadMappingTable(ctx context.Context) (*domain.MappingTable, error) {
	return &domain.MappingTable{Version: 1}, nil
}

func (f *fakeMapping) GetVersion(ctx context.Context, version int64) (*domain.MappingTable, error) {
	return nil, domain.ErrMappingVersionNotFound
}

func (f *fakeMapping) History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error) {
	return []domain.MappingVersion{{Version: 2, CreatedBy: "alice", RuleCount: 3, Reason: "fees"}}, nil
}

func (f *fakeMapping) UpsertRule(ctx context.Context, input usecase.UpsertRuleInput) (int64, error) {
	f.upserted = input
	return 3, nil
}

func (f *fakeMapping) RollbackMappingVersion(ctx context.Context, target int64, actor, reason string) (int64, error) {
	return target + 10, nil
}

func (f *fakeMapping) ExportYAML(ctx context.Context) ([]byte, error) {
	return []byte("version: 1\n"), nil
}

func (f *fakeMapping) ImportYAML(ctx context.Context, data []byte, actor string) (int64, error) {
	f.imported = data
	return 4, nil
}

type fakeLots struct {
	opened usecase.OpenLotInput
}

func (f *fakeLots) RecordOpen(ctx context.Context, input usecase.OpenLotInput) (string, error) {
	f.opened = input
	return "LOT1", nil
}

func (f *fakeLots) Close(ctx context.Context, input usecase.CloseInput) (*domain.CloseSummary, error) {
	return nil, domain.ErrInsufficientLotQuantity
}

func (f *fakeLots) ListOpenLots(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error) {
	return []*domain.Lot{{ID: "LOT1", Symbol: symbol, Side: side}}, nil
}

type fakeRecon struct{}

func (fakeRecon) GetEntries(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error) {
	return []*domain.ReconciliationRecord{{ID: "R1", TradeID: "T1", Status: domain.ReconOK}}, nil
}

func (fakeRecon) SnapshotLog(ctx context.Context, w io.Writer) (int, error) {
	_, err := io.WriteString(w, `[{"id":"R1"}]`)
	return 1, err
}

func (fakeRecon) ExportDiffsByWindow(ctx context.Context, window usecase.DiffWindow) ([]byte, error) {
	return []byte(`[]`), nil
}

func (fakeRecon) Resolve(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error) {
	return &domain.ReconciliationRecord{ID: "R2", ResolvesID: entryID, Status: domain.ReconResolved, Actor: actor, Notes: notes}, nil
}

type harness struct {
	cli     *cli
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	cfg     *config.Config
	ledger  *fakeLedger
	sync    *fakeSync
	mapping *fakeMapping
	lots    *fakeLots
	closed  bool
}

func newHarness() *harness {
	h := &harness{
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		ledger:  &fakeLedger{ok: true},
		sync:    &fakeSync{summary: &usecase.SyncSummary{Status: usecase.SyncStatusPosted}},
		mapping: &fakeMapping{},
		lots:    &fakeLots{},
	}

	h.cli = newCLI(h.stdout, h.stderr)
	h.cli.loadConfig = func() (*config.Config, error) {
		return &config.Config{BotIdentity: "ACME_US_PAPER_bot1", LotPolicy: "fifo", LogLevel: "error"}, nil
	}
	h.cli.openBackend = func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
		h.cfg = cfg
		return &backend{
			Ledger:  h.ledger,
			Lots:    h.lots,
			Mapping: h.mapping,
			Recon:   fakeRecon{},
			Sync:    h.sync,
			Close:   func() { h.closed = true },
		}, nil
	}
	return h
}

func (h *harness) run(args ...string) int {
	return h.cli.execute(context.Background(), append([]string{"--actor", "tester"}, args...))
}

func TestSyncExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		summary *usecase.SyncSummary
		err     error
		want    int
	}{
		{name: "fully posted", summary: &usecase.SyncSummary{Status: usecase.SyncStatusPosted}, want: exitOK},
		{name: "partial", summary: &usecase.SyncSummary{Status: usecase.SyncStatusPartial, Rejected: 2}, want: exitAttention},
		{name: "clean dry run", summary: &usecase.SyncSummary{Status: usecase.SyncStatusDryRun}, want: exitOK},
		{name: "dry run with rejects", summary: &usecase.SyncSummary{Status: usecase.SyncStatusDryRun, Rejected: 1}, want: exitAttention},
		{name: "fatal", err: domain.ErrSyncInProgress, want: exitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.sync.summary, h.sync.err = tt.summary, tt.err

			assert.Equal(t, tt.want, h.run("sync", "--start", "2025-01-01", "--feed-file", "trades.json"))
			assert.True(t, h.closed)

			if tt.err == nil {
				var out usecase.SyncSummary
				require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &out))
				assert.Equal(t, tt.summary.Status, out.Status)
			} else {
				assert.Contains(t, h.stderr.String(), domain.ErrSyncInProgress.Error())
			}
		})
	}
}

func TestSyncPassesFlags(t *testing.T) {
	h := newHarness()

	require.Equal(t, exitOK, h.run("--identity", "ACME_EU_IBKR_b2", "sync", "--dry-run", "--feed-url", "http://broker.test", "--end", "2025-02-01T00:00:00Z"))

	assert.Equal(t, "ACME_EU_IBKR_b2", h.cfg.BotIdentity)
	assert.Equal(t, "http://broker.test", h.cfg.BrokerFeedURL)
	assert.True(t, h.sync.input.DryRun)
	assert.Equal(t, "tester", h.sync.input.Actor)
	assert.Nil(t, h.sync.input.Start)
	require.NotNil(t, h.sync.input.End)
}

func TestSyncDateOnlyEndCoversWholeDay(t *testing.T) {
	h := newHarness()

	require.Equal(t, exitOK, h.run("sync", "--start", "2025-01-01", "--end", "2025-01-31"))

	require.NotNil(t, h.sync.input.Start)
	require.NotNil(t, h.sync.input.End)
	assert.True(t, h.sync.input.Start.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))

	lastTrade := time.Date(2025, 1, 31, 15, 0, 0, 0, time.UTC)
	assert.False(t, lastTrade.After(*h.sync.input.End), "end %s drops trades of the end date", h.sync.input.End)
	assert.True(t, h.sync.input.End.Before(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
}

func TestSyncRejectsBadInput(t *testing.T) {
	h := newHarness()
	assert.Equal(t, exitError, h.run("sync", "--start", "last week"))
	assert.Nil(t, h.cfg, "backend should not be opened")

	h = newHarness()
	assert.Equal(t, exitError, h.run("--identity", "bad", "sync"))
	assert.Nil(t, h.cfg)
}

func TestValidateCommand(t *testing.T) {
	h := newHarness()
	assert.Equal(t, exitOK, h.run("validate"))
	assert.Contains(t, h.stdout.String(), `"balanced": true`)

	h = newHarness()
	h.ledger.ok = false
	h.ledger.imbalance = &domain.ImbalanceError{Groups: []domain.GroupImbalance{{GroupID: "G7", Sum: decimal.NewFromInt(2)}}}
	assert.Equal(t, exitAttention, h.run("validate"))
	assert.Contains(t, h.stdout.String(), `"G7"`)
}

func TestPostCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "group.json")
	body := `{"group_id":"G1","legs":[
		{"timestamp_utc":"2025-01-02T14:00:00Z","trade_id":"T1","account_code":"Assets:Positions","side":"debit","total_value":"100"},
		{"timestamp_utc":"2025-01-02T14:00:00Z","trade_id":"T1","account_code":"Assets:Cash","side":"credit","total_value":"100"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	h := newHarness()
	require.Equal(t, exitOK, h.run("post", path))
	assert.Equal(t, "tester", h.ledger.posted.Actor)
	assert.Len(t, h.ledger.posted.Legs, 2)
}

func TestMappingUpsertFromFields(t *testing.T) {
	h := newHarness()

	code := h.run("mapping", "upsert", "--field", "broker=ALPACA", "--field", "type=dividend", "--field", "symbol=KO",
		"--account", "Income:Dividends:KO", "--reason", "new payer")
	require.Equal(t, exitOK, code, h.stderr.String())

	in := h.mapping.upserted
	assert.Equal(t, "ALPACA", in.Context.Broker)
	assert.Equal(t, "KO", in.Context.Symbol)
	assert.Equal(t, "Income:Dividends:KO", in.AccountCode)
	assert.Equal(t, "tester", in.Actor)
	assert.JSONEq(t, `{"version":3}`, h.stdout.String())
}

func TestMappingUpsertRequiresKeyOrFields(t *testing.T) {
	h := newHarness()
	assert.Equal(t, exitError, h.run("mapping", "upsert", "--account", "Income:Dividends"))

	h = newHarness()
	assert.Equal(t, exitError, h.run("mapping", "upsert", "--field", "broker", "--account", "Income:Dividends"))
}

func TestMappingShowMissingVersion(t *testing.T) {
	h := newHarness()
	assert.Equal(t, exitError, h.run("mapping", "show", "--version", "42"))
	assert.Contains(t, h.stderr.String(), domain.ErrMappingVersionNotFound.Error())
}

func TestMappingHistoryAndExport(t *testing.T) {
	h := newHarness()
	require.Equal(t, exitOK, h.run("mapping", "history"))
	assert.Contains(t, h.stdout.String(), "alice")

	h = newHarness()
	out := filepath.Join(t.TempDir(), "mapping.yaml")
	require.Equal(t, exitOK, h.run("mapping", "export", "-o", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))

	h = newHarness()
	require.Equal(t, exitOK, h.run("mapping", "import", out))
	assert.Equal(t, data, h.mapping.imported)
}

func TestLotsCommands(t *testing.T) {
	h := newHarness()
	code := h.run("lots", "open", "--symbol", "aapl", "--trade-id", "T1", "--qty", "10", "--unit-cost", "100.5", "--at", "2025-01-02")
	require.Equal(t, exitOK, code, h.stderr.String())
	assert.Equal(t, "AAPL", h.lots.opened.Symbol)
	assert.True(t, h.lots.opened.UnitCost.Equal(decimal.RequireFromString("100.5")))
	assert.Equal(t, domain.PositionLong, h.lots.opened.Side)

	h = newHarness()
	assert.Equal(t, exitError, h.run("lots", "open", "--symbol", "AAPL", "--trade-id", "T1", "--qty", "ten", "--unit-cost", "1"))

	h = newHarness()
	assert.Equal(t, exitError, h.run("lots", "close", "--symbol", "AAPL", "--trade-id", "T2", "--qty", "50", "--proceeds", "1"))
	assert.Contains(t, h.stderr.String(), domain.ErrInsufficientLotQuantity.Error())

	h = newHarness()
	require.Equal(t, exitOK, h.run("lots", "list", "--symbol", "msft", "--side", "short"))
	assert.Contains(t, h.stdout.String(), `"MSFT"`)
}

func TestReconCommands(t *testing.T) {
	h := newHarness()
	require.Equal(t, exitOK, h.run("recon", "list", "--status", "ok"))
	assert.Contains(t, h.stdout.String(), "R1")

	h = newHarness()
	assert.Equal(t, exitError, h.run("recon", "list", "--status", "pending"))

	h = newHarness()
	out := filepath.Join(t.TempDir(), "recon.json")
	require.Equal(t, exitOK, h.run("recon", "snapshot", "-o", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"R1"}]`, string(data))

	h = newHarness()
	assert.Equal(t, exitError, h.run("recon", "export"))

	h = newHarness()
	require.Equal(t, exitOK, h.run("recon", "resolve", "R1", "--notes", "fixed"))
	var view usecase.RecordView
	require.NoError(t, json.Unmarshal(h.stdout.Bytes(), &view))
	assert.Equal(t, "R1", view.ResolvesID)
	assert.Equal(t, "tester", view.Actor)
}

func TestMigrateCommand(t *testing.T) {
	h := newHarness()
	var gotDown bool
	h.cli.migrate = func(ctx context.Context, cfg *config.Config, log zerolog.Logger, down bool) error {
		gotDown = down
		return nil
	}
	require.Equal(t, exitOK, h.run("migrate", "--down"))
	assert.True(t, gotDown)

	h.cli.migrate = func(context.Context, *config.Config, zerolog.Logger, bool) error { return errors.New("no database") }
	assert.Equal(t, exitError, h.run("migrate"))
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("expected short unchanged, got %q", got)
	}

	if got := truncate("longerstring", 6); got != "lon..." {
		t.Fatalf("expected lon..., got %q", got)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	c := newCLI(&buf, io.Discard)

	require.NoError(t, c.printJSON(struct {
		A int `json:"a"`
	}{A: 1}))

	if buf.String() != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("unexpected json output:\n%s", buf.String())
	}
}

func TestParseFields(t *testing.T) {
	txn, err := parseFields([]string{"broker=IBKR", "type = interest", "memo=Credit Interest"})
	require.NoError(t, err)
	assert.Equal(t, "IBKR", txn.Broker)
	assert.Equal(t, "Credit Interest", txn.Memo)
	assert.True(t, strings.HasPrefix(domain.DeriveRuleKey(txn), "ibkr|"))
}
