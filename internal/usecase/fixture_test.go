package usecase_test

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
	"github.com/iho/botledger/internal/usecase/mocks"
)

var testIdentity = domain.Identity{Entity: "ACME", Jurisdiction: "US", Broker: "ALPACA", BotID: "BOT1"}

var testAccounts = usecase.AccountDefaults{
	Cash:          "Assets:Brokerage:Cash",
	Fees:          "Expenses:Brokerage:Fees",
	RealizedPnL:   "Income:RealizedGains",
	LongPosition:  "Assets:Brokerage:Positions",
	ShortPosition: "Liabilities:Brokerage:ShortPositions",
}

// testClock ticks one second per call so ordered reads are deterministic.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	clock   *testClock
	metrics *mocks.RecordingMetrics
	txMgr   *mocks.MockTransactionManager
	ids     *mocks.MockIDGenerator
	legs    *mocks.MockLegRepository
	lots    *mocks.MockLotRepository
	mapRepo *mocks.MockMappingRepository
	recon   *mocks.MockReconciliationRepository
	outbox  *mocks.MockOutboxRepository
	audit   *mocks.MockAuditRepository
	cache   *mocks.MockCache

	posting *usecase.PostingUseCase
	lotUC   *usecase.LotUseCase
	mapping *usecase.MappingUseCase
	reconUC *usecase.ReconciliationUseCase
}

func newFixture(cfg usecase.LotConfig) *fixture {
	f := &fixture{
		clock:   newTestClock(),
		metrics: mocks.NewRecordingMetrics(),
		txMgr:   mocks.NewMockTransactionManager(),
		ids:     mocks.NewMockIDGenerator(),
		legs:    mocks.NewMockLegRepository(),
		lots:    mocks.NewMockLotRepository(),
		mapRepo: mocks.NewMockMappingRepository(),
		recon:   mocks.NewMockReconciliationRepository(),
		outbox:  mocks.NewMockOutboxRepository(),
		audit:   mocks.NewMockAuditRepository(),
		cache:   mocks.NewMockCache(),
	}

	opts := []usecase.Option{usecase.WithClock(f.clock.Now), usecase.WithMetrics(f.metrics)}

	f.posting = usecase.NewPostingUseCase(f.txMgr, f.legs, f.outbox, f.audit, f.ids, opts...)
	f.lotUC = usecase.NewLotUseCase(f.txMgr, f.lots, f.outbox, f.audit, f.ids, cfg, opts...)
	f.mapping = usecase.NewMappingUseCase(f.txMgr, f.mapRepo, f.audit, f.outbox, f.ids, testIdentity, f.cache, opts...)
	f.reconUC = usecase.NewReconciliationUseCase(f.recon, f.ids, testIdentity, opts...)

	return f
}

func (f *fixture) syncUseCase(broker usecase.BrokerClient, snapshots usecase.SnapshotStore, lock usecase.SyncLock) *usecase.SyncUseCase {
	return usecase.NewSyncUseCase(usecase.SyncDeps{
		Posting:        f.posting,
		Lots:           f.lotUC,
		Mapping:        f.mapping,
		Reconciliation: f.reconUC,
		TxManager:      f.txMgr,
		LegRepo:        f.legs,
		OutboxRepo:     f.outbox,
		AuditRepo:      f.audit,
		IDGen:          f.ids,
		Broker:         broker,
		Snapshots:      snapshots,
		Lock:           lock,
	}, usecase.SyncConfig{
		Identity: testIdentity,
		Accounts: testAccounts,
	}, usecase.WithClock(f.clock.Now), usecase.WithMetrics(f.metrics))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func leg(account string, side domain.Side, value string) *domain.Leg {
	return &domain.Leg{AccountCode: account, Side: side, TotalValue: d(value)}
}
