package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// MockTransactionManager is a mock implementation of TransactionManager.
// Transactions it hands out stage repository writes until Commit.
type MockTransactionManager struct {
	BeginFunc func(ctx context.Context) (usecase.Transaction, error)

	mu        sync.Mutex
	Begun     int
	Committed int
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) Begin(ctx context.Context) (usecase.Transaction, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx)
	}
	m.mu.Lock()
	m.Begun++
	m.mu.Unlock()
	return &MockTransaction{onCommit: func() {
		m.mu.Lock()
		m.Committed++
		m.mu.Unlock()
	}}, nil
}

// MockTransaction is a mock implementation of Transaction.
type MockTransaction struct {
	CommitFunc   func(ctx context.Context) error
	RollbackFunc func(ctx context.Context) error

	mu       sync.Mutex
	staged   []func()
	done     bool
	onCommit func()
}

// stage defers fn until Commit. Writes outside a MockTransaction apply at once.
func stage(tx usecase.Transaction, fn func()) {
	mt, ok := tx.(*MockTransaction)
	if !ok || mt == nil {
		fn()
		return
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.staged = append(mt.staged, fn)
}

func (m *MockTransaction) Commit(ctx context.Context) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return fmt.Errorf("transaction already closed")
	}
	for _, fn := range m.staged {
		fn()
	}
	m.staged = nil
	m.done = true
	if m.onCommit != nil {
		m.onCommit()
	}
	return nil
}

func (m *MockTransaction) Rollback(ctx context.Context) error {
	if m.RollbackFunc != nil {
		return m.RollbackFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged = nil
	m.done = true
	return nil
}

// MockIDGenerator is a mock implementation of IDGenerator. Generated ids
// sort in generation order.
type MockIDGenerator struct {
	GenerateFunc func() string
	counter      int
	mu           sync.Mutex
}

func NewMockIDGenerator() *MockIDGenerator {
	return &MockIDGenerator{}
}

func (m *MockIDGenerator) Generate() string {
	if m.GenerateFunc != nil {
		return m.GenerateFunc()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counter++
	return fmt.Sprintf("mock-id-%06d", m.counter)
}

// MockLegRepository is an in-memory LegRepository.
type MockLegRepository struct {
	mu   sync.RWMutex
	legs []*domain.Leg

	CreateBatchFunc     func(ctx context.Context, tx usecase.Transaction, legs []*domain.Leg) error
	FindImbalancesFunc  func(ctx context.Context) ([]domain.GroupImbalance, error)
	GetByGroupFunc      func(ctx context.Context, groupID string) ([]*domain.Leg, error)
	TradeIDsBetweenFunc func(ctx context.Context, start, end time.Time) ([]string, error)
}

func NewMockLegRepository() *MockLegRepository {
	return &MockLegRepository{}
}

func copyLeg(l *domain.Leg) *domain.Leg {
	c := *l
	if l.Metadata != nil {
		c.Metadata = make(map[string]any, len(l.Metadata))
		for k, v := range l.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Seed inserts legs directly, bypassing validation.
func (m *MockLegRepository) Seed(legs ...*domain.Leg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range legs {
		m.legs = append(m.legs, copyLeg(l))
	}
}

// Count returns the number of stored legs.
func (m *MockLegRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.legs)
}

func (m *MockLegRepository) CreateBatch(ctx context.Context, tx usecase.Transaction, legs []*domain.Leg) error {
	if m.CreateBatchFunc != nil {
		return m.CreateBatchFunc(ctx, tx, legs)
	}
	copies := make([]*domain.Leg, len(legs))
	for i, l := range legs {
		copies[i] = copyLeg(l)
	}
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.legs = append(m.legs, copies...)
	})
	return nil
}

func (m *MockLegRepository) GroupExists(ctx context.Context, tx usecase.Transaction, groupID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.legs {
		if l.GroupID == groupID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockLegRepository) GetByID(ctx context.Context, id string) (*domain.Leg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.legs {
		if l.ID == id {
			return copyLeg(l), nil
		}
	}
	return nil, domain.ErrLegNotFound
}

func (m *MockLegRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Leg, error) {
	return m.GetByID(ctx, id)
}

func (m *MockLegRepository) GetByGroup(ctx context.Context, groupID string) ([]*domain.Leg, error) {
	if m.GetByGroupFunc != nil {
		return m.GetByGroupFunc(ctx, groupID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Leg
	for _, l := range m.legs {
		if l.GroupID == groupID {
			out = append(out, copyLeg(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LegNo < out[j].LegNo })
	return out, nil
}

func (m *MockLegRepository) List(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Leg
	for _, l := range m.legs {
		if filter.GroupID != "" && l.GroupID != filter.GroupID {
			continue
		}
		if filter.TradeID != "" && l.TradeID != filter.TradeID {
			continue
		}
		if filter.AccountCode != "" && l.AccountCode != filter.AccountCode {
			continue
		}
		if filter.Symbol != "" && l.Symbol != filter.Symbol {
			continue
		}
		if filter.Start != nil && l.TimestampUTC.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && l.TimestampUTC.After(*filter.End) {
			continue
		}
		out = append(out, copyLeg(l))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TimestampUTC.Equal(out[j].TimestampUTC) {
			return out[i].TimestampUTC.After(out[j].TimestampUTC)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *MockLegRepository) UpdateClassification(ctx context.Context, tx usecase.Transaction, leg *domain.Leg) error {
	updated := copyLeg(leg)
	found := false
	m.mu.RLock()
	for _, l := range m.legs {
		if l.ID == leg.ID {
			found = true
		}
	}
	m.mu.RUnlock()
	if !found {
		return domain.ErrLegNotFound
	}
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, l := range m.legs {
			if l.ID == updated.ID {
				l.AccountCode = updated.AccountCode
				l.Strategy = updated.Strategy
				l.Metadata = updated.Metadata
				l.UpdatedAt = updated.UpdatedAt
			}
		}
	})
	return nil
}

// FindImbalances groups by trade id, like the store query.
func (m *MockLegRepository) FindImbalances(ctx context.Context) ([]domain.GroupImbalance, error) {
	if m.FindImbalancesFunc != nil {
		return m.FindImbalancesFunc(ctx)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := map[string]decimal.Decimal{}
	bad := map[string]bool{}
	var order []string
	for _, l := range m.legs {
		if _, ok := sums[l.TradeID]; !ok {
			order = append(order, l.TradeID)
		}
		sums[l.TradeID] = sums[l.TradeID].Add(l.TotalValue)
		if (l.Side == domain.SideDebit && !l.TotalValue.IsPositive()) ||
			(l.Side == domain.SideCredit && !l.TotalValue.IsNegative()) {
			bad[l.TradeID] = true
		}
	}

	var out []domain.GroupImbalance
	for _, id := range order {
		switch {
		case bad[id]:
			out = append(out, domain.GroupImbalance{GroupID: id, Sum: sums[id], Reason: "sign does not match side"})
		case !domain.IsBalanced(sums[id]):
			out = append(out, domain.GroupImbalance{GroupID: id, Sum: sums[id]})
		}
	}
	return out, nil
}

func (m *MockLegRepository) AccountBalances(ctx context.Context, asOf *time.Time) ([]domain.AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byCode := map[string]*domain.AccountBalance{}
	for _, l := range m.legs {
		if asOf != nil && l.TimestampUTC.After(*asOf) {
			continue
		}
		b, ok := byCode[l.AccountCode]
		if !ok {
			b = &domain.AccountBalance{AccountCode: l.AccountCode, Root: domain.AccountRoot(l.AccountCode)}
			byCode[l.AccountCode] = b
		}
		if l.TotalValue.IsPositive() {
			b.Debits = b.Debits.Add(l.TotalValue)
		} else {
			b.Credits = b.Credits.Add(l.TotalValue.Neg())
		}
		b.Balance = b.Balance.Add(l.TotalValue)
		b.Legs++
	}
	out := make([]domain.AccountBalance, 0, len(byCode))
	for _, b := range byCode {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountCode < out[j].AccountCode })
	return out, nil
}

func (m *MockLegRepository) TradeIDsBetween(ctx context.Context, start, end time.Time) ([]string, error) {
	if m.TradeIDsBetweenFunc != nil {
		return m.TradeIDsBetweenFunc(ctx, start, end)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, l := range m.legs {
		if l.TimestampUTC.Before(start) || l.TimestampUTC.After(end) || seen[l.TradeID] {
			continue
		}
		seen[l.TradeID] = true
		out = append(out, l.TradeID)
	}
	sort.Strings(out)
	return out, nil
}

// MockLotRepository is an in-memory LotRepository.
type MockLotRepository struct {
	mu       sync.RWMutex
	lots     map[string]*domain.Lot
	closures []*domain.LotClosure

	ListOpenFunc func(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error)
}

func NewMockLotRepository() *MockLotRepository {
	return &MockLotRepository{lots: make(map[string]*domain.Lot)}
}

func copyLot(l *domain.Lot) *domain.Lot {
	c := *l
	return &c
}

func (m *MockLotRepository) Create(ctx context.Context, tx usecase.Transaction, lot *domain.Lot) error {
	c := copyLot(lot)
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.lots[c.ID] = c
	})
	return nil
}

// Get returns a stored lot, or nil.
func (m *MockLotRepository) Get(id string) *domain.Lot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if l, ok := m.lots[id]; ok {
		return copyLot(l)
	}
	return nil
}

// All returns every stored lot ordered by open time.
func (m *MockLotRepository) All() []*domain.Lot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Lot, 0, len(m.lots))
	for _, l := range m.lots {
		out = append(out, copyLot(l))
	}
	domain.SortLots(out, domain.FIFO)
	return out
}

func (m *MockLotRepository) ListOpen(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error) {
	if m.ListOpenFunc != nil {
		return m.ListOpenFunc(ctx, symbol, side)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Lot
	for _, l := range m.lots {
		if l.Symbol == symbol && l.Side == side && l.QtyRemaining.IsPositive() {
			out = append(out, copyLot(l))
		}
	}
	domain.SortLots(out, domain.FIFO)
	return out, nil
}

func (m *MockLotRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Lot
	for _, id := range ids {
		if l, ok := m.lots[id]; ok {
			out = append(out, copyLot(l))
		}
	}
	return out, nil
}

func (m *MockLotRepository) UpdateRemaining(ctx context.Context, tx usecase.Transaction, id string, remaining decimal.Decimal) error {
	m.mu.RLock()
	_, ok := m.lots[id]
	m.mu.RUnlock()
	if !ok {
		return domain.ErrLotNotFound
	}
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.lots[id].QtyRemaining = remaining
	})
	return nil
}

func (m *MockLotRepository) CreateClosure(ctx context.Context, tx usecase.Transaction, closure *domain.LotClosure) error {
	c := *closure
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.closures = append(m.closures, &c)
	})
	return nil
}

func (m *MockLotRepository) ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.LotClosure
	for _, c := range m.closures {
		if closeTradeID == "" || c.CloseTradeID == closeTradeID {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

// MockMappingRepository is an in-memory MappingRepository.
type MockMappingRepository struct {
	mu       sync.RWMutex
	versions []*domain.MappingTable

	LockForWriteFunc func(ctx context.Context, tx usecase.Transaction) error
	LatestCalls      int
}

func NewMockMappingRepository() *MockMappingRepository {
	return &MockMappingRepository{}
}

func copyTable(t *domain.MappingTable) *domain.MappingTable {
	c := *t
	c.Rules = append([]domain.MappingRule(nil), t.Rules...)
	return &c
}

func (m *MockMappingRepository) LockForWrite(ctx context.Context, tx usecase.Transaction) error {
	if m.LockForWriteFunc != nil {
		return m.LockForWriteFunc(ctx, tx)
	}
	return nil
}

func (m *MockMappingRepository) Latest(ctx context.Context, tx usecase.Transaction) (*domain.MappingTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LatestCalls++
	if len(m.versions) == 0 {
		return nil, nil
	}
	return copyTable(m.versions[len(m.versions)-1]), nil
}

func (m *MockMappingRepository) GetVersion(ctx context.Context, tx usecase.Transaction, version int64) (*domain.MappingTable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.Version == version {
			return copyTable(v), nil
		}
	}
	return nil, domain.ErrMappingVersionNotFound
}

func (m *MockMappingRepository) CreateVersion(ctx context.Context, tx usecase.Transaction, table *domain.MappingTable) error {
	c := copyTable(table)
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.versions = append(m.versions, c)
	})
	return nil
}

func (m *MockMappingRepository) History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.MappingVersion, 0, len(m.versions))
	for i := len(m.versions) - 1; i >= 0; i-- {
		v := m.versions[i]
		out = append(out, domain.MappingVersion{
			Version:        v.Version,
			CreatedAt:      v.UpdatedAt,
			CreatedBy:      v.UpdatedBy,
			Reason:         v.Reason,
			RuleCount:      len(v.Rules),
			RolledBackFrom: v.RolledBackFrom,
		})
	}
	return page(out, limit, offset), nil
}

// MockReconciliationRepository is an in-memory append-only log.
type MockReconciliationRepository struct {
	mu      sync.RWMutex
	records []*domain.ReconciliationRecord

	AppendFunc func(ctx context.Context, record *domain.ReconciliationRecord) error
}

func NewMockReconciliationRepository() *MockReconciliationRepository {
	return &MockReconciliationRepository{}
}

func (m *MockReconciliationRepository) Append(ctx context.Context, record *domain.ReconciliationRecord) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, record)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *record
	m.records = append(m.records, &c)
	return nil
}

func (m *MockReconciliationRepository) GetByID(ctx context.Context, id string) (*domain.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (m *MockReconciliationRepository) List(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.ReconciliationRecord
	for _, r := range m.records {
		if filter.SyncRunID != "" && r.SyncRunID != filter.SyncRunID {
			continue
		}
		if filter.TradeID != "" && r.TradeID != filter.TradeID {
			continue
		}
		if filter.GroupID != "" && r.GroupID != filter.GroupID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Start != nil && r.TimestampUTC.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && r.TimestampUTC.After(*filter.End) {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sortRecords(out)
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *MockReconciliationRepository) All(ctx context.Context) ([]*domain.ReconciliationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.ReconciliationRecord, 0, len(m.records))
	for _, r := range m.records {
		c := *r
		out = append(out, &c)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(records []*domain.ReconciliationRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].TimestampUTC.Equal(records[j].TimestampUTC) {
			return records[i].TimestampUTC.After(records[j].TimestampUTC)
		}
		return records[i].ID > records[j].ID
	})
}

// MockOutboxRepository is an in-memory OutboxRepository.
type MockOutboxRepository struct {
	mu     sync.RWMutex
	events []*domain.OutboxEvent

	CreateFunc func(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error
}

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{}
}

func (m *MockOutboxRepository) Create(ctx context.Context, tx usecase.Transaction, event *domain.OutboxEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tx, event)
	}
	c := *event
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.events = append(m.events, &c)
	})
	return nil
}

// EventTypes lists the stored event types in insertion order.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

func (m *MockOutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if !e.Published {
			out = append(out, e)
		}
	}
	return page(out, limit, 0), nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ID == id {
			e.Published = true
			e.PublishedAt = &publishedAt
		}
	}
	return nil
}

func (m *MockOutboxRepository) GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.OutboxEvent
	for _, e := range m.events {
		if e.AggregateType == aggregateType && e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return page(out, limit, offset), nil
}

func (m *MockOutboxRepository) DeletePublished(ctx context.Context, before time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	for _, e := range m.events {
		if e.Published && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return nil
}

// MockAuditRepository is an in-memory AuditRepository.
type MockAuditRepository struct {
	mu   sync.RWMutex
	logs []*domain.AuditLog
}

func NewMockAuditRepository() *MockAuditRepository {
	return &MockAuditRepository{}
}

func (m *MockAuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *log
	m.logs = append(m.logs, &c)
	return nil
}

func (m *MockAuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	c := *log
	stage(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.logs = append(m.logs, &c)
	})
	return nil
}

func (m *MockAuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.AuditLog
	for _, l := range m.logs {
		if filter.Action != "" && string(l.Action) != filter.Action {
			continue
		}
		if filter.ResourceType != "" && l.ResourceType != filter.ResourceType {
			continue
		}
		if filter.Reference != "" && l.Reference != filter.Reference {
			continue
		}
		if filter.Actor != "" && l.Actor != filter.Actor {
			continue
		}
		out = append(out, l)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

// MockCache is an in-memory Cache.
type MockCache struct {
	mu   sync.RWMutex
	data map[string][]byte

	Gets, Sets, Deletes int
}

func NewMockCache() *MockCache {
	return &MockCache{data: make(map[string][]byte)}
}

func (m *MockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Gets++
	return m.data[key], nil
}

func (m *MockCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sets++
	m.data[key] = value
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deletes++
	delete(m.data, key)
	return nil
}

// MockIdempotencyStore is a mock implementation of IdempotencyStore.
type MockIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	CheckAndSetFunc func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	UpdateFunc      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{
		data: make(map[string][]byte),
	}
}

func (m *MockIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if m.CheckAndSetFunc != nil {
		return m.CheckAndSetFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.data[key]; ok {
		return true, existing, nil
	}
	if response != nil {
		m.data[key] = response
	} else {
		m.data[key] = []byte("processing")
	}
	return false, nil, nil
}

func (m *MockIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, key, response, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = response
	return nil
}

// RecordingMetrics counts observations by name.
type RecordingMetrics struct {
	mu     sync.Mutex
	Counts map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{Counts: map[string]int{}}
}

func (m *RecordingMetrics) inc(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counts[name]++
}

func (m *RecordingMetrics) GroupPosted(int)           { m.inc("group_posted") }
func (m *RecordingMetrics) PostRejected(r string)     { m.inc("rejected:" + r) }
func (m *RecordingMetrics) LotOpened(string)          { m.inc("lot_opened") }
func (m *RecordingMetrics) LotClosed(string, float64) { m.inc("lot_closed") }
func (m *RecordingMetrics) MappingVersion(int64)      { m.inc("mapping_version") }
func (m *RecordingMetrics) ReconEntry(s string)       { m.inc("recon:" + s) }
func (m *RecordingMetrics) SyncFinished(s string, _ time.Duration) {
	m.inc("sync:" + s)
}

// StaticBroker is a BrokerClient over fixed records.
type StaticBroker struct {
	Trades []domain.BrokerRecord
	Cash   []domain.BrokerRecord
}

func (b *StaticBroker) FetchTrades(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	return filterWindow(b.Trades, start, end), nil
}

func (b *StaticBroker) FetchCashActivity(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error) {
	return filterWindow(b.Cash, start, end), nil
}

func filterWindow(records []domain.BrokerRecord, start, end *time.Time) []domain.BrokerRecord {
	var out []domain.BrokerRecord
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

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
