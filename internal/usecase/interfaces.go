package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
)

// LegRepository defines data access for trade legs.
type LegRepository interface {
	CreateBatch(ctx context.Context, tx Transaction, legs []*domain.Leg) error
	GroupExists(ctx context.Context, tx Transaction, groupID string) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Leg, error)
	GetByIDForUpdate(ctx context.Context, tx Transaction, id string) (*domain.Leg, error)
	GetByGroup(ctx context.Context, groupID string) ([]*domain.Leg, error)
	List(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error)
	UpdateClassification(ctx context.Context, tx Transaction, leg *domain.Leg) error
	FindImbalances(ctx context.Context) ([]domain.GroupImbalance, error)
	AccountBalances(ctx context.Context, asOf *time.Time) ([]domain.AccountBalance, error)
	TradeIDsBetween(ctx context.Context, start, end time.Time) ([]string, error)
}

// LotRepository defines data access for lots and their closures.
type LotRepository interface {
	Create(ctx context.Context, tx Transaction, lot *domain.Lot) error
	ListOpen(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error)
	GetByIDsForUpdate(ctx context.Context, tx Transaction, ids []string) ([]*domain.Lot, error)
	UpdateRemaining(ctx context.Context, tx Transaction, id string, remaining decimal.Decimal) error
	CreateClosure(ctx context.Context, tx Transaction, closure *domain.LotClosure) error
	ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error)
}

// MappingRepository persists the versioned mapping table.
type MappingRepository interface {
	// LockForWrite serializes mapping writers until tx ends.
	LockForWrite(ctx context.Context, tx Transaction) error
	Latest(ctx context.Context, tx Transaction) (*domain.MappingTable, error)
	GetVersion(ctx context.Context, tx Transaction, version int64) (*domain.MappingTable, error)
	CreateVersion(ctx context.Context, tx Transaction, table *domain.MappingTable) error
	History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error)
}

// ReconciliationRepository appends to and reads the reconciliation log.
// There is deliberately no update or delete.
type ReconciliationRepository interface {
	Append(ctx context.Context, record *domain.ReconciliationRecord) error
	GetByID(ctx context.Context, id string) (*domain.ReconciliationRecord, error)
	List(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error)
	All(ctx context.Context) ([]*domain.ReconciliationRecord, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// AuditRepository defines data access for audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
	CreateTx(ctx context.Context, tx Transaction, log *domain.AuditLog) error
	List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error)
}

// SnapshotStore copies the ledger store to a timestamped location.
type SnapshotStore interface {
	Snapshot(ctx context.Context, tag string) (string, error)
}

// BrokerClient is the broker collaborator. Implementations own their own
// retry policy; the ledger core never retries broker I/O.
type BrokerClient interface {
	FetchTrades(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error)
	FetchCashActivity(ctx context.Context, start, end *time.Time) ([]domain.BrokerRecord, error)
}

// SyncLock keeps two syncs of the same identity from overlapping.
type SyncLock interface {
	// Acquire returns a release func, or domain.ErrSyncInProgress.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier retries read operations on transient store errors.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache defines caching operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// Metrics receives ledger core observations.
type Metrics interface {
	GroupPosted(legs int)
	PostRejected(reason string)
	LotOpened(side string)
	LotClosed(side string, realized float64)
	MappingVersion(version int64)
	ReconEntry(status string)
	SyncFinished(status string, d time.Duration)
}
