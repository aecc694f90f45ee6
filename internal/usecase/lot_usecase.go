package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
)

// LotConfig holds lot accounting policy.
type LotConfig struct {
	Policy        domain.AllocationPolicy
	FeesAffectPnL bool
}

// LotUseCase is the lot engine.
type LotUseCase struct {
	txManager  TransactionManager
	lotRepo    LotRepository
	outboxRepo OutboxRepository
	auditRepo  AuditRepository
	idGen      IDGenerator
	cfg        LotConfig
	opts       options
}

// NewLotUseCase creates a new LotUseCase.
func NewLotUseCase(
	txManager TransactionManager,
	lotRepo LotRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	cfg LotConfig,
	opts ...Option,
) *LotUseCase {
	return &LotUseCase{
		txManager:  txManager,
		lotRepo:    lotRepo,
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		idGen:      idGen,
		cfg:        cfg,
		opts:       buildOptions(opts),
	}
}

// Policy returns the configured allocation policy.
func (uc *LotUseCase) Policy() domain.AllocationPolicy { return uc.cfg.Policy }

// OpenLotInput describes a new lot.
type OpenLotInput struct {
	OpenedAt time.Time
	Symbol   string
	Side     domain.PositionSide
	TradeID  string
	Actor    string
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	Fees     decimal.Decimal
}

// RecordOpen creates a lot with QtyRemaining equal to Qty.
func (uc *LotUseCase) RecordOpen(ctx context.Context, input OpenLotInput) (string, error) {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	lot, err := uc.openInTx(ctx, tx, input)
	if err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}

	uc.opts.metrics.LotOpened(string(lot.Side))
	return lot.ID, nil
}

func (uc *LotUseCase) openInTx(ctx context.Context, tx Transaction, input OpenLotInput) (*domain.Lot, error) {
	symbol := strings.ToUpper(strings.TrimSpace(input.Symbol))
	if err := domain.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if err := domain.ValidateQuantity(input.Qty); err != nil {
		return nil, err
	}
	if input.UnitCost.IsNegative() {
		return nil, fmt.Errorf("%w: unit cost", domain.ErrInvalidPrice)
	}
	if input.Fees.IsNegative() {
		return nil, fmt.Errorf("%w: fees", domain.ErrInvalidPrice)
	}
	if input.Side != domain.PositionLong && input.Side != domain.PositionShort {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSide, input.Side)
	}

	openedAt := input.OpenedAt
	if openedAt.IsZero() {
		openedAt = uc.opts.now()
	}

	lot := &domain.Lot{
		ID:            uc.idGen.Generate(),
		Symbol:        symbol,
		Side:          input.Side,
		OpenedTradeID: input.TradeID,
		QtyOpen:       input.Qty,
		QtyRemaining:  input.Qty,
		UnitCost:      input.UnitCost,
		FeesAlloc:     input.Fees,
		OpenedAt:      openedAt.UTC(),
	}

	if err := uc.lotRepo.Create(ctx, tx, lot); err != nil {
		return nil, err
	}

	if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uc.idGen.Generate(),
		Actor:        actorOrSystem(input.Actor),
		Action:       domain.AuditActionLotOpened,
		ResourceType: domain.ResourceLot,
		ResourceID:   lot.ID,
		Reference:    lot.OpenedTradeID,
		AfterState:   domain.MarshalState(lot),
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    uc.opts.now(),
	}); err != nil {
		return nil, err
	}

	return lot, nil
}

// AllocateForClose plans which open lots a close of qty would consume.
// Nothing is mutated.
func (uc *LotUseCase) AllocateForClose(
	ctx context.Context,
	symbol string,
	qty decimal.Decimal,
	side domain.PositionSide,
	policy domain.AllocationPolicy,
) ([]domain.Allocation, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	lots, err := uc.ListOpenLots(ctx, symbol, side)
	if err != nil {
		return nil, err
	}

	return domain.AllocateLots(symbol, side, lots, qty, policy)
}

// ListOpenLots returns lots of symbol and side with quantity remaining.
func (uc *LotUseCase) ListOpenLots(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error) {
	return retryRead(ctx, uc.opts.retrier, func() ([]*domain.Lot, error) {
		return uc.lotRepo.ListOpen(ctx, strings.ToUpper(strings.TrimSpace(symbol)), side)
	})
}

// ListClosures returns the closure rows written for a closing trade.
func (uc *LotUseCase) ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error) {
	return retryRead(ctx, uc.opts.retrier, func() ([]*domain.LotClosure, error) {
		return uc.lotRepo.ListClosures(ctx, closeTradeID)
	})
}

// RecordCloseInput applies a planned allocation.
type RecordCloseInput struct {
	ClosedAt      time.Time
	Symbol        string
	Side          domain.PositionSide
	CloseTradeID  string
	Actor         string
	Allocations   []domain.Allocation
	ProceedsTotal decimal.Decimal
	CloseFees     decimal.Decimal
}

// RecordClose consumes the allocated lots and writes closure rows in one
// transaction. Every allocation is re-checked against the locked lot, so a
// stale plan fails as a whole with *domain.InsufficientLotQuantityError.
func (uc *LotUseCase) RecordClose(ctx context.Context, input RecordCloseInput) (*domain.CloseSummary, error) {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	summary, err := uc.closeInTx(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	uc.opts.metrics.LotClosed(string(summary.Side), summary.RealizedPnLTotal.InexactFloat64())
	return summary, nil
}

// CloseInput closes qty using the configured policy.
type CloseInput struct {
	ClosedAt      time.Time
	Symbol        string
	Side          domain.PositionSide
	CloseTradeID  string
	Actor         string
	Qty           decimal.Decimal
	ProceedsTotal decimal.Decimal
	CloseFees     decimal.Decimal
}

// Close allocates with the configured policy and records the close.
func (uc *LotUseCase) Close(ctx context.Context, input CloseInput) (*domain.CloseSummary, error) {
	allocations, err := uc.AllocateForClose(ctx, input.Symbol, input.Qty, input.Side, uc.cfg.Policy)
	if err != nil {
		return nil, err
	}

	return uc.RecordClose(ctx, input.recordInput(allocations))
}

// CloseFIFO allocates oldest-first and records the close.
func (uc *LotUseCase) CloseFIFO(ctx context.Context, input CloseInput) (*domain.CloseSummary, error) {
	allocations, err := uc.AllocateForClose(ctx, input.Symbol, input.Qty, input.Side, domain.FIFO)
	if err != nil {
		return nil, err
	}

	return uc.RecordClose(ctx, input.recordInput(allocations))
}

func (in CloseInput) recordInput(allocations []domain.Allocation) RecordCloseInput {
	return RecordCloseInput{
		ClosedAt:      in.ClosedAt,
		Symbol:        in.Symbol,
		Side:          in.Side,
		CloseTradeID:  in.CloseTradeID,
		Actor:         in.Actor,
		Allocations:   allocations,
		ProceedsTotal: in.ProceedsTotal,
		CloseFees:     in.CloseFees,
	}
}

func (uc *LotUseCase) closeInTx(ctx context.Context, tx Transaction, input RecordCloseInput) (*domain.CloseSummary, error) {
	symbol := strings.ToUpper(strings.TrimSpace(input.Symbol))

	requested := make(map[string]decimal.Decimal)
	for _, a := range input.Allocations {
		if a.Qty.IsZero() {
			continue
		}
		requested[a.LotID] = requested[a.LotID].Add(a.Qty)
	}

	// lock in id order so concurrent closes cannot deadlock
	ids := make([]string, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lots, err := uc.lotRepo.GetByIDsForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.Lot, len(lots))
	for _, l := range lots {
		byID[l.ID] = l
	}

	for _, id := range ids {
		lot, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrLotNotFound, id)
		}
		if lot.Symbol != symbol || lot.Side != input.Side {
			return nil, fmt.Errorf("%w: lot %s is %s %s", domain.ErrInvalidQuantity, id, lot.Side, lot.Symbol)
		}
		if requested[id].GreaterThan(lot.QtyRemaining) {
			return nil, &domain.InsufficientLotQuantityError{
				Symbol:    symbol,
				Side:      input.Side,
				Requested: requested[id],
				Available: lot.QtyRemaining,
			}
		}
	}

	closedAt := input.ClosedAt
	if closedAt.IsZero() {
		closedAt = uc.opts.now()
	}

	summary, err := domain.ComputeClose(input.Allocations, domain.CloseParams{
		ClosedAt:      closedAt.UTC(),
		Side:          input.Side,
		CloseTradeID:  input.CloseTradeID,
		ProceedsTotal: input.ProceedsTotal,
		CloseFees:     input.CloseFees,
		FeesAffectPnL: uc.cfg.FeesAffectPnL,
	})
	if err != nil {
		return nil, err
	}

	lotIDs := make([]string, 0, len(summary.Closures))
	for i := range summary.Closures {
		c := &summary.Closures[i]
		lot := byID[c.LotID]
		if err := lot.Consume(c.Qty); err != nil {
			return nil, err
		}
		if err := uc.lotRepo.UpdateRemaining(ctx, tx, lot.ID, lot.QtyRemaining); err != nil {
			return nil, err
		}

		c.ID = uc.idGen.Generate()
		if err := uc.lotRepo.CreateClosure(ctx, tx, c); err != nil {
			return nil, err
		}
		lotIDs = append(lotIDs, lot.ID)
	}

	payload := domain.MarshalState(domain.LotClosedEvent{
		CloseTradeID: input.CloseTradeID,
		Side:         string(input.Side),
		LotIDs:       lotIDs,
		QtyClosed:    summary.QtyClosed.String(),
		RealizedPnL:  summary.RealizedPnLTotal.String(),
	})

	if err := uc.outboxRepo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            uc.idGen.Generate(),
		AggregateID:   input.CloseTradeID,
		AggregateType: domain.AggregateTypeLot,
		EventType:     domain.EventTypeLotClosed,
		Payload:       payload,
		CreatedAt:     uc.opts.now(),
	}); err != nil {
		return nil, err
	}

	if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uc.idGen.Generate(),
		Actor:        actorOrSystem(input.Actor),
		Action:       domain.AuditActionLotClosed,
		ResourceType: domain.ResourceLot,
		ResourceID:   strings.Join(lotIDs, ","),
		Reference:    input.CloseTradeID,
		AfterState:   payload,
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    uc.opts.now(),
	}); err != nil {
		return nil, err
	}

	return summary, nil
}
