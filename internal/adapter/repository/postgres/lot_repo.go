package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const lotColumns = `id, symbol, side, qty_open, qty_remaining, unit_cost, fees_alloc, opened_trade_id, opened_at`

const closureColumns = `id, lot_id, close_trade_id, qty, basis_amount, proceeds_amount, fees_alloc, realized_pnl, closed_at`

// LotRepository implements usecase.LotRepository.
type LotRepository struct {
	db querier
}

// NewLotRepository creates a new LotRepository.
func NewLotRepository(pool *pgxpool.Pool) *LotRepository {
	return &LotRepository{db: pool}
}

// Create inserts a lot.
func (r *LotRepository) Create(ctx context.Context, tx usecase.Transaction, lot *domain.Lot) error {
	_, err := txQuerier(tx).Exec(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		lot.ID, lot.Symbol, string(lot.Side),
		decimalToNumeric(lot.QtyOpen), decimalToNumeric(lot.QtyRemaining),
		decimalToNumeric(lot.UnitCost), decimalToNumeric(lot.FeesAlloc),
		lot.OpenedTradeID, timeToPgTimestamptz(lot.OpenedAt))
	if err != nil {
		return classify("insert lot", err)
	}
	return nil
}

// ListOpen returns open lots of symbol and side, oldest first.
func (r *LotRepository) ListOpen(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+lotColumns+` FROM lots
		WHERE symbol = $1 AND side = $2 AND qty_remaining > 0
		ORDER BY opened_at, id`, symbol, string(side))
	if err != nil {
		return nil, classify("list open lots", err)
	}
	lots, err := pgx.CollectRows(rows, scanLot)
	if err != nil {
		return nil, classify("list open lots", err)
	}
	return lots, nil
}

// GetByIDsForUpdate locks the given lots in id order until tx ends. Lots
// that do not exist are absent from the result.
func (r *LotRepository) GetByIDsForUpdate(ctx context.Context, tx usecase.Transaction, ids []string) ([]*domain.Lot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := txQuerier(tx).Query(ctx, `
		SELECT `+lotColumns+` FROM lots
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, classify("lock lots", err)
	}
	lots, err := pgx.CollectRows(rows, scanLot)
	if err != nil {
		return nil, classify("lock lots", err)
	}
	return lots, nil
}

// UpdateRemaining sets the remaining quantity of a lot. The CHECK
// constraint on lots rejects values outside [0, qty_open].
func (r *LotRepository) UpdateRemaining(ctx context.Context, tx usecase.Transaction, id string, remaining decimal.Decimal) error {
	tag, err := txQuerier(tx).Exec(ctx, `
		UPDATE lots SET qty_remaining = $2, updated_at = NOW()
		WHERE id = $1 AND qty_remaining >= $2`,
		id, decimalToNumeric(remaining))
	if err != nil {
		return classify("update lot", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update lot %s: %w", id, domain.ErrLotNotFound)
	}
	return nil
}

// CreateClosure inserts one closure row.
func (r *LotRepository) CreateClosure(ctx context.Context, tx usecase.Transaction, c *domain.LotClosure) error {
	_, err := txQuerier(tx).Exec(ctx, `
		INSERT INTO lot_closures (`+closureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.LotID, c.CloseTradeID,
		decimalToNumeric(c.Qty), decimalToNumeric(c.BasisAmount),
		decimalToNumeric(c.ProceedsAmount), decimalToNumeric(c.FeesAlloc),
		decimalToNumeric(c.RealizedPnL), timeToPgTimestamptz(c.ClosedAt))
	if err != nil {
		return classify("insert closure", err)
	}
	return nil
}

// ListClosures returns closures of one close trade, or all when
// closeTradeID is empty, in close order.
func (r *LotRepository) ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+closureColumns+` FROM lot_closures
		WHERE $1 = '' OR close_trade_id = $1
		ORDER BY closed_at, id`, closeTradeID)
	if err != nil {
		return nil, classify("list closures", err)
	}
	closures, err := pgx.CollectRows(rows, scanClosure)
	if err != nil {
		return nil, classify("list closures", err)
	}
	return closures, nil
}

func scanLot(row pgx.CollectableRow) (*domain.Lot, error) {
	var (
		l                           domain.Lot
		side                        string
		qtyOpen, qtyRem, cost, fees pgtype.Numeric
		openedAt                    pgtype.Timestamptz
	)
	if err := row.Scan(&l.ID, &l.Symbol, &side, &qtyOpen, &qtyRem, &cost, &fees, &l.OpenedTradeID, &openedAt); err != nil {
		return nil, err
	}
	l.Side = domain.PositionSide(side)
	l.QtyOpen = numericToDecimal(qtyOpen)
	l.QtyRemaining = numericToDecimal(qtyRem)
	l.UnitCost = numericToDecimal(cost)
	l.FeesAlloc = numericToDecimal(fees)
	l.OpenedAt = pgTimestamptzToTime(openedAt)
	return &l, nil
}

func scanClosure(row pgx.CollectableRow) (*domain.LotClosure, error) {
	var (
		c                               domain.LotClosure
		qty, basis, proceeds, fees, pnl pgtype.Numeric
		closedAt                        pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.LotID, &c.CloseTradeID, &qty, &basis, &proceeds, &fees, &pnl, &closedAt); err != nil {
		return nil, err
	}
	c.Qty = numericToDecimal(qty)
	c.BasisAmount = numericToDecimal(basis)
	c.ProceedsAmount = numericToDecimal(proceeds)
	c.FeesAlloc = numericToDecimal(fees)
	c.RealizedPnL = numericToDecimal(pnl)
	c.ClosedAt = pgTimestamptzToTime(closedAt)
	return &c, nil
}
