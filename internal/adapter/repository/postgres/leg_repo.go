package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const legColumns = `id, group_id, trade_id, leg_no, account_code, side, total_value,
	symbol, strategy, timestamp_utc, metadata, created_at, updated_at`

var legCopyColumns = []string{
	"id", "group_id", "trade_id", "leg_no", "account_code", "side", "total_value",
	"symbol", "strategy", "timestamp_utc", "metadata", "created_at", "updated_at",
}

// LegRepository implements usecase.LegRepository.
type LegRepository struct {
	db querier
}

// NewLegRepository creates a new LegRepository.
func NewLegRepository(pool *pgxpool.Pool) *LegRepository {
	return &LegRepository{db: pool}
}

// CreateBatch inserts the legs of one group with COPY.
func (r *LegRepository) CreateBatch(ctx context.Context, tx usecase.Transaction, legs []*domain.Leg) error {
	rows := make([][]any, 0, len(legs))
	for _, l := range legs {
		meta, err := marshalJSONB(l.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal leg metadata: %w", err)
		}
		rows = append(rows, []any{
			l.ID, l.GroupID, l.TradeID, int32(l.LegNo), l.AccountCode, string(l.Side),
			decimalToNumeric(l.TotalValue), l.Symbol, l.Strategy,
			timeToPgTimestamptz(l.TimestampUTC), meta,
			timeToPgTimestamptz(l.CreatedAt), timeToPgTimestamptz(l.UpdatedAt),
		})
	}

	n, err := txQuerier(tx).CopyFrom(ctx, pgx.Identifier{"trade_legs"}, legCopyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return classify("insert legs", err)
	}
	if int(n) != len(legs) {
		return fmt.Errorf("insert legs: copied %d of %d rows", n, len(legs))
	}
	return nil
}

// GroupExists reports whether any leg of groupID is stored.
func (r *LegRepository) GroupExists(ctx context.Context, tx usecase.Transaction, groupID string) (bool, error) {
	var exists bool
	err := txQuerier(tx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM trade_legs WHERE group_id = $1)`, groupID).Scan(&exists)
	if err != nil {
		return false, classify("group exists", err)
	}
	return exists, nil
}

// GetByID retrieves a leg by ID.
func (r *LegRepository) GetByID(ctx context.Context, id string) (*domain.Leg, error) {
	return r.getOne(ctx, r.db, `SELECT `+legColumns+` FROM trade_legs WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a leg by ID and locks it until tx ends.
func (r *LegRepository) GetByIDForUpdate(ctx context.Context, tx usecase.Transaction, id string) (*domain.Leg, error) {
	return r.getOne(ctx, txQuerier(tx), `SELECT `+legColumns+` FROM trade_legs WHERE id = $1 FOR UPDATE`, id)
}

func (r *LegRepository) getOne(ctx context.Context, q querier, sql string, id string) (*domain.Leg, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, classify("get leg", err)
	}
	leg, err := pgx.CollectExactlyOneRow(rows, scanLeg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLegNotFound
		}
		return nil, classify("get leg", err)
	}
	return leg, nil
}

// GetByGroup returns the legs of a group ordered by leg number.
func (r *LegRepository) GetByGroup(ctx context.Context, groupID string) ([]*domain.Leg, error) {
	return r.query(ctx, `SELECT `+legColumns+` FROM trade_legs WHERE group_id = $1 ORDER BY leg_no`, groupID)
}

// List returns legs matching filter, newest first.
func (r *LegRepository) List(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.GroupID != "" {
		add("group_id = $%d", filter.GroupID)
	}
	if filter.TradeID != "" {
		add("trade_id = $%d", filter.TradeID)
	}
	if filter.AccountCode != "" {
		add("account_code = $%d", filter.AccountCode)
	}
	if filter.Symbol != "" {
		add("symbol = $%d", filter.Symbol)
	}
	if filter.Start != nil {
		add("timestamp_utc >= $%d", timeToPgTimestamptz(*filter.Start))
	}
	if filter.End != nil {
		add("timestamp_utc <= $%d", timeToPgTimestamptz(*filter.End))
	}

	sql := `SELECT ` + legColumns + ` FROM trade_legs`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY timestamp_utc DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	return r.query(ctx, sql, args...)
}

func (r *LegRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.Leg, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("list legs", err)
	}
	legs, err := pgx.CollectRows(rows, scanLeg)
	if err != nil {
		return nil, classify("list legs", err)
	}
	return legs, nil
}

// UpdateClassification rewrites the account code, strategy and metadata of
// a leg. The value and side are never touched.
func (r *LegRepository) UpdateClassification(ctx context.Context, tx usecase.Transaction, leg *domain.Leg) error {
	meta, err := marshalJSONB(leg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal leg metadata: %w", err)
	}

	tag, err := txQuerier(tx).Exec(ctx, `
		UPDATE trade_legs
		SET account_code = $2, strategy = $3, metadata = $4, updated_at = $5
		WHERE id = $1`,
		leg.ID, leg.AccountCode, leg.Strategy, meta, timeToPgTimestamptz(leg.UpdatedAt))
	if err != nil {
		return classify("update leg", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLegNotFound
	}
	return nil
}

// FindImbalances scans every trade for a non-zero sum or a leg whose sign
// disagrees with its side.
func (r *LegRepository) FindImbalances(ctx context.Context) ([]domain.GroupImbalance, error) {
	rows, err := r.db.Query(ctx, `
		SELECT trade_id,
		       SUM(total_value),
		       BOOL_OR((side = 'debit' AND total_value <= 0) OR (side = 'credit' AND total_value >= 0))
		FROM trade_legs
		GROUP BY trade_id
		HAVING ABS(SUM(total_value)) > $1
		    OR BOOL_OR((side = 'debit' AND total_value <= 0) OR (side = 'credit' AND total_value >= 0))
		ORDER BY trade_id`,
		decimalToNumeric(domain.BalanceTolerance))
	if err != nil {
		return nil, classify("find imbalances", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.GroupImbalance, error) {
		var (
			g       domain.GroupImbalance
			sum     pgtype.Numeric
			badSign bool
		)
		if err := row.Scan(&g.GroupID, &sum, &badSign); err != nil {
			return g, err
		}
		g.Sum = numericToDecimal(sum)
		if badSign {
			g.Reason = "sign does not match side"
		}
		return g, nil
	})
}

// AccountBalances sums legs per account code, optionally as of a time.
func (r *LegRepository) AccountBalances(ctx context.Context, asOf *time.Time) ([]domain.AccountBalance, error) {
	var asOfArg pgtype.Timestamptz
	if asOf != nil {
		asOfArg = timeToPgTimestamptz(*asOf)
	}

	rows, err := r.db.Query(ctx, `
		SELECT account_code,
		       COALESCE(SUM(total_value) FILTER (WHERE total_value > 0), 0),
		       COALESCE(-SUM(total_value) FILTER (WHERE total_value < 0), 0),
		       SUM(total_value),
		       COUNT(*)
		FROM trade_legs
		WHERE $1::timestamptz IS NULL OR timestamp_utc <= $1
		GROUP BY account_code
		ORDER BY account_code`, asOfArg)
	if err != nil {
		return nil, classify("account balances", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.AccountBalance, error) {
		var (
			b                       domain.AccountBalance
			debits, credits, amount pgtype.Numeric
		)
		if err := row.Scan(&b.AccountCode, &debits, &credits, &amount, &b.Legs); err != nil {
			return b, err
		}
		b.Root = domain.AccountRoot(b.AccountCode)
		b.Debits = numericToDecimal(debits)
		b.Credits = numericToDecimal(credits)
		b.Balance = numericToDecimal(amount)
		return b, nil
	})
}

// TradeIDsBetween lists the distinct trade ids with legs in [start, end].
func (r *LegRepository) TradeIDsBetween(ctx context.Context, start, end time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT trade_id FROM trade_legs
		WHERE timestamp_utc >= $1 AND timestamp_utc <= $2
		ORDER BY trade_id`,
		timeToPgTimestamptz(start), timeToPgTimestamptz(end))
	if err != nil {
		return nil, classify("trade ids", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanLeg(row pgx.CollectableRow) (*domain.Leg, error) {
	var (
		l                  domain.Leg
		legNo              int32
		side               string
		value              pgtype.Numeric
		ts, created, updtd pgtype.Timestamptz
		meta               []byte
	)
	if err := row.Scan(&l.ID, &l.GroupID, &l.TradeID, &legNo, &l.AccountCode, &side, &value,
		&l.Symbol, &l.Strategy, &ts, &meta, &created, &updtd); err != nil {
		return nil, err
	}

	m, err := unmarshalJSONB(meta)
	if err != nil {
		return nil, fmt.Errorf("leg %s metadata: %w", l.ID, err)
	}

	l.LegNo = int(legNo)
	l.Side = domain.Side(side)
	l.TotalValue = numericToDecimal(value)
	l.TimestampUTC = pgTimestamptzToTime(ts)
	l.CreatedAt = pgTimestamptzToTime(created)
	l.UpdatedAt = pgTimestamptzToTime(updtd)
	l.Metadata = m
	return &l, nil
}
