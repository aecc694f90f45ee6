package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/botledger/internal/domain"
)

const reconColumns = `id, trade_id, group_id, status, compare_fields, diff, raw_record, sync_run_id,
	timestamp_utc, api_hash, mapping_version, broker, notes, entity_code, jurisdiction_code,
	broker_code, resolves_id, actor`

// ReconciliationRepository implements usecase.ReconciliationRepository.
// The table carries a trigger that rejects UPDATE and DELETE.
type ReconciliationRepository struct {
	db querier
}

// NewReconciliationRepository creates a new ReconciliationRepository.
func NewReconciliationRepository(pool *pgxpool.Pool) *ReconciliationRepository {
	return &ReconciliationRepository{db: pool}
}

// Append inserts one record. It runs outside any posting transaction so a
// record survives the rollback of the work it describes.
func (r *ReconciliationRepository) Append(ctx context.Context, rec *domain.ReconciliationRecord) error {
	compare, err := marshalJSONB(rec.CompareFields)
	if err != nil {
		return fmt.Errorf("failed to marshal compare fields: %w", err)
	}
	diff, err := marshalJSONB(rec.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal diff: %w", err)
	}
	raw, err := marshalJSONB(rec.RawRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal raw record: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO reconciliation_log (`+reconColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		rec.ID, rec.TradeID, rec.GroupID, string(rec.Status), compare, diff, raw, rec.SyncRunID,
		timeToPgTimestamptz(rec.TimestampUTC), rec.APIHash, rec.MappingVersion, rec.Broker, rec.Notes,
		rec.EntityCode, rec.JurisdictionCode, rec.BrokerCode, rec.ResolvesID, rec.Actor)
	return classify("append reconciliation record", err)
}

// GetByID returns one record.
func (r *ReconciliationRepository) GetByID(ctx context.Context, id string) (*domain.ReconciliationRecord, error) {
	rows, err := r.db.Query(ctx, `SELECT `+reconColumns+` FROM reconciliation_log WHERE id = $1`, id)
	if err != nil {
		return nil, classify("get reconciliation record", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, classify("get reconciliation record", err)
	}
	return rec, nil
}

// List returns records matching filter, newest first with id breaking ties.
func (r *ReconciliationRepository) List(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.SyncRunID != "" {
		add("sync_run_id = $%d", filter.SyncRunID)
	}
	if filter.TradeID != "" {
		add("trade_id = $%d", filter.TradeID)
	}
	if filter.GroupID != "" {
		add("group_id = $%d", filter.GroupID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.Start != nil {
		add("timestamp_utc >= $%d", timeToPgTimestamptz(*filter.Start))
	}
	if filter.End != nil {
		add("timestamp_utc <= $%d", timeToPgTimestamptz(*filter.End))
	}

	sql := `SELECT ` + reconColumns + ` FROM reconciliation_log`
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

// All returns the whole log in List order.
func (r *ReconciliationRepository) All(ctx context.Context) ([]*domain.ReconciliationRecord, error) {
	return r.query(ctx, `SELECT `+reconColumns+` FROM reconciliation_log ORDER BY timestamp_utc DESC, id DESC`)
}

func (r *ReconciliationRepository) query(ctx context.Context, sql string, args ...any) ([]*domain.ReconciliationRecord, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("list reconciliation records", err)
	}
	records, err := pgx.CollectRows(rows, scanRecon)
	if err != nil {
		return nil, classify("list reconciliation records", err)
	}
	return records, nil
}

func scanRecon(row pgx.CollectableRow) (*domain.ReconciliationRecord, error) {
	var (
		rec                domain.ReconciliationRecord
		status             string
		compare, diff, raw []byte
		ts                 pgtype.Timestamptz
	)
	if err := row.Scan(&rec.ID, &rec.TradeID, &rec.GroupID, &status, &compare, &diff, &raw, &rec.SyncRunID,
		&ts, &rec.APIHash, &rec.MappingVersion, &rec.Broker, &rec.Notes, &rec.EntityCode,
		&rec.JurisdictionCode, &rec.BrokerCode, &rec.ResolvesID, &rec.Actor); err != nil {
		return nil, err
	}

	var err error
	if rec.CompareFields, err = unmarshalJSONB(compare); err != nil {
		return nil, err
	}
	if rec.Diff, err = unmarshalJSONB(diff); err != nil {
		return nil, err
	}
	if rec.RawRecord, err = unmarshalJSONB(raw); err != nil {
		return nil, err
	}
	rec.Status = domain.ReconStatus(status)
	rec.TimestampUTC = pgTimestamptzToTime(ts)
	return &rec, nil
}
