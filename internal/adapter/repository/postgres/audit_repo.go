package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const auditColumns = `id, actor, action, resource_type, resource_id, reference, reason,
	before_state, after_state, status, error_message, created_at`

// AuditRepository implements audit log persistence
type AuditRepository struct {
	db querier
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: pool}
}

// Create inserts an audit log entry outside any transaction.
func (r *AuditRepository) Create(ctx context.Context, log *domain.AuditLog) error {
	return r.insert(ctx, r.db, log)
}

// CreateTx inserts an audit log entry as part of tx.
func (r *AuditRepository) CreateTx(ctx context.Context, tx usecase.Transaction, log *domain.AuditLog) error {
	return r.insert(ctx, txQuerier(tx), log)
}

func (r *AuditRepository) insert(ctx context.Context, q querier, log *domain.AuditLog) error {
	before, err := marshalJSONB(log.BeforeState)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	after, err := marshalJSONB(log.AfterState)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ID, log.Actor, string(log.Action), log.ResourceType, log.ResourceID,
		log.Reference, log.Reason, before, after, string(log.Status), log.ErrorMessage,
		timeToPgTimestamptz(log.CreatedAt))
	return classify("insert audit log", err)
}

// List retrieves audit logs with filters, newest first.
func (r *AuditRepository) List(ctx context.Context, filter domain.AuditFilter) ([]*domain.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if filter.Reference != "" {
		add("reference = $%d", filter.Reference)
	}
	if filter.StartDate != nil {
		add("created_at >= $%d", timeToPgTimestamptz(*filter.StartDate))
	}
	if filter.EndDate != nil {
		add("created_at <= $%d", timeToPgTimestamptz(*filter.EndDate))
	}

	sql := `SELECT ` + auditColumns + ` FROM audit_log`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = usecase.DefaultListLimit
	}
	args = append(args, limit, filter.Offset)
	sql += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	logs, err := pgx.CollectRows(rows, scanAuditLog)
	if err != nil {
		return nil, classify("list audit logs", err)
	}
	return logs, nil
}

func scanAuditLog(row pgx.CollectableRow) (*domain.AuditLog, error) {
	var (
		l              domain.AuditLog
		action, status string
		before, after  []byte
		createdAt      pgtype.Timestamptz
	)
	if err := row.Scan(&l.ID, &l.Actor, &action, &l.ResourceType, &l.ResourceID, &l.Reference, &l.Reason,
		&before, &after, &status, &l.ErrorMessage, &createdAt); err != nil {
		return nil, err
	}

	var err error
	if l.BeforeState, err = unmarshalJSONB(before); err != nil {
		return nil, err
	}
	if l.AfterState, err = unmarshalJSONB(after); err != nil {
		return nil, err
	}
	l.Action = domain.AuditAction(action)
	l.Status = domain.AuditStatus(status)
	l.CreatedAt = pgTimestamptzToTime(createdAt)
	return &l, nil
}
