package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const mappingColumns = `version, identity, rules, created_by, reason, rolled_back_from, created_at`

// MappingRepository implements usecase.MappingRepository. Each version is
// one row holding the complete rule set as JSONB.
type MappingRepository struct {
	db querier
}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository(pool *pgxpool.Pool) *MappingRepository {
	return &MappingRepository{db: pool}
}

func (r *MappingRepository) q(tx usecase.Transaction) querier {
	if tx == nil {
		return r.db
	}
	return txQuerier(tx)
}

// LockForWrite blocks other mapping writers until tx ends. Readers are not
// blocked.
func (r *MappingRepository) LockForWrite(ctx context.Context, tx usecase.Transaction) error {
	_, err := txQuerier(tx).Exec(ctx, `LOCK TABLE coa_mapping_versions IN SHARE ROW EXCLUSIVE MODE`)
	return classify("lock mapping", err)
}

// Latest returns the newest version, or nil when none has been written.
func (r *MappingRepository) Latest(ctx context.Context, tx usecase.Transaction) (*domain.MappingTable, error) {
	t, err := r.getOne(ctx, r.q(tx), `
		SELECT `+mappingColumns+` FROM coa_mapping_versions
		ORDER BY version DESC LIMIT 1`)
	if errors.Is(err, domain.ErrMappingVersionNotFound) {
		return nil, nil
	}
	return t, err
}

// GetVersion returns one version.
func (r *MappingRepository) GetVersion(ctx context.Context, tx usecase.Transaction, version int64) (*domain.MappingTable, error) {
	return r.getOne(ctx, r.q(tx), `
		SELECT `+mappingColumns+` FROM coa_mapping_versions
		WHERE version = $1`, version)
}

func (r *MappingRepository) getOne(ctx context.Context, q querier, sql string, args ...any) (*domain.MappingTable, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify("get mapping", err)
	}
	t, err := pgx.CollectExactlyOneRow(rows, scanMappingTable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMappingVersionNotFound
		}
		return nil, classify("get mapping", err)
	}
	return t, nil
}

// CreateVersion inserts a new version row. The primary key on version
// rejects a concurrent writer that skipped LockForWrite.
func (r *MappingRepository) CreateVersion(ctx context.Context, tx usecase.Transaction, table *domain.MappingTable) error {
	rules := table.Rules
	if rules == nil {
		rules = []domain.MappingRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping rules: %w", err)
	}

	var rolledBack pgtype.Int8
	if table.RolledBackFrom != nil {
		rolledBack = pgtype.Int8{Int64: *table.RolledBackFrom, Valid: true}
	}

	_, err = txQuerier(tx).Exec(ctx, `
		INSERT INTO coa_mapping_versions (version, identity, rules, rule_count, created_by, reason, rolled_back_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		table.Version, table.Identity, data, len(rules), table.UpdatedBy, table.Reason,
		rolledBack, timeToPgTimestamptz(table.UpdatedAt))
	if err != nil {
		return classify("insert mapping version", err)
	}
	return nil
}

// History lists version headers, newest first.
func (r *MappingRepository) History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error) {
	rows, err := r.db.Query(ctx, `
		SELECT version, created_by, reason, rule_count, rolled_back_from, created_at
		FROM coa_mapping_versions
		ORDER BY version DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, classify("mapping history", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MappingVersion, error) {
		var (
			v          domain.MappingVersion
			count      int32
			rolledBack pgtype.Int8
			createdAt  pgtype.Timestamptz
		)
		if err := row.Scan(&v.Version, &v.CreatedBy, &v.Reason, &count, &rolledBack, &createdAt); err != nil {
			return v, err
		}
		v.RuleCount = int(count)
		v.CreatedAt = pgTimestamptzToTime(createdAt)
		if rolledBack.Valid {
			from := rolledBack.Int64
			v.RolledBackFrom = &from
		}
		return v, nil
	})
}

func scanMappingTable(row pgx.CollectableRow) (*domain.MappingTable, error) {
	var (
		t          domain.MappingTable
		rules      []byte
		rolledBack pgtype.Int8
		createdAt  pgtype.Timestamptz
	)
	if err := row.Scan(&t.Version, &t.Identity, &rules, &t.UpdatedBy, &t.Reason, &rolledBack, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rules, &t.Rules); err != nil {
		return nil, fmt.Errorf("mapping version %d rules: %w", t.Version, err)
	}
	if t.Rules == nil {
		t.Rules = []domain.MappingRule{}
	}
	t.UpdatedAt = pgTimestamptzToTime(createdAt)
	if rolledBack.Valid {
		from := rolledBack.Int64
		t.RolledBackFrom = &from
	}
	return &t, nil
}
