package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/iho/botledger/internal/domain"
)

var reconRowColumns = []string{
	"id", "trade_id", "group_id", "status", "compare_fields", "diff", "raw_record", "sync_run_id",
	"timestamp_utc", "api_hash", "mapping_version", "broker", "notes", "entity_code", "jurisdiction_code",
	"broker_code", "resolves_id", "actor",
}

func reconRow(rows *pgxmock.Rows, id, tradeID, status string) *pgxmock.Rows {
	return rows.AddRow(id, tradeID, "G-"+tradeID, status, []byte(`{"qty":"10"}`), []byte(`{"qty":["10","11"]}`), nil, "RUN1",
		"2025-01-02 14:00:00+00", "abc", "3", "ALPACA", "", "ACME", "US", "ALPACA", "", "system")
}

func TestReconciliationRepository_Append(t *testing.T) {
	mock := newMockPool(t)
	repo := &ReconciliationRepository{db: mock}

	mock.ExpectExec(`INSERT INTO reconciliation_log`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &domain.ReconciliationRecord{ID: "R1", TradeID: "T1", Status: domain.ReconOK, SyncRunID: "RUN1",
		CompareFields: domain.JSON{"qty": "10"}}
	if err := repo.Append(context.Background(), rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	assertExpectations(t, mock)
}

func TestReconciliationRepository_AppendRejectedByTrigger(t *testing.T) {
	mock := newMockPool(t)
	repo := &ReconciliationRepository{db: mock}

	mock.ExpectExec(`INSERT INTO reconciliation_log`).
		WillReturnError(&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "reconciliation_log_status_check"})

	err := repo.Append(context.Background(), &domain.ReconciliationRecord{ID: "R1", Status: "bogus"})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected driver error to surface, got %v", err)
	}
}

func TestReconciliationRepository_GetByID(t *testing.T) {
	mock := newMockPool(t)
	repo := &ReconciliationRepository{db: mock}

	mock.ExpectQuery(`FROM reconciliation_log WHERE id = \$1`).WithArgs("R1").
		WillReturnRows(reconRow(pgxmock.NewRows(reconRowColumns), "R1", "T1", "mismatch"))
	mock.ExpectQuery(`FROM reconciliation_log WHERE id = \$1`).WithArgs("R2").
		WillReturnRows(pgxmock.NewRows(reconRowColumns))

	rec, err := repo.GetByID(context.Background(), "R1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != domain.ReconMismatch || rec.Diff["qty"] == nil || rec.RawRecord != nil || rec.MappingVersion != "3" {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := repo.GetByID(context.Background(), "R2"); !errors.Is(err, domain.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	assertExpectations(t, mock)
}

func TestReconciliationRepository_List(t *testing.T) {
	mock := newMockPool(t)
	repo := &ReconciliationRepository{db: mock}

	rows := pgxmock.NewRows(reconRowColumns)
	reconRow(rows, "R2", "T2", "local-only")
	reconRow(rows, "R1", "T1", "local-only")

	mock.ExpectQuery(`WHERE sync_run_id = \$1 AND status = \$2 ORDER BY timestamp_utc DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("RUN1", "local-only", 20, 0).
		WillReturnRows(rows)

	records, err := repo.List(context.Background(), domain.ReconFilter{SyncRunID: "RUN1", Status: domain.ReconLocalOnly, Limit: 20})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].ID != "R2" {
		t.Fatalf("unexpected records %+v", records)
	}
	assertExpectations(t, mock)
}
