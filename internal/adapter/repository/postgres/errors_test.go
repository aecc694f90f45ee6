package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/botledger/internal/domain"
)

func TestClassify(t *testing.T) {
	plain := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadlock", err: &pgconn.PgError{Code: pgErrDeadlock}, want: domain.ErrConcurrencyTimeout},
		{name: "serialization", err: &pgconn.PgError{Code: pgErrSerializationFailure}, want: domain.ErrConcurrencyTimeout},
		{name: "lock timeout", err: &pgconn.PgError{Code: pgErrLockNotAvailable}, want: domain.ErrConcurrencyTimeout},
		{name: "duplicate group", err: &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: constraintLegGroupUnique}, want: domain.ErrGroupAlreadyPosted},
		{name: "lot overdrawn", err: &pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: constraintLotsRemaining}, want: domain.ErrInsufficientLotQuantity},
		{name: "other", err: plain, want: plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestClassify_KeepsDriverError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgErrLockNotAvailable}
	err := classify("lock", pgErr)

	var timeout *domain.ConcurrencyTimeoutError
	if !errors.As(err, &timeout) || timeout.Op != "lock" {
		t.Fatalf("expected ConcurrencyTimeoutError, got %v", err)
	}
	if got, _ := pgCode(err); got != pgErrLockNotAvailable {
		t.Fatalf("driver code lost: %q", got)
	}
	if classify("again", err) != err {
		t.Fatal("already classified errors should pass through")
	}
	if classify("nil", nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestClassify_UnknownConstraint(t *testing.T) {
	err := classify("insert", &pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "other_unique"})
	if errors.Is(err, domain.ErrGroupAlreadyPosted) {
		t.Fatal("unrelated unique violation mapped to ErrGroupAlreadyPosted")
	}
}
