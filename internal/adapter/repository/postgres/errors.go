package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/botledger/internal/domain"
)

// PostgreSQL error codes the store reacts to.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrLockNotAvailable     = "55P03"
	pgErrUniqueViolation      = "23505"
	pgErrCheckViolation       = "23514"
	pgErrRaiseException       = "P0001"
)

// Constraint names referenced by classification.
const (
	constraintLegGroupUnique = "trade_legs_group_leg_unique"
	constraintLotsRemaining  = "lots_remaining_check"
)

func pgCode(err error) (string, *pgconn.PgError) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr
	}
	return "", nil
}

// isConcurrencyError reports lock waits past lock_timeout, deadlocks and
// serialization failures.
func isConcurrencyError(err error) bool {
	code, _ := pgCode(err)
	switch code {
	case pgErrDeadlock, pgErrSerializationFailure, pgErrLockNotAvailable:
		return true
	}
	return false
}

// classify maps driver errors onto domain errors. Errors it does not
// recognise are wrapped with op and returned unchanged otherwise.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var timeout *domain.ConcurrencyTimeoutError
	if errors.As(err, &timeout) {
		return err
	}

	if isConcurrencyError(err) {
		return &domain.ConcurrencyTimeoutError{Op: op, Err: err}
	}

	code, pgErr := pgCode(err)
	switch {
	case code == pgErrUniqueViolation && pgErr.ConstraintName == constraintLegGroupUnique:
		return fmt.Errorf("%s: %w", op, domain.ErrGroupAlreadyPosted)
	case code == pgErrCheckViolation && pgErr.ConstraintName == constraintLotsRemaining:
		return fmt.Errorf("%s: %w", op, domain.ErrInsufficientLotQuantity)
	}

	return fmt.Errorf("%s: %w", op, err)
}
