package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// Posting errors
	ErrImbalance          = errors.New("double-entry imbalance")
	ErrGroupAlreadyPosted = errors.New("leg group already posted")
	ErrGroupNotFound      = errors.New("leg group not found")
	ErrLegNotFound        = errors.New("leg not found")

	// Lot errors
	ErrInsufficientLotQuantity = errors.New("insufficient open lot quantity")
	ErrLotNotFound             = errors.New("lot not found")

	// Mapping errors
	ErrMappingRuleNotFound    = errors.New("mapping rule not found")
	ErrMappingVersionNotFound = errors.New("mapping version not found")
	ErrInvalidRuleKey         = errors.New("mapping rule key is empty")

	// Reconciliation errors
	ErrReconciliationWrite = errors.New("reconciliation write failed")
	ErrEntryNotFound       = errors.New("reconciliation entry not found")

	// Store errors
	ErrConcurrencyTimeout = errors.New("ledger store busy")
	ErrSyncInProgress     = errors.New("sync already running for this identity")

	ErrInvalidIdentity = errors.New("invalid bot identity")
)

// GroupImbalance describes one group whose legs do not net to zero.
type GroupImbalance struct {
	GroupID string
	Sum     decimal.Decimal
	Reason  string
}

// ImbalanceError is returned when one or more groups fail the balance invariant.
type ImbalanceError struct {
	Groups []GroupImbalance
}

func (e *ImbalanceError) Error() string {
	parts := make([]string, 0, len(e.Groups))
	for _, g := range e.Groups {
		if g.Reason != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", g.GroupID, g.Reason))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s sum=%s", g.GroupID, g.Sum.String()))
	}
	return fmt.Sprintf("double-entry imbalance: %s", strings.Join(parts, ", "))
}

func (e *ImbalanceError) Unwrap() error { return ErrImbalance }

// InsufficientLotQuantityError is returned when a close exceeds the open quantity.
type InsufficientLotQuantityError struct {
	Symbol    string
	Side      PositionSide
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientLotQuantityError) Error() string {
	return fmt.Sprintf("insufficient %s inventory to close %s %s: %s open",
		e.Side, e.Requested.String(), e.Symbol, e.Available.String())
}

func (e *InsufficientLotQuantityError) Unwrap() error { return ErrInsufficientLotQuantity }

// ReconciliationWriteError wraps a failed append to the reconciliation log.
type ReconciliationWriteError struct {
	TradeID string
	Err     error
}

func (e *ReconciliationWriteError) Error() string {
	return fmt.Sprintf("reconciliation write failed for trade %q: %v", e.TradeID, e.Err)
}

func (e *ReconciliationWriteError) Unwrap() []error { return []error{ErrReconciliationWrite, e.Err} }

// ConcurrencyTimeoutError is returned when a write waited past the lock bound.
// Callers may retry the whole operation.
type ConcurrencyTimeoutError struct {
	Op  string
	Err error
}

func (e *ConcurrencyTimeoutError) Error() string {
	return fmt.Sprintf("%s: ledger store busy: %v", e.Op, e.Err)
}

func (e *ConcurrencyTimeoutError) Unwrap() []error { return []error{ErrConcurrencyTimeout, e.Err} }

// Retryable reports that the failed operation can be retried as a whole.
func (e *ConcurrencyTimeoutError) Retryable() bool { return true }
