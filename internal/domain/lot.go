package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a lot.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// ParsePositionSide parses "long" or "short".
func ParsePositionSide(s string) (PositionSide, error) {
	switch PositionSide(strings.ToLower(strings.TrimSpace(s))) {
	case PositionLong:
		return PositionLong, nil
	case PositionShort:
		return PositionShort, nil
	default:
		return "", fmt.Errorf("%w: %q is not long or short", ErrInvalidSide, s)
	}
}

// direction is +1 for long and -1 for short.
func (s PositionSide) direction() decimal.Decimal {
	if s == PositionShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// AllocationPolicy decides which open lots a close consumes first.
type AllocationPolicy int

const (
	// FIFO consumes the oldest open lots first.
	FIFO AllocationPolicy = iota
	// LIFO consumes the newest open lots first.
	LIFO
)

func (p AllocationPolicy) String() string {
	switch p {
	case FIFO:
		return "fifo"
	case LIFO:
		return "lifo"
	default:
		return "unknown"
	}
}

// ParseAllocationPolicy parses a policy name.
func ParseAllocationPolicy(s string) (AllocationPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return 0, fmt.Errorf("unknown allocation policy: %q", s)
	}
}

// Lot is an open position chunk tracked for cost basis.
// QtyRemaining only ever decreases, and 0 <= QtyRemaining <= QtyOpen.
type Lot struct {
	OpenedAt      time.Time
	ID            string
	Symbol        string
	Side          PositionSide
	OpenedTradeID string
	QtyOpen       decimal.Decimal
	QtyRemaining  decimal.Decimal
	UnitCost      decimal.Decimal
	FeesAlloc     decimal.Decimal
}

// Consume decrements QtyRemaining by qty.
func (l *Lot) Consume(qty decimal.Decimal) error {
	if qty.IsNegative() {
		return fmt.Errorf("%w: cannot consume negative quantity", ErrInvalidQuantity)
	}
	if qty.GreaterThan(l.QtyRemaining) {
		return &InsufficientLotQuantityError{
			Symbol:    l.Symbol,
			Side:      l.Side,
			Requested: qty,
			Available: l.QtyRemaining,
		}
	}
	l.QtyRemaining = l.QtyRemaining.Sub(qty)
	return nil
}

// Allocation is the quantity taken from one lot for a close.
type Allocation struct {
	OpenedAt      time.Time
	LotID         string
	OpenedTradeID string
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
}

// SortLots orders lots for the policy: opened_at, then id.
func SortLots(lots []*Lot, policy AllocationPolicy) {
	older := func(a, b *Lot) bool {
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.Before(b.OpenedAt)
		}
		return a.ID < b.ID
	}

	sort.SliceStable(lots, func(i, j int) bool {
		if policy == LIFO {
			return older(lots[j], lots[i])
		}
		return older(lots[i], lots[j])
	})
}

// AllocateLots walks lots in policy order and takes quantity until qty is covered.
// Lots are not mutated. The allocated quantities sum exactly to qty.
func AllocateLots(symbol string, side PositionSide, lots []*Lot, qty decimal.Decimal, policy AllocationPolicy) ([]Allocation, error) {
	if err := ValidateQuantity(qty); err != nil {
		return nil, err
	}

	ordered := make([]*Lot, 0, len(lots))
	available := decimal.Zero
	for _, l := range lots {
		if l.Symbol != symbol || l.Side != side || !l.QtyRemaining.IsPositive() {
			continue
		}
		ordered = append(ordered, l)
		available = available.Add(l.QtyRemaining)
	}

	if available.LessThan(qty) {
		return nil, &InsufficientLotQuantityError{
			Symbol:    symbol,
			Side:      side,
			Requested: qty,
			Available: available,
		}
	}

	SortLots(ordered, policy)

	remaining := qty
	allocations := make([]Allocation, 0, len(ordered))
	for _, l := range ordered {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, l.QtyRemaining)
		allocations = append(allocations, Allocation{
			LotID:         l.ID,
			Qty:           take,
			UnitCost:      l.UnitCost,
			OpenedAt:      l.OpenedAt,
			OpenedTradeID: l.OpenedTradeID,
		})
		remaining = remaining.Sub(take)
	}

	return allocations, nil
}

// LotClosure is the persisted result of closing part of one lot.
type LotClosure struct {
	ClosedAt       time.Time
	ID             string
	LotID          string
	CloseTradeID   string
	Qty            decimal.Decimal
	BasisAmount    decimal.Decimal
	ProceedsAmount decimal.Decimal
	FeesAlloc      decimal.Decimal
	RealizedPnL    decimal.Decimal
}

// CloseSummary totals one close across its allocations.
type CloseSummary struct {
	ClosedAt         time.Time
	Side             PositionSide
	CloseTradeID     string
	Closures         []LotClosure
	QtyClosed        decimal.Decimal
	BasisTotal       decimal.Decimal
	ProceedsTotal    decimal.Decimal
	FeesTotal        decimal.Decimal
	RealizedPnLTotal decimal.Decimal
}

// CloseParams are the economic inputs of a close.
// For long closes ProceedsTotal is cash received; for short covers it is the cover cost.
type CloseParams struct {
	ClosedAt      time.Time
	Side          PositionSide
	CloseTradeID  string
	ProceedsTotal decimal.Decimal
	CloseFees     decimal.Decimal
	FeesAffectPnL bool
}

// ComputeClose prices a close. Realized P&L per allocation is
//
//	dir * (proceeds - basis) - fees
//
// with dir = +1 for long and -1 for short, and fees only when FeesAffectPnL.
// A positive result is always a gain: covering a short opened at 700 for 675
// realizes +25, which the ledger books as a 25 credit to income.
// Proceeds and fees are apportioned pro-rata by quantity. Zero-quantity
// allocations produce no closure.
func ComputeClose(allocations []Allocation, p CloseParams) (*CloseSummary, error) {
	if p.Side != PositionLong && p.Side != PositionShort {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, p.Side)
	}
	if p.ProceedsTotal.IsNegative() {
		return nil, fmt.Errorf("%w: proceeds", ErrInvalidPrice)
	}
	if p.CloseFees.IsNegative() {
		return nil, fmt.Errorf("%w: fees", ErrInvalidPrice)
	}

	qtyTotal := decimal.Zero
	for _, a := range allocations {
		if a.Qty.IsNegative() {
			return nil, fmt.Errorf("%w: allocation for lot %s", ErrInvalidQuantity, a.LotID)
		}
		qtyTotal = qtyTotal.Add(a.Qty)
	}
	if !qtyTotal.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to close", ErrInvalidQuantity)
	}

	summary := &CloseSummary{
		ClosedAt:      p.ClosedAt,
		Side:          p.Side,
		CloseTradeID:  p.CloseTradeID,
		QtyClosed:     qtyTotal,
		BasisTotal:    decimal.Zero,
		ProceedsTotal: p.ProceedsTotal,
		FeesTotal:     p.CloseFees,
	}

	dir := p.Side.direction()
	realizedTotal := decimal.Zero
	proceedsLeft, feesLeft := p.ProceedsTotal, p.CloseFees
	nonZero := 0
	for _, a := range allocations {
		if a.Qty.IsPositive() {
			nonZero++
		}
	}

	seen := 0
	for _, a := range allocations {
		if a.Qty.IsZero() {
			continue
		}
		seen++

		basis := a.Qty.Mul(a.UnitCost)
		proceeds, fees := proceedsLeft, feesLeft
		// the last allocation absorbs rounding so the shares add up exactly
		if seen < nonZero {
			proceeds = p.ProceedsTotal.Mul(a.Qty).Div(qtyTotal)
			fees = p.CloseFees.Mul(a.Qty).Div(qtyTotal)
		}
		proceedsLeft = proceedsLeft.Sub(proceeds)
		feesLeft = feesLeft.Sub(fees)

		realized := dir.Mul(proceeds.Sub(basis))
		if p.FeesAffectPnL {
			realized = realized.Sub(fees)
		}

		summary.BasisTotal = summary.BasisTotal.Add(basis)
		realizedTotal = realizedTotal.Add(realized)
		summary.Closures = append(summary.Closures, LotClosure{
			LotID:          a.LotID,
			CloseTradeID:   p.CloseTradeID,
			Qty:            a.Qty,
			BasisAmount:    basis,
			ProceedsAmount: proceeds,
			FeesAlloc:      fees,
			RealizedPnL:    realized,
			ClosedAt:       p.ClosedAt,
		})
	}

	summary.RealizedPnLTotal = realizedTotal
	return summary, nil
}

// OpenQuantity sums QtyRemaining over lots.
func OpenQuantity(lots []*Lot) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lots {
		total = total.Add(l.QtyRemaining)
	}
	return total
}
