package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceTolerance is the largest absolute group sum still treated as zero.
var BalanceTolerance = decimal.New(1, -8)

// Side is the double-entry side of a leg.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// ParseSide parses a leg side, case-insensitively.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideDebit:
		return SideDebit, nil
	case SideCredit:
		return SideCredit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Leg is one row of the ledger: a single debit or credit.
// TotalValue is signed: debits positive, credits negative.
type Leg struct {
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TimestampUTC time.Time
	Metadata     map[string]any
	ID           string
	GroupID      string
	TradeID      string
	AccountCode  string
	Side         Side
	Symbol       string
	Strategy     string
	TotalValue   decimal.Decimal
	LegNo        int
}

// SignedValue returns v with the sign implied by side.
func SignedValue(side Side, v decimal.Decimal) decimal.Decimal {
	if side == SideCredit {
		return v.Abs().Neg()
	}
	return v.Abs()
}

// Normalize applies the canonical sign to TotalValue and fills defaults.
func (l *Leg) Normalize(groupID string, now time.Time) {
	l.TotalValue = SignedValue(l.Side, l.TotalValue)
	l.AccountCode = strings.TrimSpace(l.AccountCode)
	l.Symbol = strings.ToUpper(strings.TrimSpace(l.Symbol))

	if l.GroupID == "" {
		l.GroupID = groupID
	}
	if l.TradeID == "" {
		l.TradeID = l.GroupID
	}
	if l.TimestampUTC.IsZero() {
		l.TimestampUTC = now
	}
	l.TimestampUTC = l.TimestampUTC.UTC()
}

// Validate checks the required fields of a normalized leg.
func (l *Leg) Validate() error {
	if err := ValidateAccountCode(l.AccountCode); err != nil {
		return err
	}
	if l.Side != SideDebit && l.Side != SideCredit {
		return fmt.Errorf("%w: %q", ErrInvalidSide, l.Side)
	}
	if l.TotalValue.IsZero() {
		return fmt.Errorf("%w: total value must be non-zero", ErrInvalidLeg)
	}
	if err := ValidateLegValue(l.TotalValue); err != nil {
		return err
	}
	if l.GroupID == "" {
		return fmt.Errorf("%w: group id is required", ErrInvalidLeg)
	}
	if err := ValidateMetadata(l.Metadata); err != nil {
		return err
	}
	return nil
}

// SumLegs returns the sum of TotalValue over legs.
func SumLegs(legs []*Leg) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range legs {
		sum = sum.Add(l.TotalValue)
	}
	return sum
}

// IsBalanced reports whether sum is zero within BalanceTolerance.
func IsBalanced(sum decimal.Decimal) bool {
	return sum.Abs().LessThanOrEqual(BalanceTolerance)
}

// CheckGroupBalance verifies the legs of a single group.
func CheckGroupBalance(groupID string, legs []*Leg) error {
	var debits, credits int
	for _, l := range legs {
		switch {
		case l.Side == SideDebit && l.TotalValue.IsPositive():
			debits++
		case l.Side == SideCredit && l.TotalValue.IsNegative():
			credits++
		default:
			return &ImbalanceError{Groups: []GroupImbalance{{
				GroupID: groupID,
				Sum:     SumLegs(legs),
				Reason:  fmt.Sprintf("leg %d sign does not match side %s", l.LegNo, l.Side),
			}}}
		}
	}

	if debits == 0 || credits == 0 {
		return &ImbalanceError{Groups: []GroupImbalance{{
			GroupID: groupID,
			Sum:     SumLegs(legs),
			Reason:  "group needs at least one debit and one credit",
		}}}
	}

	if sum := SumLegs(legs); !IsBalanced(sum) {
		return &ImbalanceError{Groups: []GroupImbalance{{GroupID: groupID, Sum: sum}}}
	}

	return nil
}

// LegFilter narrows leg listings.
type LegFilter struct {
	Start       *time.Time
	End         *time.Time
	GroupID     string
	TradeID     string
	AccountCode string
	Symbol      string
	Limit       int
	Offset      int
}
