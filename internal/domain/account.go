package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Chart-of-accounts roots.
const (
	RootAssets      = "Assets"
	RootLiabilities = "Liabilities"
	RootEquity      = "Equity"
	RootIncome      = "Income"
	RootExpenses    = "Expenses"
)

// debitNormalRoots carry a positive (debit) natural balance.
var debitNormalRoots = map[string]bool{
	RootAssets:   true,
	RootExpenses: true,
}

// AccountRoot returns the top-level chart-of-accounts segment of a code,
// e.g. "Assets" for "Assets:Brokerage:Cash".
func AccountRoot(code string) string {
	root, _, _ := strings.Cut(code, ":")
	return strings.TrimSpace(root)
}

// AccountBalance is the rolled-up balance of one account code.
// Balance is the signed sum of legs; NaturalBalance flips the sign for
// credit-normal roots so that a healthy liability or income reads positive.
type AccountBalance struct {
	AccountCode string
	Root        string
	Debits      decimal.Decimal
	Credits     decimal.Decimal
	Balance     decimal.Decimal
	Legs        int64
}

// NaturalBalance returns the balance in the account's normal direction.
func (b AccountBalance) NaturalBalance() decimal.Decimal {
	if debitNormalRoots[b.Root] {
		return b.Balance
	}
	return b.Balance.Neg()
}

// RootTotals sums balances per chart root.
func RootTotals(balances []AccountBalance) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, b := range balances {
		totals[b.Root] = totals[b.Root].Add(b.NaturalBalance())
	}
	return totals
}
