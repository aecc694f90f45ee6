package usecase

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
)

// AccountDefaults are the chart codes used for a posting role when no
// mapping rule matches. An empty default means the role must be mapped.
type AccountDefaults struct {
	Cash          string
	Fees          string
	RealizedPnL   string
	LongPosition  string
	ShortPosition string
}

// Mapping rule types for the non-primary legs of a posting. A rule keyed on
// "<broker>|fee" overrides the default fee account for that broker.
const (
	roleCash        = "cash"
	roleFee         = "fee"
	roleRealizedPnL = "realized_pnl"
)

// recordPlan is what a broker record turns into before anything is written.
type recordPlan struct {
	record  domain.BrokerRecord
	action  domain.TradeAction
	legs    []*domain.Leg
	pnlLegs func(gross decimal.Decimal) []*domain.Leg
}

func (p *recordPlan) groupID() string { return p.record.TradeID }

func (p *recordPlan) isTrade() bool { return p.record.Kind == domain.KindTrade }

func (p *recordPlan) opens() bool { return p.isTrade() && p.action.Opens() }

func (p *recordPlan) closes() bool { return p.isTrade() && !p.action.Opens() }

// legBuilder accumulates signed legs for one group. Zero amounts are dropped
// and the side follows the sign.
type legBuilder struct {
	rec  *domain.BrokerRecord
	meta map[string]any
	legs []*domain.Leg
}

func (b *legBuilder) add(account string, signed decimal.Decimal) {
	if signed.IsZero() {
		return
	}
	side := domain.SideDebit
	if signed.IsNegative() {
		side = domain.SideCredit
	}
	b.legs = append(b.legs, &domain.Leg{
		AccountCode:  account,
		Side:         side,
		TotalValue:   signed,
		TradeID:      b.rec.TradeID,
		Symbol:       b.rec.Symbol,
		Strategy:     b.rec.Strategy,
		TimestampUTC: b.rec.TimestampUTC,
		Metadata:     b.meta,
	})
}

func legMetadata(rec *domain.BrokerRecord, runID string) map[string]any {
	meta := map[string]any{
		"broker":      rec.Broker,
		"action":      rec.Action,
		"kind":        string(rec.Kind),
		"sync_run_id": runID,
	}
	if rec.Memo != "" {
		meta["memo"] = rec.Memo
	}
	if rec.Kind == domain.KindTrade {
		meta["qty"] = rec.Qty.String()
		meta["price"] = rec.Price.String()
	}
	for k, v := range rec.Metadata {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	return meta
}

// accountResolver resolves posting roles against one mapping table.
type accountResolver struct {
	table    *domain.MappingTable
	defaults AccountDefaults
}

// primary resolves the account the record itself maps to.
func (r accountResolver) primary(rec *domain.BrokerRecord, fallback string) (string, error) {
	txn := rec.TransactionContext()
	if rule, ok := domain.GetMappingForTransaction(txn, r.table); ok {
		return rule.AccountCode, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrMappingRuleNotFound, domain.DeriveRuleKey(txn))
}

// role resolves a supporting leg such as cash or fees.
func (r accountResolver) role(rec *domain.BrokerRecord, role, fallback string) (string, error) {
	txn := domain.TransactionContext{Broker: rec.Broker, Type: role, Strategy: rec.Strategy}
	if rule, ok := domain.GetMappingForTransaction(txn, r.table); ok {
		return rule.AccountCode, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("%w: %s", domain.ErrMappingRuleNotFound, domain.DeriveRuleKey(txn))
}

// planRecord turns a normalized broker record into the legs it posts.
//
// Trades move notional between cash and the position account and expense
// the fee. A close is booked at proceeds; the realized P&L group returned
// by pnlLegs then moves the gross gain between the position and income so
// the position account nets to the consumed basis.
//
// Cash activity moves Amount between cash and its mapped account.
func planRecord(rec domain.BrokerRecord, r accountResolver, runID string) (*recordPlan, error) {
	plan := &recordPlan{record: rec}
	meta := legMetadata(&rec, runID)
	b := &legBuilder{rec: &rec, meta: meta}

	cash, err := r.role(&rec, roleCash, r.defaults.Cash)
	if err != nil {
		return nil, err
	}
	fees, err := r.role(&rec, roleFee, r.defaults.Fees)
	if err != nil && rec.Fee.IsPositive() {
		return nil, err
	}

	if rec.Kind == domain.KindCash {
		primary, err := r.primary(&rec, "")
		if err != nil {
			return nil, err
		}
		b.add(cash, rec.Amount.Sub(rec.Fee))
		b.add(fees, rec.Fee)
		b.add(primary, rec.Amount.Neg())
		plan.legs = b.legs
		return plan, nil
	}

	action, ok := domain.NormalizeAction(rec.Action)
	if !ok {
		return nil, fmt.Errorf("%w: unknown trade action %q", domain.ErrInvalidRecord, rec.Action)
	}
	plan.action = action

	fallback := r.defaults.LongPosition
	if action.PositionSide() == domain.PositionShort {
		fallback = r.defaults.ShortPosition
	}
	position, err := r.primary(&rec, fallback)
	if err != nil {
		return nil, err
	}

	notional := rec.Notional()
	switch action {
	case domain.ActionBuy, domain.ActionCover:
		b.add(position, notional)
		b.add(fees, rec.Fee)
		b.add(cash, notional.Add(rec.Fee).Neg())
	case domain.ActionSell, domain.ActionShort:
		b.add(cash, notional.Sub(rec.Fee))
		b.add(fees, rec.Fee)
		b.add(position, notional.Neg())
	}
	plan.legs = b.legs

	if plan.closes() {
		realized, err := r.role(&rec, roleRealizedPnL, r.defaults.RealizedPnL)
		if err != nil {
			return nil, err
		}
		plan.pnlLegs = func(gross decimal.Decimal) []*domain.Leg {
			pb := &legBuilder{rec: &rec, meta: meta}
			pb.add(position, gross)
			pb.add(realized, gross.Neg())
			return pb.legs
		}
	}

	return plan, nil
}

// normalizeRecord fills defaults and canonicalizes a broker record.
func normalizeRecord(rec domain.BrokerRecord, defaultBroker string) domain.BrokerRecord {
	rec.TradeID = strings.TrimSpace(rec.TradeID)
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	rec.Action = strings.ToLower(strings.TrimSpace(rec.Action))
	rec.Strategy = strings.TrimSpace(rec.Strategy)
	rec.Memo = strings.TrimSpace(rec.Memo)
	rec.Broker = strings.TrimSpace(rec.Broker)
	if rec.Broker == "" {
		rec.Broker = defaultBroker
	}
	rec.TimestampUTC = rec.TimestampUTC.UTC()
	return rec
}

// compareLegs checks posted legs against the legs a record would post.
// Values decide the outcome; account differences are reported but tolerated
// since posted legs may have been reclassified since.
func compareLegs(expected, posted []*domain.Leg) (bool, domain.JSON) {
	diff := domain.JSON{}

	if len(expected) != len(posted) {
		diff["leg_count"] = map[string]any{"expected": len(expected), "posted": len(posted)}
	}

	n := min(len(expected), len(posted))
	matched := len(expected) == len(posted)
	for i := 0; i < n; i++ {
		want := domain.SignedValue(expected[i].Side, expected[i].TotalValue)
		got := posted[i].TotalValue
		key := fmt.Sprintf("leg_%d", i+1)
		if !want.Equal(got) {
			matched = false
			diff[key] = map[string]any{"expected": want.String(), "posted": got.String()}
			continue
		}
		if expected[i].AccountCode != posted[i].AccountCode {
			diff[key+"_account"] = map[string]any{"expected": expected[i].AccountCode, "posted": posted[i].AccountCode}
		}
	}

	if len(diff) == 0 {
		return matched, nil
	}
	return matched, diff
}

func compareFields(rec *domain.BrokerRecord) domain.JSON {
	fields := domain.JSON{
		"kind":   string(rec.Kind),
		"action": rec.Action,
		"fee":    rec.Fee.String(),
	}
	if rec.Kind == domain.KindTrade {
		fields["symbol"] = rec.Symbol
		fields["qty"] = rec.Qty.String()
		fields["price"] = rec.Price.String()
		fields["notional"] = rec.Notional().String()
	} else {
		fields["amount"] = rec.Amount.String()
	}
	return fields
}
