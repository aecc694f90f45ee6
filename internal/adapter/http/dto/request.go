package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// LegRequest is one leg of a posted group.
type LegRequest struct {
	TimestampUTC time.Time       `json:"timestamp_utc"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	TradeID      string          `json:"trade_id"`
	AccountCode  string          `json:"account_code"`
	Side         string          `json:"side"`
	Symbol       string          `json:"symbol,omitempty"`
	Strategy     string          `json:"strategy,omitempty"`
	TotalValue   decimal.Decimal `json:"total_value"`
}

// PostGroupRequest is a request to post one balanced leg group.
type PostGroupRequest struct {
	GroupID string       `json:"group_id"`
	Legs    []LegRequest `json:"legs"`
}

// ToUseCaseInput converts to use case input.
func (r *PostGroupRequest) ToUseCaseInput(actor string) (usecase.PostInput, error) {
	legs := make([]*domain.Leg, len(r.Legs))
	for i, l := range r.Legs {
		side, err := domain.ParseSide(l.Side)
		if err != nil {
			return usecase.PostInput{}, fmt.Errorf("leg %d: %w", i+1, err)
		}
		legs[i] = &domain.Leg{
			TradeID:      l.TradeID,
			AccountCode:  l.AccountCode,
			Side:         side,
			Symbol:       l.Symbol,
			Strategy:     l.Strategy,
			TotalValue:   l.TotalValue,
			TimestampUTC: l.TimestampUTC,
			Metadata:     l.Metadata,
		}
	}
	return usecase.PostInput{GroupID: r.GroupID, Actor: actor, Legs: legs}, nil
}

// EditLegRequest changes the classification of a posted leg. Absent fields
// are left alone.
type EditLegRequest struct {
	AccountCode *string `json:"account_code,omitempty"`
	Strategy    *string `json:"strategy,omitempty"`
	Memo        *string `json:"memo,omitempty"`
	Reason      string  `json:"reason"`
}

// ToUseCaseInput converts to use case input.
func (r *EditLegRequest) ToUseCaseInput(legID, actor string) usecase.EditLegInput {
	return usecase.EditLegInput{
		LegID:       legID,
		AccountCode: r.AccountCode,
		Strategy:    r.Strategy,
		Memo:        r.Memo,
		Actor:       actor,
		Reason:      r.Reason,
	}
}

// OpenLotRequest opens a lot directly.
type OpenLotRequest struct {
	OpenedAt time.Time       `json:"opened_at"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	TradeID  string          `json:"trade_id"`
	Qty      decimal.Decimal `json:"qty"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Fees     decimal.Decimal `json:"fees"`
}

// ToUseCaseInput converts to use case input.
func (r *OpenLotRequest) ToUseCaseInput(actor string) (usecase.OpenLotInput, error) {
	side, err := domain.ParsePositionSide(r.Side)
	if err != nil {
		return usecase.OpenLotInput{}, err
	}
	return usecase.OpenLotInput{
		OpenedAt: r.OpenedAt,
		Symbol:   r.Symbol,
		Side:     side,
		TradeID:  r.TradeID,
		Actor:    actor,
		Qty:      r.Qty,
		UnitCost: r.UnitCost,
		Fees:     r.Fees,
	}, nil
}

// CloseLotsRequest closes quantity against open lots with the configured
// policy.
type CloseLotsRequest struct {
	ClosedAt      time.Time       `json:"closed_at"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	CloseTradeID  string          `json:"close_trade_id"`
	Qty           decimal.Decimal `json:"qty"`
	ProceedsTotal decimal.Decimal `json:"proceeds_total"`
	CloseFees     decimal.Decimal `json:"close_fees"`
}

// ToUseCaseInput converts to use case input.
func (r *CloseLotsRequest) ToUseCaseInput(actor string) (usecase.CloseInput, error) {
	side, err := domain.ParsePositionSide(r.Side)
	if err != nil {
		return usecase.CloseInput{}, err
	}
	return usecase.CloseInput{
		ClosedAt:      r.ClosedAt,
		Symbol:        r.Symbol,
		Side:          side,
		CloseTradeID:  r.CloseTradeID,
		Actor:         actor,
		Qty:           r.Qty,
		ProceedsTotal: r.ProceedsTotal,
		CloseFees:     r.CloseFees,
	}, nil
}

// UpsertRuleRequest adds or replaces one mapping rule. When RuleKey is
// empty it is derived from Context.
type UpsertRuleRequest struct {
	Context     map[string]any `json:"context,omitempty"`
	RuleKey     string         `json:"rule_key,omitempty"`
	AccountCode string         `json:"account_code"`
	Reason      string         `json:"reason"`
}

// ToUseCaseInput converts to use case input.
func (r *UpsertRuleRequest) ToUseCaseInput(actor string) usecase.UpsertRuleInput {
	return usecase.UpsertRuleInput{
		Context:     domain.ContextFromFields(r.Context),
		RuleKey:     r.RuleKey,
		AccountCode: r.AccountCode,
		Actor:       actor,
		Reason:      r.Reason,
	}
}

// RollbackRequest restores the rules of an earlier mapping version.
type RollbackRequest struct {
	Version int64  `json:"version"`
	Reason  string `json:"reason"`
}

// ResolveRequest resolves a reconciliation entry.
type ResolveRequest struct {
	Notes string `json:"notes"`
}

// SyncRequest starts a sync run.
type SyncRequest struct {
	Start  *time.Time `json:"start,omitempty"`
	End    *time.Time `json:"end,omitempty"`
	DryRun bool       `json:"dry_run"`
}

// ToUseCaseInput converts to use case input.
func (r *SyncRequest) ToUseCaseInput(actor string) usecase.SyncInput {
	return usecase.SyncInput{Start: r.Start, End: r.End, DryRun: r.DryRun, Actor: actor}
}
