package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// LegResponse represents a leg in API responses.
type LegResponse struct {
	TimestampUTC time.Time       `json:"timestamp_utc"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	ID           string          `json:"id"`
	GroupID      string          `json:"group_id"`
	TradeID      string          `json:"trade_id"`
	AccountCode  string          `json:"account_code"`
	Side         string          `json:"side"`
	Symbol       string          `json:"symbol,omitempty"`
	Strategy     string          `json:"strategy,omitempty"`
	TotalValue   decimal.Decimal `json:"total_value"`
	LegNo        int             `json:"leg_no"`
}

// LegFromDomain converts a domain leg to a response.
func LegFromDomain(l *domain.Leg) *LegResponse {
	return &LegResponse{
		ID:           l.ID,
		GroupID:      l.GroupID,
		TradeID:      l.TradeID,
		LegNo:        l.LegNo,
		AccountCode:  l.AccountCode,
		Side:         string(l.Side),
		TotalValue:   l.TotalValue,
		Symbol:       l.Symbol,
		Strategy:     l.Strategy,
		TimestampUTC: l.TimestampUTC,
		Metadata:     l.Metadata,
		CreatedAt:    l.CreatedAt,
		UpdatedAt:    l.UpdatedAt,
	}
}

// LegsFromDomain converts domain legs to responses.
func LegsFromDomain(legs []*domain.Leg) []*LegResponse {
	result := make([]*LegResponse, len(legs))
	for i, l := range legs {
		result[i] = LegFromDomain(l)
	}
	return result
}

// PostGroupResponse reports a posted group.
type PostGroupResponse struct {
	GroupID     string   `json:"group_id"`
	InsertedIDs []string `json:"inserted_ids"`
	Balanced    bool     `json:"balanced"`
}

// PostGroupFromResult converts a post result to a response.
func PostGroupFromResult(r *usecase.PostResult) *PostGroupResponse {
	return &PostGroupResponse{GroupID: r.GroupID, InsertedIDs: r.InsertedIDs, Balanced: r.Balanced}
}

// BalanceResponse is one line of the trial balance.
type BalanceResponse struct {
	AccountCode    string          `json:"account_code"`
	Root           string          `json:"root"`
	Debits         decimal.Decimal `json:"debits"`
	Credits        decimal.Decimal `json:"credits"`
	Balance        decimal.Decimal `json:"balance"`
	NaturalBalance decimal.Decimal `json:"natural_balance"`
	Legs           int64           `json:"legs"`
}

// BalanceReportResponse is the trial balance.
type BalanceReportResponse struct {
	Roots    map[string]decimal.Decimal `json:"roots"`
	Accounts []BalanceResponse          `json:"accounts"`
	Net      decimal.Decimal            `json:"net"`
}

// BalanceReportFromUseCase converts a balance report to a response.
func BalanceReportFromUseCase(r *usecase.BalanceReport) *BalanceReportResponse {
	accounts := make([]BalanceResponse, len(r.Accounts))
	for i, b := range r.Accounts {
		accounts[i] = BalanceResponse{
			AccountCode:    b.AccountCode,
			Root:           b.Root,
			Debits:         b.Debits,
			Credits:        b.Credits,
			Balance:        b.Balance,
			NaturalBalance: b.NaturalBalance(),
			Legs:           b.Legs,
		}
	}
	return &BalanceReportResponse{Roots: r.Roots, Accounts: accounts, Net: r.Net}
}

// ImbalanceResponse names one group failing the double-entry check.
type ImbalanceResponse struct {
	GroupID string          `json:"group_id"`
	Sum     decimal.Decimal `json:"sum"`
	Reason  string          `json:"reason,omitempty"`
}

// ValidateResponse reports the double-entry check.
type ValidateResponse struct {
	Imbalances []ImbalanceResponse `json:"imbalances,omitempty"`
	Balanced   bool                `json:"balanced"`
}

// ValidateFromResult converts a double-entry check to a response.
func ValidateFromResult(ok bool, imbalance *domain.ImbalanceError) ValidateResponse {
	resp := ValidateResponse{Balanced: ok}
	if imbalance != nil {
		for _, g := range imbalance.Groups {
			resp.Imbalances = append(resp.Imbalances, ImbalanceResponse(g))
		}
	}
	return resp
}

// LotResponse represents a lot in API responses.
type LotResponse struct {
	OpenedAt      time.Time       `json:"opened_at"`
	ID            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	OpenedTradeID string          `json:"opened_trade_id"`
	QtyOpen       decimal.Decimal `json:"qty_open"`
	QtyRemaining  decimal.Decimal `json:"qty_remaining"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	FeesAlloc     decimal.Decimal `json:"fees_alloc"`
}

// LotsFromDomain converts domain lots to responses.
func LotsFromDomain(lots []*domain.Lot) []*LotResponse {
	result := make([]*LotResponse, len(lots))
	for i, l := range lots {
		result[i] = &LotResponse{
			OpenedAt:      l.OpenedAt,
			ID:            l.ID,
			Symbol:        l.Symbol,
			Side:          string(l.Side),
			OpenedTradeID: l.OpenedTradeID,
			QtyOpen:       l.QtyOpen,
			QtyRemaining:  l.QtyRemaining,
			UnitCost:      l.UnitCost,
			FeesAlloc:     l.FeesAlloc,
		}
	}
	return result
}

// ClosureResponse represents one lot closure.
type ClosureResponse struct {
	ClosedAt       time.Time       `json:"closed_at"`
	ID             string          `json:"id"`
	LotID          string          `json:"lot_id"`
	CloseTradeID   string          `json:"close_trade_id"`
	Qty            decimal.Decimal `json:"qty"`
	BasisAmount    decimal.Decimal `json:"basis_amount"`
	ProceedsAmount decimal.Decimal `json:"proceeds_amount"`
	FeesAlloc      decimal.Decimal `json:"fees_alloc"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
}

func closureFromDomain(c *domain.LotClosure) ClosureResponse {
	return ClosureResponse{
		ClosedAt:       c.ClosedAt,
		ID:             c.ID,
		LotID:          c.LotID,
		CloseTradeID:   c.CloseTradeID,
		Qty:            c.Qty,
		BasisAmount:    c.BasisAmount,
		ProceedsAmount: c.ProceedsAmount,
		FeesAlloc:      c.FeesAlloc,
		RealizedPnL:    c.RealizedPnL,
	}
}

// ClosuresFromDomain converts domain closures to responses.
func ClosuresFromDomain(closures []*domain.LotClosure) []ClosureResponse {
	result := make([]ClosureResponse, len(closures))
	for i, c := range closures {
		result[i] = closureFromDomain(c)
	}
	return result
}

// CloseSummaryResponse totals one close.
type CloseSummaryResponse struct {
	ClosedAt         time.Time         `json:"closed_at"`
	Side             string            `json:"side"`
	CloseTradeID     string            `json:"close_trade_id"`
	Closures         []ClosureResponse `json:"closures"`
	QtyClosed        decimal.Decimal   `json:"qty_closed"`
	BasisTotal       decimal.Decimal   `json:"basis_total"`
	ProceedsTotal    decimal.Decimal   `json:"proceeds_total"`
	FeesTotal        decimal.Decimal   `json:"fees_total"`
	RealizedPnLTotal decimal.Decimal   `json:"realized_pnl_total"`
}

// CloseSummaryFromDomain converts a close summary to a response.
func CloseSummaryFromDomain(s *domain.CloseSummary) *CloseSummaryResponse {
	closures := make([]ClosureResponse, len(s.Closures))
	for i := range s.Closures {
		closures[i] = closureFromDomain(&s.Closures[i])
	}
	return &CloseSummaryResponse{
		ClosedAt:         s.ClosedAt,
		Side:             string(s.Side),
		CloseTradeID:     s.CloseTradeID,
		Closures:         closures,
		QtyClosed:        s.QtyClosed,
		BasisTotal:       s.BasisTotal,
		ProceedsTotal:    s.ProceedsTotal,
		FeesTotal:        s.FeesTotal,
		RealizedPnLTotal: s.RealizedPnLTotal,
	}
}

// MappingVersionResponse is one entry of the mapping history.
type MappingVersionResponse struct {
	CreatedAt      time.Time `json:"created_at"`
	CreatedBy      string    `json:"created_by"`
	Reason         string    `json:"reason,omitempty"`
	Version        int64     `json:"version"`
	RuleCount      int       `json:"rule_count"`
	RolledBackFrom *int64    `json:"rolled_back_from,omitempty"`
}

// MappingHistoryFromDomain converts mapping versions to responses.
func MappingHistoryFromDomain(versions []domain.MappingVersion) []MappingVersionResponse {
	result := make([]MappingVersionResponse, len(versions))
	for i, v := range versions {
		result[i] = MappingVersionResponse(v)
	}
	return result
}

// VersionResponse reports the version a mapping write produced.
type VersionResponse struct {
	Version int64 `json:"version"`
}

// ReconListResponse is a page of reconciliation records.
type ReconListResponse struct {
	Records []usecase.RecordView `json:"records"`
}

// ReconFromDomain converts records to views.
func ReconFromDomain(records []*domain.ReconciliationRecord) []usecase.RecordView {
	result := make([]usecase.RecordView, len(records))
	for i, r := range records {
		result[i] = usecase.NewRecordView(r)
	}
	return result
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
