package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// LedgerService defines the behavior needed by LedgerHandler.
type LedgerService interface {
	Post(ctx context.Context, input usecase.PostInput) (*usecase.PostResult, error)
	GetGroup(ctx context.Context, groupID string) ([]*domain.Leg, error)
	ListLegs(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error)
	EditLeg(ctx context.Context, input usecase.EditLegInput) (*domain.Leg, error)
	AccountBalances(ctx context.Context, filter usecase.BalanceFilter) (*usecase.BalanceReport, error)
	ValidateDoubleEntry(ctx context.Context) (bool, error)
}

// LedgerHandler serves leg groups, legs and balances.
type LedgerHandler struct {
	ledger LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// PostGroup posts one balanced leg group.
func (h *LedgerHandler) PostGroup(w http.ResponseWriter, r *http.Request) {
	var req dto.PostGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(actor(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid legs", err.Error())
		return
	}

	result, err := h.ledger.Post(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to post group", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.PostGroupFromResult(result))
}

// GetGroup returns the legs of a group.
func (h *LedgerHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	legs, err := h.ledger.GetGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "failed to get group", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.LegsFromDomain(legs))
}

// ListLegs lists legs, newest first.
func (h *LedgerHandler) ListLegs(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeQuery(r, "start")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start", err.Error())
		return
	}
	end, err := parseEndQuery(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end", err.Error())
		return
	}

	limit, offset := pagination(r)
	q := r.URL.Query()
	legs, err := h.ledger.ListLegs(r.Context(), domain.LegFilter{
		GroupID:     q.Get("group_id"),
		TradeID:     q.Get("trade_id"),
		AccountCode: q.Get("account_code"),
		Symbol:      strings.ToUpper(q.Get("symbol")),
		Start:       start,
		End:         end,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		writeDomainError(w, "failed to list legs", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LegsFromDomain(legs))
}

// EditLeg reclassifies one leg.
func (h *LedgerHandler) EditLeg(w http.ResponseWriter, r *http.Request) {
	var req dto.EditLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	leg, err := h.ledger.EditLeg(r.Context(), req.ToUseCaseInput(chi.URLParam(r, "id"), actor(r)))
	if err != nil {
		writeDomainError(w, "failed to edit leg", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LegFromDomain(leg))
}

// Balances returns the trial balance.
func (h *LedgerHandler) Balances(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseEndQuery(r, "as_of")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid as_of", err.Error())
		return
	}

	report, err := h.ledger.AccountBalances(r.Context(), usecase.BalanceFilter{AsOf: asOf, Root: r.URL.Query().Get("root")})
	if err != nil {
		writeDomainError(w, "failed to compute balances", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceReportFromUseCase(report))
}

// Validate runs the double-entry check over the whole store. An
// imbalanced store answers 409 with the offending groups.
func (h *LedgerHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ok, err := h.ledger.ValidateDoubleEntry(r.Context())

	var imbalance *domain.ImbalanceError
	if err != nil && !errors.As(err, &imbalance) {
		writeDomainError(w, "failed to validate ledger", err)
		return
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, dto.ValidateFromResult(ok, imbalance))
}
