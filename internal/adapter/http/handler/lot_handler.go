package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// LotService defines the behavior needed by LotHandler.
type LotService interface {
	RecordOpen(ctx context.Context, input usecase.OpenLotInput) (string, error)
	Close(ctx context.Context, input usecase.CloseInput) (*domain.CloseSummary, error)
	ListOpenLots(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error)
	ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error)
}

// LotHandler serves the lot engine.
type LotHandler struct {
	lots LotService
}

// NewLotHandler creates a new LotHandler.
func NewLotHandler(lots LotService) *LotHandler {
	return &LotHandler{lots: lots}
}

// ListOpen lists open lots of one symbol and side, in allocation order.
func (h *LotHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol", "")
		return
	}

	side := domain.PositionLong
	if s := r.URL.Query().Get("side"); s != "" {
		parsed, err := domain.ParsePositionSide(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid side", err.Error())
			return
		}
		side = parsed
	}

	lots, err := h.lots.ListOpenLots(r.Context(), symbol, side)
	if err != nil {
		writeDomainError(w, "failed to list lots", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LotsFromDomain(lots))
}

// Open records a lot opened outside a sync.
func (h *LotHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenLotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(actor(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	id, err := h.lots.RecordOpen(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to open lot", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Close closes quantity against open lots.
func (h *LotHandler) Close(w http.ResponseWriter, r *http.Request) {
	var req dto.CloseLotsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(actor(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid side", err.Error())
		return
	}

	summary, err := h.lots.Close(r.Context(), input)
	if err != nil {
		writeDomainError(w, "failed to close lots", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CloseSummaryFromDomain(summary))
}

// Closures lists closures, optionally of one close trade.
func (h *LotHandler) Closures(w http.ResponseWriter, r *http.Request) {
	closures, err := h.lots.ListClosures(r.Context(), r.URL.Query().Get("trade_id"))
	if err != nil {
		writeDomainError(w, "failed to list closures", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ClosuresFromDomain(closures))
}
