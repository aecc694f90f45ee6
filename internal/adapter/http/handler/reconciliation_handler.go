package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

// ReconciliationService defines the behavior needed by ReconciliationHandler.
type ReconciliationService interface {
	GetEntries(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error)
	ExportDiffsByWindow(ctx context.Context, window usecase.DiffWindow) ([]byte, error)
	Resolve(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error)
}

// ReconciliationHandler serves the reconciliation log.
type ReconciliationHandler struct {
	recon ReconciliationService
}

// NewReconciliationHandler creates a new ReconciliationHandler.
func NewReconciliationHandler(recon ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{recon: recon}
}

// List returns log records, newest first.
func (h *ReconciliationHandler) List(w http.ResponseWriter, r *http.Request) {
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

	q := r.URL.Query()
	var status domain.ReconStatus
	if s := q.Get("status"); s != "" {
		if status, err = domain.ParseReconStatus(s); err != nil {
			writeError(w, http.StatusBadRequest, "invalid status", err.Error())
			return
		}
	}

	limit, offset := pagination(r)
	records, err := h.recon.GetEntries(r.Context(), domain.ReconFilter{
		Start:     start,
		End:       end,
		SyncRunID: q.Get("sync_run_id"),
		TradeID:   q.Get("trade_id"),
		GroupID:   q.Get("group_id"),
		Status:    status,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeDomainError(w, "failed to list reconciliation records", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconListResponse{Records: dto.ReconFromDomain(records)})
}

// Export returns every record in [start, end] as a JSON array. end
// defaults to now.
func (h *ReconciliationHandler) Export(w http.ResponseWriter, r *http.Request) {
	start, err := parseTimeQuery(r, "start")
	if err != nil || start == nil {
		writeError(w, http.StatusBadRequest, "invalid or missing start", "")
		return
	}
	end, err := parseEndQuery(r, "end")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end", err.Error())
		return
	}
	if end == nil {
		now := time.Now().UTC()
		end = &now
	}

	data, err := h.recon.ExportDiffsByWindow(r.Context(), usecase.DiffWindow{
		Start:     *start,
		End:       *end,
		SyncRunID: r.URL.Query().Get("sync_run_id"),
		GroupID:   r.URL.Query().Get("group_id"),
	})
	if err != nil {
		writeDomainError(w, "failed to export reconciliation records", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Resolve appends a resolution for one record.
func (h *ReconciliationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	rec, err := h.recon.Resolve(r.Context(), chi.URLParam(r, "id"), actor(r), req.Notes)
	if err != nil {
		writeDomainError(w, "failed to resolve record", err)
		return
	}

	writeJSON(w, http.StatusCreated, usecase.NewRecordView(rec))
}
