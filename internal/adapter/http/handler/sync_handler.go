package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/usecase"
)

// SyncService defines the behavior needed by SyncHandler.
type SyncService interface {
	SyncBrokerLedger(ctx context.Context, input usecase.SyncInput) (*usecase.SyncSummary, error)
}

// SyncHandler starts sync runs.
type SyncHandler struct {
	sync SyncService
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(sync SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Run runs one sync and returns its summary. A run that posted everything
// answers 200; a partial run answers 207 with the same body.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req dto.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		writeError(w, http.StatusBadRequest, "invalid window", "end is before start")
		return
	}

	summary, err := h.sync.SyncBrokerLedger(r.Context(), req.ToUseCaseInput(actor(r)))
	if err != nil {
		writeDomainError(w, "sync failed", err)
		return
	}

	status := http.StatusOK
	if !summary.FullyPosted() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}
