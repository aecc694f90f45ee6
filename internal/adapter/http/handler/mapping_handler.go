package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/iho/botledger/internal/adapter/http/dto"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

const maxImportBytes = 4 << 20

// MappingService defines the behavior needed by MappingHandler.
type MappingService interface {
	LoadMappingTable(ctx context.Context) (*domain.MappingTable, error)
	GetVersion(ctx context.Context, version int64) (*domain.MappingTable, error)
	History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error)
	UpsertRule(ctx context.Context, input usecase.UpsertRuleInput) (int64, error)
	RollbackMappingVersion(ctx context.Context, target int64, actor, reason string) (int64, error)
	ExportYAML(ctx context.Context) ([]byte, error)
	ImportYAML(ctx context.Context, data []byte, actor string) (int64, error)
}

// MappingHandler serves the versioned chart-of-accounts mapping.
type MappingHandler struct {
	mapping MappingService
}

// NewMappingHandler creates a new MappingHandler.
func NewMappingHandler(mapping MappingService) *MappingHandler {
	return &MappingHandler{mapping: mapping}
}

// Current returns the current mapping table.
func (h *MappingHandler) Current(w http.ResponseWriter, r *http.Request) {
	table, err := h.mapping.LoadMappingTable(r.Context())
	if err != nil {
		writeDomainError(w, "failed to load mapping", err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// Version returns one historical mapping table.
func (h *MappingHandler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || version < 0 {
		writeError(w, http.StatusBadRequest, "invalid version", chi.URLParam(r, "version"))
		return
	}

	table, err := h.mapping.GetVersion(r.Context(), version)
	if err != nil {
		writeDomainError(w, "failed to load mapping version", err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// History lists mapping versions, newest first.
func (h *MappingHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	versions, err := h.mapping.History(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, "failed to list mapping history", err)
		return
	}
	writeJSON(w, http.StatusOK, dto.MappingHistoryFromDomain(versions))
}

// Upsert adds or replaces one rule in a new version.
func (h *MappingHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req dto.UpsertRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	version, err := h.mapping.UpsertRule(r.Context(), req.ToUseCaseInput(actor(r)))
	if err != nil {
		writeDomainError(w, "failed to upsert rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.VersionResponse{Version: version})
}

// Rollback restores an earlier version's rules as a new version.
func (h *MappingHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	var req dto.RollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	version, err := h.mapping.RollbackMappingVersion(r.Context(), req.Version, actor(r), req.Reason)
	if err != nil {
		writeDomainError(w, "failed to roll back mapping", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.VersionResponse{Version: version})
}

// Export returns the current table as YAML.
func (h *MappingHandler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.mapping.ExportYAML(r.Context())
	if err != nil {
		writeDomainError(w, "failed to export mapping", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Import replaces the rule set with a YAML document as a new version.
func (h *MappingHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	version, err := h.mapping.ImportYAML(r.Context(), data, actor(r))
	if err != nil {
		writeDomainError(w, "failed to import mapping", err)
		return
	}
	writeJSON(w, http.StatusCreated, dto.VersionResponse{Version: version})
}
