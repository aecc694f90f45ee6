package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/iho/botledger/internal/domain"
)

// ReconciliationUseCase writes and reads the append-only reconciliation log.
type ReconciliationUseCase struct {
	repo     ReconciliationRepository
	idGen    IDGenerator
	identity domain.Identity
	opts     options
}

// NewReconciliationUseCase creates a new reconciliation use case.
func NewReconciliationUseCase(
	repo ReconciliationRepository,
	idGen IDGenerator,
	identity domain.Identity,
	opts ...Option,
) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		repo:     repo,
		idGen:    idGen,
		identity: identity,
		opts:     buildOptions(opts),
	}
}

// LogEntryInput is one reconciliation outcome to append.
type LogEntryInput struct {
	TimestampUTC   time.Time
	CompareFields  domain.JSON
	Diff           domain.JSON
	RawRecord      domain.JSON
	TradeID        string
	GroupID        string
	Status         domain.ReconStatus
	SyncRunID      string
	APIHash        string
	MappingVersion string
	Broker         string
	Notes          string
	ResolvesID     string
	Actor          string
}

// LogEntry appends one record. Unknown statuses are rejected, and a failed
// append is reported as *domain.ReconciliationWriteError.
func (uc *ReconciliationUseCase) LogEntry(ctx context.Context, input LogEntryInput) (*domain.ReconciliationRecord, error) {
	status, err := domain.ParseReconStatus(string(input.Status))
	if err != nil {
		return nil, err
	}

	ts := input.TimestampUTC
	if ts.IsZero() {
		ts = uc.opts.now()
	}

	record := &domain.ReconciliationRecord{
		ID:               uc.idGen.Generate(),
		TradeID:          input.TradeID,
		GroupID:          input.GroupID,
		Status:           status,
		CompareFields:    input.CompareFields,
		Diff:             input.Diff,
		SyncRunID:        input.SyncRunID,
		TimestampUTC:     ts.UTC(),
		APIHash:          input.APIHash,
		MappingVersion:   input.MappingVersion,
		Broker:           input.Broker,
		RawRecord:        input.RawRecord,
		Notes:            input.Notes,
		EntityCode:       uc.identity.Entity,
		JurisdictionCode: uc.identity.Jurisdiction,
		BrokerCode:       uc.identity.Broker,
		ResolvesID:       input.ResolvesID,
		Actor:            actorOrSystem(input.Actor),
	}
	if record.Broker == "" {
		record.Broker = uc.identity.Broker
	}

	if err := uc.repo.Append(ctx, record); err != nil {
		return nil, &domain.ReconciliationWriteError{TradeID: input.TradeID, Err: err}
	}

	uc.opts.metrics.ReconEntry(string(status))
	return record, nil
}

// GetEntries lists records newest first (timestamp, then id).
func (uc *ReconciliationUseCase) GetEntries(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error) {
	if filter.Status != "" {
		if _, err := domain.ParseReconStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	return retryRead(ctx, uc.opts.retrier, func() ([]*domain.ReconciliationRecord, error) {
		return uc.repo.List(ctx, filter)
	})
}

// SnapshotLog writes every record as a JSON array to w and returns the count.
func (uc *ReconciliationUseCase) SnapshotLog(ctx context.Context, w io.Writer) (int, error) {
	records, err := retryRead(ctx, uc.opts.retrier, func() ([]*domain.ReconciliationRecord, error) {
		return uc.repo.All(ctx)
	})
	if err != nil {
		return 0, err
	}

	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		views = append(views, NewRecordView(r))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(views); err != nil {
		return 0, fmt.Errorf("write reconciliation snapshot: %w", err)
	}

	return len(views), nil
}

// DiffWindow selects records for a diff export. Bounds are inclusive.
type DiffWindow struct {
	Start     time.Time
	End       time.Time
	SyncRunID string
	GroupID   string
}

// ExportDiffsByWindow returns the records in the window as a JSON array.
func (uc *ReconciliationUseCase) ExportDiffsByWindow(ctx context.Context, window DiffWindow) ([]byte, error) {
	if window.End.Before(window.Start) {
		return nil, fmt.Errorf("export window ends before it starts")
	}

	start, end := window.Start.UTC(), window.End.UTC()
	var views []RecordView
	offset := 0
	for {
		page, err := uc.GetEntries(ctx, domain.ReconFilter{
			Start:     &start,
			End:       &end,
			SyncRunID: window.SyncRunID,
			GroupID:   window.GroupID,
			Limit:     MaxListLimit,
			Offset:    offset,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			views = append(views, NewRecordView(r))
		}
		if len(page) < MaxListLimit {
			break
		}
		offset += len(page)
	}

	if views == nil {
		views = []RecordView{}
	}
	return json.MarshalIndent(views, "", "  ")
}

// Resolve appends a "resolved" record pointing at entryID. The original
// record is never modified.
func (uc *ReconciliationUseCase) Resolve(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: resolving an entry needs an actor", domain.ErrInvalidRecord)
	}

	original, err := retryRead(ctx, uc.opts.retrier, func() (*domain.ReconciliationRecord, error) {
		return uc.repo.GetByID(ctx, entryID)
	})
	if err != nil {
		return nil, err
	}
	if original.Status == domain.ReconResolved {
		return nil, fmt.Errorf("%w: entry %s is itself a resolution", domain.ErrInvalidStatus, entryID)
	}

	return uc.LogEntry(ctx, LogEntryInput{
		TradeID:        original.TradeID,
		GroupID:        original.GroupID,
		Status:         domain.ReconResolved,
		SyncRunID:      original.SyncRunID,
		APIHash:        original.APIHash,
		MappingVersion: original.MappingVersion,
		Broker:         original.Broker,
		CompareFields:  domain.JSON{"resolved_status": string(original.Status)},
		Notes:          notes,
		ResolvesID:     original.ID,
		Actor:          actor,
	})
}

// RecordView is the JSON shape of a reconciliation record.
type RecordView struct {
	CompareFields  domain.JSON `json:"compare_fields,omitempty"`
	Diff           domain.JSON `json:"diff,omitempty"`
	RawRecord      domain.JSON `json:"raw_record,omitempty"`
	ID             string      `json:"id"`
	TradeID        string      `json:"trade_id"`
	GroupID        string      `json:"group_id,omitempty"`
	Status         string      `json:"status"`
	SyncRunID      string      `json:"sync_run_id,omitempty"`
	TimestampUTC   string      `json:"timestamp_utc"`
	APIHash        string      `json:"api_hash,omitempty"`
	MappingVersion string      `json:"mapping_version,omitempty"`
	Broker         string      `json:"broker,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Entity         string      `json:"entity_code"`
	Jurisdiction   string      `json:"jurisdiction_code"`
	BrokerCode     string      `json:"broker_code"`
	ResolvesID     string      `json:"resolves_id,omitempty"`
	Actor          string      `json:"actor,omitempty"`
}

// NewRecordView converts a record for JSON output.
func NewRecordView(r *domain.ReconciliationRecord) RecordView {
	return RecordView{
		ID:             r.ID,
		TradeID:        r.TradeID,
		GroupID:        r.GroupID,
		Status:         string(r.Status),
		CompareFields:  r.CompareFields,
		Diff:           r.Diff,
		RawRecord:      r.RawRecord,
		SyncRunID:      r.SyncRunID,
		TimestampUTC:   r.TimestampUTC.UTC().Format(time.RFC3339Nano),
		APIHash:        r.APIHash,
		MappingVersion: r.MappingVersion,
		Broker:         r.Broker,
		Notes:          r.Notes,
		Entity:         r.EntityCode,
		Jurisdiction:   r.JurisdictionCode,
		BrokerCode:     r.BrokerCode,
		ResolvesID:     r.ResolvesID,
		Actor:          r.Actor,
	}
}
