package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
)

// Sync summary statuses.
const (
	SyncStatusPosted  = "posted"
	SyncStatusPartial = "partial"
	SyncStatusDryRun  = "dry_run"
)

// SyncDeps are the collaborators of the sync orchestrator. Snapshots and
// Lock are optional.
type SyncDeps struct {
	Posting        *PostingUseCase
	Lots           *LotUseCase
	Mapping        *MappingUseCase
	Reconciliation *ReconciliationUseCase
	TxManager      TransactionManager
	LegRepo        LegRepository
	OutboxRepo     OutboxRepository
	AuditRepo      AuditRepository
	IDGen          IDGenerator
	Broker         BrokerClient
	Snapshots      SnapshotStore
	Lock           SyncLock
}

// SyncConfig holds sync policy.
type SyncConfig struct {
	Identity domain.Identity
	Accounts AccountDefaults
	LockTTL  time.Duration
}

// SyncUseCase pulls broker records and books them into the ledger.
type SyncUseCase struct {
	deps SyncDeps
	cfg  SyncConfig
	opts options
}

// NewSyncUseCase creates a new SyncUseCase.
func NewSyncUseCase(deps SyncDeps, cfg SyncConfig, opts ...Option) *SyncUseCase {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = SyncLockTTL
	}
	return &SyncUseCase{deps: deps, cfg: cfg, opts: buildOptions(opts)}
}

// SyncInput bounds one sync run.
type SyncInput struct {
	Start  *time.Time
	End    *time.Time
	Actor  string
	DryRun bool
}

// SyncSummary is the outcome of one sync run.
type SyncSummary struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Status           string    `json:"status"`
	SyncRunID        string    `json:"sync_run_id"`
	Identity         string    `json:"identity"`
	SnapshotPath     string    `json:"snapshot_path,omitempty"`
	RealizedPnL      string    `json:"realized_pnl"`
	Errors           []string  `json:"errors,omitempty"`
	MappingVersion   int64     `json:"mapping_version"`
	Fetched          int       `json:"fetched"`
	Normalized       int       `json:"normalized"`
	SkippedNoise     int       `json:"skipped_noise"`
	PostedGroups     int       `json:"posted_groups"`
	InsertedRows     int       `json:"inserted_rows"`
	Rejected         int       `json:"rejected"`
	Mismatched       int       `json:"mismatched"`
	AlreadyPosted    int       `json:"already_posted"`
	LocalOnly        int       `json:"local_only"`
	LotsOpened       int       `json:"lots_opened"`
	LotsClosed       int       `json:"lots_closed"`
	ReconWriteErrors int       `json:"recon_write_errors"`
	DoubleEntryOK    bool      `json:"double_entry_ok"`
}

// FullyPosted reports a run with nothing left for an operator to look at.
func (s *SyncSummary) FullyPosted() bool {
	return s.Status == SyncStatusPosted
}

// syncRun carries the state of one SyncBrokerLedger call.
type syncRun struct {
	id       string
	actor    string
	dryRun   bool
	resolver accountResolver
	summary  *SyncSummary
	realized decimal.Decimal
	seen     map[string]bool
	log      zerolog.Logger
}

// SyncBrokerLedger runs one sync: lock, snapshot, fetch, then book each
// record in time order. A failing record is logged as rejected and the batch
// continues. Only setup failures (lock, snapshot, broker fetch, mapping
// load) abort the run, and they abort before anything is written.
func (uc *SyncUseCase) SyncBrokerLedger(ctx context.Context, input SyncInput) (*SyncSummary, error) {
	run := &syncRun{
		id:       uc.deps.IDGen.Generate(),
		actor:    actorOrSystem(input.Actor),
		dryRun:   input.DryRun,
		realized: decimal.Zero,
		seen:     map[string]bool{},
	}
	run.log = uc.opts.logger.With().Str("sync_run_id", run.id).Logger()
	run.summary = &SyncSummary{
		StartedAt: uc.opts.now(),
		SyncRunID: run.id,
		Identity:  uc.cfg.Identity.String(),
	}

	if uc.deps.Lock != nil {
		release, err := uc.deps.Lock.Acquire(ctx, "sync:"+uc.cfg.Identity.String(), uc.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				run.log.Warn().Err(err).Msg("release sync lock")
			}
		}()
	}

	if !input.DryRun && uc.deps.Snapshots != nil {
		path, err := uc.deps.Snapshots.Snapshot(ctx, run.id)
		if err != nil {
			return nil, fmt.Errorf("pre-sync snapshot: %w", err)
		}
		run.summary.SnapshotPath = path
		run.log.Info().Str("path", path).Msg("ledger snapshot written")
	}

	records, err := uc.fetch(ctx, input)
	if err != nil {
		return nil, err
	}
	run.summary.Fetched = len(records)

	table, err := uc.deps.Mapping.LoadMappingTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("load mapping table: %w", err)
	}
	run.summary.MappingVersion = table.Version
	run.resolver = accountResolver{table: table, defaults: uc.cfg.Accounts}

	run.log.Info().
		Int("records", len(records)).
		Int64("mapping_version", table.Version).
		Bool("dry_run", input.DryRun).
		Msg("sync started")

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		uc.processRecord(ctx, run, rec)
	}

	if start, end, ok := syncWindow(input, records); ok {
		uc.flagLocalOnly(ctx, run, start, end)
	}

	ok, err := uc.deps.Posting.ValidateDoubleEntry(ctx)
	run.summary.DoubleEntryOK = ok
	if err != nil {
		run.log.Error().Err(err).Msg("double-entry validation failed")
		run.summary.Errors = append(run.summary.Errors, err.Error())
	}

	uc.finish(ctx, run)
	return run.summary, nil
}

func (uc *SyncUseCase) fetch(ctx context.Context, input SyncInput) ([]domain.BrokerRecord, error) {
	trades, err := uc.deps.Broker.FetchTrades(ctx, input.Start, input.End)
	if err != nil {
		return nil, fmt.Errorf("fetch trades: %w", err)
	}
	cash, err := uc.deps.Broker.FetchCashActivity(ctx, input.Start, input.End)
	if err != nil {
		return nil, fmt.Errorf("fetch cash activity: %w", err)
	}

	records := make([]domain.BrokerRecord, 0, len(trades)+len(cash))
	for _, t := range trades {
		if t.Kind == "" {
			t.Kind = domain.KindTrade
		}
		records = append(records, t)
	}
	for _, c := range cash {
		if c.Kind == "" {
			c.Kind = domain.KindCash
		}
		records = append(records, c)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].TimestampUTC.Equal(records[j].TimestampUTC) {
			return records[i].TimestampUTC.Before(records[j].TimestampUTC)
		}
		return records[i].TradeID < records[j].TradeID
	})

	return records, nil
}

func (uc *SyncUseCase) processRecord(ctx context.Context, run *syncRun, raw domain.BrokerRecord) {
	rec := normalizeRecord(raw, uc.cfg.Identity.Broker)
	if rec.TradeID != "" {
		run.seen[rec.TradeID] = true
	}

	if rec.IsNoise() {
		run.summary.SkippedNoise++
		uc.audit(ctx, run, domain.AuditActionSyncSkip, rec.TradeID, "no economic effect")
		return
	}

	if err := rec.Validate(); err != nil {
		uc.reject(ctx, run, &rec, err)
		return
	}
	run.summary.Normalized++

	plan, err := planRecord(rec, run.resolver, run.id)
	if err != nil {
		uc.reject(ctx, run, &rec, err)
		return
	}

	posted, err := retryRead(ctx, uc.opts.retrier, func() ([]*domain.Leg, error) {
		return uc.deps.LegRepo.GetByGroup(ctx, plan.groupID())
	})
	if err != nil {
		uc.reject(ctx, run, &rec, err)
		return
	}
	if len(posted) > 0 {
		uc.compareExisting(ctx, run, plan, posted)
		return
	}

	if run.dryRun {
		uc.logRecon(ctx, run, &rec, domain.ReconBrokerOnly, "", nil, "dry run: not posted")
		return
	}

	var allocations []domain.Allocation
	if plan.closes() {
		allocations, err = uc.deps.Lots.AllocateForClose(ctx, rec.Symbol, rec.Qty, plan.action.PositionSide(), uc.deps.Lots.Policy())
		if err != nil {
			uc.reject(ctx, run, &rec, err)
			return
		}
	}

	if err := uc.apply(ctx, run, plan, allocations); err != nil {
		uc.reject(ctx, run, &rec, err)
		return
	}

	uc.logRecon(ctx, run, &rec, domain.ReconOK, plan.groupID(), nil, "")
}

// apply books one record in a single transaction: the main group, the lot
// movement, and the realized P&L group for closes.
func (uc *SyncUseCase) apply(ctx context.Context, run *syncRun, plan *recordPlan, allocations []domain.Allocation) error {
	rec := plan.record

	legs, err := uc.deps.Posting.prepare(PostInput{GroupID: plan.groupID(), Legs: plan.legs})
	if err != nil {
		return err
	}

	tx, err := uc.deps.TxManager.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := uc.deps.Posting.postInTx(ctx, tx, legs, run.actor); err != nil {
		return err
	}
	groups, rows := 1, len(legs)

	var opened *domain.Lot
	var closed *domain.CloseSummary
	switch {
	case plan.opens():
		opened, err = uc.deps.Lots.openInTx(ctx, tx, OpenLotInput{
			OpenedAt: rec.TimestampUTC,
			Symbol:   rec.Symbol,
			Side:     plan.action.PositionSide(),
			TradeID:  rec.TradeID,
			Actor:    run.actor,
			Qty:      rec.Qty,
			UnitCost: rec.Price,
			Fees:     rec.Fee,
		})
		if err != nil {
			return err
		}
	case plan.closes():
		closed, err = uc.deps.Lots.closeInTx(ctx, tx, RecordCloseInput{
			ClosedAt:      rec.TimestampUTC,
			Symbol:        rec.Symbol,
			Side:          plan.action.PositionSide(),
			CloseTradeID:  rec.TradeID,
			Actor:         run.actor,
			Allocations:   allocations,
			ProceedsTotal: rec.Notional(),
			CloseFees:     rec.Fee,
		})
		if err != nil {
			return err
		}

		gross := closed.RealizedPnLTotal
		if uc.deps.Lots.cfg.FeesAffectPnL {
			gross = gross.Add(closed.FeesTotal)
		}
		if pnl := plan.pnlLegs(gross); len(pnl) > 0 {
			pnlLegs, err := uc.deps.Posting.prepare(PostInput{GroupID: plan.groupID() + ":pnl", Legs: pnl})
			if err != nil {
				return err
			}
			if _, err := uc.deps.Posting.postInTx(ctx, tx, pnlLegs, run.actor); err != nil {
				return err
			}
			groups++
			rows += len(pnlLegs)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics := uc.opts.metrics
	metrics.GroupPosted(rows)
	run.summary.PostedGroups += groups
	run.summary.InsertedRows += rows
	if opened != nil {
		run.summary.LotsOpened++
		metrics.LotOpened(string(opened.Side))
	}
	if closed != nil {
		run.summary.LotsClosed += len(closed.Closures)
		run.realized = run.realized.Add(closed.RealizedPnLTotal)
		metrics.LotClosed(string(closed.Side), closed.RealizedPnLTotal.InexactFloat64())
	}

	run.log.Debug().
		Str("trade_id", rec.TradeID).
		Int("groups", groups).
		Int("legs", rows).
		Msg("record posted")

	return nil
}

func (uc *SyncUseCase) compareExisting(ctx context.Context, run *syncRun, plan *recordPlan, posted []*domain.Leg) {
	matched, diff := compareLegs(plan.legs, posted)
	if matched {
		run.summary.AlreadyPosted++
		uc.logRecon(ctx, run, &plan.record, domain.ReconOK, plan.groupID(), diff, "already posted")
		return
	}

	run.summary.Mismatched++
	uc.logRecon(ctx, run, &plan.record, domain.ReconMismatch, plan.groupID(), diff, "posted legs differ from broker record")
}

// flagLocalOnly records trades present in the ledger for the window but
// absent from the broker feed.
func (uc *SyncUseCase) flagLocalOnly(ctx context.Context, run *syncRun, start, end time.Time) {
	tradeIDs, err := retryRead(ctx, uc.opts.retrier, func() ([]string, error) {
		return uc.deps.LegRepo.TradeIDsBetween(ctx, start, end)
	})
	if err != nil {
		run.log.Error().Err(err).Msg("local-only scan failed")
		run.summary.Errors = append(run.summary.Errors, err.Error())
		return
	}

	for _, id := range tradeIDs {
		if run.seen[id] {
			continue
		}
		run.summary.LocalOnly++
		rec := &domain.BrokerRecord{TradeID: id, Broker: uc.cfg.Identity.Broker}
		uc.logRecon(ctx, run, rec, domain.ReconLocalOnly, id, nil, "no broker record in window")
	}
}

func (uc *SyncUseCase) reject(ctx context.Context, run *syncRun, rec *domain.BrokerRecord, cause error) {
	run.summary.Rejected++
	uc.opts.metrics.PostRejected(rejectReason(cause))

	run.log.Warn().Err(cause).Str("trade_id", rec.TradeID).Msg("record rejected")
	uc.audit(ctx, run, domain.AuditActionSyncReject, rec.TradeID, cause.Error())

	var groupID string
	if errors.Is(cause, domain.ErrGroupAlreadyPosted) {
		groupID = rec.TradeID
	}
	uc.logRecon(ctx, run, rec, domain.ReconRejected, groupID, nil, cause.Error())
}

func (uc *SyncUseCase) logRecon(
	ctx context.Context,
	run *syncRun,
	rec *domain.BrokerRecord,
	status domain.ReconStatus,
	groupID string,
	diff domain.JSON,
	notes string,
) {
	var raw, fields domain.JSON
	var hash string
	if rec.Kind != "" {
		raw = domain.MarshalState(rec)
		fields = compareFields(rec)
		hash = rec.Hash()
	}

	_, err := uc.deps.Reconciliation.LogEntry(ctx, LogEntryInput{
		TimestampUTC:   uc.opts.now(),
		TradeID:        rec.TradeID,
		GroupID:        groupID,
		Status:         status,
		CompareFields:  fields,
		Diff:           diff,
		RawRecord:      raw,
		SyncRunID:      run.id,
		APIHash:        hash,
		MappingVersion: strconv.FormatInt(run.summary.MappingVersion, 10),
		Broker:         rec.Broker,
		Notes:          notes,
		Actor:          run.actor,
	})
	if err != nil {
		run.summary.ReconWriteErrors++
		run.log.Error().Err(err).Str("trade_id", rec.TradeID).Msg("reconciliation write failed")
	}
}

func (uc *SyncUseCase) audit(ctx context.Context, run *syncRun, action domain.AuditAction, tradeID, reason string) {
	if uc.deps.AuditRepo == nil {
		return
	}
	err := uc.deps.AuditRepo.Create(ctx, &domain.AuditLog{
		ID:           uc.deps.IDGen.Generate(),
		Actor:        run.actor,
		Action:       action,
		ResourceType: domain.ResourceSync,
		ResourceID:   tradeID,
		Reference:    run.id,
		Reason:       reason,
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    uc.opts.now(),
	})
	if err != nil {
		run.log.Warn().Err(err).Msg("audit write failed")
	}
}

func (uc *SyncUseCase) finish(ctx context.Context, run *syncRun) {
	s := run.summary
	s.RealizedPnL = run.realized.String()
	s.FinishedAt = uc.opts.now()

	switch {
	case run.dryRun:
		s.Status = SyncStatusDryRun
	case s.Rejected > 0 || s.Mismatched > 0 || s.ReconWriteErrors > 0 || !s.DoubleEntryOK:
		s.Status = SyncStatusPartial
	default:
		s.Status = SyncStatusPosted
	}

	if !run.dryRun {
		uc.publishCompleted(ctx, run)
	}

	uc.opts.metrics.SyncFinished(s.Status, s.FinishedAt.Sub(s.StartedAt))
	run.log.Info().
		Str("status", s.Status).
		Int("posted_groups", s.PostedGroups).
		Int("rejected", s.Rejected).
		Int("mismatched", s.Mismatched).
		Str("realized_pnl", s.RealizedPnL).
		Msg("sync finished")
}

func (uc *SyncUseCase) publishCompleted(ctx context.Context, run *syncRun) {
	tx, err := uc.deps.TxManager.Begin(ctx)
	if err != nil {
		run.log.Warn().Err(err).Msg("sync.completed event not written")
		return
	}
	defer tx.Rollback(ctx)

	err = uc.deps.OutboxRepo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            uc.deps.IDGen.Generate(),
		AggregateID:   run.id,
		AggregateType: domain.AggregateTypeSync,
		EventType:     domain.EventTypeSyncCompleted,
		Payload: domain.MarshalState(domain.SyncCompletedEvent{
			SyncRunID:    run.id,
			Status:       run.summary.Status,
			PostedGroups: run.summary.PostedGroups,
			Rejected:     run.summary.Rejected,
		}),
		CreatedAt: run.summary.FinishedAt,
	})
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		run.log.Warn().Err(err).Msg("sync.completed event not written")
	}
}

// syncWindow is the requested window, or the span of the fetched records.
func syncWindow(input SyncInput, records []domain.BrokerRecord) (time.Time, time.Time, bool) {
	if input.Start != nil && input.End != nil {
		return input.Start.UTC(), input.End.UTC(), true
	}
	if len(records) == 0 {
		return time.Time{}, time.Time{}, false
	}

	start, end := records[0].TimestampUTC, records[len(records)-1].TimestampUTC
	if input.Start != nil {
		start = *input.Start
	}
	if input.End != nil {
		end = *input.End
	}
	return start.UTC(), end.UTC(), true
}

func rejectReason(err error) string {
	var timeout *domain.ConcurrencyTimeoutError
	switch {
	case errors.Is(err, domain.ErrImbalance):
		return "imbalance"
	case errors.Is(err, domain.ErrInsufficientLotQuantity):
		return "insufficient_lots"
	case errors.Is(err, domain.ErrMappingRuleNotFound):
		return "unmapped"
	case errors.As(err, &timeout):
		return "busy"
	case errors.Is(err, domain.ErrGroupAlreadyPosted):
		return "duplicate"
	default:
		return "invalid"
	}
}
