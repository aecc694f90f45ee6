package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/usecase"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type ledgerServiceStub struct {
	postFn     func(ctx context.Context, input usecase.PostInput) (*usecase.PostResult, error)
	getGroupFn func(ctx context.Context, groupID string) ([]*domain.Leg, error)
	listFn     func(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error)
	editFn     func(ctx context.Context, input usecase.EditLegInput) (*domain.Leg, error)
	balancesFn func(ctx context.Context, filter usecase.BalanceFilter) (*usecase.BalanceReport, error)
	validateFn func(ctx context.Context) (bool, error)
}

func (s *ledgerServiceStub) Post(ctx context.Context, input usecase.PostInput) (*usecase.PostResult, error) {
	return s.postFn(ctx, input)
}

func (s *ledgerServiceStub) GetGroup(ctx context.Context, groupID string) ([]*domain.Leg, error) {
	return s.getGroupFn(ctx, groupID)
}

func (s *ledgerServiceStub) ListLegs(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error) {
	return s.listFn(ctx, filter)
}

func (s *ledgerServiceStub) EditLeg(ctx context.Context, input usecase.EditLegInput) (*domain.Leg, error) {
	return s.editFn(ctx, input)
}

func (s *ledgerServiceStub) AccountBalances(ctx context.Context, filter usecase.BalanceFilter) (*usecase.BalanceReport, error) {
	return s.balancesFn(ctx, filter)
}

func (s *ledgerServiceStub) ValidateDoubleEntry(ctx context.Context) (bool, error) {
	return s.validateFn(ctx)
}

type lotServiceStub struct {
	openFn     func(ctx context.Context, input usecase.OpenLotInput) (string, error)
	closeFn    func(ctx context.Context, input usecase.CloseInput) (*domain.CloseSummary, error)
	listFn     func(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error)
	closuresFn func(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error)
}

func (s *lotServiceStub) RecordOpen(ctx context.Context, input usecase.OpenLotInput) (string, error) {
	return s.openFn(ctx, input)
}

func (s *lotServiceStub) Close(ctx context.Context, input usecase.CloseInput) (*domain.CloseSummary, error) {
	return s.closeFn(ctx, input)
}

func (s *lotServiceStub) ListOpenLots(ctx context.Context, symbol string, side domain.PositionSide) ([]*domain.Lot, error) {
	return s.listFn(ctx, symbol, side)
}

func (s *lotServiceStub) ListClosures(ctx context.Context, closeTradeID string) ([]*domain.LotClosure, error) {
	return s.closuresFn(ctx, closeTradeID)
}

type mappingServiceStub struct {
	loadFn     func(ctx context.Context) (*domain.MappingTable, error)
	versionFn  func(ctx context.Context, version int64) (*domain.MappingTable, error)
	historyFn  func(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error)
	upsertFn   func(ctx context.Context, input usecase.UpsertRuleInput) (int64, error)
	rollbackFn func(ctx context.Context, target int64, actor, reason string) (int64, error)
	exportFn   func(ctx context.Context) ([]byte, error)
	importFn   func(ctx context.Context, data []byte, actor string) (int64, error)
}

func (s *mappingServiceStub) LoadMappingTable(ctx context.Context) (*domain.MappingTable, error) {
	return s.loadFn(ctx)
}

func (s *mappingServiceStub) GetVersion(ctx context.Context, version int64) (*domain.MappingTable, error) {
	return s.versionFn(ctx, version)
}

func (s *mappingServiceStub) History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error) {
	return s.historyFn(ctx, limit, offset)
}

func (s *mappingServiceStub) UpsertRule(ctx context.Context, input usecase.UpsertRuleInput) (int64, error) {
	return s.upsertFn(ctx, input)
}

func (s *mappingServiceStub) RollbackMappingVersion(ctx context.Context, target int64, actor, reason string) (int64, error) {
	return s.rollbackFn(ctx, target, actor, reason)
}

func (s *mappingServiceStub) ExportYAML(ctx context.Context) ([]byte, error) {
	return s.exportFn(ctx)
}

func (s *mappingServiceStub) ImportYAML(ctx context.Context, data []byte, actor string) (int64, error) {
	return s.importFn(ctx, data, actor)
}

type reconServiceStub struct {
	entriesFn func(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error)
	exportFn  func(ctx context.Context, window usecase.DiffWindow) ([]byte, error)
	resolveFn func(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error)
}

func (s *reconServiceStub) GetEntries(ctx context.Context, filter domain.ReconFilter) ([]*domain.ReconciliationRecord, error) {
	return s.entriesFn(ctx, filter)
}

func (s *reconServiceStub) ExportDiffsByWindow(ctx context.Context, window usecase.DiffWindow) ([]byte, error) {
	return s.exportFn(ctx, window)
}

func (s *reconServiceStub) Resolve(ctx context.Context, entryID, actor, notes string) (*domain.ReconciliationRecord, error) {
	return s.resolveFn(ctx, entryID, actor, notes)
}

type syncServiceStub struct {
	syncFn func(ctx context.Context, input usecase.SyncInput) (*usecase.SyncSummary, error)
}

func (s *syncServiceStub) SyncBrokerLedger(ctx context.Context, input usecase.SyncInput) (*usecase.SyncSummary, error) {
	return s.syncFn(ctx, input)
}
