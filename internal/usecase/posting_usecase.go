package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/botledger/internal/domain"
)

// PostingUseCase is the double-entry poster.
type PostingUseCase struct {
	txManager  TransactionManager
	legRepo    LegRepository
	outboxRepo OutboxRepository
	auditRepo  AuditRepository
	idGen      IDGenerator
	mapping    *MappingUseCase
	opts       options
}

// NewPostingUseCase creates a new PostingUseCase.
func NewPostingUseCase(
	txManager TransactionManager,
	legRepo LegRepository,
	outboxRepo OutboxRepository,
	auditRepo AuditRepository,
	idGen IDGenerator,
	opts ...Option,
) *PostingUseCase {
	return &PostingUseCase{
		txManager:  txManager,
		legRepo:    legRepo,
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		idGen:      idGen,
		opts:       buildOptions(opts),
	}
}

// WithInlineMappingUpsert makes EditLeg record a mapping rule whenever an
// edit reclassifies a leg to a new account code.
func (uc *PostingUseCase) WithInlineMappingUpsert(mapping *MappingUseCase) *PostingUseCase {
	uc.mapping = mapping
	return uc
}

// PostInput is one leg group to post.
type PostInput struct {
	GroupID string
	Actor   string
	Legs    []*domain.Leg
}

// PostResult reports a successful post.
type PostResult struct {
	GroupID     string
	InsertedIDs []string
	Balanced    bool
}

// Post validates and inserts one balanced leg group. An imbalanced group
// writes nothing and returns *domain.ImbalanceError.
func (uc *PostingUseCase) Post(ctx context.Context, input PostInput) (*PostResult, error) {
	legs, err := uc.prepare(input)
	if err != nil {
		uc.opts.metrics.PostRejected(rejectReason(err))
		return nil, err
	}

	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	result, err := uc.postInTx(ctx, tx, legs, input.Actor)
	if err != nil {
		if errors.Is(err, domain.ErrGroupAlreadyPosted) {
			uc.opts.metrics.PostRejected(rejectReason(err))
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	uc.opts.metrics.GroupPosted(len(legs))
	return result, nil
}

// prepare normalizes and validates a group without touching the store.
func (uc *PostingUseCase) prepare(input PostInput) ([]*domain.Leg, error) {
	if len(input.Legs) == 0 {
		return nil, fmt.Errorf("%w: group has no legs", domain.ErrInvalidLeg)
	}

	groupID := strings.TrimSpace(input.GroupID)
	if groupID == "" {
		groupID = uc.idGen.Generate()
	}

	now := uc.opts.now()
	legs := make([]*domain.Leg, 0, len(input.Legs))
	for i, in := range input.Legs {
		if in == nil {
			return nil, fmt.Errorf("%w: leg %d is nil", domain.ErrInvalidLeg, i+1)
		}
		leg := *in
		if leg.GroupID != "" && leg.GroupID != groupID {
			return nil, fmt.Errorf("%w: leg %d belongs to group %q", domain.ErrInvalidLeg, i+1, leg.GroupID)
		}
		leg.Normalize(groupID, now)
		if i > 0 && leg.TradeID != legs[0].TradeID {
			return nil, fmt.Errorf("%w: leg %d has trade %q, group trade is %q", domain.ErrInvalidLeg, i+1, leg.TradeID, legs[0].TradeID)
		}
		leg.ID = uc.idGen.Generate()
		leg.LegNo = i + 1
		leg.CreatedAt = now
		leg.UpdatedAt = now

		if err := leg.Validate(); err != nil {
			return nil, fmt.Errorf("leg %d: %w", leg.LegNo, err)
		}
		legs = append(legs, &leg)
	}

	if err := domain.CheckGroupBalance(groupID, legs); err != nil {
		return nil, err
	}

	return legs, nil
}

// postInTx writes a prepared group inside an open transaction.
func (uc *PostingUseCase) postInTx(ctx context.Context, tx Transaction, legs []*domain.Leg, actor string) (*PostResult, error) {
	groupID := legs[0].GroupID

	exists, err := uc.legRepo.GroupExists(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrGroupAlreadyPosted, groupID)
	}

	if err := uc.legRepo.CreateBatch(ctx, tx, legs); err != nil {
		return nil, err
	}

	ids := make([]string, len(legs))
	accounts := make([]string, len(legs))
	gross := decimal.Zero
	for i, l := range legs {
		ids[i] = l.ID
		accounts[i] = l.AccountCode
		if l.TotalValue.IsPositive() {
			gross = gross.Add(l.TotalValue)
		}
	}

	payload := domain.MarshalState(domain.GroupPostedEvent{
		GroupID:  groupID,
		TradeID:  legs[0].TradeID,
		LegIDs:   ids,
		Accounts: accounts,
		Gross:    gross.String(),
	})
	if err := uc.outboxRepo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            uc.idGen.Generate(),
		AggregateID:   groupID,
		AggregateType: domain.AggregateTypeGroup,
		EventType:     domain.EventTypeGroupPosted,
		Payload:       payload,
		CreatedAt:     legs[0].CreatedAt,
	}); err != nil {
		return nil, err
	}

	if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uc.idGen.Generate(),
		Actor:        actorOrSystem(actor),
		Action:       domain.AuditActionGroupPosted,
		ResourceType: domain.ResourceGroup,
		ResourceID:   groupID,
		Reference:    legs[0].TradeID,
		AfterState:   payload,
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    legs[0].CreatedAt,
	}); err != nil {
		return nil, err
	}

	return &PostResult{Balanced: true, GroupID: groupID, InsertedIDs: ids}, nil
}

// ValidateDoubleEntry scans every trade group in the store. It returns
// false and an *domain.ImbalanceError naming the offending groups when any
// group does not net to zero or carries a leg whose sign disagrees with its side.
func (uc *PostingUseCase) ValidateDoubleEntry(ctx context.Context) (bool, error) {
	groups, err := retryRead(ctx, uc.opts.retrier, func() ([]domain.GroupImbalance, error) {
		return uc.legRepo.FindImbalances(ctx)
	})
	if err != nil {
		return false, err
	}

	if len(groups) > 0 {
		return false, &domain.ImbalanceError{Groups: groups}
	}

	return true, nil
}

// GetGroup returns the legs of one group ordered by leg number.
func (uc *PostingUseCase) GetGroup(ctx context.Context, groupID string) ([]*domain.Leg, error) {
	legs, err := retryRead(ctx, uc.opts.retrier, func() ([]*domain.Leg, error) {
		return uc.legRepo.GetByGroup(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, domain.ErrGroupNotFound
	}
	return legs, nil
}

// ListLegs lists legs matching filter, newest first.
func (uc *PostingUseCase) ListLegs(ctx context.Context, filter domain.LegFilter) ([]*domain.Leg, error) {
	filter.Limit, filter.Offset = clampPage(filter.Limit, filter.Offset)

	return retryRead(ctx, uc.opts.retrier, func() ([]*domain.Leg, error) {
		return uc.legRepo.List(ctx, filter)
	})
}

// EditLegInput reclassifies one posted leg. Values are never editable.
type EditLegInput struct {
	AccountCode *string
	Strategy    *string
	Memo        *string
	LegID       string
	Actor       string
	Reason      string
}

// EditLeg applies an audited classification edit to a posted leg.
func (uc *PostingUseCase) EditLeg(ctx context.Context, input EditLegInput) (*domain.Leg, error) {
	if input.AccountCode == nil && input.Strategy == nil && input.Memo == nil {
		return nil, fmt.Errorf("%w: nothing to edit", domain.ErrInvalidLeg)
	}

	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	leg, err := uc.legRepo.GetByIDForUpdate(ctx, tx, input.LegID)
	if err != nil {
		return nil, err
	}

	before := domain.MarshalState(legState(leg))
	previousAccount := leg.AccountCode

	if input.AccountCode != nil {
		code := strings.TrimSpace(*input.AccountCode)
		if err := domain.ValidateAccountCode(code); err != nil {
			return nil, err
		}
		leg.AccountCode = code
	}
	if input.Strategy != nil {
		leg.Strategy = strings.TrimSpace(*input.Strategy)
	}
	if input.Memo != nil {
		if leg.Metadata == nil {
			leg.Metadata = map[string]any{}
		}
		leg.Metadata["memo"] = strings.TrimSpace(*input.Memo)
	}
	leg.UpdatedAt = uc.opts.now()

	if err := uc.legRepo.UpdateClassification(ctx, tx, leg); err != nil {
		return nil, err
	}

	if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uc.idGen.Generate(),
		Actor:        actorOrSystem(input.Actor),
		Action:       domain.AuditActionLegEdit,
		ResourceType: domain.ResourceLeg,
		ResourceID:   leg.ID,
		Reference:    leg.GroupID,
		Reason:       input.Reason,
		BeforeState:  before,
		AfterState:   domain.MarshalState(legState(leg)),
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    leg.UpdatedAt,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	if uc.mapping != nil && leg.AccountCode != previousAccount {
		if err := uc.upsertFromEdit(ctx, leg, input); err != nil {
			uc.opts.logger.Warn().Err(err).Str("leg_id", leg.ID).Msg("inline mapping upsert failed")
		}
	}

	return leg, nil
}

func (uc *PostingUseCase) upsertFromEdit(ctx context.Context, leg *domain.Leg, input EditLegInput) error {
	fields := map[string]any{"symbol": leg.Symbol, "strategy": leg.Strategy}
	for k, v := range leg.Metadata {
		fields[k] = v
	}

	txn := domain.ContextFromFields(fields)
	if domain.DeriveRuleKey(txn) == "" {
		return nil
	}

	reason := input.Reason
	if reason == "" {
		reason = "leg edit " + leg.ID
	}

	_, err := uc.mapping.UpsertRule(ctx, UpsertRuleInput{
		Context:     txn,
		AccountCode: leg.AccountCode,
		Actor:       input.Actor,
		Reason:      reason,
	})
	return err
}

// BalanceFilter narrows an account balance report.
type BalanceFilter struct {
	AsOf *time.Time
	Root string
}

// BalanceReport is the trial balance of the store.
type BalanceReport struct {
	Roots    map[string]decimal.Decimal
	Accounts []domain.AccountBalance
	Net      decimal.Decimal
}

// AccountBalances returns per-account balances rolled up by chart root.
// Net is the signed sum of every leg and is zero for a healthy store.
func (uc *PostingUseCase) AccountBalances(ctx context.Context, filter BalanceFilter) (*BalanceReport, error) {
	balances, err := retryRead(ctx, uc.opts.retrier, func() ([]domain.AccountBalance, error) {
		return uc.legRepo.AccountBalances(ctx, filter.AsOf)
	})
	if err != nil {
		return nil, err
	}

	report := &BalanceReport{Net: decimal.Zero}
	for _, b := range balances {
		report.Net = report.Net.Add(b.Balance)
		if filter.Root != "" && !strings.EqualFold(b.Root, filter.Root) {
			continue
		}
		report.Accounts = append(report.Accounts, b)
	}
	report.Roots = domain.RootTotals(report.Accounts)

	return report, nil
}

func legState(l *domain.Leg) map[string]any {
	return map[string]any{
		"id":           l.ID,
		"group_id":     l.GroupID,
		"account_code": l.AccountCode,
		"strategy":     l.Strategy,
		"metadata":     l.Metadata,
		"total_value":  l.TotalValue.String(),
	}
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return SystemActor
	}
	return actor
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
