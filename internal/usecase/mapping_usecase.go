package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iho/botledger/internal/domain"
)

// MappingUseCase manages the versioned chart-of-accounts mapping table.
type MappingUseCase struct {
	txManager  TransactionManager
	repo       MappingRepository
	auditRepo  AuditRepository
	outboxRepo OutboxRepository
	idGen      IDGenerator
	cache      Cache
	identity   domain.Identity
	opts       options
}

// NewMappingUseCase creates a new MappingUseCase. cache may be nil.
func NewMappingUseCase(
	txManager TransactionManager,
	repo MappingRepository,
	auditRepo AuditRepository,
	outboxRepo OutboxRepository,
	idGen IDGenerator,
	identity domain.Identity,
	cache Cache,
	opts ...Option,
) *MappingUseCase {
	return &MappingUseCase{
		txManager:  txManager,
		repo:       repo,
		auditRepo:  auditRepo,
		outboxRepo: outboxRepo,
		idGen:      idGen,
		cache:      cache,
		identity:   identity,
		opts:       buildOptions(opts),
	}
}

func (uc *MappingUseCase) cacheKey() string {
	return "mapping:" + uc.identity.String()
}

func (uc *MappingUseCase) emptyTable() *domain.MappingTable {
	return &domain.MappingTable{Identity: uc.identity.String(), Rules: []domain.MappingRule{}}
}

// LoadMappingTable returns the current mapping table. A store with no
// versions yields the empty table at version 0.
func (uc *MappingUseCase) LoadMappingTable(ctx context.Context) (*domain.MappingTable, error) {
	if uc.cache != nil {
		if data, err := uc.cache.Get(ctx, uc.cacheKey()); err == nil && data != nil {
			var table domain.MappingTable
			if err := json.Unmarshal(data, &table); err == nil {
				return &table, nil
			}
		}
	}

	table, err := retryRead(ctx, uc.opts.retrier, func() (*domain.MappingTable, error) {
		return uc.repo.Latest(ctx, nil)
	})
	if err != nil {
		return nil, err
	}
	if table == nil {
		table = uc.emptyTable()
	}

	if uc.cache != nil {
		if data, err := json.Marshal(table); err == nil {
			if err := uc.cache.Set(ctx, uc.cacheKey(), data, MappingCacheTTL); err != nil {
				uc.opts.logger.Warn().Err(err).Msg("mapping cache set failed")
			}
		}
	}

	return table, nil
}

// GetVersion returns the rule set as of version. Version 0 is the empty table.
func (uc *MappingUseCase) GetVersion(ctx context.Context, version int64) (*domain.MappingTable, error) {
	if version == 0 {
		return uc.emptyTable(), nil
	}
	if version < 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrMappingVersionNotFound, version)
	}

	return retryRead(ctx, uc.opts.retrier, func() (*domain.MappingTable, error) {
		return uc.repo.GetVersion(ctx, nil, version)
	})
}

// History lists mapping versions, newest first.
func (uc *MappingUseCase) History(ctx context.Context, limit, offset int) ([]domain.MappingVersion, error) {
	limit, offset = clampPage(limit, offset)

	return retryRead(ctx, uc.opts.retrier, func() ([]domain.MappingVersion, error) {
		return uc.repo.History(ctx, limit, offset)
	})
}

// ResolveAccount returns the account code the table maps txn to.
func (uc *MappingUseCase) ResolveAccount(table *domain.MappingTable, txn domain.TransactionContext) (string, error) {
	rule, ok := domain.GetMappingForTransaction(txn, table)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrMappingRuleNotFound, domain.DeriveRuleKey(txn))
	}
	return rule.AccountCode, nil
}

// UpsertRuleInput adds or replaces one rule.
type UpsertRuleInput struct {
	Context     domain.TransactionContext
	RuleKey     string
	AccountCode string
	Actor       string
	Reason      string
}

// UpsertRule writes a new version containing every previous rule plus the
// given one, and returns the new version number.
func (uc *MappingUseCase) UpsertRule(ctx context.Context, input UpsertRuleInput) (int64, error) {
	key := strings.TrimSpace(input.RuleKey)
	if key == "" {
		key = domain.DeriveRuleKey(input.Context)
	}
	if key == "" {
		return 0, domain.ErrInvalidRuleKey
	}

	code := strings.TrimSpace(input.AccountCode)
	if err := domain.ValidateAccountCode(code); err != nil {
		return 0, err
	}

	actor := actorOrSystem(input.Actor)
	now := uc.opts.now()
	rule := domain.MappingRule{
		RuleKey:     key,
		AccountCode: code,
		Context:     input.Context.Fields(),
		UpdatedBy:   actor,
		UpdatedAt:   now,
	}

	return uc.writeVersion(ctx, actor, input.Reason, domain.AuditActionMappingUpsert,
		func(tx Transaction, current *domain.MappingTable) (*domain.MappingTable, domain.JSON, error) {
			var before domain.JSON
			if prev, ok := current.Rule(key); ok {
				before = domain.MarshalState(prev)
			}
			return &domain.MappingTable{Rules: current.WithRule(rule)}, before, nil
		})
}

// RollbackMappingVersion restores the rule set of target as a new version.
// The version number always advances.
func (uc *MappingUseCase) RollbackMappingVersion(ctx context.Context, target int64, actor, reason string) (int64, error) {
	if reason == "" {
		reason = fmt.Sprintf("rollback to v%d", target)
	}

	return uc.writeVersion(ctx, actorOrSystem(actor), reason, domain.AuditActionMappingRollback,
		func(tx Transaction, current *domain.MappingTable) (*domain.MappingTable, domain.JSON, error) {
			if target < 0 || target > current.Version {
				return nil, nil, fmt.Errorf("%w: %d", domain.ErrMappingVersionNotFound, target)
			}

			rules := []domain.MappingRule{}
			if target > 0 {
				snapshot, err := uc.repo.GetVersion(ctx, tx, target)
				if err != nil {
					return nil, nil, err
				}
				rules = append(rules, snapshot.Rules...)
			}

			from := target
			next := &domain.MappingTable{Rules: rules, RolledBackFrom: &from}
			return next, domain.JSON{"version": current.Version, "rules": len(current.Rules)}, nil
		})
}

// ExportYAML renders the current table as YAML.
func (uc *MappingUseCase) ExportYAML(ctx context.Context) ([]byte, error) {
	table, err := uc.LoadMappingTable(ctx)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(table)
}

// ImportYAML replaces the whole rule set with the rules in data, as a new version.
func (uc *MappingUseCase) ImportYAML(ctx context.Context, data []byte, actor string) (int64, error) {
	var imported domain.MappingTable
	if err := yaml.Unmarshal(data, &imported); err != nil {
		return 0, fmt.Errorf("parse mapping table: %w", err)
	}

	actor = actorOrSystem(actor)
	now := uc.opts.now()

	seen := make(map[string]int, len(imported.Rules))
	rules := make([]domain.MappingRule, 0, len(imported.Rules))
	for _, r := range imported.Rules {
		r.RuleKey = strings.TrimSpace(r.RuleKey)
		if r.RuleKey == "" {
			r.RuleKey = domain.DeriveRuleKey(domain.ContextFromFields(r.Context))
		}
		if r.RuleKey == "" {
			return 0, domain.ErrInvalidRuleKey
		}
		r.AccountCode = strings.TrimSpace(r.AccountCode)
		if err := domain.ValidateAccountCode(r.AccountCode); err != nil {
			return 0, fmt.Errorf("rule %q: %w", r.RuleKey, err)
		}
		if r.UpdatedBy == "" {
			r.UpdatedBy = actor
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}

		if i, dup := seen[r.RuleKey]; dup {
			rules[i] = r
			continue
		}
		seen[r.RuleKey] = len(rules)
		rules = append(rules, r)
	}

	return uc.writeVersion(ctx, actor, "imported", domain.AuditActionMappingImport,
		func(tx Transaction, current *domain.MappingTable) (*domain.MappingTable, domain.JSON, error) {
			return &domain.MappingTable{Rules: rules}, domain.JSON{"version": current.Version, "rules": len(current.Rules)}, nil
		})
}

// writeVersion serializes a mapping write: lock, read current, build next,
// persist as current+1, audit and publish, all in one transaction.
func (uc *MappingUseCase) writeVersion(
	ctx context.Context,
	actor, reason string,
	action domain.AuditAction,
	build func(tx Transaction, current *domain.MappingTable) (*domain.MappingTable, domain.JSON, error),
) (int64, error) {
	tx, err := uc.txManager.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := uc.repo.LockForWrite(ctx, tx); err != nil {
		return 0, err
	}

	current, err := uc.repo.Latest(ctx, tx)
	if err != nil {
		return 0, err
	}
	if current == nil {
		current = uc.emptyTable()
	}

	next, before, err := build(tx, current)
	if err != nil {
		return 0, err
	}

	now := uc.opts.now()
	next.Version = current.Version + 1
	next.Identity = uc.identity.String()
	next.UpdatedBy = actor
	next.UpdatedAt = now
	next.Reason = reason

	if err := uc.repo.CreateVersion(ctx, tx, next); err != nil {
		return 0, err
	}

	if err := uc.auditRepo.CreateTx(ctx, tx, &domain.AuditLog{
		ID:           uc.idGen.Generate(),
		Actor:        actor,
		Action:       action,
		ResourceType: domain.ResourceMapping,
		ResourceID:   fmt.Sprintf("v%d", next.Version),
		Reason:       reason,
		BeforeState:  before,
		AfterState:   domain.JSON{"version": next.Version, "rules": len(next.Rules)},
		Status:       domain.AuditStatusSuccess,
		CreatedAt:    now,
	}); err != nil {
		return 0, err
	}

	if err := uc.outboxRepo.Create(ctx, tx, &domain.OutboxEvent{
		ID:            uc.idGen.Generate(),
		AggregateID:   uc.identity.String(),
		AggregateType: domain.AggregateTypeMapping,
		EventType:     domain.EventTypeMappingVersion,
		Payload: domain.MarshalState(domain.MappingVersionEvent{
			Version:        next.Version,
			Actor:          actor,
			Reason:         reason,
			RolledBackFrom: next.RolledBackFrom,
		}),
		CreatedAt: now,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	uc.invalidate(ctx)
	uc.opts.metrics.MappingVersion(next.Version)

	return next.Version, nil
}

func (uc *MappingUseCase) invalidate(ctx context.Context) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Delete(ctx, uc.cacheKey()); err != nil && !errors.Is(err, context.Canceled) {
		uc.opts.logger.Warn().Err(err).Msg("mapping cache invalidation failed")
	}
}
