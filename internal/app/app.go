// Package app wires configuration, storage and use cases into one ledger
// instance for a single bot identity. Both binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/botledger/internal/adapter/broker"
	postgresRepo "github.com/iho/botledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/botledger/internal/adapter/repository/redis"
	"github.com/iho/botledger/internal/domain"
	"github.com/iho/botledger/internal/infrastructure/config"
	"github.com/iho/botledger/internal/infrastructure/metrics"
	"github.com/iho/botledger/internal/infrastructure/postgres"
	"github.com/iho/botledger/internal/infrastructure/redis"
	"github.com/iho/botledger/internal/usecase"
)

// ErrNoBrokerFeed is returned by Sync when neither a feed file nor a feed
// URL is configured.
var ErrNoBrokerFeed = errors.New("no broker feed configured: set BROKER_FEED_FILE or BROKER_FEED_URL")

// Options adjusts how an App is built.
type Options struct {
	// Migrate applies pending migrations before the pool opens.
	Migrate bool
	// Metrics defaults to usecase.NoopMetrics.
	Metrics *metrics.Metrics
	// Broker overrides the feed selected from configuration.
	Broker usecase.BrokerClient
}

// App is one wired ledger.
type App struct {
	Config   *config.Config
	Identity domain.Identity
	Logger   zerolog.Logger

	Pool  *pgxpool.Pool
	Redis *goredis.Client

	OutboxRepo       *postgresRepo.OutboxRepository
	IdempotencyStore *redisRepo.IdempotencyStore

	Posting        *usecase.PostingUseCase
	Lots           *usecase.LotUseCase
	Mapping        *usecase.MappingUseCase
	Reconciliation *usecase.ReconciliationUseCase
	Sync           *usecase.SyncUseCase
	Snapshots      *postgresRepo.SnapshotStore
}

// New connects to Postgres (and Redis when configured) and builds every use
// case for cfg's identity.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	identity, err := cfg.Identity()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.AllocationPolicy()
	if err != nil {
		return nil, err
	}
	schema := identity.SchemaName()
	logger = logger.With().Str("identity", identity.String()).Logger()

	if opts.Migrate {
		if err := Migrate(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      schema,
		MaxConns:    cfg.DatabaseMaxConns,
		MinConns:    cfg.DatabaseMinConns,
		LockTimeout: cfg.DatabaseLockTimeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("schema", schema).Msg("connected to postgres")

	redisClient, err := redis.NewOptionalClient(ctx, cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if redisClient != nil {
		logger.Info().Msg("connected to redis")
	}

	var useOpts []usecase.Option
	useOpts = append(useOpts, usecase.WithLogger(logger))

	retrier := postgresRepo.NewRetrier(logger)
	if opts.Metrics != nil {
		useOpts = append(useOpts, usecase.WithMetrics(opts.Metrics))
		retrier.OnRetry(opts.Metrics.Retried)
	}
	useOpts = append(useOpts, usecase.WithRetrier(retrier))

	txManager := postgresRepo.NewTxManager(pool)
	legRepo := postgresRepo.NewLegRepository(pool)
	lotRepo := postgresRepo.NewLotRepository(pool)
	mappingRepo := postgresRepo.NewMappingRepository(pool)
	reconRepo := postgresRepo.NewReconciliationRepository(pool)
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	auditRepo := postgresRepo.NewAuditRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()
	snapshots := postgresRepo.NewSnapshotStore(pool, schema, cfg.SnapshotDir, cfg.SnapshotKeep, logger)

	// Interface values stay nil when Redis is disabled.
	var (
		cache     usecase.Cache
		lock      usecase.SyncLock
		idemStore *redisRepo.IdempotencyStore
	)
	if redisClient != nil {
		cache = redisRepo.NewCache(redisClient, identity.String())
		lock = redisRepo.NewSyncLock(redisClient)
		idemStore = redisRepo.NewIdempotencyStore(redisClient, identity.String())
	}

	mappingUC := usecase.NewMappingUseCase(txManager, mappingRepo, auditRepo, outboxRepo, idGen, identity, cache, useOpts...)
	postingUC := usecase.NewPostingUseCase(txManager, legRepo, outboxRepo, auditRepo, idGen, useOpts...)
	if cfg.MappingInlineUpsert {
		postingUC.WithInlineMappingUpsert(mappingUC)
	}
	lotUC := usecase.NewLotUseCase(txManager, lotRepo, outboxRepo, auditRepo, idGen, usecase.LotConfig{
		Policy:        policy,
		FeesAffectPnL: cfg.PnLFeesAffect,
	}, useOpts...)
	reconUC := usecase.NewReconciliationUseCase(reconRepo, idGen, identity, useOpts...)

	brokerClient := opts.Broker
	if brokerClient == nil {
		brokerClient, err = NewBrokerClient(cfg, logger)
		if err != nil && !errors.Is(err, ErrNoBrokerFeed) {
			pool.Close()
			if redisClient != nil {
				redisClient.Close()
			}
			return nil, err
		}
	}

	deps := usecase.SyncDeps{
		Posting:        postingUC,
		Lots:           lotUC,
		Mapping:        mappingUC,
		Reconciliation: reconUC,
		TxManager:      txManager,
		LegRepo:        legRepo,
		OutboxRepo:     outboxRepo,
		AuditRepo:      auditRepo,
		IDGen:          idGen,
		Broker:         brokerClient,
		Snapshots:      snapshots,
		Lock:           lock,
	}
	if brokerClient == nil {
		deps.Broker = missingFeed{}
	}

	syncUC := usecase.NewSyncUseCase(deps, usecase.SyncConfig{
		Identity: identity,
		LockTTL:  cfg.SyncLockTTL,
		Accounts: usecase.AccountDefaults{
			Cash:          cfg.AccountCash,
			Fees:          cfg.AccountFees,
			RealizedPnL:   cfg.AccountRealizedPnL,
			LongPosition:  cfg.AccountLongPosition,
			ShortPosition: cfg.AccountShortPosition,
		},
	}, useOpts...)

	return &App{
		Config:           cfg,
		Identity:         identity,
		Logger:           logger,
		Pool:             pool,
		Redis:            redisClient,
		OutboxRepo:       outboxRepo,
		IdempotencyStore: idemStore,
		Posting:          postingUC,
		Lots:             lotUC,
		Mapping:          mappingUC,
		Reconciliation:   reconUC,
		Sync:             syncUC,
		Snapshots:        snapshots,
	}, nil
}

// Close releases the connections held by a.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	a.Pool.Close()
}

// Migrate creates the identity's schema and applies pending migrations.
func Migrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	identity, err := cfg.Identity()
	if err != nil {
		return err
	}
	schema := identity.SchemaName()

	if err := postgres.EnsureSchema(ctx, cfg.DatabaseURL, schema); err != nil {
		return err
	}
	return postgres.RunMigrations(cfg.DatabaseURL, schema, logger)
}

// NewBrokerClient picks the feed named by cfg. A feed file wins over a URL.
func NewBrokerClient(cfg *config.Config, logger zerolog.Logger) (usecase.BrokerClient, error) {
	switch {
	case cfg.BrokerFeedFile != "":
		return broker.NewFileFeed(cfg.BrokerFeedFile), nil
	case cfg.BrokerFeedURL != "":
		feed, err := broker.NewHTTPFeed(broker.HTTPFeedConfig{
			BaseURL:   cfg.BrokerFeedURL,
			Token:     cfg.BrokerFeedToken,
			RateLimit: cfg.BrokerRateLimit,
			Timeout:   cfg.BrokerTimeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("broker feed: %w", err)
		}
		return feed, nil
	default:
		return nil, ErrNoBrokerFeed
	}
}

// missingFeed fails every fetch so that a ledger without a feed can still
// serve everything except sync.
type missingFeed struct{}

func (missingFeed) FetchTrades(context.Context, *time.Time, *time.Time) ([]domain.BrokerRecord, error) {
	return nil, ErrNoBrokerFeed
}

func (missingFeed) FetchCashActivity(context.Context, *time.Time, *time.Time) ([]domain.BrokerRecord, error) {
	return nil, ErrNoBrokerFeed
}
