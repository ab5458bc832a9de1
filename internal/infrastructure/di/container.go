package di

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/cap5/settlement_service/internal/api/handlers"
	domainrepos "github.com/cap5/settlement_service/internal/domain/repositories"
	"github.com/cap5/settlement_service/internal/domain/services/chainreader"
	"github.com/cap5/settlement_service/internal/domain/services/classifier"
	"github.com/cap5/settlement_service/internal/domain/services/oracle"
	"github.com/cap5/settlement_service/internal/domain/services/payout"
	"github.com/cap5/settlement_service/internal/domain/services/settlement"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/pyth"
	"github.com/cap5/settlement_service/internal/infrastructure/adapters/solana"
	"github.com/cap5/settlement_service/internal/infrastructure/cache"
	"github.com/cap5/settlement_service/internal/infrastructure/config"
	"github.com/cap5/settlement_service/internal/infrastructure/database"
	"github.com/cap5/settlement_service/internal/workers/payout_dispatcher"
	"github.com/cap5/settlement_service/internal/workers/settlement_reconciler"
	"github.com/cap5/settlement_service/pkg/graceful"
	"github.com/cap5/settlement_service/pkg/idempotency"
	"github.com/cap5/settlement_service/pkg/logger"
	"github.com/cap5/settlement_service/pkg/secrets"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	ZapLog *zap.Logger

	// Infrastructure
	Store        domainrepos.SettlementRepository
	DB           *sqlx.DB
	RedisClient  cache.RedisClient
	SolanaClient *solana.Client
	PythClient   *pyth.Client
	Secrets      *secrets.Manager

	// Domain services
	Oracle      *oracle.Service
	ChainReader *chainreader.Service
	Classifier  *classifier.Service
	Payout      *payout.Service
	Settlement  *settlement.Service

	// Workers
	Dispatcher  payout_dispatcher.Dispatcher
	AsynqWorker *payout_dispatcher.AsynqWorker
	Reconciler  *settlement_reconciler.Reconciler
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	zapLog := log.Zap()
	c := &Container{Config: cfg, Logger: log, ZapLog: zapLog}

	store, err := NewStoreBuilder(cfg, zapLog).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize settlement store: %w", err)
	}
	c.Store = store.Repo
	c.DB = store.DB

	if c.needsRedis() {
		redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLog)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.RedisClient = redisClient
	}

	// External services
	c.SolanaClient = solana.NewClient(solana.Config{
		RPCURL:           cfg.Solana.RPCURL,
		Timeout:          cfg.Solana.RequestTimeout,
		ComputeUnitLimit: cfg.Solana.ComputeUnitLimit,
		ComputeUnitPrice: cfg.Solana.ComputeUnitPrice,
		FinalizeTimeout:  cfg.Solana.FinalizeTimeout,
	}, zapLog)

	c.PythClient = pyth.NewClient(pyth.Config{
		BaseURL:         cfg.Oracle.BaseURL,
		Timeout:         cfg.Oracle.Timeout,
		RateLimitPerSec: cfg.Oracle.RateLimitPerSec,
	}, zapLog)

	provider, err := secrets.NewProvider(ctx, cfg.Secrets.Provider, cfg.Secrets.AWSRegion, cfg.Secrets.Prefix, cfg.Secrets.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secrets provider: %w", err)
	}
	c.Secrets = secrets.NewManager(provider)

	if err := c.initializeDomainServices(); err != nil {
		return nil, err
	}
	if err := c.initializeWorkers(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Container) needsRedis() bool {
	return c.Config.Settlement.DebounceStore == "redis" ||
		c.Config.Workers.Dispatcher == payout_dispatcher.BackendAsynq
}

func (c *Container) treasury() classifier.Treasury {
	return classifier.Treasury{
		StablecoinMint:    c.Config.Treasury.StablecoinMint,
		StablecoinAccount: c.Config.Treasury.StablecoinAccount,
		IndexMint:         c.Config.Treasury.IndexMint,
		Owner:             c.Config.Treasury.Owner,
	}
}

func (c *Container) initializeDomainServices() error {
	oracleSvc, err := oracle.NewService(c.PythClient, oracle.DefaultBasket, oracle.Config{
		FeedIDs:  c.Config.Oracle.FeedIDs,
		CacheTTL: c.Config.Oracle.CacheTTL,
	}, nil, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize price oracle: %w", err)
	}
	c.Oracle = oracleSvc

	c.ChainReader = chainreader.NewService(c.SolanaClient, chainreader.Config{
		ReadRetries: c.Config.Solana.ReadRetries,
	}, c.Logger)

	c.Classifier = classifier.NewService(c.ChainReader, c.treasury())

	c.Payout = payout.NewService(
		c.Store,
		c.Classifier,
		c.Oracle,
		c.SolanaClient,
		c.Secrets,
		payout.Config{
			Treasury:      c.treasury(),
			KeySecretName: c.Config.Treasury.KeySecretName,
		},
		c.Logger,
	)
	return nil
}

func (c *Container) initializeWorkers() error {
	dispatcherCfg := payout_dispatcher.Config{
		Backend:    c.Config.Workers.Dispatcher,
		Workers:    c.Config.Workers.Count,
		JobTimeout: c.Config.Workers.JobTimeout,
	}

	var redisOpts *payout_dispatcher.RedisOptions
	if c.Config.Workers.Dispatcher == payout_dispatcher.BackendAsynq {
		redisOpts = &payout_dispatcher.RedisOptions{
			Addr:     c.Config.Redis.Addr(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
			PoolSize: c.Config.Redis.PoolSize,
		}
		c.AsynqWorker = payout_dispatcher.NewAsynqWorker(dispatcherCfg, *redisOpts, c.Payout, c.Logger)
	}

	dispatcher, err := payout_dispatcher.New(dispatcherCfg, c.Payout, redisOpts, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payout dispatcher: %w", err)
	}
	c.Dispatcher = dispatcher

	var debounce idempotency.Guard
	if c.Config.Settlement.DebounceStore == "redis" {
		debounce = idempotency.NewRedisGuard(c.RedisClient, c.Config.Settlement.DebounceWindow)
	} else {
		debounce = idempotency.NewMemoryGuard(c.Config.Settlement.DebounceWindow)
	}

	c.Settlement = settlement.NewService(
		c.Store,
		c.Classifier,
		c.Payout,
		c.Dispatcher,
		debounce,
		settlement.Config{
			Treasury: c.treasury(),
			FastMode: c.Config.Settlement.FastMode,
		},
		c.Logger,
	)

	reconciler, err := settlement_reconciler.NewReconciler(settlement_reconciler.Config{
		Enabled:        c.Config.Reconciliation.Enabled,
		Schedule:       c.Config.Reconciliation.Schedule,
		Threshold:      c.Config.Reconciliation.Threshold,
		BatchSize:      c.Config.Reconciliation.BatchSize,
		MaxConcurrency: c.Config.Reconciliation.MaxConcurrency,
	}, c.Store, c.Payout, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize settlement reconciler: %w", err)
	}
	c.Reconciler = reconciler
	return nil
}

// HealthCheckers returns the dependencies probed by /health and /ready
func (c *Container) HealthCheckers() map[string]handlers.HealthChecker {
	checkers := map[string]handlers.HealthChecker{
		"solana": handlers.HealthCheckerFunc(c.SolanaClient.Health),
	}
	if c.DB != nil {
		db := c.DB
		checkers["database"] = handlers.HealthCheckerFunc(func(ctx context.Context) error {
			return database.HealthCheck(ctx, db)
		})
	}
	if c.RedisClient != nil {
		checkers["redis"] = handlers.HealthCheckerFunc(c.RedisClient.Ping)
	}
	return checkers
}

// RegisterShutdown registers workers and storage handles in stop order
func (c *Container) RegisterShutdown(sm *graceful.ShutdownManager) {
	sm.Register("reconciler", c.Reconciler)
	sm.Register("payout_dispatcher", c.Dispatcher)
	sm.RegisterCloser("settlement_store", c.Store)
	if c.RedisClient != nil {
		sm.RegisterCloser("redis", c.RedisClient)
	}
}
