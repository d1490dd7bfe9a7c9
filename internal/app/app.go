// Package app assembles the ledger's stores and services from configuration.
package app

import (
	"context"
	"fmt"

	"agri-token-ledger/internal/analytics"
	"agri-token-ledger/internal/api"
	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/chain/stub"
	"agri-token-ledger/internal/config"
	"agri-token-ledger/internal/coordinator"
	"agri-token-ledger/internal/distribution"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/observability"
	"agri-token-ledger/internal/reconciler"
	"agri-token-ledger/internal/signature"
	"agri-token-ledger/internal/storage"
	chstore "agri-token-ledger/internal/storage/clickhouse"
	"agri-token-ledger/internal/storage/memory"
	"agri-token-ledger/internal/storage/migrations"
	pgstore "agri-token-ledger/internal/storage/postgres"
)

// Stores holds all storage implementations.
type Stores struct {
	Assets        storage.AssetStore
	Investments   storage.InvestmentStore
	Transactions  storage.TransactionStore
	Distributions storage.DistributionStore
	Payouts       storage.PayoutSeriesStore
	PendingEvents storage.PendingEventStore

	Checks  map[string]api.HealthCheck
	closers []func()
}

// Close releases every connection opened by OpenStores.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects to PostgreSQL and ClickHouse and applies migrations,
// or builds in-memory stores when cfg.UseMemory is set.
func OpenStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Stores, error) {
	s := &Stores{Checks: map[string]api.HealthCheck{}}
	if cfg.UseMemory {
		assets := memory.NewAssetStore()
		s.Assets = assets
		s.Investments = memory.NewInvestmentStore(assets)
		s.Transactions = memory.NewTransactionStore()
		s.Distributions = memory.NewDistributionStore()
		s.Payouts = memory.NewPayoutSeriesStore()
		s.PendingEvents = memory.NewPendingEventStore()
		log.Info("using in-memory storage")
		return s, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, pool.Close)
	n, err := migrations.RunPostgresMigrations(ctx, pool.Pool)
	if err != nil {
		s.Close()
		return nil, err
	}
	log.Info("postgres migrations applied", "count", n)
	s.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }

	if err := chstore.EnsureDatabase(ctx, cfg.ClickhouseDSN); err != nil {
		s.Close()
		return nil, err
	}
	conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = conn.Close() })
	if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
		s.Close()
		return nil, err
	}
	s.Checks["clickhouse"] = func(ctx context.Context) error { return conn.Ping(ctx) }

	s.Assets = pgstore.NewAssetStore(pool)
	s.Investments = pgstore.NewInvestmentStore(pool)
	s.Transactions = pgstore.NewTransactionStore(pool)
	s.Distributions = pgstore.NewDistributionStore(pool)
	s.Payouts = chstore.NewPayoutSeriesStore(conn)
	s.PendingEvents = pgstore.NewPendingEventStore(pool)
	log.Info("connected to postgres and clickhouse")
	return s, nil
}

// OpenCache returns a Redis cache when cfg.RedisURL is set, otherwise an
// in-process one.
func OpenCache(ctx context.Context, cfg *config.Config, s *Stores, log *logger.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryCache(), nil
	}
	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() { _ = client.Close() })
	s.Checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	log.Info("using redis cache")
	return cache.NewRedisCache(client, "ledger"), nil
}

// OpenNotifier returns a RabbitMQ publisher when cfg.RabbitMQURL is set.
func OpenNotifier(cfg *config.Config, log *logger.Logger) (notify.Notifier, error) {
	if cfg.RabbitMQURL == "" {
		return notify.Nop{}, nil
	}
	return notify.NewRabbitPublisher(cfg.RabbitMQURL, cfg.NotifyExchange, log)
}

// NewActor returns the chain actor selected by cfg.ChainMode.
func NewActor(cfg *config.Config) chain.Actor {
	if cfg.ChainMode == config.ChainModeLive {
		relayer := chain.NewRelayerClient(cfg.ChainRelayerURL, chain.WithTimeout(cfg.ChainTimeout))
		return chain.NewLive(relayer, cfg.ChainRPCURL)
	}
	mock := stub.NewMock()
	mock.AutoComplete = true
	return mock
}

// RetryPolicy builds the chain retry policy from cfg.
func RetryPolicy(cfg *config.Config) chain.RetryPolicy {
	p := chain.DefaultRetryPolicy()
	p.MaxAttempts = cfg.ChainMaxRetries
	p.InitialDelay = cfg.ChainRetryDelay
	p.MaxDelay = cfg.ChainMaxDelay
	p.CallTimeout = cfg.ChainTimeout
	return p
}

// Services are the running ledger components.
type Services struct {
	Coordinator  *coordinator.Coordinator
	Distribution *distribution.Engine
	Reconciler   *reconciler.Reconciler
	Analytics    *analytics.Engine
	Verifier     *signature.Verifier
}

// Deps are the shared dependencies of NewServices.
type Deps struct {
	Stores   *Stores
	Cache    cache.Cache
	Notifier notify.Notifier
	Actor    chain.Actor
	Metrics  *observability.Metrics
	Logger   *logger.Logger
}

// NewServices wires the coordinator, distribution engine, reconciler and
// analytics engine together. Nothing is started.
func NewServices(cfg *config.Config, d Deps) (*Services, error) {
	verifier, err := signature.NewVerifier(cfg.TrustedSigners)
	if err != nil {
		return nil, fmt.Errorf("trusted signers: %w", err)
	}
	if len(cfg.TrustedSigners) == 0 {
		d.Logger.Warn("no trusted signers configured, webhooks and chain events will be rejected")
	}

	st := d.Stores
	invalidator := cache.NewInvalidator(d.Cache, st.Investments)
	retry := RetryPolicy(cfg)

	an := analytics.NewEngine(analytics.EngineOptions{
		Assets:       st.Assets,
		Investments:  st.Investments,
		Payouts:      st.Payouts,
		Cache:        d.Cache,
		TTL:          cfg.CacheTTL,
		RiskFreeRate: cfg.RiskFreeRate,
		Logger:       d.Logger,
	})

	coord := coordinator.New(coordinator.Options{
		Assets:         st.Assets,
		Investments:    st.Investments,
		Transactions:   st.Transactions,
		Actor:          d.Actor,
		Retry:          retry,
		Cache:          invalidator,
		Notifier:       d.Notifier,
		Metrics:        d.Metrics,
		Logger:         d.Logger,
		Risk:           an,
		Workers:        cfg.SubmitWorkers,
		PendingTimeout: cfg.PendingTimeout,
		AbandonTimeout: cfg.AbandonTimeout,
	})

	dist := distribution.New(distribution.Options{
		Assets:          st.Assets,
		Investments:     st.Investments,
		Jobs:            st.Distributions,
		Payouts:         st.Payouts,
		Submitter:       coord,
		Cache:           invalidator,
		Notifier:        d.Notifier,
		Metrics:         d.Metrics,
		Logger:          d.Logger,
		Retry:           retry,
		MaxAttempts:     cfg.DistributionMaxAttempts,
		TransferTimeout: cfg.TransferTimeout,
		Precision:       cfg.DistributionPrecision,
	})
	coord.SetPayoutFlagger(dist)

	rec := reconciler.New(reconciler.Options{
		Assets:       st.Assets,
		Transactions: st.Transactions,
		Verifier:     verifier,
		Pending:      st.PendingEvents,
		Cache:        invalidator,
		Notifier:     d.Notifier,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
		BufferLimit:  cfg.EventBufferLimit,
		IdleTimeout:  cfg.WorkerIdleTimeout,
	})

	return &Services{
		Coordinator:  coord,
		Distribution: dist,
		Reconciler:   rec,
		Analytics:    an,
		Verifier:     verifier,
	}, nil
}

// Handler builds the HTTP handler over s.
func (s *Services) Handler(cfg *config.Config, d Deps) *api.Handler {
	return api.NewHandler(api.Options{
		Ledger:       s.Coordinator,
		Events:       s.Reconciler,
		Distributor:  s.Distribution,
		Analytics:    s.Analytics,
		Assets:       d.Stores.Assets,
		Investments:  d.Stores.Investments,
		Cache:        d.Cache,
		CacheTTL:     cfg.CacheTTL,
		Verifier:     s.Verifier,
		Metrics:      d.Metrics,
		Logger:       d.Logger,
		HealthChecks: d.Stores.Checks,
	})
}
