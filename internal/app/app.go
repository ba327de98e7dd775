// Package app wires the market stack from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	rediscache "github.com/rovshanmuradov/curvemarket/internal/cache/redis"
	"github.com/rovshanmuradov/curvemarket/internal/chain"
	"github.com/rovshanmuradov/curvemarket/internal/config"
	"github.com/rovshanmuradov/curvemarket/internal/curve"
	"github.com/rovshanmuradov/curvemarket/internal/events"
	"github.com/rovshanmuradov/curvemarket/internal/factory"
	"github.com/rovshanmuradov/curvemarket/internal/indexer"
	"github.com/rovshanmuradov/curvemarket/internal/market"
	"github.com/rovshanmuradov/curvemarket/internal/metrics"
	"github.com/rovshanmuradov/curvemarket/internal/pool"
	"github.com/rovshanmuradov/curvemarket/internal/storage"
	"github.com/rovshanmuradov/curvemarket/internal/storage/postgres"
	"github.com/rovshanmuradov/curvemarket/internal/storage/sqlite"
	"github.com/rovshanmuradov/curvemarket/internal/weth"
)

// App is a running market stack: the in-memory chain, the factory and the
// event consumers behind it.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Bank    *chain.Ledger
	WETH    *weth.WETH
	Pools   *pool.Manager
	Bus     *events.Bus
	Factory *factory.Factory
	Indexer *indexer.Indexer
	Metrics *metrics.Collector
	Store   storage.Storage
	Prices  *rediscache.PriceCache // nil without redis.addr

	metricsAddr net.Addr
	shutdown    *ShutdownHandler
}

// New builds the stack. On error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		shutdown: NewShutdownHandler(logger.Named("shutdown"), 30*time.Second),
	}
	ready := false
	defer func() {
		if !ready {
			_ = a.shutdown.Shutdown(context.Background())
		}
	}()

	curveParams, err := cfg.CurveParams()
	if err != nil {
		return nil, err
	}
	pricer, err := curve.New(curveParams)
	if err != nil {
		return nil, err
	}
	marketParams, err := cfg.MarketParams()
	if err != nil {
		return nil, err
	}
	accounts, err := cfg.Accounts()
	if err != nil {
		return nil, err
	}

	if err := a.openStorage(cfg.Storage); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		client, err := rediscache.New(ctx, rediscache.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Retries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.shutdown.Add("redis", client)
		a.Prices = rediscache.NewPriceCache(client, cfg.Redis.TTL)
	}

	a.Metrics = metrics.NewCollector()
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			return nil, err
		}
	}

	a.Bus = events.NewBus(logger, cfg.EventBuffer)
	a.shutdown.AddFunc("event_bus", func() error {
		return a.Bus.Shutdown(context.Background())
	})

	deps := indexer.Deps{Store: a.Store, Metrics: a.Metrics}
	if a.Prices != nil {
		deps.Cache = a.Prices
	}
	opts := indexer.DefaultOptions()
	opts.MaxRetries = uint(cfg.Retries) + 1
	a.Indexer = indexer.New(logger, deps, opts)
	a.Indexer.Attach(a.Bus)

	a.Bank = chain.NewLedger()
	a.WETH = weth.New(accounts.WETH, a.Bank)
	a.Pools = pool.NewManager(logger, cfg.PoolOptions())
	a.Pools.RegisterAsset(ctx, a.WETH)

	f, err := factory.New(factory.Options{
		Address: accounts.Factory,
		Params:  marketParams,
		Protocol: factory.ProtocolConfig{
			Owner:                accounts.Owner,
			ProtocolFeeRecipient: accounts.FeeRecipient,
			OriginFeeRecipient:   accounts.OriginFeeRecipient,
		},
	}, market.Deps{Curve: pricer, Bank: a.Bank, WETH: a.WETH, Pool: a.Pools, Events: a.Bus}, logger)
	if err != nil {
		return nil, err
	}
	a.Factory = f

	logger.Info("Market stack ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("price_cache", a.Prices != nil),
		zap.String("factory", accounts.Factory.Hex()))
	ready = true
	return a, nil
}

// OpenStorage opens the configured store. Migrations are left to the caller.
func OpenStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.Storage, error) {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err = postgres.NewStorage(cfg.DSN, logger)
	case config.DriverSQLite:
		store, err = sqlite.NewStorage(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}
	return store, nil
}

func (a *App) openStorage(cfg config.StorageConfig) error {
	store, err := OpenStorage(cfg, a.Logger)
	if err != nil {
		return err
	}
	a.shutdown.Add("storage", store)

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.Store = store
	return nil
}

func (a *App) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	a.metricsAddr = ln.Addr()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	a.shutdown.AddFunc("metrics_server", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})

	a.Logger.Info("Serving metrics", zap.String("addr", a.metricsAddr.String()))
	return nil
}

// MetricsAddr is the bound metrics listener, nil when disabled.
func (a *App) MetricsAddr() net.Addr {
	return a.metricsAddr
}

// Drain waits until the indexer has seen every event published so far.
func (a *App) Drain(ctx context.Context) error {
	return a.Bus.Flush(ctx)
}

// Close drains the bus and releases every resource.
func (a *App) Close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
