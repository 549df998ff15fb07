// Command draw-auditor serves the draw audit API and audits newly revealed
// draws on a schedule.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/draw_auditor/internal/auditor"
	"github.com/R3E-Network/draw_auditor/internal/cache"
	"github.com/R3E-Network/draw_auditor/internal/chain"
	"github.com/R3E-Network/draw_auditor/internal/config"
	"github.com/R3E-Network/draw_auditor/internal/drand"
	"github.com/R3E-Network/draw_auditor/internal/httpapi"
	"github.com/R3E-Network/draw_auditor/internal/middleware"
	"github.com/R3E-Network/draw_auditor/internal/snapshot"
	"github.com/R3E-Network/draw_auditor/internal/storage"
	"github.com/R3E-Network/draw_auditor/internal/storage/memory"
	"github.com/R3E-Network/draw_auditor/internal/storage/sqlstore"
	"github.com/R3E-Network/draw_auditor/internal/watcher"
	"github.com/R3E-Network/draw_auditor/pkg/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("DRAW_AUDITOR_CONFIG"), "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New("draw-auditor", logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("draw-auditor exited")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := chain.NewClient(chain.Config{
		Endpoints: cfg.Chain.LCD.URLs(),
		Timeout:   cfg.Chain.RequestTimeout,
	}, log.Component("chain"))
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}
	reader := chain.NewReader(client, chain.Contracts{
		Distributor: cfg.Chain.Distributor,
		Oracle:      cfg.Chain.Oracle,
		StakingHub:  cfg.Chain.StakingHub,
	})

	relays, err := drand.NewClient(drand.Config{
		Endpoints: cfg.Drand.Endpoints.URLs(),
		ChainHash: cfg.Drand.ChainHash,
		RateLimit: cfg.Drand.RateLimit,
		Timeout:   cfg.Drand.RequestTimeout,
	}, log.Component("drand"))
	if err != nil {
		return fmt.Errorf("drand client: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	projections, err := cache.New(cache.Config{
		Backend:   cfg.Cache.Backend,
		Size:      cfg.Cache.Size,
		TTL:       cfg.Cache.TTL,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer projections.Close()

	svc, err := auditor.New(auditor.Options{
		Chain:     reader,
		Drand:     relays,
		Snapshots: snapshot.NewLoader(cfg.Snapshot.URLTemplate, cfg.Chain.RequestTimeout, log.Component("snapshot")),
		Store:     store,
		Cache:     projections,
		Odds: auditor.OddsSettings{
			Decimals:           cfg.Odds.Decimals,
			Denom:              cfg.Odds.Denom,
			EpochDuration:      cfg.Odds.EpochDuration,
			RegularEveryEpochs: cfg.Odds.RegularEveryEpochs,
			BigEveryEpochs:     cfg.Odds.BigEveryEpochs,
			Split:              cfg.Odds.Split,
			MinEpochsRegular:   cfg.Odds.MinEpochsRegular,
			MinEpochsBig:       cfg.Odds.MinEpochsBig,
		},
		Logger: log.Component("auditor"),
	})
	if err != nil {
		return err
	}

	network := drand.Network{ChainHash: cfg.Drand.ChainHash, GenesisTime: cfg.Drand.GenesisTime, Period: cfg.Drand.Period}
	checkCtx, checkCancel := context.WithTimeout(ctx, cfg.Chain.RequestTimeout)
	err = svc.CheckOracle(checkCtx, network)
	checkCancel()
	switch {
	case errors.Is(err, drand.ErrNetworkMismatch):
		return fmt.Errorf("oracle and configured drand network differ: %w", err)
	case err != nil:
		log.WithError(err).Warn("oracle network check unavailable")
	default:
		log.WithField("chain_hash", network.ChainHash).Info("oracle drand network matches")
	}

	if cfg.Watcher.Enabled {
		w, err := watcher.New(svc, watcher.Config{
			Schedule: cfg.Watcher.Schedule,
			Lookback: uint32(cfg.Watcher.Lookback),
		}, log.Component("watcher"))
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log.Component("ratelimit"))
	limiter.StartCleanup(time.Minute, stopCleanup)

	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Auditor:     svc,
			Logger:      log.Component("http"),
			RateLimiter: limiter,
			CORS:        middleware.NewCORS([]string{"*"}),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.AuditStore, func(), error) {
	switch cfg.Driver {
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}
