package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fipe-harvester/config"
	"fipe-harvester/models"
	"fipe-harvester/scraper"
	"fipe-harvester/scraper/fipe"
	"fipe-harvester/services"
	"fipe-harvester/storage"
	"fipe-harvester/utils"
)

// app holds what every command needs: configuration, a run-scoped logger
// and a migrated store.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.SQLStore
	runID  string
}

func bootstrap(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	logger = logger.With(utils.String("run_id", runID))

	logger.Info("=== FIPE harvester starting ===")
	logger.Info("Config: store=%s | rate=%d/%v | retries=%d | throttle=%dx%v | price workers=%d",
		cfg.StoreDriver, cfg.RateLimitRequests, cfg.RateLimitWindow, cfg.MaxRetries,
		cfg.ThrottleAttempts, cfg.ThrottleDelay, cfg.PriceWorkers)

	store, err := storage.Open(ctx, cfg.StoreDriver, cfg.DSN())
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreDriver, err)
		if cfg.StoreDriver == config.DriverPostgres {
			logger.Error("Make sure Docker is running: docker compose up -d")
		}
		return nil, err
	}

	n, err := store.Migrate(ctx, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	logger.Info("Schema up to date (%d migrations applied)", n)

	return &app{cfg: cfg, logger: logger, store: store, runID: runID}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store: %v", err)
	}
	_ = a.logger.Sync()
}

// crawl runs the engine next to the periodic statistics reporter. A nil
// start lets the inspector pick the stage.
func (a *app) crawl(ctx context.Context, start *models.Stage) error {
	stats := services.NewStats(a.logger, a.cfg.StatsEvery)
	limiter := utils.NewRateLimiter(a.cfg.RateLimitRequests, a.cfg.RateLimitWindow)
	a.logger.Info("Rate limit: %d requests per %v", limiter.Limit(), limiter.Window())

	client := fipe.NewClient(fipe.Options{
		BaseURL:          a.cfg.FipeBaseURL,
		VehicleType:      a.cfg.FipeVehicleType,
		Timeout:          a.cfg.HTTPTimeout,
		MaxRetries:       a.cfg.MaxRetries,
		RetryDelay:       a.cfg.RetryDelay,
		ThrottleAttempts: a.cfg.ThrottleAttempts,
		ThrottleDelay:    a.cfg.ThrottleDelay,
	}, limiter, stats, a.logger)

	engine := scraper.NewEngine(client, a.store, a.logger, scraper.EngineConfig{
		RunID:                a.runID,
		PriceWorkers:         a.cfg.PriceWorkers,
		SkipHistoricalPrices: a.cfg.SkipHistoricalPrices,
		StoreRetries:         a.cfg.StoreRetries,
		StoreRetryDelay:      a.cfg.StoreRetryDelay,
	})

	g, gctx := errgroup.WithContext(ctx)
	statsCtx, stopStats := context.WithCancel(gctx)

	var report *models.RunReport
	g.Go(func() error {
		defer stopStats()

		var err error
		if start != nil {
			report, err = engine.RunFrom(gctx, *start)
		} else {
			report, err = engine.Run(gctx)
		}
		return err
	})
	g.Go(func() error {
		return stats.Run(statsCtx, a.cfg.StatsInterval)
	})

	err := g.Wait()
	if report != nil {
		stats.Print(os.Stdout, report)
	}

	switch {
	case errors.Is(err, models.ErrFatalBootstrap):
		a.logger.Error("Crawl aborted: %v", err)
		return err
	case err != nil:
		a.logger.Error("Crawl interrupted: %v", err)
		return err
	}

	a.logger.Info("Crawl complete (%d node failures, see log for positions)", report.Failures())
	return nil
}

func (a *app) export(ctx context.Context, reference int, path string) error {
	const op = "export"

	if reference == 0 {
		refs, err := a.store.ListReferencePeriods(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if len(refs) == 0 {
			return fmt.Errorf("%s: %w: no reference periods stored", op, models.ErrNotFound)
		}
		reference = refs[0].Code
	}

	prices, err := a.store.ListPricedInstances(ctx, reference)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	w, err := storage.NewCSVWriter(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := w.WritePrices(prices); err != nil {
		_ = w.Close()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.logger.Info("Exported %d prices of period %d to %s", len(prices), reference, path)
	return nil
}
