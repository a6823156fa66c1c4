package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"fipe-harvester/models"
	"fipe-harvester/storage"
	"fipe-harvester/utils"
)

// Upstream is the subset of the FIPE client the engine drives.
type Upstream interface {
	CurrentReference(ctx context.Context) (models.ReferencePeriod, error)
	Brands(ctx context.Context, referenceCode int) ([]models.Brand, error)
	Models(ctx context.Context, referenceCode int, brandCode string) ([]models.Model, error)
	ModelYears(ctx context.Context, referenceCode int, brandCode, modelCode string) ([]models.ModelYear, error)
	Price(ctx context.Context, referenceCode int, brandCode, modelCode string, year models.ModelYear) (models.PricedInstance, error)
}

// EngineConfig tunes a crawl run.
type EngineConfig struct {
	RunID string
	// PriceWorkers > 1 fans the price stage out; all workers share the
	// client's rate limiter.
	PriceWorkers int
	// SkipHistoricalPrices skips price combinations of past reference
	// periods that are already stored. The current period is always refreshed.
	SkipHistoricalPrices bool
	StoreRetries         int
	StoreRetryDelay      time.Duration
}

// Engine walks reference -> brands -> models -> model-years -> prices,
// starting at the stage the inspector picks and moving forward only.
type Engine struct {
	api       Upstream
	store     storage.CatalogStore
	inspector *Inspector
	logger    *utils.Logger
	cfg       EngineConfig
	write     utils.RetryConfig
}

func NewEngine(api Upstream, store storage.CatalogStore, logger *utils.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.PriceWorkers < 1 {
		cfg.PriceWorkers = 1
	}
	return &Engine{
		api:       api,
		store:     store,
		inspector: NewInspector(store, logger),
		logger:    logger,
		cfg:       cfg,
		write: utils.RetryConfig{
			MaxAttempts: cfg.StoreRetries,
			Backoff:     utils.LinearBackoff(cfg.StoreRetryDelay),
			Retryable: func(err error) bool {
				return errors.Is(err, models.ErrTransientStore)
			},
			Logger: logger,
		},
	}
}

// Run resumes the crawl from the stage the store's completeness calls for.
func (e *Engine) Run(ctx context.Context) (*models.RunReport, error) {
	return e.RunFrom(ctx, e.inspector.DetermineResumeStage(ctx))
}

// RunFrom runs every stage from start onwards. The returned report is
// non-nil even when err is.
func (e *Engine) RunFrom(ctx context.Context, start models.Stage) (*models.RunReport, error) {
	report := models.NewRunReport(e.cfg.RunID, start)
	defer func() { report.FinishedAt = time.Now() }()

	e.logger.Info("[engine] run %s starting at %s", e.cfg.RunID, start)

	ref, err := e.api.CurrentReference(ctx)
	if err != nil {
		report.Record(models.FromReference, models.OutcomeFailed, 1)
		return report, fmt.Errorf("%w: current reference period: %w", models.ErrFatalBootstrap, err)
	}
	report.Reference = ref
	report.Record(models.FromReference, models.OutcomeFetched, 1)

	if err := e.save(ctx, "reference "+ref.Label, func(ctx context.Context) error {
		return e.store.UpsertReferencePeriod(ctx, ref)
	}); err != nil {
		report.Record(models.FromReference, models.OutcomeFailed, 1)
		return report, fmt.Errorf("%w: store reference period %d: %w", models.ErrFatalBootstrap, ref.Code, err)
	}
	report.Record(models.FromReference, models.OutcomeWritten, 1)
	e.logger.Info("[engine] current reference period %d (%s)", ref.Code, ref.Label)

	var brands []models.Brand
	if start.Covers(models.FromReference) {
		if brands, err = e.fetchBrands(ctx, ref, report); err != nil {
			return report, err
		}
	}

	if start.Covers(models.FromModels) {
		if brands == nil {
			if brands, err = e.store.ListBrands(ctx); err != nil {
				return report, fmt.Errorf("engine: list brands: %w", err)
			}
		}
		if err := e.crawlModels(ctx, ref, brands, report); err != nil {
			return report, err
		}
	}

	if start.Covers(models.FromYears) {
		if err := e.crawlYears(ctx, ref, report); err != nil {
			return report, err
		}
	}

	if err := e.crawlPrices(ctx, ref, report); err != nil {
		return report, err
	}

	e.logger.Info("[engine] run %s finished, %d node failures", e.cfg.RunID, report.Failures())
	return report, nil
}

func (e *Engine) save(ctx context.Context, what string, fn func(ctx context.Context) error) error {
	return e.write.Do(ctx, "store "+what, fn)
}

func (e *Engine) fetchBrands(ctx context.Context, ref models.ReferencePeriod, report *models.RunReport) ([]models.Brand, error) {
	brands, err := e.api.Brands(ctx, ref.Code)
	if err != nil {
		report.Record(models.FromReference, models.OutcomeFailed, 1)
		return nil, fmt.Errorf("%w: brands for period %d: %w", models.ErrFatalBootstrap, ref.Code, err)
	}
	report.Record(models.FromReference, models.OutcomeFetched, len(brands))
	e.logger.Info("[brands] %d brands for period %d", len(brands), ref.Code)

	for i, b := range brands {
		if err := e.save(ctx, "brand "+b.Code, func(ctx context.Context) error {
			return e.store.UpsertBrand(ctx, b)
		}); err != nil {
			report.Record(models.FromReference, models.OutcomeFailed, 1)
			e.logger.Error("[brands] brand %s (%d/%d) not stored: %v", b.Code, i+1, len(brands), err)
			continue
		}
		report.Record(models.FromReference, models.OutcomeWritten, 1)
	}
	return brands, nil
}

func (e *Engine) crawlModels(ctx context.Context, ref models.ReferencePeriod, brands []models.Brand, report *models.RunReport) error {
	seen := utils.NewKeySet[string]()

	for i, b := range brands {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("engine: models stage: %w", err)
		}

		ms, err := e.api.Models(ctx, ref.Code, b.Code)
		if err != nil {
			report.Record(models.FromModels, models.OutcomeFailed, 1)
			e.logger.Error("[models] brand %s (%d/%d) fetch failed: %v", b.Code, i+1, len(brands), err)
			continue
		}
		report.Record(models.FromModels, models.OutcomeFetched, len(ms))
		e.logger.Info("[models] brand %s %q (%d/%d): %d models", b.Code, b.Name, i+1, len(brands), len(ms))

		for _, m := range ms {
			if seen.Contains(m.Code) {
				e.logger.Warn("[models] model %s listed again under brand %s", m.Code, b.Code)
			}
			seen.Add(m.Code)
			m.BrandCode = b.Code
			if err := e.save(ctx, "model "+m.Code, func(ctx context.Context) error {
				return e.store.UpsertModel(ctx, b.Code, m)
			}); err != nil {
				report.Record(models.FromModels, models.OutcomeFailed, 1)
				e.logger.Error("[models] brand %s model %s not stored: %v", b.Code, m.Code, err)
				continue
			}
			report.Record(models.FromModels, models.OutcomeWritten, 1)
		}
	}
	e.logger.Info("[models] %d distinct models across %d brands", seen.Size(), len(brands))
	return nil
}

func (e *Engine) crawlYears(ctx context.Context, ref models.ReferencePeriod, report *models.RunReport) error {
	brands, err := e.store.ListBrands(ctx)
	if err != nil {
		return fmt.Errorf("engine: list brands: %w", err)
	}

	for bi, b := range brands {
		ms, err := e.store.ListModelsByBrand(ctx, b.Code)
		if err != nil {
			report.Record(models.FromYears, models.OutcomeFailed, 1)
			e.logger.Error("[years] brand %s (%d/%d) models not readable: %v", b.Code, bi+1, len(brands), err)
			continue
		}

		for mi, m := range ms {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("engine: years stage: %w", err)
			}

			ys, err := e.api.ModelYears(ctx, ref.Code, b.Code, m.Code)
			if err != nil {
				report.Record(models.FromYears, models.OutcomeFailed, 1)
				e.logger.Error("[years] brand %s (%d/%d) model %s (%d/%d) fetch failed: %v",
					b.Code, bi+1, len(brands), m.Code, mi+1, len(ms), err)
				continue
			}
			if len(ys) == 0 {
				report.Record(models.FromYears, models.OutcomeSkipped, 1)
				e.logger.Warn("[years] brand %s model %s (%d/%d) has no model-years, skipping",
					b.Code, m.Code, mi+1, len(ms))
				continue
			}
			report.Record(models.FromYears, models.OutcomeFetched, len(ys))

			seen := utils.NewKeySet[string]()
			for _, y := range ys {
				if !seen.Add(y.Code) {
					continue
				}
				y.ModelCode = m.Code
				if err := e.save(ctx, "model-year "+m.Code+"/"+y.Code, func(ctx context.Context) error {
					return e.store.UpsertModelYear(ctx, m.Code, y)
				}); err != nil {
					report.Record(models.FromYears, models.OutcomeFailed, 1)
					e.logger.Error("[years] model %s year %s not stored: %v", m.Code, y.Code, err)
					continue
				}
				report.Record(models.FromYears, models.OutcomeWritten, 1)
			}
		}
		e.logger.Info("[years] brand %s (%d/%d) done", b.Code, bi+1, len(brands))
	}
	return nil
}

type priceTarget struct {
	brand models.Brand
	model models.Model
	year  models.ModelYear
}

// crawlPrices fetches every stored period x brand x model x model-year
// combination. Combinations are independent of each other.
func (e *Engine) crawlPrices(ctx context.Context, current models.ReferencePeriod, report *models.RunReport) error {
	periods, err := e.store.ListReferencePeriods(ctx)
	if err != nil {
		return fmt.Errorf("engine: list reference periods: %w", err)
	}
	targets, err := e.priceTargets(ctx)
	if err != nil {
		return err
	}

	total := len(periods) * len(targets)
	e.logger.Info("[prices] %d combinations (%d periods x %d model-years), %d workers",
		total, len(periods), len(targets), e.cfg.PriceWorkers)

	pool := utils.NewWorkerPool(e.cfg.PriceWorkers)
	var done atomic.Int64
	pos := 0

	for _, p := range periods {
		for _, t := range targets {
			if ctx.Err() != nil {
				break
			}
			pos++
			n := pos
			pool.Submit(func() {
				e.priceNode(ctx, current, p, t, n, total, report)
				if c := done.Add(1); c%500 == 0 {
					e.logger.Info("[prices] %d/%d combinations processed", c, total)
				}
			})
		}
	}
	pool.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("engine: prices stage: %w", err)
	}
	return nil
}

func (e *Engine) priceTargets(ctx context.Context) ([]priceTarget, error) {
	brands, err := e.store.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: list brands: %w", err)
	}

	var targets []priceTarget
	for _, b := range brands {
		ms, err := e.store.ListModelsByBrand(ctx, b.Code)
		if err != nil {
			return nil, fmt.Errorf("engine: list models of brand %s: %w", b.Code, err)
		}
		for _, m := range ms {
			ys, err := e.store.ListModelYearsByModel(ctx, m.Code)
			if err != nil {
				return nil, fmt.Errorf("engine: list model-years of model %s: %w", m.Code, err)
			}
			for _, y := range ys {
				targets = append(targets, priceTarget{brand: b, model: m, year: y})
			}
		}
	}
	return targets, nil
}

func (e *Engine) priceNode(ctx context.Context, current, period models.ReferencePeriod, t priceTarget, pos, total int, report *models.RunReport) {
	key := models.PriceKey{ModelCode: t.model.Code, YearCode: t.year.Code, ReferenceCode: period.Code}

	if e.cfg.SkipHistoricalPrices && period.Code != current.Code {
		exists, err := e.store.HasPricedInstance(ctx, key)
		if err != nil {
			e.logger.Warn("[prices] existence check for %+v failed, fetching anyway: %v", key, err)
		} else if exists {
			report.Record(models.FromPrices, models.OutcomeSkipped, 1)
			return
		}
	}

	p, err := e.api.Price(ctx, period.Code, t.brand.Code, t.model.Code, t.year)
	if err != nil {
		report.Record(models.FromPrices, models.OutcomeFailed, 1)
		e.logger.Error("[prices] period %d brand %s model %s year %s (%d/%d) fetch failed: %v",
			period.Code, t.brand.Code, t.model.Code, t.year.Code, pos, total, err)
		return
	}
	report.Record(models.FromPrices, models.OutcomeFetched, 1)

	if err := e.save(ctx, "price "+t.model.Code+"/"+t.year.Code, func(ctx context.Context) error {
		return e.store.UpsertPricedInstance(ctx, p)
	}); err != nil {
		report.Record(models.FromPrices, models.OutcomeFailed, 1)
		e.logger.Error("[prices] period %d brand %s model %s year %s (%d/%d) not stored: %v",
			period.Code, t.brand.Code, t.model.Code, t.year.Code, pos, total, err)
		return
	}
	report.Record(models.FromPrices, models.OutcomeWritten, 1)
}
