package scraper

import (
	"context"

	"fipe-harvester/models"
	"fipe-harvester/utils"
)

// CompletenessSource reports aggregate catalog counts.
type CompletenessSource interface {
	Completeness(ctx context.Context) (models.Completeness, error)
}

// Inspector picks the stage a crawl resumes from by looking at what the
// store already holds.
type Inspector struct {
	store  CompletenessSource
	logger *utils.Logger
}

func NewInspector(store CompletenessSource, logger *utils.Logger) *Inspector {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Inspector{store: store, logger: logger}
}

// DetermineResumeStage never fails: a store error restarts from the reference
// period, which only repeats idempotent upserts.
func (i *Inspector) DetermineResumeStage(ctx context.Context) models.Stage {
	c, err := i.store.Completeness(ctx)
	if err != nil {
		i.logger.Error("[inspector] completeness query failed, restarting from %s: %v", models.FromReference, err)
		return models.FromReference
	}

	stage := ResumeStage(c)
	i.logger.Info("[inspector] brands=%d models=%d years=%d brands_without_models=%d models_without_years=%d -> %s",
		c.Brands, c.Models, c.ModelYears, c.BrandsWithoutModels, c.ModelsWithoutYears, stage)
	return stage
}

// ResumeStage maps completeness counts to a stage.
func ResumeStage(c models.Completeness) models.Stage {
	switch {
	case c.Brands == 0:
		return models.FromReference
	case c.BrandsWithoutModels > 0:
		return models.FromModels
	case c.ModelsWithoutYears > 0:
		return models.FromYears
	default:
		return models.FromPrices
	}
}
