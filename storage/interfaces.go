package storage

import (
	"context"

	"fipe-harvester/models"
)

// CatalogStore is the idempotent persistence contract the crawler depends on.
// Every upsert may be repeated safely; a repeated upsert with identical
// attributes leaves the row unchanged.
type CatalogStore interface {
	UpsertReferencePeriod(ctx context.Context, ref models.ReferencePeriod) error
	UpsertBrand(ctx context.Context, brand models.Brand) error
	UpsertModel(ctx context.Context, brandCode string, model models.Model) error
	UpsertModelYear(ctx context.Context, modelCode string, year models.ModelYear) error
	// UpsertPricedInstance inserts or updates the row keyed by
	// (model code, model-year code, reference code).
	UpsertPricedInstance(ctx context.Context, p models.PricedInstance) error

	ListReferencePeriods(ctx context.Context) ([]models.ReferencePeriod, error)
	ListBrands(ctx context.Context) ([]models.Brand, error)
	ListModelsByBrand(ctx context.Context, brandCode string) ([]models.Model, error)
	ListModelYearsByModel(ctx context.Context, modelCode string) ([]models.ModelYear, error)

	Completeness(ctx context.Context) (models.Completeness, error)
	HasPricedInstance(ctx context.Context, key models.PriceKey) (bool, error)
	ListPricedInstances(ctx context.Context, referenceCode int) ([]models.PricedInstance, error)

	Close() error
}

// PriceWriter is the interface for exporting priced instances.
type PriceWriter interface {
	WritePrices(prices []models.PricedInstance) error
	Close() error
}
