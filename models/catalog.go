package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ZeroKmYear is the year the vendor uses for brand-new ("zero km") vehicles.
const ZeroKmYear = 32000

// ReferencePeriod is a monthly snapshot of the vendor catalog.
type ReferencePeriod struct {
	Code  int
	Label string
}

// Brand is a vehicle manufacturer as listed under a reference period.
type Brand struct {
	Code string
	Name string
}

// Model belongs to exactly one brand.
type Model struct {
	Code      string
	Name      string
	BrandCode string
}

// ModelYear is keyed by "<year>-<fuelType>" within its model.
type ModelYear struct {
	Code      string
	Label     string
	ModelCode string
	Year      int
	FuelType  int
}

// ZeroKm reports whether the model-year stands for brand-new vehicles.
func (y ModelYear) ZeroKm() bool { return y.Year == ZeroKmYear }

// PriceKey uniquely identifies a priced instance.
type PriceKey struct {
	ModelCode     string
	YearCode      string
	ReferenceCode int
}

// PricedInstance is the vendor price of one model-year under one reference period.
type PricedInstance struct {
	ID            int64
	BrandCode     string
	ModelCode     string
	YearCode      string
	ReferenceCode int
	Fuel          string
	Price         decimal.Decimal
	FipeCode      string
	UpdatedAt     time.Time
}

// Key returns the natural key of the instance.
func (p PricedInstance) Key() PriceKey {
	return PriceKey{
		ModelCode:     p.ModelCode,
		YearCode:      p.YearCode,
		ReferenceCode: p.ReferenceCode,
	}
}

// Completeness holds the aggregate counts used to pick a resume stage.
type Completeness struct {
	Brands              int
	Models              int
	ModelYears          int
	BrandsWithoutModels int
	ModelsWithoutYears  int
}
