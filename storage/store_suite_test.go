package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fipe-harvester/models"
)

// runStoreSuite exercises a migrated, empty store. It runs against SQLite in
// the default build and against PostgreSQL under the integration tag.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) *SQLStore) {
	ctx := context.Background()

	seed := func(t *testing.T, s *SQLStore) (models.ReferencePeriod, models.Brand, models.Model, models.ModelYear) {
		t.Helper()
		ref := models.ReferencePeriod{Code: 300, Label: "outubro/2023"}
		brand := models.Brand{Code: "21", Name: gofakeit.CarMaker()}
		model := models.Model{Code: "4828", Name: gofakeit.CarModel(), BrandCode: brand.Code}
		year := models.ModelYear{Code: "2014-1", Label: "2014 Gasolina", ModelCode: model.Code, Year: 2014, FuelType: 1}

		require.NoError(t, s.UpsertReferencePeriod(ctx, ref))
		require.NoError(t, s.UpsertBrand(ctx, brand))
		require.NoError(t, s.UpsertModel(ctx, brand.Code, model))
		require.NoError(t, s.UpsertModelYear(ctx, model.Code, year))
		return ref, brand, model, year
	}

	t.Run("upserts are idempotent", func(t *testing.T) {
		s := newStore(t)
		_, brand, model, year := seed(t, s)

		require.NoError(t, s.UpsertBrand(ctx, brand))
		require.NoError(t, s.UpsertModel(ctx, brand.Code, model))
		require.NoError(t, s.UpsertModelYear(ctx, model.Code, year))

		brands, err := s.ListBrands(ctx)
		require.NoError(t, err)
		assert.Equal(t, []models.Brand{brand}, brands)

		ms, err := s.ListModelsByBrand(ctx, brand.Code)
		require.NoError(t, err)
		assert.Equal(t, []models.Model{model}, ms)

		ys, err := s.ListModelYearsByModel(ctx, model.Code)
		require.NoError(t, err)
		assert.Equal(t, []models.ModelYear{year}, ys)
	})

	t.Run("upsert updates changed attributes", func(t *testing.T) {
		s := newStore(t)
		_, brand, _, _ := seed(t, s)

		brand.Name = brand.Name + " Renamed"
		require.NoError(t, s.UpsertBrand(ctx, brand))

		brands, err := s.ListBrands(ctx)
		require.NoError(t, err)
		require.Len(t, brands, 1)
		assert.Equal(t, brand.Name, brands[0].Name)
	})

	t.Run("child without parent is rejected", func(t *testing.T) {
		s := newStore(t)

		err := s.UpsertModel(ctx, "999", models.Model{Code: "1", Name: "Orphan", BrandCode: "999"})
		require.Error(t, err)
		assert.False(t, errors.Is(err, models.ErrTransientStore))

		err = s.UpsertModelYear(ctx, "1", models.ModelYear{Code: "2020-1", Label: "2020", Year: 2020, FuelType: 1})
		require.Error(t, err)
	})

	t.Run("price upsert keeps one row per key", func(t *testing.T) {
		s := newStore(t)
		ref, brand, model, year := seed(t, s)

		p := models.PricedInstance{
			BrandCode:     brand.Code,
			ModelCode:     model.Code,
			YearCode:      year.Code,
			ReferenceCode: ref.Code,
			Fuel:          "Gasolina",
			Price:         decimal.RequireFromString("45231.90"),
			FipeCode:      "004278-1",
			UpdatedAt:     time.Date(2023, 10, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, s.UpsertPricedInstance(ctx, p))

		p.Price = decimal.RequireFromString("46000.00")
		p.UpdatedAt = p.UpdatedAt.Add(time.Hour)
		require.NoError(t, s.UpsertPricedInstance(ctx, p))

		prices, err := s.ListPricedInstances(ctx, ref.Code)
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.True(t, prices[0].Price.Equal(decimal.RequireFromString("46000.00")), prices[0].Price.String())
		assert.Equal(t, p.FipeCode, prices[0].FipeCode)
		assert.True(t, prices[0].UpdatedAt.Equal(p.UpdatedAt))

		ok, err := s.HasPricedInstance(ctx, p.Key())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.HasPricedInstance(ctx, models.PriceKey{ModelCode: model.Code, YearCode: year.Code, ReferenceCode: 299})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("price for unknown period is rejected", func(t *testing.T) {
		s := newStore(t)
		_, brand, model, year := seed(t, s)

		err := s.UpsertPricedInstance(ctx, models.PricedInstance{
			BrandCode:     brand.Code,
			ModelCode:     model.Code,
			YearCode:      year.Code,
			ReferenceCode: 1,
			Price:         decimal.NewFromInt(1),
		})
		require.Error(t, err)
	})

	t.Run("completeness counts missing children", func(t *testing.T) {
		s := newStore(t)

		c, err := s.Completeness(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Completeness{}, c)

		_, _, _, _ = seed(t, s)
		require.NoError(t, s.UpsertBrand(ctx, models.Brand{Code: "22", Name: gofakeit.CarMaker()}))
		require.NoError(t, s.UpsertModel(ctx, "21", models.Model{Code: "5000", Name: gofakeit.CarModel()}))

		c, err = s.Completeness(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.Completeness{
			Brands:              2,
			Models:              2,
			ModelYears:          1,
			BrandsWithoutModels: 1,
			ModelsWithoutYears:  1,
		}, c)
	})

	t.Run("reference periods newest first", func(t *testing.T) {
		s := newStore(t)
		for _, code := range []int{298, 300, 299} {
			require.NoError(t, s.UpsertReferencePeriod(ctx, models.ReferencePeriod{Code: code, Label: gofakeit.MonthString()}))
		}

		refs, err := s.ListReferencePeriods(ctx)
		require.NoError(t, err)
		require.Len(t, refs, 3)
		assert.Equal(t, []int{300, 299, 298}, []int{refs[0].Code, refs[1].Code, refs[2].Code})
	})
}
