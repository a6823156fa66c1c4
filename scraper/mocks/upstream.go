package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fipe-harvester/models"
)

// MockUpstream is a testify mock of scraper.Upstream. Price also accepts a
// func(referenceCode, brandCode, modelCode, year) as its first return value.
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) CurrentReference(ctx context.Context) (models.ReferencePeriod, error) {
	args := m.Called(ctx)
	ref, _ := args.Get(0).(models.ReferencePeriod)
	return ref, args.Error(1)
}

func (m *MockUpstream) Brands(ctx context.Context, referenceCode int) ([]models.Brand, error) {
	args := m.Called(ctx, referenceCode)
	brands, _ := args.Get(0).([]models.Brand)
	return brands, args.Error(1)
}

func (m *MockUpstream) Models(ctx context.Context, referenceCode int, brandCode string) ([]models.Model, error) {
	args := m.Called(ctx, referenceCode, brandCode)
	ms, _ := args.Get(0).([]models.Model)
	return ms, args.Error(1)
}

func (m *MockUpstream) ModelYears(ctx context.Context, referenceCode int, brandCode, modelCode string) ([]models.ModelYear, error) {
	args := m.Called(ctx, referenceCode, brandCode, modelCode)
	ys, _ := args.Get(0).([]models.ModelYear)
	return ys, args.Error(1)
}

func (m *MockUpstream) Price(ctx context.Context, referenceCode int, brandCode, modelCode string, year models.ModelYear) (models.PricedInstance, error) {
	args := m.Called(ctx, referenceCode, brandCode, modelCode, year)
	if fn, ok := args.Get(0).(func(int, string, string, models.ModelYear) (models.PricedInstance, error)); ok {
		return fn(referenceCode, brandCode, modelCode, year)
	}
	p, _ := args.Get(0).(models.PricedInstance)
	return p, args.Error(1)
}
