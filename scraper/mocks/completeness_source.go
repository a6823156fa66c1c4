package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fipe-harvester/models"
)

// MockCompletenessSource is a testify mock of scraper.CompletenessSource.
type MockCompletenessSource struct {
	mock.Mock
}

func (m *MockCompletenessSource) Completeness(ctx context.Context) (models.Completeness, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(models.Completeness)
	return c, args.Error(1)
}
