package services

import (
	"context"
	"io"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// MockMappingCacheRepository is a mock implementation of MappingCacheRepositoryInterface
type MockMappingCacheRepository struct {
	mock.Mock
}

// Ensure MockMappingCacheRepository implements the interface
var _ repository.MappingCacheRepositoryInterface = (*MockMappingCacheRepository)(nil)

func (m *MockMappingCacheRepository) FindBySignature(ctx context.Context, tenantID, signature string) ([]models.MappingCacheEntry, error) {
	args := m.Called(ctx, tenantID, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MappingCacheEntry), args.Error(1)
}

func (m *MockMappingCacheRepository) RecordUsage(ctx context.Context, entry models.MappingCacheEntry, accepted bool) error {
	args := m.Called(ctx, entry, accepted)
	return args.Error(0)
}
