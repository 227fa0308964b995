package services

import (
	"context"
	"errors"
	"testing"

	"catalog-import-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMappingCacheLookup_OrdersAndFilters(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	mockRepo.On("FindBySignature", ctx, "tenant-123", "skucode").Return([]models.MappingCacheEntry{
		{TargetField: "name", Confidence: 80, SuccessRate: 0.9, UsageCount: 4, AcceptedCount: 4},
		{TargetField: "sku", Confidence: 89, SuccessRate: 1.0, UsageCount: 6, AcceptedCount: 6},
		{TargetField: "brand", Confidence: 80, SuccessRate: 0.95, UsageCount: 2, AcceptedCount: 2},
		// overridden more often than kept
		{TargetField: "tags", Confidence: 99, SuccessRate: 0.25, UsageCount: 4, AcceptedCount: 1},
		// too new to distrust
		{TargetField: "status", Confidence: 60, SuccessRate: 0.5, UsageCount: 2, AcceptedCount: 1},
		// rejected the only time it was suggested
		{TargetField: "description", Confidence: 95, SuccessRate: 0, UsageCount: 1, AcceptedCount: 0},
	}, nil)

	hits := cache.Lookup(ctx, "tenant-123", "skucode")

	require.Len(t, hits, 4)
	assert.Equal(t, "sku", hits[0].TargetField)
	assert.Equal(t, "brand", hits[1].TargetField)
	assert.Equal(t, "name", hits[2].TargetField)
	assert.Equal(t, "status", hits[3].TargetField)
	mockRepo.AssertExpectations(t)
}

func TestMappingCacheLookup_SkipsNeverAcceptedEntries(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	mockRepo.On("FindBySignature", ctx, "tenant-123", "code").Return([]models.MappingCacheEntry{
		{TargetField: "sku", Confidence: 90, SuccessRate: 0, UsageCount: 1, AcceptedCount: 0},
		{TargetField: "barcode", Confidence: 70, SuccessRate: 0.5, UsageCount: 2, AcceptedCount: 1},
	}, nil)

	hits := cache.Lookup(ctx, "tenant-123", "code")

	require.Len(t, hits, 1)
	assert.Equal(t, "barcode", hits[0].TargetField)
}

func TestMappingCacheLookup_StorageErrorIsMiss(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	mockRepo.On("FindBySignature", ctx, "tenant-123", "price").Return(nil, errors.New("connection reset"))

	hits := cache.Lookup(ctx, "tenant-123", "price")

	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestMappingCacheLookup_EmptySignature(t *testing.T) {
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	assert.Empty(t, cache.Lookup(context.Background(), "tenant-123", ""))
	mockRepo.AssertNotCalled(t, "FindBySignature", mock.Anything, mock.Anything, mock.Anything)
}

func TestMappingCacheRecord_UsesNormalizedSignature(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	mockRepo.On("RecordUsage", ctx, mock.MatchedBy(func(e models.MappingCacheEntry) bool {
		return e.TenantID == "tenant-123" &&
			e.Signature == "skucode" &&
			e.SourceField == "SKU Code" &&
			e.TargetField == "sku" &&
			e.Strategy == models.StrategyFuzzy &&
			e.Confidence == 100
	}), true).Return(nil)

	cache.Record(ctx, "tenant-123", "SKU Code", "sku", models.StrategyFuzzy, 140, true)

	mockRepo.AssertExpectations(t)
}

func TestMappingCacheRecord_SwallowsErrors(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	mockRepo.On("RecordUsage", ctx, mock.Anything, false).Return(errors.New("deadlock detected"))

	assert.NotPanics(t, func() {
		cache.Record(ctx, "tenant-123", "title", "name", models.StrategyFuzzy, 89, false)
	})
	mockRepo.AssertExpectations(t)
}

func TestMappingCacheRecord_IgnoresBlankTarget(t *testing.T) {
	mockRepo := new(MockMappingCacheRepository)
	cache := NewMappingCache(mockRepo, testLogger())

	cache.Record(context.Background(), "tenant-123", "title", "", models.StrategyFuzzy, 89, true)

	mockRepo.AssertNotCalled(t, "RecordUsage", mock.Anything, mock.Anything, mock.Anything)
}
