package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const MappingCacheTTL = 10 * time.Minute

// MappingCacheRepositoryInterface persists learned mapping decisions
type MappingCacheRepositoryInterface interface {
	FindBySignature(ctx context.Context, tenantID, signature string) ([]models.MappingCacheEntry, error)
	RecordUsage(ctx context.Context, entry models.MappingCacheEntry, accepted bool) error
}

// MappingCacheRepository stores mapping cache entries in postgres with an
// optional redis read-through layer
type MappingCacheRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewMappingCacheRepository creates a new MappingCacheRepository
func NewMappingCacheRepository(db *gorm.DB, redis *redis.Client) *MappingCacheRepository {
	return &MappingCacheRepository{db: db, redis: redis}
}

func mappingCacheKey(tenantID, signature string) string {
	return fmt.Sprintf("import:mapcache:%s:%s", tenantID, signature)
}

// FindBySignature returns all entries learned for a source signature
func (r *MappingCacheRepository) FindBySignature(ctx context.Context, tenantID, signature string) ([]models.MappingCacheEntry, error) {
	cacheKey := mappingCacheKey(tenantID, signature)

	if r.redis != nil {
		val, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var entries []models.MappingCacheEntry
			if err := json.Unmarshal([]byte(val), &entries); err == nil {
				return entries, nil
			}
		}
	}

	var entries []models.MappingCacheEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND signature = ?", tenantID, signature).
		Order("confidence DESC, success_rate DESC, target_field ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	if r.redis != nil {
		data, err := json.Marshal(entries)
		if err == nil {
			r.redis.Set(ctx, cacheKey, data, MappingCacheTTL)
		}
	}

	return entries, nil
}

// RecordUsage merges one observation into the entry for
// (tenant, signature, target). Counters and the running success rate are
// computed in SQL so concurrent writers commute.
func (r *MappingCacheRepository) RecordUsage(ctx context.Context, entry models.MappingCacheEntry, accepted bool) error {
	now := time.Now()
	observed := 0.0
	acceptedInc := 0
	if accepted {
		observed = 1.0
		acceptedInc = 1
	}

	entry.UsageCount = 1
	entry.AcceptedCount = acceptedInc
	entry.SuccessRate = observed
	entry.LastUsedAt = now

	updates := map[string]interface{}{
		"usage_count":    gorm.Expr("import_mapping_cache.usage_count + 1"),
		"accepted_count": gorm.Expr("import_mapping_cache.accepted_count + ?", acceptedInc),
		"success_rate": gorm.Expr(
			"import_mapping_cache.success_rate + (? - import_mapping_cache.success_rate) / (import_mapping_cache.usage_count + 1)",
			observed,
		),
		"source_field": entry.SourceField,
		"last_used_at": now,
		"updated_at":   now,
	}
	if accepted {
		updates["confidence"] = gorm.Expr("GREATEST(import_mapping_cache.confidence, ?)", entry.Confidence)
		updates["strategy"] = entry.Strategy
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "signature"}, {Name: "target_field"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to record mapping usage: %w", err)
	}

	if r.redis != nil {
		r.redis.Del(ctx, mappingCacheKey(entry.TenantID, entry.Signature))
	}
	return nil
}
