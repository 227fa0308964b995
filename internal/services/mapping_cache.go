package services

import (
	"context"
	"sort"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"github.com/sirupsen/logrus"
)

const (
	// Entries overridden this often stop producing candidates
	cacheDistrustMinUsage   = 3
	cacheDistrustMaxSuccess = 0.5
)

// MappingLookup is the read side of the mapping cache used by the resolver
type MappingLookup interface {
	Lookup(ctx context.Context, tenantID, signature string) []models.CacheCandidate
}

// MappingCache is the learned store of past mapping decisions. Lookups are
// advisory and never fail; storage errors degrade to a miss.
type MappingCache struct {
	repo   repository.MappingCacheRepositoryInterface
	logger *logrus.Entry
}

// NewMappingCache creates a new MappingCache
func NewMappingCache(repo repository.MappingCacheRepositoryInterface, logger *logrus.Logger) *MappingCache {
	return &MappingCache{
		repo:   repo,
		logger: logger.WithField("component", "mapping-cache"),
	}
}

// Lookup returns cached targets for a signature, best first.
// A miss returns an empty list.
func (c *MappingCache) Lookup(ctx context.Context, tenantID, signature string) []models.CacheCandidate {
	if signature == "" {
		return []models.CacheCandidate{}
	}

	entries, err := c.repo.FindBySignature(ctx, tenantID, signature)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"signature": signature,
			"kind":      models.ErrorKindSystem,
		}).Warn("Mapping cache lookup failed, continuing without learned suggestions")
		return []models.CacheCandidate{}
	}

	candidates := make([]models.CacheCandidate, 0, len(entries))
	for _, e := range entries {
		// never kept by anyone
		if e.AcceptedCount == 0 {
			continue
		}
		if e.UsageCount >= cacheDistrustMinUsage && e.SuccessRate < cacheDistrustMaxSuccess {
			continue
		}
		candidates = append(candidates, models.CacheCandidate{
			TargetField: e.TargetField,
			Confidence:  clampConfidence(e.Confidence),
			Strategy:    e.Strategy,
			SuccessRate: e.SuccessRate,
			UsageCount:  e.UsageCount,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.TargetField < b.TargetField
	})

	return candidates
}

// Record merges one decision into the cache. accepted is false when the user
// overrode or removed an automatic mapping.
func (c *MappingCache) Record(ctx context.Context, tenantID, sourceField, targetField string, strategy models.MappingStrategy, confidence int, accepted bool) {
	signature := FieldSignature(sourceField)
	if signature == "" || targetField == "" {
		return
	}

	entry := models.MappingCacheEntry{
		TenantID:    tenantID,
		Signature:   signature,
		SourceField: sourceField,
		TargetField: targetField,
		Strategy:    strategy,
		Confidence:  clampConfidence(confidence),
	}
	if err := c.repo.RecordUsage(ctx, entry, accepted); err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":    tenantID,
			"signature":    signature,
			"target_field": targetField,
			"kind":         models.ErrorKindSystem,
		}).Warn("Failed to record mapping decision")
	}
}
