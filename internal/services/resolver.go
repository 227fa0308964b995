package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	ExactMatchConfidence      = 95
	SemanticBaseConfidence    = 75
	SemanticFlagBonus         = 2
	DefaultAcceptConfidence   = 80
	DefaultFuzzyFloor         = 0.6
	AmbiguityGap              = 5
	fuzzyConfidenceScale      = 89.0
	inferenceSampleValueLimit = 5
)

// InferenceClient asks an external model for mapping suggestions
type InferenceClient interface {
	SuggestMappings(ctx context.Context, tenantID string, sources []models.SourceFieldDescriptor, targets []models.TargetField) ([]models.FieldMapping, error)
}

// ResolverConfig tunes the resolver
type ResolverConfig struct {
	// AcceptConfidence is the local confidence below which inference is consulted
	AcceptConfidence int
	// FuzzyFloor is the minimum similarity a fuzzy candidate needs
	FuzzyFloor float64
	// ExtraRules extend the built-in semantic dictionary
	ExtraRules []SemanticRule
}

// Resolver produces ranked field mapping candidates for source fields
type Resolver struct {
	cache            MappingLookup
	inference        InferenceClient
	rules            []SemanticRule
	acceptConfidence int
	fuzzyFloor       float64
	logger           *logrus.Entry
}

// NewResolver creates a new Resolver. cache and inference may be nil.
func NewResolver(cache MappingLookup, inference InferenceClient, cfg ResolverConfig, logger *logrus.Logger) *Resolver {
	if cfg.AcceptConfidence <= 0 {
		cfg.AcceptConfidence = DefaultAcceptConfidence
	}
	if cfg.FuzzyFloor <= 0 {
		cfg.FuzzyFloor = DefaultFuzzyFloor
	}
	rules := append(DefaultSemanticRules(), cfg.ExtraRules...)
	return &Resolver{
		cache:            cache,
		inference:        inference,
		rules:            rules,
		acceptConfidence: cfg.AcceptConfidence,
		fuzzyFloor:       cfg.FuzzyFloor,
		logger:           logger.WithField("component", "field-resolver"),
	}
}

// Resolve runs every strategy for every source field, merges the candidates
// and picks at most one mapping per source and per target. It does not write
// to the mapping cache.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, sources []models.SourceFieldDescriptor, schema models.TargetSchema) *models.MappingResolution {
	perSource := make([][]models.FieldMapping, len(sources))
	var pending []int

	for i, src := range sources {
		var candidates []models.FieldMapping
		candidates = append(candidates, r.exactCandidates(src, schema)...)
		candidates = append(candidates, r.cacheCandidates(ctx, tenantID, src, schema)...)
		candidates = append(candidates, r.fuzzyCandidates(src, schema)...)
		candidates = append(candidates, r.semanticCandidates(src, schema)...)
		perSource[i] = candidates

		if bestConfidence(candidates) < r.acceptConfidence {
			pending = append(pending, i)
		}
	}

	if len(pending) > 0 && r.inference != nil {
		r.addInferenceCandidates(ctx, tenantID, sources, pending, perSource, schema)
	}

	fields := make([]models.FieldResolution, len(sources))
	for i, src := range sources {
		merged := mergeCandidates(perSource[i])
		for _, c := range merged {
			metrics.ResolverCandidates.WithLabelValues(string(c.Strategy)).Inc()
		}
		fields[i] = models.FieldResolution{
			SourceField: src.Name,
			Candidates:  merged,
			Ambiguous:   isAmbiguous(merged),
		}
	}

	resolution := selectMappings(fields, schema)

	r.logger.WithFields(logrus.Fields{
		"tenant_id":            tenantID,
		"source_fields":        len(sources),
		"mapped":               len(resolution.Mappings),
		"unmapped":             len(resolution.Unmapped),
		"conflicts":            len(resolution.Conflicts),
		"aggregate_confidence": resolution.AggregateConfidence,
	}).Debug("Resolved field mappings")

	return resolution
}

func (r *Resolver) exactCandidates(src models.SourceFieldDescriptor, schema models.TargetSchema) []models.FieldMapping {
	name := CleanHeader(src.Name)
	for _, target := range schema.Fields {
		if strings.EqualFold(name, target.Name) {
			return []models.FieldMapping{{
				SourceField: src.Name,
				TargetField: target.Name,
				Confidence:  ExactMatchConfidence,
				Strategy:    models.StrategyExact,
				Rationale:   "field name matches target",
			}}
		}
	}
	return nil
}

func (r *Resolver) cacheCandidates(ctx context.Context, tenantID string, src models.SourceFieldDescriptor, schema models.TargetSchema) []models.FieldMapping {
	if r.cache == nil {
		return nil
	}
	var candidates []models.FieldMapping
	for _, hit := range r.cache.Lookup(ctx, tenantID, FieldSignature(src.Name)) {
		target, ok := schema.Field(hit.TargetField)
		if !ok {
			continue
		}
		candidates = append(candidates, models.FieldMapping{
			SourceField: src.Name,
			TargetField: target.Name,
			Confidence:  clampConfidence(hit.Confidence),
			Strategy:    models.StrategyCache,
			Rationale:   fmt.Sprintf("learned from %d previous imports (%.0f%% kept)", hit.UsageCount, hit.SuccessRate*100),
		})
	}
	return candidates
}

func (r *Resolver) fuzzyCandidates(src models.SourceFieldDescriptor, schema models.TargetSchema) []models.FieldMapping {
	var candidates []models.FieldMapping
	for _, target := range schema.Fields {
		best := Similarity(src.Name, target.Name)
		matched := target.Name
		for _, synonym := range target.Synonyms {
			if s := Similarity(src.Name, synonym); s > best {
				best = s
				matched = synonym
			}
		}
		if best < r.fuzzyFloor {
			continue
		}
		candidates = append(candidates, models.FieldMapping{
			SourceField: src.Name,
			TargetField: target.Name,
			Confidence:  fuzzyConfidence(best),
			Strategy:    models.StrategyFuzzy,
			Rationale:   fmt.Sprintf("%.2f similar to %q", best, matched),
		})
	}
	return candidates
}

func (r *Resolver) semanticCandidates(src models.SourceFieldDescriptor, schema models.TargetSchema) []models.FieldMapping {
	name := CleanHeader(src.Name)
	var candidates []models.FieldMapping
	for _, rule := range r.rules {
		if !rule.NamePattern.MatchString(name) {
			continue
		}
		target, ok := schema.Field(rule.Target)
		if !ok {
			continue
		}
		typeMatch := datatypeMatches(src.InferredType, target.Type)
		valueMatch := rule.ValuePattern != nil && samplesMatch(src.SampleValues, rule.ValuePattern.MatchString)

		confidence := SemanticBaseConfidence
		if typeMatch {
			confidence += SemanticFlagBonus
		}
		if valueMatch {
			confidence += SemanticFlagBonus
		}
		candidates = append(candidates, models.FieldMapping{
			SourceField: src.Name,
			TargetField: target.Name,
			Confidence:  confidence,
			Strategy:    models.StrategySemantic,
			Rationale:   fmt.Sprintf("pattern %s (datatype match: %t, value match: %t)", rule.NamePattern.String(), typeMatch, valueMatch),
		})
	}
	return candidates
}

func (r *Resolver) addInferenceCandidates(ctx context.Context, tenantID string, sources []models.SourceFieldDescriptor, pending []int, perSource [][]models.FieldMapping, schema models.TargetSchema) {
	bySource := make(map[string]int, len(pending))
	subset := make([]models.SourceFieldDescriptor, 0, len(pending))
	for _, i := range pending {
		src := sources[i]
		if len(src.SampleValues) > inferenceSampleValueLimit {
			src.SampleValues = src.SampleValues[:inferenceSampleValueLimit]
		}
		subset = append(subset, src)
		bySource[src.Name] = i
	}

	suggestions, err := r.inference.SuggestMappings(ctx, tenantID, subset, schema.Fields)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":     tenantID,
			"source_fields": len(subset),
			"kind":          models.ErrorKindNetwork,
		}).Warn("Inference suggestions unavailable, using local strategies only")
		return
	}

	for _, s := range suggestions {
		i, ok := bySource[s.SourceField]
		if !ok {
			continue
		}
		target, ok := schema.Field(s.TargetField)
		if !ok {
			continue
		}
		perSource[i] = append(perSource[i], models.FieldMapping{
			SourceField: sources[i].Name,
			TargetField: target.Name,
			Confidence:  clampConfidence(s.Confidence),
			Strategy:    models.StrategyInference,
			Rationale:   s.Rationale,
		})
	}
}

// mergeCandidates keeps the best candidate per target and orders the result
// by confidence, then strategy rank, then target name.
func mergeCandidates(candidates []models.FieldMapping) []models.FieldMapping {
	best := make(map[string]models.FieldMapping, len(candidates))
	for _, c := range candidates {
		if existing, ok := best[c.TargetField]; !ok || c.Outranks(existing) {
			best[c.TargetField] = c
		}
	}

	merged := make([]models.FieldMapping, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Strategy.Rank() != b.Strategy.Rank() {
			return a.Strategy.Rank() < b.Strategy.Rank()
		}
		return a.TargetField < b.TargetField
	})
	return merged
}

func isAmbiguous(candidates []models.FieldMapping) bool {
	if len(candidates) < 2 {
		return false
	}
	return candidates[0].Confidence-candidates[1].Confidence < AmbiguityGap
}

type targetClaim struct {
	index   int
	mapping models.FieldMapping
}

// selectMappings assigns each target to at most one source. Claims are taken
// by confidence, strategy rank and source order; a source that loses its top
// target is left unmapped.
func selectMappings(fields []models.FieldResolution, schema models.TargetSchema) *models.MappingResolution {
	claims := make([]targetClaim, 0, len(fields))
	for i, f := range fields {
		if len(f.Candidates) > 0 {
			claims = append(claims, targetClaim{index: i, mapping: f.Candidates[0]})
		}
	}
	sort.SliceStable(claims, func(i, j int) bool {
		a, b := claims[i].mapping, claims[j].mapping
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Strategy.Rank() != b.Strategy.Rank() {
			return a.Strategy.Rank() < b.Strategy.Rank()
		}
		return claims[i].index < claims[j].index
	})

	winners := make(map[string]targetClaim, len(claims))
	selected := make(map[int]models.FieldMapping, len(claims))
	conflicted := make(map[int]bool)
	resolution := &models.MappingResolution{Fields: fields, Mappings: []models.FieldMapping{}}

	for _, claim := range claims {
		target := claim.mapping.TargetField
		if winner, taken := winners[target]; taken {
			resolution.Conflicts = append(resolution.Conflicts, models.MappingConflict{
				TargetField:      target,
				WinnerSource:     winner.mapping.SourceField,
				WinnerConfidence: winner.mapping.Confidence,
				LoserSource:      claim.mapping.SourceField,
				LoserConfidence:  claim.mapping.Confidence,
			})
			conflicted[claim.index] = true
			continue
		}
		winners[target] = claim
		selected[claim.index] = claim.mapping
	}

	sum := 0
	for i, f := range fields {
		if m, ok := selected[i]; ok {
			resolution.Mappings = append(resolution.Mappings, m)
			sum += m.Confidence
			continue
		}
		reason := models.UnmappedNoCandidate
		var alternatives []models.FieldMapping
		if conflicted[i] {
			reason = models.UnmappedConflict
			alternatives = f.Candidates
		}
		resolution.Unmapped = append(resolution.Unmapped, models.UnmappedField{
			SourceField:  f.SourceField,
			Reason:       reason,
			Alternatives: alternatives,
		})
	}

	if n := len(resolution.Mappings); n > 0 {
		resolution.AggregateConfidence = (sum + n/2) / n
	}
	resolution.MissingRequired = missingRequired(resolution.Mappings, schema)

	return resolution
}

func missingRequired(mappings []models.FieldMapping, schema models.TargetSchema) []string {
	claimed := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		claimed[m.TargetField] = true
	}
	var missing []string
	for _, name := range schema.RequiredFields() {
		if !claimed[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

func bestConfidence(candidates []models.FieldMapping) int {
	best := 0
	for _, c := range candidates {
		if c.Confidence > best {
			best = c.Confidence
		}
	}
	return best
}

func datatypeMatches(inferred string, target models.FieldType) bool {
	switch target {
	case models.FieldTypeDecimal:
		return inferred == models.InferredFloat || inferred == models.InferredInteger
	case models.FieldTypeInteger:
		return inferred == models.InferredInteger
	case models.FieldTypeString, models.FieldTypeUUID, models.FieldTypeEnum, models.FieldTypeList:
		return inferred == models.InferredString
	}
	return false
}

func samplesMatch(samples []string, match func(string) bool) bool {
	seen := false
	for _, s := range samples {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !match(s) {
			return false
		}
		seen = true
	}
	return seen
}
