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

// MockInferenceClient is a mock implementation of InferenceClient
type MockInferenceClient struct {
	mock.Mock
}

var _ InferenceClient = (*MockInferenceClient)(nil)

func (m *MockInferenceClient) SuggestMappings(ctx context.Context, tenantID string, sources []models.SourceFieldDescriptor, targets []models.TargetField) ([]models.FieldMapping, error) {
	args := m.Called(ctx, tenantID, sources, targets)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FieldMapping), args.Error(1)
}

// staticLookup serves fixed cache candidates keyed by signature
type staticLookup map[string][]models.CacheCandidate

func (s staticLookup) Lookup(_ context.Context, _ string, signature string) []models.CacheCandidate {
	if hits, ok := s[signature]; ok {
		return hits
	}
	return []models.CacheCandidate{}
}

func descriptor(name, inferred string, samples ...string) models.SourceFieldDescriptor {
	return models.SourceFieldDescriptor{Name: name, InferredType: inferred, SampleValues: samples, TotalCount: len(samples)}
}

func mappingFor(res *models.MappingResolution, source string) (models.FieldMapping, bool) {
	for _, m := range res.Mappings {
		if m.SourceField == source {
			return m, true
		}
	}
	return models.FieldMapping{}, false
}

func newTestResolver(cache MappingLookup, inference InferenceClient) *Resolver {
	return NewResolver(cache, inference, ResolverConfig{}, testLogger())
}

// ===========================================
// Strategy Tests
// ===========================================

func TestResolve_ExactMatch(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("price", models.InferredFloat, "29.99", "10"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "price")
	require.True(t, ok)
	assert.Equal(t, "price", m.TargetField)
	assert.Equal(t, models.StrategyExact, m.Strategy)
	assert.Equal(t, 95, m.Confidence)
}

func TestResolve_ExactMatchIgnoresCaseAndRequiredMarker(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("SKU *", models.InferredString, "A-1"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "SKU *")
	require.True(t, ok)
	assert.Equal(t, "sku", m.TargetField)
	assert.Equal(t, models.StrategyExact, m.Strategy)
}

func TestResolve_CacheBeatsLowerLocalCandidates(t *testing.T) {
	cache := staticLookup{
		"skucode": {{TargetField: "sku", Confidence: 89, Strategy: models.StrategyFuzzy, SuccessRate: 1, UsageCount: 1}},
	}
	r := newTestResolver(cache, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("sku_code", models.InferredString, "TSH-001", "TSH-002"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "sku_code")
	require.True(t, ok)
	assert.Equal(t, "sku", m.TargetField)
	assert.Equal(t, models.StrategyCache, m.Strategy)
	assert.Equal(t, 89, m.Confidence)

	// the semantic candidate for the same target is folded into the cache one
	require.Len(t, res.Fields, 1)
	for _, c := range res.Fields[0].Candidates {
		if c.TargetField == "sku" {
			assert.Equal(t, models.StrategyCache, c.Strategy)
		}
	}
}

func TestResolve_CacheWinsConfidenceTieAgainstFuzzy(t *testing.T) {
	schema := models.ProductTargetSchema()
	for i := range schema.Fields {
		if schema.Fields[i].Name == "sku" {
			schema.Fields[i].Synonyms = append(schema.Fields[i].Synonyms, "sku code")
		}
	}
	cache := staticLookup{
		"skucode": {{TargetField: "sku", Confidence: 89, Strategy: models.StrategyExact, SuccessRate: 1, UsageCount: 4}},
	}
	r := newTestResolver(cache, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("sku_code", models.InferredString, "A-1"),
	}, schema)

	m, ok := mappingFor(res, "sku_code")
	require.True(t, ok)
	assert.Equal(t, 89, m.Confidence)
	assert.Equal(t, models.StrategyCache, m.Strategy)
}

func TestResolve_FuzzySynonymMatch(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("Qty", models.InferredInteger, "4", "12"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "Qty")
	require.True(t, ok)
	assert.Equal(t, "quantity", m.TargetField)
	assert.Equal(t, models.StrategyFuzzy, m.Strategy)
	assert.Equal(t, 89, m.Confidence)
}

func TestFuzzyConfidenceScale(t *testing.T) {
	assert.Equal(t, 80, fuzzyConfidence(0.9))
	assert.Equal(t, 89, fuzzyConfidence(1.0))
	assert.Equal(t, 53, fuzzyConfidence(0.6))
}

func TestResolve_SemanticBand(t *testing.T) {
	r := newTestResolver(nil, nil)

	tests := []struct {
		name       string
		field      models.SourceFieldDescriptor
		target     string
		confidence int
	}{
		{"name only", descriptor("retail_amount", models.InferredString, "n/a"), "price", 75},
		{"datatype match", descriptor("retail_amount", models.InferredFloat, "n/a"), "price", 77},
		{"datatype and values match", descriptor("retail_amount", models.InferredFloat, "$12.50", "9"), "price", 79},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{tt.field}, models.ProductTargetSchema())
			m, ok := mappingFor(res, tt.field.Name)
			require.True(t, ok)
			assert.Equal(t, tt.target, m.TargetField)
			assert.Equal(t, models.StrategySemantic, m.Strategy)
			assert.Equal(t, tt.confidence, m.Confidence)
		})
	}
}

// ===========================================
// Inference Tests
// ===========================================

func TestResolve_InferenceOnlyForWeakFields(t *testing.T) {
	inference := new(MockInferenceClient)
	inference.On("SuggestMappings", mock.Anything, "tenant-1",
		mock.MatchedBy(func(sources []models.SourceFieldDescriptor) bool {
			return len(sources) == 1 && sources[0].Name == "foo_bar_baz"
		}),
		mock.Anything,
	).Return([]models.FieldMapping{
		{SourceField: "foo_bar_baz", TargetField: "brand", Confidence: 70, Rationale: "values look like brand names"},
		{SourceField: "price", TargetField: "costPrice", Confidence: 99},
		{SourceField: "foo_bar_baz", TargetField: "not_a_field", Confidence: 90},
	}, nil)

	r := newTestResolver(nil, inference)
	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("price", models.InferredFloat, "1.00"),
		descriptor("foo_bar_baz", models.InferredString, "Acme"),
	}, models.ProductTargetSchema())

	inference.AssertExpectations(t)

	m, ok := mappingFor(res, "foo_bar_baz")
	require.True(t, ok)
	assert.Equal(t, "brand", m.TargetField)
	assert.Equal(t, models.StrategyInference, m.Strategy)
	assert.Equal(t, "values look like brand names", m.Rationale)

	price, ok := mappingFor(res, "price")
	require.True(t, ok)
	assert.Equal(t, models.StrategyExact, price.Strategy)
}

func TestResolve_InferenceSkippedWhenLocalCandidatesAreStrong(t *testing.T) {
	inference := new(MockInferenceClient)
	r := newTestResolver(nil, inference)

	r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("name", models.InferredString, "Shirt"),
		descriptor("price", models.InferredFloat, "1.00"),
	}, models.ProductTargetSchema())

	inference.AssertNotCalled(t, "SuggestMappings", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestResolve_InferenceFailureDegrades(t *testing.T) {
	inference := new(MockInferenceClient)
	inference.On("SuggestMappings", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	r := newTestResolver(nil, inference)
	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("price", models.InferredFloat, "1.00"),
		descriptor("foo_bar_baz", models.InferredString, "Acme"),
	}, models.ProductTargetSchema())

	_, ok := mappingFor(res, "price")
	assert.True(t, ok)
	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, "foo_bar_baz", res.Unmapped[0].SourceField)
	assert.Equal(t, models.UnmappedNoCandidate, res.Unmapped[0].Reason)
}

func TestResolve_InferenceConfidenceClamped(t *testing.T) {
	inference := new(MockInferenceClient)
	inference.On("SuggestMappings", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.FieldMapping{{SourceField: "foo_bar_baz", TargetField: "brand", Confidence: 150}}, nil)

	r := newTestResolver(nil, inference)
	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("foo_bar_baz", models.InferredString, "Acme"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "foo_bar_baz")
	require.True(t, ok)
	assert.Equal(t, 100, m.Confidence)
}

// ===========================================
// Merge and Conflict Tests
// ===========================================

func TestResolve_HigherConfidenceWinsTarget(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("title", models.InferredString, "Shirt"),
		descriptor("name", models.InferredString, "Shirt"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "name")
	require.True(t, ok)
	assert.Equal(t, "name", m.TargetField)

	_, ok = mappingFor(res, "title")
	assert.False(t, ok, "loser is demoted to unmapped")
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "name", res.Conflicts[0].TargetField)
	assert.Equal(t, "name", res.Conflicts[0].WinnerSource)
	assert.Equal(t, "title", res.Conflicts[0].LoserSource)

	require.Len(t, res.Unmapped, 1)
	assert.Equal(t, models.UnmappedConflict, res.Unmapped[0].Reason)
	assert.NotEmpty(t, res.Unmapped[0].Alternatives)
}

func TestResolve_EqualConfidencePrefersEarlierStrategy(t *testing.T) {
	cache := staticLookup{
		"labeltext": {{TargetField: "name", Confidence: 89, Strategy: models.StrategyFuzzy, SuccessRate: 1, UsageCount: 2}},
	}
	r := newTestResolver(cache, nil)

	// "title" scores fuzzy 89 on name and comes first; the cache claim still wins
	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("title", models.InferredString, "Shirt"),
		descriptor("label_text", models.InferredString, "Shirt"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "label_text")
	require.True(t, ok)
	assert.Equal(t, "name", m.TargetField)
	assert.Equal(t, models.StrategyCache, m.Strategy)

	_, ok = mappingFor(res, "title")
	assert.False(t, ok)
}

func TestResolve_EqualConfidenceAndStrategyPrefersSourceOrder(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("product_name", models.InferredString, "Shirt"),
		descriptor("title", models.InferredString, "Shirt"),
	}, models.ProductTargetSchema())

	m, ok := mappingFor(res, "product_name")
	require.True(t, ok)
	assert.Equal(t, "name", m.TargetField)
	_, ok = mappingFor(res, "title")
	assert.False(t, ok)
}

func TestResolve_Invariants(t *testing.T) {
	cache := staticLookup{
		"itemref": {{TargetField: "sku", Confidence: 88, Strategy: models.StrategyCache, SuccessRate: 0.8, UsageCount: 5}},
	}
	r := newTestResolver(cache, nil)

	sources := []models.SourceFieldDescriptor{
		descriptor("Product Name", models.InferredString, "Shirt"),
		descriptor("title", models.InferredString, "Shirt"),
		descriptor("item_ref", models.InferredString, "X-1"),
		descriptor("sku", models.InferredString, "X-1"),
		descriptor("Unit Price", models.InferredFloat, "9.99"),
		descriptor("retail_amount", models.InferredFloat, "9.99"),
		descriptor("qty", models.InferredInteger, "3"),
		descriptor("stock_level", models.InferredInteger, "3"),
		descriptor("mystery", models.InferredString, "?"),
	}
	res := r.Resolve(context.Background(), "tenant-1", sources, models.ProductTargetSchema())

	targets := make(map[string]string)
	for _, m := range res.Mappings {
		assert.GreaterOrEqual(t, m.Confidence, 0)
		assert.LessOrEqual(t, m.Confidence, 100)
		assert.True(t, m.Strategy.Valid(), "unexpected strategy %s", m.Strategy)
		if other, dup := targets[m.TargetField]; dup {
			t.Fatalf("target %s claimed by %s and %s", m.TargetField, other, m.SourceField)
		}
		targets[m.TargetField] = m.SourceField
	}
	for _, f := range res.Fields {
		for _, c := range f.Candidates {
			assert.GreaterOrEqual(t, c.Confidence, 0)
			assert.LessOrEqual(t, c.Confidence, 100)
			assert.True(t, c.Strategy.Valid())
		}
	}
	assert.Equal(t, len(sources), len(res.Mappings)+len(res.Unmapped))
}

func TestResolve_Idempotent(t *testing.T) {
	cache := staticLookup{
		"skucode": {{TargetField: "sku", Confidence: 89, Strategy: models.StrategyFuzzy, SuccessRate: 1, UsageCount: 1}},
	}
	r := newTestResolver(cache, nil)

	sources := []models.SourceFieldDescriptor{
		descriptor("sku_code", models.InferredString, "A-1"),
		descriptor("Product Name", models.InferredString, "Shirt"),
		descriptor("title", models.InferredString, "Shirt"),
		descriptor("price", models.InferredFloat, "1.5"),
		descriptor("cost", models.InferredFloat, "1.0"),
	}

	first := r.Resolve(context.Background(), "tenant-1", sources, models.ProductTargetSchema())
	second := r.Resolve(context.Background(), "tenant-1", sources, models.ProductTargetSchema())

	assert.Equal(t, first, second)
}

func TestResolve_AggregateAndMissingRequired(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", []models.SourceFieldDescriptor{
		descriptor("name", models.InferredString, "Shirt"),
		descriptor("Qty", models.InferredInteger, "1"),
	}, models.ProductTargetSchema())

	// (95 + 89) / 2 rounded
	assert.Equal(t, 92, res.AggregateConfidence)
	assert.ElementsMatch(t, []string{"sku", "price"}, res.MissingRequired)
}

func TestResolve_NoSourcesYieldsNoCandidates(t *testing.T) {
	r := newTestResolver(nil, nil)

	res := r.Resolve(context.Background(), "tenant-1", nil, models.ProductTargetSchema())

	assert.Equal(t, 0, res.CandidateCount())
	assert.Empty(t, res.Mappings)
	assert.Equal(t, 0, res.AggregateConfidence)
}

func TestMergeCandidates_Ordering(t *testing.T) {
	merged := mergeCandidates([]models.FieldMapping{
		{TargetField: "brand", Confidence: 77, Strategy: models.StrategySemantic},
		{TargetField: "name", Confidence: 80, Strategy: models.StrategyFuzzy},
		{TargetField: "name", Confidence: 80, Strategy: models.StrategyCache},
		{TargetField: "vendorName", Confidence: 80, Strategy: models.StrategyFuzzy},
		{TargetField: "brand", Confidence: 60, Strategy: models.StrategyInference},
	})

	require.Len(t, merged, 3)
	assert.Equal(t, "name", merged[0].TargetField)
	assert.Equal(t, models.StrategyCache, merged[0].Strategy)
	assert.Equal(t, "vendorName", merged[1].TargetField)
	assert.Equal(t, "brand", merged[2].TargetField)
	assert.Equal(t, 77, merged[2].Confidence)
	assert.True(t, isAmbiguous(merged))
}
