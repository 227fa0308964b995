package models

import (
	"time"

	"github.com/google/uuid"
)

// MappingStrategy is the method that produced a mapping candidate
type MappingStrategy string

const (
	StrategyExact     MappingStrategy = "exact"
	StrategyCache     MappingStrategy = "cache"
	StrategyFuzzy     MappingStrategy = "fuzzy"
	StrategySemantic  MappingStrategy = "semantic"
	StrategyInference MappingStrategy = "inference"
)

// strategyRank orders strategies for tie-breaks. Lower wins.
var strategyRank = map[MappingStrategy]int{
	StrategyExact:     0,
	StrategyCache:     1,
	StrategyFuzzy:     2,
	StrategySemantic:  3,
	StrategyInference: 4,
}

// Strategies returns all strategies in priority order
func Strategies() []MappingStrategy {
	return []MappingStrategy{StrategyExact, StrategyCache, StrategyFuzzy, StrategySemantic, StrategyInference}
}

// Rank returns the tie-break priority of the strategy
func (s MappingStrategy) Rank() int {
	if r, ok := strategyRank[s]; ok {
		return r
	}
	return len(strategyRank)
}

// Valid reports whether s is a known strategy
func (s MappingStrategy) Valid() bool {
	_, ok := strategyRank[s]
	return ok
}

// Transformation is a value rewrite applied before a record is committed
type Transformation string

const (
	TransformTrim          Transformation = "trim"
	TransformLowercase     Transformation = "lowercase"
	TransformUppercase     Transformation = "uppercase"
	TransformStripCurrency Transformation = "strip_currency"
	TransformSplitList     Transformation = "split_list"
)

// FieldMapping maps one source field onto one target field
type FieldMapping struct {
	SourceField     string           `json:"sourceField"`
	TargetField     string           `json:"targetField"`
	Confidence      int              `json:"confidence"`
	Strategy        MappingStrategy  `json:"strategy"`
	IsManual        bool             `json:"isManual"`
	Transformations []Transformation `json:"transformations,omitempty"`
	Rationale       string           `json:"rationale,omitempty"`
}

// Outranks reports whether m beats other for the same slot.
// Higher confidence wins, then the earlier strategy.
func (m FieldMapping) Outranks(other FieldMapping) bool {
	if m.Confidence != other.Confidence {
		return m.Confidence > other.Confidence
	}
	return m.Strategy.Rank() < other.Strategy.Rank()
}

// FieldResolution is the ranked candidate list for one source field
type FieldResolution struct {
	SourceField string         `json:"sourceField"`
	Candidates  []FieldMapping `json:"candidates"`
	Ambiguous   bool           `json:"ambiguous"`
}

// UnmappedField is a source field left without a target
type UnmappedField struct {
	SourceField  string         `json:"sourceField"`
	Reason       string         `json:"reason"`
	Alternatives []FieldMapping `json:"alternatives,omitempty"`
}

// MappingConflict records two sources claiming the same target
type MappingConflict struct {
	TargetField      string `json:"targetField"`
	WinnerSource     string `json:"winnerSource"`
	WinnerConfidence int    `json:"winnerConfidence"`
	LoserSource      string `json:"loserSource"`
	LoserConfidence  int    `json:"loserConfidence"`
}

// MappingResolution is the resolver output for a set of source fields
type MappingResolution struct {
	Fields              []FieldResolution `json:"fields"`
	Mappings            []FieldMapping    `json:"mappings"`
	Unmapped            []UnmappedField   `json:"unmapped,omitempty"`
	Conflicts           []MappingConflict `json:"conflicts,omitempty"`
	MissingRequired     []string          `json:"missingRequired,omitempty"`
	AggregateConfidence int               `json:"aggregateConfidence"`
}

// CandidateCount returns the number of candidates across all fields
func (r *MappingResolution) CandidateCount() int {
	n := 0
	for _, f := range r.Fields {
		n += len(f.Candidates)
	}
	return n
}

// HasAmbiguity reports whether any field had a near tie between targets
func (r *MappingResolution) HasAmbiguity() bool {
	for _, f := range r.Fields {
		if f.Ambiguous {
			return true
		}
	}
	return false
}

// Unmapped reasons
const (
	UnmappedNoCandidate = "no_candidate"
	UnmappedConflict    = "target_conflict"
	UnmappedRemoved     = "removed"
)

// MappingCacheEntry is a learned source signature to target decision
type MappingCacheEntry struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID      string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_mapping_cache_key" json:"tenantId"`
	Signature     string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_mapping_cache_key" json:"signature"`
	TargetField   string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_mapping_cache_key" json:"targetField"`
	SourceField   string          `gorm:"type:varchar(255)" json:"sourceField"`
	Strategy      MappingStrategy `gorm:"type:varchar(20);not null" json:"strategy"`
	Confidence    int             `gorm:"not null;default:0" json:"confidence"`
	UsageCount    int             `gorm:"not null;default:0" json:"usageCount"`
	AcceptedCount int             `gorm:"not null;default:0" json:"acceptedCount"`
	SuccessRate   float64         `gorm:"not null;default:0" json:"successRate"`
	LastUsedAt    time.Time       `json:"lastUsedAt"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for MappingCacheEntry
func (MappingCacheEntry) TableName() string {
	return "import_mapping_cache"
}

// CacheCandidate is a mapping cache lookup result
type CacheCandidate struct {
	TargetField string          `json:"targetField"`
	Confidence  int             `json:"confidence"`
	Strategy    MappingStrategy `json:"strategy"`
	SuccessRate float64         `json:"successRate"`
	UsageCount  int             `json:"usageCount"`
}
