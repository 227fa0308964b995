package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SessionStatus is the lifecycle state of an import session
type SessionStatus string

const (
	SessionStatusInitiated        SessionStatus = "initiated"
	SessionStatusAnalyzing        SessionStatus = "analyzing"
	SessionStatusMapping          SessionStatus = "mapping"
	SessionStatusAwaitingApproval SessionStatus = "awaiting_approval"
	SessionStatusPreviewing       SessionStatus = "previewing"
	SessionStatusImporting        SessionStatus = "importing"
	SessionStatusCompleted        SessionStatus = "completed"
	SessionStatusFailed           SessionStatus = "failed"
	SessionStatusCancelled        SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// FileFormat is the detected format of the uploaded file
type FileFormat string

const (
	FileFormatCSV  FileFormat = "csv"
	FileFormatJSON FileFormat = "json"
	FileFormatXLSX FileFormat = "xlsx"
)

// ImportOptions holds caller supplied import settings
type ImportOptions struct {
	BatchSize      int  `json:"batchSize,omitempty"`      // rows per batch (default from config, max 100)
	SkipDuplicates bool `json:"skipDuplicates,omitempty"` // passed through to the catalog
	StrictMode     bool `json:"strictMode,omitempty"`     // any failed record fails the session
	// MaxRetries is the retry count for whole-batch failures, capped at 5.
	// Nil means the configured default; zero disables retries.
	MaxRetries *int `json:"maxRetries,omitempty"`
	// FailureTolerance is the failed/processed ratio above which the session
	// ends failed instead of completed. Nil means the configured default.
	FailureTolerance *float64 `json:"failureTolerance,omitempty"`
}

// UploadSession is one end-to-end attempt to import a single uploaded file
type UploadSession struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	TenantID string    `gorm:"type:varchar(255);not null;index" json:"tenantId"`
	UserID   string    `gorm:"type:varchar(255);index" json:"userId"`

	// Source file
	FileName   string     `gorm:"type:varchar(500);not null" json:"fileName"`
	FileSize   int64      `gorm:"default:0" json:"fileSize"`
	FileFormat FileFormat `gorm:"type:varchar(10);not null" json:"fileFormat"`

	Status  SessionStatus `gorm:"type:varchar(30);not null;default:'initiated';index" json:"status"`
	Version int           `gorm:"not null;default:1" json:"version"` // Optimistic locking

	// Counters, written only by the importer
	TotalRecords      int `gorm:"default:0" json:"totalRecords"`
	ProcessedRecords  int `gorm:"default:0" json:"processedRecords"`
	SuccessfulRecords int `gorm:"default:0" json:"successfulRecords"`
	FailedRecords     int `gorm:"default:0" json:"failedRecords"`
	SkippedRecords    int `gorm:"default:0" json:"skippedRecords"`
	TotalBatches      int `gorm:"default:0" json:"totalBatches"`
	CurrentBatch      int `gorm:"default:0" json:"currentBatch"`

	// Analysis and mapping
	SourceColumns       pq.StringArray `gorm:"type:text[]" json:"sourceColumns"`
	SourceFields        datatypes.JSON `gorm:"type:jsonb" json:"sourceFields,omitempty"`
	FieldMappings       datatypes.JSON `gorm:"type:jsonb" json:"fieldMappings,omitempty"`
	SuggestedMappings   datatypes.JSON `gorm:"type:jsonb" json:"suggestedMappings,omitempty"`
	MappingCandidates   datatypes.JSON `gorm:"type:jsonb" json:"mappingCandidates,omitempty"`
	UnmappedFields      datatypes.JSON `gorm:"type:jsonb" json:"unmappedFields,omitempty"`
	MappingConflicts    datatypes.JSON `gorm:"type:jsonb" json:"mappingConflicts,omitempty"`
	AggregateConfidence int            `gorm:"default:0" json:"aggregateConfidence"`
	MappingsConfirmed   bool           `gorm:"default:false" json:"mappingsConfirmed"`
	FeedbackRecorded    bool           `gorm:"default:false" json:"-"`

	// Validation
	ValidationErrors  datatypes.JSON `gorm:"type:jsonb" json:"-"`
	ErrorCount        int            `gorm:"default:0" json:"errorCount"`
	WarningCount      int            `gorm:"default:0" json:"warningCount"`
	ErrorLog          datatypes.JSON `gorm:"type:jsonb" json:"errorLog,omitempty"`
	Options           datatypes.JSON `gorm:"type:jsonb" json:"options,omitempty"`
	RequiresApproval  bool           `gorm:"default:false" json:"requiresApproval"`
	Approved          bool           `gorm:"default:false" json:"approved"`
	ApprovalRequestID *string        `gorm:"type:varchar(255);index" json:"approvalRequestId,omitempty"`
	RiskLevel         RiskLevel      `gorm:"type:varchar(20)" json:"riskLevel,omitempty"`

	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the table name for UploadSession
func (UploadSession) TableName() string {
	return "import_sessions"
}

// GetMappings decodes the committed field mappings
func (s *UploadSession) GetMappings() []FieldMapping {
	var mappings []FieldMapping
	decodeJSON(s.FieldMappings, &mappings)
	return mappings
}

// SetMappings encodes the field mappings
func (s *UploadSession) SetMappings(mappings []FieldMapping) {
	s.FieldMappings = encodeJSON(mappings)
}

// GetSourceFields decodes the analyzed source field descriptors
func (s *UploadSession) GetSourceFields() []SourceFieldDescriptor {
	var fields []SourceFieldDescriptor
	decodeJSON(s.SourceFields, &fields)
	return fields
}

// SetSourceFields encodes the source descriptors and mirrors their names
func (s *UploadSession) SetSourceFields(fields []SourceFieldDescriptor) {
	s.SourceFields = encodeJSON(fields)
	columns := make(pq.StringArray, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, f.Name)
	}
	s.SourceColumns = columns
}

// GetUnmapped decodes the unmapped source fields
func (s *UploadSession) GetUnmapped() []UnmappedField {
	var unmapped []UnmappedField
	decodeJSON(s.UnmappedFields, &unmapped)
	return unmapped
}

// GetConflicts decodes the recorded target conflicts
func (s *UploadSession) GetConflicts() []MappingConflict {
	var conflicts []MappingConflict
	decodeJSON(s.MappingConflicts, &conflicts)
	return conflicts
}

// SetConflicts encodes the recorded target conflicts
func (s *UploadSession) SetConflicts(conflicts []MappingConflict) {
	s.MappingConflicts = encodeJSON(conflicts)
}

// GetSuggestedMappings decodes the mappings the resolver proposed
func (s *UploadSession) GetSuggestedMappings() []FieldMapping {
	var mappings []FieldMapping
	decodeJSON(s.SuggestedMappings, &mappings)
	return mappings
}

// GetCandidates decodes the ranked candidates per source field
func (s *UploadSession) GetCandidates() []FieldResolution {
	var fields []FieldResolution
	decodeJSON(s.MappingCandidates, &fields)
	return fields
}

// SetUnmapped encodes the unmapped source fields
func (s *UploadSession) SetUnmapped(unmapped []UnmappedField) {
	s.UnmappedFields = encodeJSON(unmapped)
}

// SetResolution stores the resolver output on the session
func (s *UploadSession) SetResolution(res *MappingResolution) {
	s.SetMappings(res.Mappings)
	s.SuggestedMappings = encodeJSON(res.Mappings)
	s.MappingCandidates = encodeJSON(res.Fields)
	s.UnmappedFields = encodeJSON(res.Unmapped)
	s.MappingConflicts = encodeJSON(res.Conflicts)
	s.AggregateConfidence = res.AggregateConfidence
}

// GetValidationErrors decodes the last validation run
func (s *UploadSession) GetValidationErrors() []ValidationError {
	var errs []ValidationError
	decodeJSON(s.ValidationErrors, &errs)
	return errs
}

// SetValidationErrors stores a validation run and its severity counts
func (s *UploadSession) SetValidationErrors(errs []ValidationError) {
	s.ValidationErrors = encodeJSON(errs)
	s.ErrorCount, s.WarningCount = CountBySeverity(errs)
}

// GetErrorLog decodes the session error log
func (s *UploadSession) GetErrorLog() []ImportError {
	var log []ImportError
	decodeJSON(s.ErrorLog, &log)
	return log
}

// AppendError adds an entry to the session error log
func (s *UploadSession) AppendError(e *ImportError) {
	log := s.GetErrorLog()
	log = append(log, *e)
	s.ErrorLog = encodeJSON(log)
}

// GetOptions decodes the import options
func (s *UploadSession) GetOptions() ImportOptions {
	var opts ImportOptions
	decodeJSON(s.Options, &opts)
	return opts
}

// SetOptions encodes the import options
func (s *UploadSession) SetOptions(opts ImportOptions) {
	s.Options = encodeJSON(opts)
}

// SessionRecord holds one raw source record of a session
type SessionRecord struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_session_record_index" json:"sessionId"`
	RecordIndex int            `gorm:"not null;uniqueIndex:idx_session_record_index" json:"recordIndex"`
	Data        datatypes.JSON `gorm:"type:jsonb;not null" json:"data"`
	Skipped     bool           `gorm:"default:false;index" json:"skipped"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for SessionRecord
func (SessionRecord) TableName() string {
	return "import_session_records"
}

// Values decodes the raw column values of the record
func (r *SessionRecord) Values() map[string]string {
	values := make(map[string]string)
	decodeJSON(r.Data, &values)
	return values
}

// ToRaw converts the stored record to its in-memory form
func (r *SessionRecord) ToRaw() RawRecord {
	return RawRecord{Index: r.RecordIndex, Values: r.Values(), Skipped: r.Skipped}
}

// RawRecord is a source record keyed by source column name
type RawRecord struct {
	Index   int               `json:"index"`
	Values  map[string]string `json:"values"`
	Skipped bool              `json:"skipped,omitempty"`
}

// NewSessionRecord builds a storable record from raw values
func NewSessionRecord(sessionID uuid.UUID, raw RawRecord) SessionRecord {
	return SessionRecord{
		SessionID:   sessionID,
		RecordIndex: raw.Index,
		Data:        encodeJSON(raw.Values),
		Skipped:     raw.Skipped,
	}
}

// SourceFieldDescriptor describes one column discovered in the upload
type SourceFieldDescriptor struct {
	Name         string   `json:"name"`
	InferredType string   `json:"inferredType"` // string, integer, float, boolean, timestamp
	SampleValues []string `json:"sampleValues,omitempty"`
	NullCount    int      `json:"nullCount"`
	UniqueCount  int      `json:"uniqueCount"`
	TotalCount   int      `json:"totalCount"`
}

// Inferred primitive types of a source column
const (
	InferredString    = "string"
	InferredInteger   = "integer"
	InferredFloat     = "float"
	InferredBoolean   = "boolean"
	InferredTimestamp = "timestamp"
)

// SessionFilter narrows session listings
type SessionFilter struct {
	Status SessionStatus
	UserID string
	Limit  int
	Offset int
}

func encodeJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

func decodeJSON(data datatypes.JSON, v interface{}) {
	if len(data) == 0 {
		return
	}
	_ = json.Unmarshal(data, v)
}
