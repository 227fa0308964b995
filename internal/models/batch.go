package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// BatchStatus is the state of one import batch
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusSucceeded BatchStatus = "succeeded"
	BatchStatusFailed    BatchStatus = "failed"
)

// IsTerminal reports whether the batch has finished
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusSucceeded || s == BatchStatusFailed
}

// ImportBatch is a fixed-size slice of a session's records committed as a unit
type ImportBatch struct {
	ID           uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID    uuid.UUID   `gorm:"type:uuid;not null;uniqueIndex:idx_import_batch_number" json:"sessionId"`
	BatchNumber  int         `gorm:"not null;uniqueIndex:idx_import_batch_number" json:"batchNumber"`
	StartIndex   int         `gorm:"not null" json:"startIndex"`
	EndIndex     int         `gorm:"not null" json:"endIndex"` // exclusive
	RecordCount  int         `gorm:"not null" json:"recordCount"`
	Status       BatchStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	SuccessCount int         `gorm:"default:0" json:"successCount"`
	FailureCount int         `gorm:"default:0" json:"failureCount"`
	RetryCount   int         `gorm:"default:0" json:"retryCount"`
	LastError    string      `gorm:"type:text" json:"lastError,omitempty"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	CompletedAt  *time.Time  `json:"completedAt,omitempty"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName returns the table name for ImportBatch
func (ImportBatch) TableName() string {
	return "import_batches"
}

// ImportHistory is the append-only audit row of one attempted record
type ImportHistory struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"sessionId"`
	TenantID         string         `gorm:"type:varchar(255);not null;index" json:"tenantId"`
	BatchNumber      int            `gorm:"not null" json:"batchNumber"`
	RecordIndex      int            `gorm:"not null" json:"recordIndex"`
	Data             datatypes.JSON `gorm:"type:jsonb" json:"data"`
	ValidationRules  pq.StringArray `gorm:"type:text[]" json:"validationRules,omitempty"`
	EntityID         *string        `gorm:"type:varchar(255)" json:"entityId,omitempty"`
	Success          bool           `gorm:"not null" json:"success"`
	ErrorCode        string         `gorm:"type:varchar(50)" json:"errorCode,omitempty"`
	ErrorMessage     string         `gorm:"type:text" json:"errorMessage,omitempty"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
	RetryCount       int            `json:"retryCount"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName returns the table name for ImportHistory
func (ImportHistory) TableName() string {
	return "import_history"
}

// CounterDelta increments the import counters of a session
type CounterDelta struct {
	Processed    int
	Successful   int
	Failed       int
	CurrentBatch int
}
