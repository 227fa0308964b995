package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict - record was modified by another request")
	ErrStatusConflict  = errors.New("status conflict - session is no longer in the expected status")
)

// sessionUpdateColumns are written by Update. Import counters are excluded so
// status changes never race with the importer's increments.
var sessionUpdateColumns = []string{
	"status", "version", "skipped_records",
	"source_columns", "source_fields", "field_mappings", "suggested_mappings", "mapping_candidates",
	"unmapped_fields", "mapping_conflicts",
	"aggregate_confidence", "mappings_confirmed", "feedback_recorded",
	"validation_errors", "error_count", "warning_count", "error_log", "options",
	"requires_approval", "approved", "approval_request_id", "risk_level",
	"started_at", "completed_at", "updated_at",
}

// SessionRepositoryInterface is the persistence contract for import sessions
type SessionRepositoryInterface interface {
	Create(ctx context.Context, session *models.UploadSession, records []models.SessionRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error)
	FindByApprovalRequestID(ctx context.Context, approvalRequestID string) (*models.UploadSession, error)
	List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error)
	Update(ctx context.Context, session *models.UploadSession, expected models.SessionStatus) error
	IncrementCounters(ctx context.Context, id uuid.UUID, delta models.CounterDelta) error
	SetImportPlan(ctx context.Context, id uuid.UUID, totalRecords, totalBatches int) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	FindStale(ctx context.Context, status models.SessionStatus, updatedBefore time.Time, limit int) ([]models.UploadSession, error)

	ListRecords(ctx context.Context, sessionID uuid.UUID, includeSkipped bool) ([]models.SessionRecord, error)
	UpdateRecordValues(ctx context.Context, sessionID uuid.UUID, recordIndex int, values map[string]string) error
	MarkRecordsSkipped(ctx context.Context, sessionID uuid.UUID, indexes []int) (int64, error)
}

// SessionRepository handles database operations for import sessions
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a session together with its raw records
func (r *SessionRepository) Create(ctx context.Context, session *models.UploadSession, records []models.SessionRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		for i := range records {
			records[i].SessionID = session.ID
		}
		if err := tx.CreateInBatches(records, 500).Error; err != nil {
			return fmt.Errorf("failed to store session records: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a session by ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	var session models.UploadSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// FindByApprovalRequestID retrieves the session waiting on an approval request
func (r *SessionRepository) FindByApprovalRequestID(ctx context.Context, approvalRequestID string) (*models.UploadSession, error) {
	var session models.UploadSession
	err := r.db.WithContext(ctx).Where("approval_request_id = ?", approvalRequestID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &session, nil
}

// List retrieves sessions for a tenant, newest first
func (r *SessionRepository) List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error) {
	var sessions []models.UploadSession
	var total int64

	query := r.db.WithContext(ctx).Model(&models.UploadSession{}).Where("tenant_id = ?", tenantID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&sessions).Error
	return sessions, total, err
}

// Update writes the session's mutable state if it is still in the expected
// status and version. The stored version is bumped on success.
func (r *SessionRepository) Update(ctx context.Context, session *models.UploadSession, expected models.SessionStatus) error {
	currentVersion := session.Version
	session.Version = currentVersion + 1
	session.UpdatedAt = time.Now()

	result := r.db.WithContext(ctx).
		Model(&models.UploadSession{}).
		Where("id = ? AND status = ? AND version = ?", session.ID, expected, currentVersion).
		Select(sessionUpdateColumns).
		Updates(session)
	if result.Error != nil {
		session.Version = currentVersion
		return result.Error
	}
	if result.RowsAffected == 0 {
		session.Version = currentVersion
		var stored models.UploadSession
		if err := r.db.WithContext(ctx).Select("status", "version").Where("id = ?", session.ID).First(&stored).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if stored.Status != expected {
			return ErrStatusConflict
		}
		return ErrVersionConflict
	}
	return nil
}

// IncrementCounters atomically adds to the import counters. Status is untouched.
func (r *SessionRepository) IncrementCounters(ctx context.Context, id uuid.UUID, delta models.CounterDelta) error {
	updates := map[string]interface{}{
		"processed_records":  gorm.Expr("processed_records + ?", delta.Processed),
		"successful_records": gorm.Expr("successful_records + ?", delta.Successful),
		"failed_records":     gorm.Expr("failed_records + ?", delta.Failed),
		"updated_at":         time.Now(),
	}
	if delta.CurrentBatch > 0 {
		updates["current_batch"] = delta.CurrentBatch
	}
	return r.db.WithContext(ctx).Model(&models.UploadSession{}).Where("id = ?", id).Updates(updates).Error
}

// SetImportPlan resets the counters for a fresh import run
func (r *SessionRepository) SetImportPlan(ctx context.Context, id uuid.UUID, totalRecords, totalBatches int) error {
	return r.db.WithContext(ctx).Model(&models.UploadSession{}).Where("id = ?", id).Updates(map[string]interface{}{
		"total_records":      totalRecords,
		"total_batches":      totalBatches,
		"processed_records":  0,
		"successful_records": 0,
		"failed_records":     0,
		"current_batch":      0,
		"updated_at":         time.Now(),
	}).Error
}

// SoftDelete hides a session. The row and its records are kept for audit.
func (r *SessionRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.UploadSession{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindStale returns sessions in a status that have not changed since the cutoff
func (r *SessionRepository) FindStale(ctx context.Context, status models.SessionStatus, updatedBefore time.Time, limit int) ([]models.UploadSession, error) {
	var sessions []models.UploadSession
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", status, updatedBefore).
		Order("updated_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

// --- Record Methods ---

// ListRecords returns the session's records ordered by index
func (r *SessionRepository) ListRecords(ctx context.Context, sessionID uuid.UUID, includeSkipped bool) ([]models.SessionRecord, error) {
	var records []models.SessionRecord
	query := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if !includeSkipped {
		query = query.Where("skipped = ?", false)
	}
	err := query.Order("record_index ASC").Find(&records).Error
	return records, err
}

// UpdateRecordValues replaces the raw values of one record
func (r *SessionRepository) UpdateRecordValues(ctx context.Context, sessionID uuid.UUID, recordIndex int, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal record values: %w", err)
	}
	result := r.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("session_id = ? AND record_index = ?", sessionID, recordIndex).
		Update("data", datatypes.JSON(data))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRecordsSkipped excludes records from validation and import
func (r *SessionRepository) MarkRecordsSkipped(ctx context.Context, sessionID uuid.UUID, indexes []int) (int64, error) {
	if len(indexes) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.SessionRecord{}).
		Where("session_id = ? AND record_index IN ? AND skipped = ?", sessionID, indexes, false).
		Update("skipped", true)
	return result.RowsAffected, result.Error
}
