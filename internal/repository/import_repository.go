package repository

import (
	"context"
	"errors"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ImportRepositoryInterface persists batches and the per-record audit trail
type ImportRepositoryInterface interface {
	CreateBatches(ctx context.Context, batches []models.ImportBatch) error
	UpdateBatch(ctx context.Context, batch *models.ImportBatch) error
	ListBatches(ctx context.Context, sessionID uuid.UUID) ([]models.ImportBatch, error)
	AppendHistory(ctx context.Context, entries []models.ImportHistory) error
	ListHistory(ctx context.Context, sessionID uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error)
}

// ImportRepository handles database operations for import batches and history
type ImportRepository struct {
	db *gorm.DB
}

// NewImportRepository creates a new ImportRepository
func NewImportRepository(db *gorm.DB) *ImportRepository {
	return &ImportRepository{db: db}
}

// CreateBatches stores the batch plan of an import run
func (r *ImportRepository) CreateBatches(ctx context.Context, batches []models.ImportBatch) error {
	if len(batches) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&batches).Error
}

// UpdateBatch writes the batch outcome
func (r *ImportRepository) UpdateBatch(ctx context.Context, batch *models.ImportBatch) error {
	result := r.db.WithContext(ctx).
		Model(&models.ImportBatch{}).
		Where("session_id = ? AND batch_number = ?", batch.SessionID, batch.BatchNumber).
		Updates(map[string]interface{}{
			"status":        batch.Status,
			"success_count": batch.SuccessCount,
			"failure_count": batch.FailureCount,
			"retry_count":   batch.RetryCount,
			"last_error":    batch.LastError,
			"started_at":    batch.StartedAt,
			"completed_at":  batch.CompletedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBatches returns a session's batches in batch order
func (r *ImportRepository) ListBatches(ctx context.Context, sessionID uuid.UUID) ([]models.ImportBatch, error) {
	var batches []models.ImportBatch
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("batch_number ASC").
		Find(&batches).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return batches, nil
}

// AppendHistory inserts audit rows. Rows are never updated.
func (r *ImportRepository) AppendHistory(ctx context.Context, entries []models.ImportHistory) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, 200).Error
}

// ListHistory pages through a session's audit trail. A limit of zero
// returns every entry.
func (r *ImportRepository) ListHistory(ctx context.Context, sessionID uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error) {
	var entries []models.ImportHistory
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ImportHistory{}).Where("session_id = ?", sessionID)
	if failedOnly {
		query = query.Where("success = ?", false)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("record_index ASC, created_at ASC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	err := query.Find(&entries).Error
	return entries, total, err
}
