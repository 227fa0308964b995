package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"catalog-import-service/internal/intake"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionService is the session API the handlers drive
type SessionService interface {
	Schema() models.TargetSchema
	CreateSession(ctx context.Context, tenantID, userID string, input services.SessionInput) (*models.UploadSession, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error)
	List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error)
	UpdateMappings(ctx context.Context, tenantID string, id uuid.UUID, updates []models.FieldMapping) (*models.UploadSession, error)
	ConfirmMappings(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error)
	GetValidation(ctx context.Context, tenantID string, id uuid.UUID) (*models.ValidationSummary, error)
	ApplyFixes(ctx context.Context, tenantID string, id uuid.UUID, req models.FixRequest) (*models.ValidationSummary, error)
	SkipRecords(ctx context.Context, tenantID string, id uuid.UUID, indexes []int) (*models.ValidationSummary, error)
	StartImport(ctx context.Context, tenantID string, id uuid.UUID, opts *models.ImportOptions) (*models.UploadSession, error)
	Cancel(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
	ListBatches(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ImportBatch, error)
	ListHistory(ctx context.Context, tenantID string, id uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error)
	ErrorReport(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ValidationError, []models.ImportHistory, error)
	RecordApprovalDecision(ctx context.Context, tenantID string, id uuid.UUID, decision models.ApprovalDecision) (*models.UploadSession, error)
}

var _ SessionService = (*services.SessionService)(nil)

// EventHub hands out live event subscriptions
type EventHub interface {
	Subscribe(sessionID string) *realtime.Subscriber
	Unsubscribe(sub *realtime.Subscriber)
}

// SessionHandlerConfig holds request limits
type SessionHandlerConfig struct {
	MaxUploadBytes  int64
	DefaultPageSize int
	MaxPageSize     int
}

// SessionHandler handles HTTP requests for import sessions
type SessionHandler struct {
	service   SessionService
	hub       EventHub
	cfg       SessionHandlerConfig
	heartbeat time.Duration
	logger    *logrus.Entry
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(service SessionService, hub EventHub, cfg SessionHandlerConfig, logger *logrus.Logger) *SessionHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	return &SessionHandler{
		service:   service,
		hub:       hub,
		cfg:       cfg,
		heartbeat: realtime.HeartbeatInterval,
		logger:    logger.WithField("component", "session-handler"),
	}
}

// RegisterRoutes mounts the session API on a tenant-scoped group
func (h *SessionHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/import/template", h.DownloadTemplate)

	sessions := api.Group("/import-sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.POST("/upload", h.UploadFile)
		sessions.GET("", h.ListSessions)
		sessions.GET("/:id", h.GetSession)
		sessions.PUT("/:id/mappings", h.UpdateMappings)
		sessions.POST("/:id/confirm", h.ConfirmMappings)
		sessions.GET("/:id/validation", h.GetValidation)
		sessions.POST("/:id/fixes", h.ApplyFixes)
		sessions.POST("/:id/skip", h.SkipRecords)
		sessions.POST("/:id/start", h.StartImport)
		sessions.POST("/:id/cancel", h.CancelSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.GET("/:id/batches", h.ListBatches)
		sessions.GET("/:id/history", h.ListHistory)
		sessions.GET("/:id/errors/export", h.ExportErrors)
		sessions.POST("/:id/approval", h.RecordApproval)
		sessions.GET("/:id/events", h.StreamEvents)
	}
}

// CreateSession creates a session from already-extracted records
// @Summary Create import session
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param request body models.CreateSessionRequest true "Extracted file"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/v1/import-sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	switch req.FileFormat {
	case models.FileFormatCSV, models.FileFormatJSON, models.FileFormatXLSX:
	default:
		respondError(c, http.StatusBadRequest, models.CodeUnsupportedFormat, "fileFormat must be csv, json or xlsx")
		return
	}

	input := services.SessionInput{
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		FileFormat:   req.FileFormat,
		Columns:      columnsOf(req.SourceFields, req.Records),
		SourceFields: req.SourceFields,
		Records:      req.Records,
	}
	if req.Options != nil {
		input.Options = *req.Options
	}

	h.create(c, input)
}

func (h *SessionHandler) create(c *gin.Context, input services.SessionInput) {
	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	session, err := h.service.CreateSession(c.Request.Context(), tenantID, userID, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, session)
}

// ListSessions lists the tenant's sessions
// @Summary List import sessions
// @Tags Import Sessions
// @Produce json
// @Param status query string false "Status filter"
// @Param page query int false "Page" default(1)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} models.ListResponse
// @Router /api/v1/import-sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page, limit := h.pageParams(c)
	filter := models.SessionFilter{
		Status: models.SessionStatus(c.Query("status")),
		UserID: c.Query("userId"),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	sessions, total, err := h.service.List(c.Request.Context(), middleware.GetTenantID(c), filter)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success:    true,
		Data:       sessions,
		Pagination: models.NewPagination(page, limit, total),
	})
}

// GetSession returns the session and its progress
// @Summary Get import session
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.service.Get(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{
		"session":  session,
		"progress": session.Progress(),
	})
}

// UpdateMappings sets or overrides field mappings
// @Summary Update field mappings
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.UpdateMappingsRequest true "Mappings"
// @Success 200 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/mappings [put]
func (h *SessionHandler) UpdateMappings(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req models.UpdateMappingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	session, err := h.service.UpdateMappings(c.Request.Context(), middleware.GetTenantID(c), id, req.Mappings)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, session)
}

// ConfirmMappings confirms the current mappings
// @Summary Confirm field mappings
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/confirm [post]
func (h *SessionHandler) ConfirmMappings(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.service.ConfirmMappings(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, session)
}

// GetValidation returns the latest validation findings
// @Summary Get validation errors
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SuccessResponse
// @Router /api/v1/import-sessions/{id}/validation [get]
func (h *SessionHandler) GetValidation(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	summary, err := h.service.GetValidation(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, summary)
}

// ApplyFixes applies suggested fixes and manual edits
// @Summary Apply fixes
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.FixRequest false "Fix selection"
// @Success 200 {object} models.SuccessResponse
// @Router /api/v1/import-sessions/{id}/fixes [post]
func (h *SessionHandler) ApplyFixes(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req models.FixRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
	}

	summary, err := h.service.ApplyFixes(c.Request.Context(), middleware.GetTenantID(c), id, req)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, summary)
}

// SkipRecords excludes records from the import
// @Summary Skip records
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.SkipRequest true "Records"
// @Success 200 {object} models.SuccessResponse
// @Router /api/v1/import-sessions/{id}/skip [post]
func (h *SessionHandler) SkipRecords(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req models.SkipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	summary, err := h.service.SkipRecords(c.Request.Context(), middleware.GetTenantID(c), id, req.RecordIndexes)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, summary)
}

// StartImport starts the batch import
// @Summary Start import
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.StartImportRequest false "Option overrides"
// @Success 202 {object} models.SuccessResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/start [post]
func (h *SessionHandler) StartImport(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var req models.StartImportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
	}

	session, err := h.service.StartImport(c.Request.Context(), middleware.GetTenantID(c), id, req.Options)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusAccepted, session)
}

// CancelSession cancels a session
// @Summary Cancel import session
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SuccessResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/cancel [post]
func (h *SessionHandler) CancelSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := h.service.Cancel(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, session)
}

// DeleteSession cancels and removes a session
// @Summary Delete import session
// @Tags Import Sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /api/v1/import-sessions/{id} [delete]
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.GetTenantID(c), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBatches returns the batches of a session
// @Summary List import batches
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SuccessResponse
// @Router /api/v1/import-sessions/{id}/batches [get]
func (h *SessionHandler) ListBatches(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	batches, err := h.service.ListBatches(c.Request.Context(), middleware.GetTenantID(c), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, batches)
}

// ListHistory returns per-record import outcomes
// @Summary List import history
// @Tags Import Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Param failed query bool false "Only failed records"
// @Param page query int false "Page" default(1)
// @Param limit query int false "Limit" default(20)
// @Success 200 {object} models.ListResponse
// @Router /api/v1/import-sessions/{id}/history [get]
func (h *SessionHandler) ListHistory(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	page, limit := h.pageParams(c)
	failedOnly := c.Query("failed") == "true"

	entries, total, err := h.service.ListHistory(c.Request.Context(), middleware.GetTenantID(c), id, failedOnly, limit, (page-1)*limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ListResponse{
		Success:    true,
		Data:       entries,
		Pagination: models.NewPagination(page, limit, total),
	})
}

// RecordApproval applies an approval decision delivered over HTTP
// @Summary Record approval decision
// @Tags Import Sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.ApprovalDecision true "Decision"
// @Success 200 {object} models.SuccessResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/import-sessions/{id}/approval [post]
func (h *SessionHandler) RecordApproval(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	var decision models.ApprovalDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}
	if decision.DecidedBy == "" {
		decision.DecidedBy = middleware.GetUserID(c)
	}

	session, err := h.service.RecordApprovalDecision(c.Request.Context(), middleware.GetTenantID(c), id, decision)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, http.StatusOK, session)
}

func (h *SessionHandler) pageParams(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(h.cfg.DefaultPageSize)))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > h.cfg.MaxPageSize {
		limit = h.cfg.DefaultPageSize
	}
	return page, limit
}

func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// columnsOf keeps the declared field order when descriptors are given
func columnsOf(fields []models.SourceFieldDescriptor, records []map[string]string) []string {
	if len(fields) == 0 {
		return intake.ColumnsOf(records)
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return columns
}
