package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSessionService is a mock implementation of SessionService
type MockSessionService struct {
	mock.Mock
}

var _ SessionService = (*MockSessionService)(nil)

func (m *MockSessionService) Schema() models.TargetSchema {
	return models.ProductTargetSchema()
}

func (m *MockSessionService) CreateSession(ctx context.Context, tenantID, userID string, input services.SessionInput) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, userID, input)
	return sessionArg(args)
}

func (m *MockSessionService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id)
	return sessionArg(args)
}

func (m *MockSessionService) List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error) {
	args := m.Called(ctx, tenantID, filter)
	return args.Get(0).([]models.UploadSession), args.Get(1).(int64), args.Error(2)
}

func (m *MockSessionService) UpdateMappings(ctx context.Context, tenantID string, id uuid.UUID, updates []models.FieldMapping) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id, updates)
	return sessionArg(args)
}

func (m *MockSessionService) ConfirmMappings(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id)
	return sessionArg(args)
}

func (m *MockSessionService) GetValidation(ctx context.Context, tenantID string, id uuid.UUID) (*models.ValidationSummary, error) {
	args := m.Called(ctx, tenantID, id)
	return summaryArg(args)
}

func (m *MockSessionService) ApplyFixes(ctx context.Context, tenantID string, id uuid.UUID, req models.FixRequest) (*models.ValidationSummary, error) {
	args := m.Called(ctx, tenantID, id, req)
	return summaryArg(args)
}

func (m *MockSessionService) SkipRecords(ctx context.Context, tenantID string, id uuid.UUID, indexes []int) (*models.ValidationSummary, error) {
	args := m.Called(ctx, tenantID, id, indexes)
	return summaryArg(args)
}

func (m *MockSessionService) StartImport(ctx context.Context, tenantID string, id uuid.UUID, opts *models.ImportOptions) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id, opts)
	return sessionArg(args)
}

func (m *MockSessionService) Cancel(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id)
	return sessionArg(args)
}

func (m *MockSessionService) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	args := m.Called(ctx, tenantID, id)
	return args.Error(0)
}

func (m *MockSessionService) ListBatches(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ImportBatch, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Get(0).([]models.ImportBatch), args.Error(1)
}

func (m *MockSessionService) ListHistory(ctx context.Context, tenantID string, id uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error) {
	args := m.Called(ctx, tenantID, id, failedOnly, limit, offset)
	return args.Get(0).([]models.ImportHistory), args.Get(1).(int64), args.Error(2)
}

func (m *MockSessionService) ErrorReport(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ValidationError, []models.ImportHistory, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Get(0).([]models.ValidationError), args.Get(1).([]models.ImportHistory), args.Error(2)
}

func (m *MockSessionService) RecordApprovalDecision(ctx context.Context, tenantID string, id uuid.UUID, decision models.ApprovalDecision) (*models.UploadSession, error) {
	args := m.Called(ctx, tenantID, id, decision)
	return sessionArg(args)
}

func sessionArg(args mock.Arguments) (*models.UploadSession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.UploadSession), args.Error(1)
}

func summaryArg(args mock.Arguments) (*models.ValidationSummary, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ValidationSummary), args.Error(1)
}

const testTenant = "tenant-1"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Helper to setup test router
func setupTestRouter(svc *MockSessionService, hub EventHub, cfg SessionHandlerConfig) (*gin.Engine, *SessionHandler) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSessionHandler(svc, hub, cfg, testLogger())
	api := r.Group("/api/v1")
	api.Use(middleware.TenantMiddleware())
	h.RegisterRoutes(api)
	return r, h
}

func doRequest(r *gin.Engine, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("X-Tenant-ID", testTenant)
	req.Header.Set("X-User-ID", "user-1")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(r *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	return doRequest(r, method, path, body, "application/json")
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	return resp.Error.Code
}

func newSession(status models.SessionStatus) *models.UploadSession {
	return &models.UploadSession{
		ID:           uuid.New(),
		TenantID:     testTenant,
		Status:       status,
		TotalRecords: 25,
	}
}

// ===========================================
// Create Tests
// ===========================================

func TestCreateSession_Success(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	session := newSession(models.SessionStatusMapping)
	svc.On("CreateSession", mock.Anything, testTenant, "user-1", mock.MatchedBy(func(in services.SessionInput) bool {
		return in.FileName == "products.csv" &&
			len(in.Records) == 1 &&
			assert.ObjectsAreEqual([]string{"name", "price"}, in.Columns)
	})).Return(session, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions", models.CreateSessionRequest{
		FileName:   "products.csv",
		FileFormat: models.FileFormatCSV,
		Records:    []map[string]string{{"price": "10", "name": "Widget"}},
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), session.ID.String())
	svc.AssertExpectations(t)
}

func TestCreateSession_RejectsUnknownFormat(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions", models.CreateSessionRequest{
		FileName:   "products.txt",
		FileFormat: "txt",
		Records:    []map[string]string{{"name": "Widget"}},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeUnsupportedFormat, errorCode(t, w))
	svc.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateSession_EmptyFile(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	cause := models.NewImportError(models.ErrorKindFileUpload, models.CodeEmptyFile, "the uploaded file has no data rows")
	svc.On("CreateSession", mock.Anything, testTenant, "user-1", mock.Anything).
		Return(newSession(models.SessionStatusFailed), cause)

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions", models.CreateSessionRequest{
		FileName:   "products.csv",
		FileFormat: models.FileFormatCSV,
		Records:    []map[string]string{},
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeEmptyFile, errorCode(t, w))
}

// ===========================================
// Upload Tests
// ===========================================

func multipartBody(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUploadFile_ParsesCSV(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	var captured services.SessionInput
	svc.On("CreateSession", mock.Anything, testTenant, "user-1", mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(3).(services.SessionInput) }).
		Return(newSession(models.SessionStatusMapping), nil)

	body, contentType := multipartBody(t, "products.csv", "name,sku_code,price\nWidget,W-1,10.00\nGadget,G-1,12.50\n",
		map[string]string{"batchSize": "10", "strictMode": "true", "maxRetries": "0"})
	w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/upload", body, contentType)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.FileFormatCSV, captured.FileFormat)
	assert.Equal(t, []string{"name", "sku_code", "price"}, captured.Columns)
	require.Len(t, captured.Records, 2)
	assert.Equal(t, "G-1", captured.Records[1]["sku_code"])
	assert.Equal(t, 10, captured.Options.BatchSize)
	assert.True(t, captured.Options.StrictMode)
	require.NotNil(t, captured.Options.MaxRetries)
	assert.Equal(t, 0, *captured.Options.MaxRetries)
}

func TestUploadFile_UnsupportedType(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	body, contentType := multipartBody(t, "products.txt", "hello", nil)
	w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/upload", body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeUnsupportedFormat, errorCode(t, w))
}

func TestUploadFile_TooLarge(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{MaxUploadBytes: 1024})

	body, contentType := multipartBody(t, "products.csv", "name\n"+strings.Repeat("Widget\n", 1000), nil)
	w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/upload", body, contentType)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeFileTooLarge, errorCode(t, w))
}

func TestUploadFile_MissingFile(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/upload", strings.NewReader(""), "multipart/form-data; boundary=x")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "FILE_REQUIRED", errorCode(t, w))
}

// ===========================================
// Error Mapping Tests
// ===========================================

func TestGetSession_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", services.ErrSessionNotFound, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"status conflict", repository.ErrStatusConflict, http.StatusConflict, "SESSION_CONFLICT"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSessionService)
			r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})
			id := uuid.New()
			svc.On("Get", mock.Anything, testTenant, id).Return(nil, tt.err)

			w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+id.String(), nil, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestGetSession_InvalidID(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/not-a-uuid", nil, "")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ID", errorCode(t, w))
}

func TestGetSession_IncludesProgress(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	session := newSession(models.SessionStatusImporting)
	session.ProcessedRecords = 10
	svc.On("Get", mock.Anything, testTenant, session.ID).Return(session, nil)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+session.ID.String(), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data struct {
			Progress models.SessionProgress `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 40, resp.Data.Progress.PercentComplete)
}

func TestStartImport_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "invalid transition",
			err:        models.NewImportError(models.ErrorKindSystem, models.CodeInvalidTransition, "cannot start"),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "unresolved validation errors",
			err:        models.NewImportError(models.ErrorKindDataValidation, models.CodeValidationFailed, "1 error"),
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockSessionService)
			r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})
			id := uuid.New()
			svc.On("StartImport", mock.Anything, testTenant, id, (*models.ImportOptions)(nil)).Return(nil, tt.err)

			w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/"+id.String()+"/start", nil, "")

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestStartImport_WithOptions(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	session := newSession(models.SessionStatusImporting)
	svc.On("StartImport", mock.Anything, testTenant, session.ID, mock.MatchedBy(func(opts *models.ImportOptions) bool {
		return opts != nil && opts.BatchSize == 5 && opts.StrictMode
	})).Return(session, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions/"+session.ID.String()+"/start",
		models.StartImportRequest{Options: &models.ImportOptions{BatchSize: 5, StrictMode: true}})

	assert.Equal(t, http.StatusAccepted, w.Code)
	svc.AssertExpectations(t)
}

// ===========================================
// Review Tests
// ===========================================

func TestUpdateMappings(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	session := newSession(models.SessionStatusMapping)
	updates := []models.FieldMapping{{SourceField: "sku_code", TargetField: "sku"}}
	svc.On("UpdateMappings", mock.Anything, testTenant, session.ID, updates).Return(session, nil)

	w := doJSON(r, http.MethodPut, "/api/v1/import-sessions/"+session.ID.String()+"/mappings",
		models.UpdateMappingsRequest{Mappings: updates})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestUpdateMappings_UnknownTarget(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("UpdateMappings", mock.Anything, testTenant, id, mock.Anything).
		Return(nil, models.NewImportError(models.ErrorKindFieldMapping, models.CodeUnknownTarget, "unknown target field \"colour\""))

	w := doJSON(r, http.MethodPut, "/api/v1/import-sessions/"+id.String()+"/mappings",
		models.UpdateMappingsRequest{Mappings: []models.FieldMapping{{SourceField: "color", TargetField: "colour"}}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.CodeUnknownTarget, errorCode(t, w))
}

func TestUpdateMappings_EmptyBody(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	w := doJSON(r, http.MethodPut, "/api/v1/import-sessions/"+uuid.New().String()+"/mappings", map[string]interface{}{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, w))
}

func TestApplyFixes_WithoutBodyAppliesAll(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("ApplyFixes", mock.Anything, testTenant, id, models.FixRequest{}).
		Return(&models.ValidationSummary{}, nil)

	w := doRequest(r, http.MethodPost, "/api/v1/import-sessions/"+id.String()+"/fixes", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestSkipRecords(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("SkipRecords", mock.Anything, testTenant, id, []int{3, 7}).
		Return(&models.ValidationSummary{ErrorCount: 0}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions/"+id.String()+"/skip",
		models.SkipRequest{RecordIndexes: []int{3, 7}})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestRecordApproval_DefaultsDecidedBy(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	session := newSession(models.SessionStatusPreviewing)
	svc.On("RecordApprovalDecision", mock.Anything, testTenant, session.ID, models.ApprovalDecision{
		Approved:  true,
		Reasoning: "looks right",
		DecidedBy: "user-1",
	}).Return(session, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/import-sessions/"+session.ID.String()+"/approval",
		models.ApprovalDecision{Approved: true, Reasoning: "looks right"})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestDeleteSession(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("Delete", mock.Anything, testTenant, id).Return(nil)

	w := doRequest(r, http.MethodDelete, "/api/v1/import-sessions/"+id.String(), nil, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
}

// ===========================================
// Listing Tests
// ===========================================

func TestListSessions_Pagination(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{DefaultPageSize: 20, MaxPageSize: 50})

	svc.On("List", mock.Anything, testTenant, models.SessionFilter{
		Status: models.SessionStatusCompleted,
		Limit:  10,
		Offset: 10,
	}).Return([]models.UploadSession{*newSession(models.SessionStatusCompleted)}, int64(21), nil)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions?status=completed&page=2&limit=10", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Pagination)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.True(t, resp.Pagination.HasNext)
	assert.True(t, resp.Pagination.HasPrevious)
}

func TestListHistory_FailedOnly(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("ListHistory", mock.Anything, testTenant, id, true, 20, 0).
		Return([]models.ImportHistory{}, int64(0), nil)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+id.String()+"/history?failed=true", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

// ===========================================
// File Tests
// ===========================================

func TestDownloadTemplate(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	w := doRequest(r, http.MethodGet, "/api/v1/import/template?format=csv", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Contains(t, w.Body.String(), "sku")

	w = doRequest(r, http.MethodGet, "/api/v1/import/template?format=xlsx", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = doRequest(r, http.MethodGet, "/api/v1/import/template?format=pdf", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportErrors(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	findings := []models.ValidationError{{RecordIndex: 0, Field: "name", RuleID: "required", Severity: models.SeverityError, Message: "name is required"}}
	svc.On("ErrorReport", mock.Anything, testTenant, id).Return(findings, []models.ImportHistory{}, nil)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+id.String()+"/errors/export", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), id.String())
}

// ===========================================
// Event Stream Tests
// ===========================================

func TestStreamEvents_TerminalSessionSendsSnapshotOnly(t *testing.T) {
	svc := new(MockSessionService)
	hub := realtime.NewHub(testLogger())
	r, _ := setupTestRouter(svc, hub, SessionHandlerConfig{})

	session := newSession(models.SessionStatusCompleted)
	session.ProcessedRecords = 25
	svc.On("Get", mock.Anything, testTenant, session.ID).Return(session, nil)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+session.ID.String()+"/events", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event: progress")
	assert.Contains(t, w.Body.String(), `"percentComplete":100`)
	assert.Equal(t, 0, hub.SubscriberCount(session.ID.String()))
}

func TestStreamEvents_LiveUntilFinalEvent(t *testing.T) {
	svc := new(MockSessionService)
	hub := realtime.NewHub(testLogger())
	r, h := setupTestRouter(svc, hub, SessionHandlerConfig{})
	h.heartbeat = time.Hour

	session := newSession(models.SessionStatusImporting)
	session.ProcessedRecords = 10
	svc.On("Get", mock.Anything, testTenant, session.ID).Return(session, nil)

	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/import-sessions/"+session.ID.String()+"/events", nil)
		req.Header.Set("X-Tenant-ID", testTenant)
		r.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(session.ID.String()) == 1
	}, time.Second, 5*time.Millisecond)

	env, err := realtime.NewEnvelope(session.ID.String(), realtime.CompletedEvent{
		SessionID:        session.ID.String(),
		Status:           models.SessionStatusCompleted,
		TotalRecords:     25,
		ProcessedRecords: 25,
	})
	require.NoError(t, err)
	hub.Deliver(env)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the final event")
	}

	body := w.Body.String()
	progressAt := strings.Index(body, "event: progress")
	completedAt := strings.Index(body, "event: completed")
	assert.GreaterOrEqual(t, progressAt, 0)
	assert.Greater(t, completedAt, progressAt)
}

func TestStreamEvents_UnknownSession(t *testing.T) {
	svc := new(MockSessionService)
	r, _ := setupTestRouter(svc, realtime.NewHub(testLogger()), SessionHandlerConfig{})

	id := uuid.New()
	svc.On("Get", mock.Anything, testTenant, id).Return(nil, services.ErrSessionNotFound)

	w := doRequest(r, http.MethodGet, "/api/v1/import-sessions/"+id.String()+"/events", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
}
