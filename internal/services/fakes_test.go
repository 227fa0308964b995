package services

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// memorySessionRepo keeps sessions in memory with the same compare-and-set
// semantics as the database repository
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.UploadSession
	records  map[uuid.UUID][]models.SessionRecord
	deleted  map[uuid.UUID]bool
}

var _ repository.SessionRepositoryInterface = (*memorySessionRepo)(nil)

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{
		sessions: make(map[uuid.UUID]*models.UploadSession),
		records:  make(map[uuid.UUID][]models.SessionRecord),
		deleted:  make(map[uuid.UUID]bool),
	}
}

func (r *memorySessionRepo) Create(ctx context.Context, session *models.UploadSession, records []models.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	stored := *session
	r.sessions[session.ID] = &stored
	copied := make([]models.SessionRecord, len(records))
	for i, rec := range records {
		rec.SessionID = session.ID
		copied[i] = rec
	}
	r.records[session.ID] = copied
	return nil
}

func (r *memorySessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || r.deleted[id] {
		return nil, repository.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (r *memorySessionRepo) FindByApprovalRequestID(ctx context.Context, approvalRequestID string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if !r.deleted[id] && s.ApprovalRequestID != nil && *s.ApprovalRequestID == approvalRequestID {
			out := *s
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memorySessionRepo) List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadSession
	for id, s := range r.sessions {
		if r.deleted[id] || s.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, *s)
	}
	return out, int64(len(out)), nil
}

func (r *memorySessionRepo) Update(ctx context.Context, session *models.UploadSession, expected models.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.sessions[session.ID]
	if !ok || r.deleted[session.ID] {
		return repository.ErrNotFound
	}
	if stored.Status != expected {
		return repository.ErrStatusConflict
	}
	if stored.Version != session.Version {
		return repository.ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = time.Now()
	next := *session
	next.TotalRecords = stored.TotalRecords
	next.ProcessedRecords = stored.ProcessedRecords
	next.SuccessfulRecords = stored.SuccessfulRecords
	next.FailedRecords = stored.FailedRecords
	next.TotalBatches = stored.TotalBatches
	next.CurrentBatch = stored.CurrentBatch
	r.sessions[session.ID] = &next
	return nil
}

func (r *memorySessionRepo) IncrementCounters(ctx context.Context, id uuid.UUID, delta models.CounterDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.ProcessedRecords += delta.Processed
	s.SuccessfulRecords += delta.Successful
	s.FailedRecords += delta.Failed
	if delta.CurrentBatch > 0 {
		s.CurrentBatch = delta.CurrentBatch
	}
	return nil
}

func (r *memorySessionRepo) SetImportPlan(ctx context.Context, id uuid.UUID, totalRecords, totalBatches int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.TotalRecords = totalRecords
	s.TotalBatches = totalBatches
	s.ProcessedRecords, s.SuccessfulRecords, s.FailedRecords, s.CurrentBatch = 0, 0, 0, 0
	return nil
}

func (r *memorySessionRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok || r.deleted[id] {
		return repository.ErrNotFound
	}
	r.deleted[id] = true
	return nil
}

func (r *memorySessionRepo) FindStale(ctx context.Context, status models.SessionStatus, updatedBefore time.Time, limit int) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadSession
	for id, s := range r.sessions {
		if !r.deleted[id] && s.Status == status && s.UpdatedAt.Before(updatedBefore) {
			out = append(out, *s)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memorySessionRepo) ListRecords(ctx context.Context, sessionID uuid.UUID, includeSkipped bool) ([]models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SessionRecord
	for _, rec := range r.records[sessionID] {
		if rec.Skipped && !includeSkipped {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordIndex < out[j].RecordIndex })
	return out, nil
}

func (r *memorySessionRepo) UpdateRecordValues(ctx context.Context, sessionID uuid.UUID, recordIndex int, values map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rec := range r.records[sessionID] {
		if rec.RecordIndex == recordIndex {
			updated := models.NewSessionRecord(sessionID, models.RawRecord{Index: recordIndex, Values: values, Skipped: rec.Skipped})
			r.records[sessionID][i] = updated
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memorySessionRepo) MarkRecordsSkipped(ctx context.Context, sessionID uuid.UUID, indexes []int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[int]bool, len(indexes))
	for _, idx := range indexes {
		wanted[idx] = true
	}
	var n int64
	for i, rec := range r.records[sessionID] {
		if wanted[rec.RecordIndex] && !rec.Skipped {
			r.records[sessionID][i].Skipped = true
			n++
		}
	}
	return n, nil
}

// setStatus changes the stored status the way another replica would
func (r *memorySessionRepo) setStatus(id uuid.UUID, status models.SessionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	s.Status = status
	s.Version++
}

func (r *memorySessionRepo) snapshot(id uuid.UUID) models.UploadSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.sessions[id]
}

// memoryImportRepo keeps batches and history in memory
type memoryImportRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]map[int]models.ImportBatch
	history []models.ImportHistory
}

var _ repository.ImportRepositoryInterface = (*memoryImportRepo)(nil)

func newMemoryImportRepo() *memoryImportRepo {
	return &memoryImportRepo{batches: make(map[uuid.UUID]map[int]models.ImportBatch)}
}

func (r *memoryImportRepo) CreateBatches(ctx context.Context, batches []models.ImportBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range batches {
		if r.batches[b.SessionID] == nil {
			r.batches[b.SessionID] = make(map[int]models.ImportBatch)
		}
		r.batches[b.SessionID][b.BatchNumber] = b
	}
	return nil
}

func (r *memoryImportRepo) UpdateBatch(ctx context.Context, batch *models.ImportBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.SessionID][batch.BatchNumber] = *batch
	return nil
}

func (r *memoryImportRepo) ListBatches(ctx context.Context, sessionID uuid.UUID) ([]models.ImportBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportBatch
	for _, b := range r.batches[sessionID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchNumber < out[j].BatchNumber })
	return out, nil
}

func (r *memoryImportRepo) AppendHistory(ctx context.Context, entries []models.ImportHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, entries...)
	return nil
}

func (r *memoryImportRepo) ListHistory(ctx context.Context, sessionID uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImportHistory
	for _, h := range r.history {
		if h.SessionID != sessionID || (failedOnly && h.Success) {
			continue
		}
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordIndex < out[j].RecordIndex })
	total := int64(len(out))
	if limit > 0 {
		if offset > len(out) {
			offset = len(out)
		}
		end := offset + limit
		if end > len(out) {
			end = len(out)
		}
		out = out[offset:end]
	}
	return out, total, nil
}

// recordingPublisher captures realtime events
type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
	closed []string
}

var _ EventPublisher = (*recordingPublisher)(nil)

func (p *recordingPublisher) Publish(ctx context.Context, sessionID string, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) CloseSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, sessionID)
}

func (p *recordingPublisher) ofType(t realtime.EventType) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, ev := range p.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

// funcSink answers bulk creates with a per-call function
type funcSink struct {
	mu    sync.Mutex
	calls int
	fn    func(req *clients.BulkCreateProductsRequest) (*clients.BulkCreateProductsResponse, error)
}

var _ CatalogSink = (*funcSink)(nil)

func (s *funcSink) BulkCreate(ctx context.Context, tenantID, userID string, req *clients.BulkCreateProductsRequest) (*clients.BulkCreateProductsResponse, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(req)
}

func (s *funcSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// acceptAll marks every item created
func acceptAll(req *clients.BulkCreateProductsRequest) *clients.BulkCreateProductsResponse {
	resp := &clients.BulkCreateProductsResponse{Success: true, TotalCount: len(req.Products)}
	for i, p := range req.Products {
		resp.Results = append(resp.Results, clients.BulkCreateResultItem{
			Index:      i,
			ExternalID: p.ExternalID,
			Success:    true,
			Data:       &clients.CreatedEntity{ID: "prod-" + *p.ExternalID},
		})
	}
	resp.SuccessCount = len(req.Products)
	return resp
}

// firstIndex returns the record index of the first product of a request
func firstIndex(req *clients.BulkCreateProductsRequest) int {
	if len(req.Products) == 0 || req.Products[0].ExternalID == nil {
		return -1
	}
	n, _ := strconv.Atoi(*req.Products[0].ExternalID)
	return n
}

func retryableFailure() error {
	return &clients.CatalogError{StatusCode: 503, Code: "SERVICE_UNAVAILABLE", Message: "catalog unavailable", Retryable: true}
}

// productRecords builds n valid name/sku/price records
func productRecords(n int) []map[string]string {
	records := make([]map[string]string, n)
	for i := range records {
		records[i] = map[string]string{
			"name":  "Product " + strconv.Itoa(i),
			"sku":   "SKU-" + strconv.Itoa(i),
			"price": "10.00",
		}
	}
	return records
}

func exactMappings() []models.FieldMapping {
	return []models.FieldMapping{
		{SourceField: "name", TargetField: "name", Confidence: 95, Strategy: models.StrategyExact},
		{SourceField: "sku", TargetField: "sku", Confidence: 95, Strategy: models.StrategyExact},
		{SourceField: "price", TargetField: "price", Confidence: 95, Strategy: models.StrategyExact},
	}
}

// seedImportingSession stores a session that is ready for the importer
func seedImportingSession(repo *memorySessionRepo, n int, opts models.ImportOptions) *models.UploadSession {
	session := &models.UploadSession{
		ID:         uuid.New(),
		TenantID:   "tenant-1",
		UserID:     "user-1",
		FileName:   "products.csv",
		FileFormat: models.FileFormatCSV,
		Status:     models.SessionStatusImporting,
		Version:    1,
	}
	session.SetMappings(exactMappings())
	session.SetOptions(opts)

	records := make([]models.SessionRecord, n)
	for i, values := range productRecords(n) {
		records[i] = models.NewSessionRecord(session.ID, models.RawRecord{Index: i, Values: values})
	}
	_ = repo.Create(context.Background(), session, records)
	return session
}

// MockApprovalRequester is a mock implementation of ApprovalRequester
type MockApprovalRequester struct {
	mock.Mock
}

var _ ApprovalRequester = (*MockApprovalRequester)(nil)

func (m *MockApprovalRequester) CreateApprovalRequest(ctx context.Context, req *clients.CreateApprovalRequest, tenantID, userID string) (*clients.ApprovalRequestResponse, error) {
	args := m.Called(ctx, req, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*clients.ApprovalRequestResponse), args.Error(1)
}

// MockMappingRecorder is a mock implementation of MappingRecorder
type MockMappingRecorder struct {
	mock.Mock
}

var _ MappingRecorder = (*MockMappingRecorder)(nil)

func (m *MockMappingRecorder) Record(ctx context.Context, tenantID, sourceField, targetField string, strategy models.MappingStrategy, confidence int, accepted bool) {
	m.Called(ctx, tenantID, sourceField, targetField, strategy, confidence, accepted)
}
