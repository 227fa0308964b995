package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/events"
	"catalog-import-service/internal/intake"
	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound = errors.New("import session not found")
)

const (
	// ManualConfidence is the confidence of a mapping set by a person
	ManualConfidence = 100

	DefaultApprovalConfidenceThreshold = 70
	DefaultApprovalRecordThreshold     = 5000
	DefaultFailureTolerance            = 1.0
)

// ImportRunner executes the batch import of a session
type ImportRunner interface {
	Run(ctx context.Context, session *models.UploadSession) *ImportOutcome
}

// ApprovalRequester opens approval requests for risky imports
type ApprovalRequester interface {
	CreateApprovalRequest(ctx context.Context, req *clients.CreateApprovalRequest, tenantID, userID string) (*clients.ApprovalRequestResponse, error)
}

// MappingRecorder receives mapping feedback for future uploads
type MappingRecorder interface {
	Record(ctx context.Context, tenantID, sourceField, targetField string, strategy models.MappingStrategy, confidence int, accepted bool)
}

// LifecyclePublisher emits session lifecycle events to other services
type LifecyclePublisher interface {
	PublishSessionEvent(ctx context.Context, eventType string, session *models.UploadSession) error
}

// SessionServiceConfig holds the approval gate and completion thresholds
type SessionServiceConfig struct {
	ApprovalConfidenceThreshold int
	ApprovalRecordThreshold     int
	// FailureTolerance is the default failed/processed ratio above which an
	// import ends failed. Use StrictMode on the options for zero tolerance.
	FailureTolerance float64
}

// SessionDependencies are the collaborators of the session service.
// Approvals, Recorder and Lifecycle may be nil.
type SessionDependencies struct {
	Sessions  repository.SessionRepositoryInterface
	Imports   repository.ImportRepositoryInterface
	Resolver  *Resolver
	Validator *ValidationEngine
	Importer  ImportRunner
	Publisher EventPublisher
	Approvals ApprovalRequester
	Recorder  MappingRecorder
	Lifecycle LifecyclePublisher
}

// SessionInput is a parsed upload ready to become a session
type SessionInput struct {
	FileName     string
	FileSize     int64
	FileFormat   models.FileFormat
	Columns      []string
	SourceFields []models.SourceFieldDescriptor
	Records      []map[string]string
	Options      models.ImportOptions
}

// SessionService drives import sessions through their lifecycle
type SessionService struct {
	sessions  repository.SessionRepositoryInterface
	imports   repository.ImportRepositoryInterface
	resolver  *Resolver
	validator *ValidationEngine
	importer  ImportRunner
	publisher EventPublisher
	approvals ApprovalRequester
	recorder  MappingRecorder
	lifecycle LifecyclePublisher
	cfg       SessionServiceConfig
	locks     *keyedMutex

	runCtx    context.Context
	cancelRun context.CancelFunc
	runs      sync.WaitGroup
	activeMu  sync.Mutex
	active    map[uuid.UUID]bool

	logger *logrus.Entry
}

// NewSessionService creates a new SessionService
func NewSessionService(deps SessionDependencies, cfg SessionServiceConfig, logger *logrus.Logger) *SessionService {
	if cfg.ApprovalConfidenceThreshold <= 0 {
		cfg.ApprovalConfidenceThreshold = DefaultApprovalConfidenceThreshold
	}
	if cfg.ApprovalRecordThreshold <= 0 {
		cfg.ApprovalRecordThreshold = DefaultApprovalRecordThreshold
	}
	if cfg.FailureTolerance <= 0 {
		cfg.FailureTolerance = DefaultFailureTolerance
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &SessionService{
		sessions:  deps.Sessions,
		imports:   deps.Imports,
		resolver:  deps.Resolver,
		validator: deps.Validator,
		importer:  deps.Importer,
		publisher: deps.Publisher,
		approvals: deps.Approvals,
		recorder:  deps.Recorder,
		lifecycle: deps.Lifecycle,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		runCtx:    runCtx,
		cancelRun: cancel,
		active:    make(map[uuid.UUID]bool),
		logger:    logger.WithField("component", "session-service"),
	}
}

// Schema returns the target schema sessions are mapped onto
func (s *SessionService) Schema() models.TargetSchema {
	return s.validator.Schema()
}

// CreateSession stores a parsed upload, resolves its columns and validates it.
// An empty upload is stored as failed and returned with an error. An upload
// with no mapping candidates is stored as failed without an error.
func (s *SessionService) CreateSession(ctx context.Context, tenantID, userID string, input SessionInput) (*models.UploadSession, error) {
	session := &models.UploadSession{
		ID:            uuid.New(),
		TenantID:      tenantID,
		UserID:        userID,
		FileName:      input.FileName,
		FileSize:      input.FileSize,
		FileFormat:    input.FileFormat,
		Status:        models.SessionStatusInitiated,
		Version:       1,
		TotalRecords:  len(input.Records),
		SourceColumns: input.Columns,
	}
	session.SetOptions(input.Options)

	records := make([]models.SessionRecord, len(input.Records))
	for i, values := range input.Records {
		records[i] = models.NewSessionRecord(session.ID, models.RawRecord{Index: i, Values: values})
	}

	log := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID.String(),
		"tenant_id":  tenantID,
		"file_name":  input.FileName,
		"records":    len(records),
	})

	if err := s.sessions.Create(ctx, session, records); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Info("Import session created")
	s.emitLifecycle(ctx, events.SessionCreated, session)

	if len(records) == 0 {
		cause := models.NewImportError(models.ErrorKindFileUpload, models.CodeEmptyFile, "the uploaded file has no data rows").
			WithRemediation("add at least one product row below the header and upload again")
		if err := s.finish(ctx, session, models.SessionStatusFailed, cause, true); err != nil {
			return nil, err
		}
		return session, cause
	}

	if err := s.moveTo(ctx, session, models.SessionStatusAnalyzing); err != nil {
		return nil, err
	}

	descriptors := input.SourceFields
	if len(descriptors) == 0 {
		descriptors = intake.ProfileRecords(input.Columns, input.Records)
	}
	session.SetSourceFields(descriptors)

	resolution := s.resolver.Resolve(ctx, tenantID, descriptors, s.validator.Schema())
	if resolution.CandidateCount() == 0 {
		cause := models.NewImportError(models.ErrorKindFieldMapping, models.CodeNoCandidates,
			"none of the uploaded columns could be matched to a catalog field").
			WithRemediation("rename the columns to match the import template and upload again")
		log.Warn("No mapping candidates for upload")
		if err := s.finish(ctx, session, models.SessionStatusFailed, cause, true); err != nil {
			return nil, err
		}
		return session, nil
	}
	session.SetResolution(resolution)

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.moveTo(ctx, session, models.SessionStatusMapping); err != nil {
		return nil, err
	}

	sessionID := session.ID.String()
	s.publisher.Publish(ctx, sessionID, realtime.MappingSuggestionsEvent{
		SessionID:           sessionID,
		Mappings:            resolution.Mappings,
		Unmapped:            resolution.Unmapped,
		Conflicts:           resolution.Conflicts,
		MissingRequired:     resolution.MissingRequired,
		AggregateConfidence: resolution.AggregateConfidence,
	})
	s.publishValidation(ctx, session, summary)

	log.WithFields(logrus.Fields{
		"mapped":     len(resolution.Mappings),
		"unmapped":   len(resolution.Unmapped),
		"confidence": resolution.AggregateConfidence,
		"errors":     summary.ErrorCount,
		"warnings":   summary.WarningCount,
	}).Info("Upload analyzed")

	return session, nil
}

// Get returns a session of the tenant
func (s *SessionService) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	return s.load(ctx, tenantID, id)
}

// List returns the tenant's sessions
func (s *SessionService) List(ctx context.Context, tenantID string, filter models.SessionFilter) ([]models.UploadSession, int64, error) {
	return s.sessions.List(ctx, tenantID, filter)
}

// GetValidation returns the last validation run of a session
func (s *SessionService) GetValidation(ctx context.Context, tenantID string, id uuid.UUID) (*models.ValidationSummary, error) {
	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	summary := Summarize(session.GetValidationErrors())
	return &summary, nil
}

// ListBatches returns the batches of a session's import
func (s *SessionService) ListBatches(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ImportBatch, error) {
	if _, err := s.load(ctx, tenantID, id); err != nil {
		return nil, err
	}
	return s.imports.ListBatches(ctx, id)
}

// ListHistory returns per-record import results
func (s *SessionService) ListHistory(ctx context.Context, tenantID string, id uuid.UUID, failedOnly bool, limit, offset int) ([]models.ImportHistory, int64, error) {
	if _, err := s.load(ctx, tenantID, id); err != nil {
		return nil, 0, err
	}
	return s.imports.ListHistory(ctx, id, failedOnly, limit, offset)
}

// ErrorReport returns the validation findings and the failed import rows
func (s *SessionService) ErrorReport(ctx context.Context, tenantID string, id uuid.UUID) ([]models.ValidationError, []models.ImportHistory, error) {
	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, nil, err
	}
	failures, _, err := s.imports.ListHistory(ctx, id, true, 0, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load failed records: %w", err)
	}
	return session.GetValidationErrors(), failures, nil
}

// Cancel stops a session. An importing session lets its running batches
// finish and ends when the importer reports back.
func (s *SessionService) Cancel(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.cancelLocked(ctx, session, nil); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) cancelLocked(ctx context.Context, session *models.UploadSession, cause *models.ImportError) error {
	wasImporting := session.Status == models.SessionStatusImporting
	if err := s.finish(ctx, session, models.SessionStatusCancelled, cause, !wasImporting); err != nil {
		return err
	}
	if wasImporting {
		s.logger.WithField("session_id", session.ID.String()).Info("Cancellation requested; running batches will finish")
	}
	return nil
}

// Delete cancels a live session and hides it
func (s *SessionService) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !session.Status.IsTerminal() {
		if err := s.cancelLocked(ctx, session, nil); err != nil {
			return err
		}
	}
	if err := s.sessions.SoftDelete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	s.logger.WithField("session_id", id.String()).Info("Import session deleted")
	return nil
}

// ExpireSession ends an abandoned session with the given reason code. A
// session stuck in importing with no run in this process lost its importer
// and fails; any other live session is cancelled. Terminal sessions are left
// alone.
func (s *SessionService) ExpireSession(ctx context.Context, id uuid.UUID, code, message string) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, "", id)
	if err != nil {
		return err
	}
	if session.Status.IsTerminal() {
		return nil
	}

	if session.Status == models.SessionStatusImporting {
		if s.isRunning(id) {
			return nil
		}
		cause := models.NewImportError(models.ErrorKindSystem, code, message).
			WithRemediation("start a new import session for the records that were not processed")
		s.logger.WithFields(logrus.Fields{
			"session_id": id.String(),
			"processed":  session.ProcessedRecords,
		}).Warn("Failing import that lost its importer")
		return s.finish(ctx, session, models.SessionStatusFailed, cause, true)
	}

	cause := models.NewImportError(models.ErrorKindSystem, code, message).
		WithRemediation("upload the file again to start a new session")
	return s.finish(ctx, session, models.SessionStatusCancelled, cause, true)
}

func (s *SessionService) setRunning(id uuid.UUID, running bool) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if running {
		s.active[id] = true
	} else {
		delete(s.active, id)
	}
}

func (s *SessionService) isRunning(id uuid.UUID) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active[id]
}

// Shutdown stops scheduling new batches and waits for running imports to
// record their outcome
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.cancelRun()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- helpers ---

func (s *SessionService) load(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if tenantID != "" && session.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// moveTo applies a status transition and persists it against the previous status
func (s *SessionService) moveTo(ctx context.Context, session *models.UploadSession, to models.SessionStatus) error {
	from := session.Status
	if err := Transition(session, to); err != nil {
		return err
	}
	if err := s.sessions.Update(ctx, session, from); err != nil {
		session.Status = from
		return fmt.Errorf("failed to move session to %s: %w", to, err)
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID.String(),
		"from":       from,
		"to":         to,
	}).Info("Session status changed")
	return nil
}

func (s *SessionService) save(ctx context.Context, session *models.UploadSession) error {
	if err := s.sessions.Update(ctx, session, session.Status); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// finish moves the session to a terminal status. publish controls whether the
// final realtime event is sent now.
func (s *SessionService) finish(ctx context.Context, session *models.UploadSession, to models.SessionStatus, cause *models.ImportError, publish bool) error {
	if cause != nil {
		session.AppendError(cause)
	}
	now := time.Now().UTC()
	session.CompletedAt = &now

	if err := s.moveTo(ctx, session, to); err != nil {
		session.CompletedAt = nil
		return err
	}

	metrics.SessionsTotal.WithLabelValues(string(to)).Inc()
	s.emitLifecycle(ctx, events.SubjectForStatus(to), session)
	if publish {
		s.publishTerminal(ctx, session, cause)
	}
	return nil
}

func (s *SessionService) publishTerminal(ctx context.Context, session *models.UploadSession, cause *models.ImportError) {
	sessionID := session.ID.String()
	if session.Status == models.SessionStatusFailed && cause != nil {
		s.publisher.Publish(ctx, sessionID, realtime.NewErrorEvent(sessionID, cause, true))
		return
	}

	var duration int64
	if session.StartedAt != nil && session.CompletedAt != nil {
		duration = session.CompletedAt.Sub(*session.StartedAt).Milliseconds()
	}
	s.publisher.Publish(ctx, sessionID, realtime.CompletedEvent{
		SessionID:         sessionID,
		Status:            session.Status,
		TotalRecords:      session.TotalRecords,
		ProcessedRecords:  session.ProcessedRecords,
		SuccessfulRecords: session.SuccessfulRecords,
		FailedRecords:     session.FailedRecords,
		SkippedRecords:    session.SkippedRecords,
		DurationMs:        duration,
	})
}

func (s *SessionService) emitLifecycle(ctx context.Context, eventType string, session *models.UploadSession) {
	if s.lifecycle == nil || eventType == "" {
		return
	}
	if err := s.lifecycle.PublishSessionEvent(ctx, eventType, session); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"kind":       models.ErrorKindNetwork,
			"session_id": session.ID.String(),
			"event_type": eventType,
		}).Warn("Failed to publish session event")
	}
}

// revalidate runs validation over the non-skipped records and stores the result
func (s *SessionService) revalidate(ctx context.Context, session *models.UploadSession) (models.ValidationSummary, error) {
	stored, err := s.sessions.ListRecords(ctx, session.ID, false)
	if err != nil {
		return models.ValidationSummary{}, fmt.Errorf("failed to load session records: %w", err)
	}
	records := make([]models.RawRecord, len(stored))
	for i := range stored {
		records[i] = stored[i].ToRaw()
	}

	errs := s.validator.Validate(records, session.GetMappings())
	session.SetValidationErrors(errs)
	return Summarize(errs), nil
}

func (s *SessionService) publishValidation(ctx context.Context, session *models.UploadSession, summary models.ValidationSummary) {
	sessionID := session.ID.String()
	s.publisher.Publish(ctx, sessionID, realtime.ValidationUpdateEvent{
		SessionID:         sessionID,
		ValidationSummary: summary,
	})
}

func requireStatus(session *models.UploadSession, operation string, allowed ...models.SessionStatus) error {
	for _, status := range allowed {
		if session.Status == status {
			return nil
		}
	}
	return models.NewImportError(models.ErrorKindSystem, models.CodeInvalidTransition,
		fmt.Sprintf("cannot %s while the session is %s", operation, session.Status))
}

// keyedMutex serializes operations per session id within this process
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
