package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/metrics"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/realtime"
	"catalog-import-service/internal/repository"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	DefaultBatchSize   = 10
	DefaultMaxRetries  = 2
	MaxBatchRetries    = 5
	DefaultWorkers     = 2
	DefaultBaseBackoff = 100 * time.Millisecond

	rowErrorConversion = "CONVERSION_ERROR"
	rowErrorNoResult   = "NO_RESULT"
)

// CatalogSink commits product batches to the catalog
type CatalogSink interface {
	BulkCreate(ctx context.Context, tenantID, userID string, req *clients.BulkCreateProductsRequest) (*clients.BulkCreateProductsResponse, error)
}

// EventPublisher delivers realtime session events
type EventPublisher interface {
	Publish(ctx context.Context, sessionID string, ev realtime.Event)
	CloseSession(sessionID string)
}

// ImporterConfig tunes the batch importer
type ImporterConfig struct {
	BatchSize   int
	MaxRetries  int
	Workers     int
	BaseBackoff time.Duration
}

// ImportOutcome is the result of one importer run
type ImportOutcome struct {
	TotalRecords int
	Processed    int
	Successful   int
	Failed       int
	Batches      int
	// Cancelled is set when scheduling stopped because the session left importing
	Cancelled bool
	// BatchErrors holds one entry per batch whose retries were exhausted
	BatchErrors []*models.ImportError
	// Err is a structural failure that fails the session
	Err *models.ImportError
}

// Importer commits a session's records to the catalog in fixed-size batches
type Importer struct {
	sessions  repository.SessionRepositoryInterface
	imports   repository.ImportRepositoryInterface
	sink      CatalogSink
	publisher EventPublisher
	cfg       ImporterConfig
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *logrus.Entry
}

// NewImporter creates a new Importer
func NewImporter(sessions repository.SessionRepositoryInterface, imports repository.ImportRepositoryInterface, sink CatalogSink, publisher EventPublisher, cfg ImporterConfig, logger *logrus.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	return &Importer{
		sessions:  sessions,
		imports:   imports,
		sink:      sink,
		publisher: publisher,
		cfg:       cfg,
		sleep:     sleepContext,
		logger:    logger.WithField("component", "batch-importer"),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EffectiveBatchSize applies the option override and the catalog cap
func (imp *Importer) EffectiveBatchSize(opts models.ImportOptions) int {
	size := imp.cfg.BatchSize
	if opts.BatchSize > 0 {
		size = opts.BatchSize
	}
	if size < 1 {
		size = 1
	}
	if size > clients.MaxBulkCreateItems {
		size = clients.MaxBulkCreateItems
	}
	return size
}

func (imp *Importer) effectiveRetries(opts models.ImportOptions) int {
	retries := imp.cfg.MaxRetries
	if opts.MaxRetries != nil {
		retries = *opts.MaxRetries
	}
	if retries < 0 {
		retries = 0
	}
	if retries > MaxBatchRetries {
		retries = MaxBatchRetries
	}
	return retries
}

// PlanBatches partitions n records into numbered batches
func PlanBatches(session *models.UploadSession, n, size int) []models.ImportBatch {
	var batches []models.ImportBatch
	for start, number := 0, 1; start < n; start, number = start+size, number+1 {
		end := start + size
		if end > n {
			end = n
		}
		batches = append(batches, models.ImportBatch{
			SessionID:   session.ID,
			BatchNumber: number,
			StartIndex:  start,
			EndIndex:    end,
			RecordCount: end - start,
			Status:      models.BatchStatusPending,
		})
	}
	return batches
}

type batchResult struct {
	batch      *models.ImportBatch
	successful int
	failed     int
	batchErr   *models.ImportError
	storageErr error
}

// Run imports every non-skipped record of the session. The session status is
// re-read before each batch is scheduled; batches already running finish.
// Cancelling ctx only stops scheduling. Running batches and their bookkeeping
// are detached from it.
func (imp *Importer) Run(ctx context.Context, session *models.UploadSession) *ImportOutcome {
	work := context.WithoutCancel(ctx)
	sessionID := session.ID.String()
	log := imp.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"tenant_id":  session.TenantID,
	})

	stored, err := imp.sessions.ListRecords(work, session.ID, false)
	if err != nil {
		return &ImportOutcome{Err: storageFailure("failed to load session records", err)}
	}

	records := make([]models.RawRecord, len(stored))
	for i := range stored {
		records[i] = stored[i].ToRaw()
	}

	opts := session.GetOptions()
	mappings := session.GetMappings()
	warnings := warningRulesByRecord(session.GetValidationErrors())
	size := imp.EffectiveBatchSize(opts)
	retries := imp.effectiveRetries(opts)

	batches := PlanBatches(session, len(records), size)
	if err := imp.imports.CreateBatches(work, batches); err != nil {
		return &ImportOutcome{Err: storageFailure("failed to create batches", err)}
	}
	if err := imp.sessions.SetImportPlan(work, session.ID, len(records), len(batches)); err != nil {
		return &ImportOutcome{Err: storageFailure("failed to store import plan", err)}
	}

	log.WithFields(logrus.Fields{
		"records":     len(records),
		"batches":     len(batches),
		"batch_size":  size,
		"max_retries": retries,
	}).Info("Starting import")

	outcome := &ImportOutcome{TotalRecords: len(records)}
	seq := newBatchSequencer(func(res *batchResult) error {
		return imp.applyResult(work, session, outcome, res, len(batches))
	})

	var g errgroup.Group
	sem := make(chan struct{}, imp.cfg.Workers)

schedule:
	for i := range batches {
		if ctx.Err() != nil {
			outcome.Cancelled = true
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			outcome.Cancelled = true
			break schedule
		}

		if seq.failed() {
			<-sem
			break
		}

		current, err := imp.sessions.GetByID(work, session.ID)
		if err != nil {
			<-sem
			seq.fail(storageFailure("failed to read session status", err))
			break
		}
		if current.Status != models.SessionStatusImporting {
			<-sem
			outcome.Cancelled = true
			log.WithFields(logrus.Fields{
				"status":        current.Status,
				"next_batch":    batches[i].BatchNumber,
				"total_batches": len(batches),
			}).Info("Session left importing; not scheduling further batches")
			break
		}

		batch := &batches[i]
		chunk := records[batch.StartIndex:batch.EndIndex]
		g.Go(func() error {
			defer func() { <-sem }()
			seq.complete(imp.runBatch(work, session, batch, chunk, mappings, warnings, opts.SkipDuplicates, retries))
			return nil
		})
	}

	_ = g.Wait()

	if err := seq.err(); err != nil {
		outcome.Err = err
	}

	log.WithFields(logrus.Fields{
		"processed":  outcome.Processed,
		"successful": outcome.Successful,
		"failed":     outcome.Failed,
		"batches":    outcome.Batches,
		"cancelled":  outcome.Cancelled,
	}).Info("Import run finished")

	return outcome
}

// applyResult runs on the sequencer, in batch-number order
func (imp *Importer) applyResult(ctx context.Context, session *models.UploadSession, outcome *ImportOutcome, res *batchResult, totalBatches int) error {
	if res.storageErr != nil {
		return storageFailure("failed to record import history", res.storageErr)
	}
	if err := imp.imports.UpdateBatch(ctx, res.batch); err != nil {
		return storageFailure("failed to update batch", err)
	}

	delta := models.CounterDelta{
		Processed:    res.successful + res.failed,
		Successful:   res.successful,
		Failed:       res.failed,
		CurrentBatch: res.batch.BatchNumber,
	}
	if err := imp.sessions.IncrementCounters(ctx, session.ID, delta); err != nil {
		return storageFailure("failed to update session counters", err)
	}

	outcome.Processed += delta.Processed
	outcome.Successful += delta.Successful
	outcome.Failed += delta.Failed
	outcome.Batches++
	if res.batchErr != nil {
		outcome.BatchErrors = append(outcome.BatchErrors, res.batchErr)
	}

	metrics.RecordsTotal.WithLabelValues("succeeded").Add(float64(res.successful))
	metrics.RecordsTotal.WithLabelValues("failed").Add(float64(res.failed))

	percent := 0
	if outcome.TotalRecords > 0 {
		percent = outcome.Processed * 100 / outcome.TotalRecords
	}
	imp.publisher.Publish(ctx, session.ID.String(), realtime.ProgressEvent{SessionProgress: models.SessionProgress{
		SessionID:         session.ID.String(),
		TotalRecords:      outcome.TotalRecords,
		ProcessedRecords:  outcome.Processed,
		SuccessfulRecords: outcome.Successful,
		FailedRecords:     outcome.Failed,
		CurrentBatch:      res.batch.BatchNumber,
		TotalBatches:      totalBatches,
		Status:            models.SessionStatusImporting,
		PercentComplete:   percent,
	}})
	return nil
}

type rowOutcome struct {
	values   map[string]string
	entityID *string
	code     string
	message  string
}

func (imp *Importer) runBatch(ctx context.Context, session *models.UploadSession, batch *models.ImportBatch, records []models.RawRecord, mappings []models.FieldMapping, warnings map[int][]string, skipDuplicates bool, maxRetries int) *batchResult {
	started := time.Now()
	startedAt := started.UTC()
	batch.Status = models.BatchStatusRunning
	batch.StartedAt = &startedAt

	log := imp.logger.WithFields(logrus.Fields{
		"session_id":   session.ID.String(),
		"batch_number": batch.BatchNumber,
	})

	rows := make(map[int]*rowOutcome, len(records))
	req := &clients.BulkCreateProductsRequest{SkipDuplicates: skipDuplicates}
	var sent []int

	for _, rec := range records {
		values := MapRecord(rec, mappings)
		row := &rowOutcome{values: values}
		rows[rec.Index] = row

		product, err := BuildCatalogProduct(values, strconv.Itoa(rec.Index))
		if err != nil {
			row.code = rowErrorConversion
			row.message = err.Error()
			continue
		}
		req.Products = append(req.Products, product)
		sent = append(sent, rec.Index)
	}

	res := &batchResult{batch: batch}

	if len(req.Products) > 0 {
		resp, retries, err := imp.commit(ctx, session, req, maxRetries)
		batch.RetryCount = retries
		if err != nil {
			res.batchErr = models.NewImportError(models.ErrorKindImportExecution, models.CodeBatchFailed,
				fmt.Sprintf("batch %d failed after %d retries", batch.BatchNumber, retries)).
				WithRemediation("check the catalog service and re-run the import for the failed records").
				Wrap(err)
			batch.LastError = err.Error()
			for _, idx := range sent {
				rows[idx].code = models.CodeBatchFailed
				rows[idx].message = err.Error()
			}
			log.WithError(err).WithFields(logrus.Fields{
				"kind":    models.ErrorKindImportExecution,
				"code":    models.CodeBatchFailed,
				"retries": retries,
			}).Error("Batch failed")
		} else {
			applyBulkResults(resp, sent, rows)
		}
	}

	elapsed := time.Since(started)
	perRecord := elapsed.Milliseconds()
	if len(records) > 0 {
		perRecord /= int64(len(records))
	}

	history := make([]models.ImportHistory, 0, len(records))
	for _, rec := range records {
		row := rows[rec.Index]
		data, _ := json.Marshal(row.values)
		success := row.code == ""
		if success {
			res.successful++
		} else {
			res.failed++
		}
		history = append(history, models.ImportHistory{
			SessionID:        session.ID,
			TenantID:         session.TenantID,
			BatchNumber:      batch.BatchNumber,
			RecordIndex:      rec.Index,
			Data:             datatypes.JSON(data),
			ValidationRules:  pq.StringArray(warnings[rec.Index]),
			EntityID:         row.entityID,
			Success:          success,
			ErrorCode:        row.code,
			ErrorMessage:     row.message,
			ProcessingTimeMs: perRecord,
			RetryCount:       batch.RetryCount,
		})
	}

	if err := imp.imports.AppendHistory(ctx, history); err != nil {
		res.storageErr = err
	}

	completedAt := time.Now().UTC()
	batch.CompletedAt = &completedAt
	batch.SuccessCount = res.successful
	batch.FailureCount = res.failed
	if res.batchErr != nil {
		batch.Status = models.BatchStatusFailed
	} else {
		batch.Status = models.BatchStatusSucceeded
	}

	metrics.BatchDuration.Observe(elapsed.Seconds())
	log.WithFields(logrus.Fields{
		"successful":  res.successful,
		"failed":      res.failed,
		"retries":     batch.RetryCount,
		"duration_ms": elapsed.Milliseconds(),
	}).Debug("Batch finished")

	return res
}

// commit calls the sink, retrying whole-batch infrastructure failures with
// exponential backoff. It returns the number of retries used.
func (imp *Importer) commit(ctx context.Context, session *models.UploadSession, req *clients.BulkCreateProductsRequest, maxRetries int) (*clients.BulkCreateProductsResponse, int, error) {
	for retry := 0; ; retry++ {
		resp, err := imp.sink.BulkCreate(ctx, session.TenantID, session.UserID, req)
		if err == nil {
			return resp, retry, nil
		}

		var catalogErr *clients.CatalogError
		if !errors.As(err, &catalogErr) || !catalogErr.Retryable || retry >= maxRetries {
			return nil, retry, err
		}

		metrics.BatchRetries.Inc()
		backoff := imp.cfg.BaseBackoff << retry
		imp.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": session.ID.String(),
			"retry":      retry + 1,
			"backoff_ms": backoff.Milliseconds(),
			"kind":       models.ErrorKindNetwork,
		}).Warn("Retrying batch after infrastructure failure")

		if err := imp.sleep(ctx, backoff); err != nil {
			return nil, retry, err
		}
	}
}

// applyBulkResults matches per-item results back to records by external id,
// falling back to the item position
func applyBulkResults(resp *clients.BulkCreateProductsResponse, sent []int, rows map[int]*rowOutcome) {
	seen := make(map[int]bool, len(sent))
	for _, item := range resp.Results {
		idx := -1
		if item.ExternalID != nil {
			if n, err := strconv.Atoi(*item.ExternalID); err == nil {
				idx = n
			}
		}
		if _, ok := rows[idx]; !ok {
			if item.Index < 0 || item.Index >= len(sent) {
				continue
			}
			idx = sent[item.Index]
		}
		seen[idx] = true

		row := rows[idx]
		if item.Success {
			if item.Data != nil && item.Data.ID != "" {
				id := item.Data.ID
				row.entityID = &id
			}
			continue
		}
		row.code = "CREATE_FAILED"
		row.message = "catalog rejected the record"
		if item.Error != nil {
			row.code = item.Error.Code
			row.message = item.Error.Message
		}
	}

	for _, idx := range sent {
		if !seen[idx] {
			rows[idx].code = rowErrorNoResult
			rows[idx].message = "catalog returned no result for the record"
		}
	}
}

func warningRulesByRecord(errs []models.ValidationError) map[int][]string {
	out := make(map[int][]string)
	for _, e := range errs {
		if e.Severity == models.SeverityWarning && e.RecordIndex >= 0 {
			out[e.RecordIndex] = append(out[e.RecordIndex], e.RuleID)
		}
	}
	return out
}

func storageFailure(message string, err error) *models.ImportError {
	return models.NewImportError(models.ErrorKindSystem, models.CodeStorageFailure, message).Wrap(err)
}

// batchSequencer applies batch results strictly in batch-number order
type batchSequencer struct {
	mu       sync.Mutex
	next     int
	pending  map[int]*batchResult
	apply    func(*batchResult) error
	firstErr *models.ImportError
}

func newBatchSequencer(apply func(*batchResult) error) *batchSequencer {
	return &batchSequencer{next: 1, pending: make(map[int]*batchResult), apply: apply}
}

func (s *batchSequencer) complete(res *batchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending[res.batch.BatchNumber] = res
	for {
		ready, ok := s.pending[s.next]
		if !ok {
			return
		}
		delete(s.pending, s.next)
		s.next++
		if s.firstErr != nil {
			continue
		}
		if err := s.apply(ready); err != nil {
			if ie, ok := err.(*models.ImportError); ok {
				s.firstErr = ie
			} else {
				s.firstErr = storageFailure("failed to apply batch result", err)
			}
		}
	}
}

func (s *batchSequencer) fail(err *models.ImportError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr == nil {
		s.firstErr = err
	}
}

func (s *batchSequencer) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr != nil
}

func (s *batchSequencer) err() *models.ImportError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}
