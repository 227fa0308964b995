package services

import (
	"context"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// StartImport revalidates a previewed session and starts the batch import in
// the background. Options given here override the ones stored at upload.
func (s *SessionService) StartImport(ctx context.Context, tenantID string, id uuid.UUID, opts *models.ImportOptions) (*models.UploadSession, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "start the import", models.SessionStatusPreviewing); err != nil {
		return nil, err
	}

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if summary.ErrorCount > 0 {
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
		s.publishValidation(ctx, session, summary)
		return nil, models.NewImportError(models.ErrorKindDataValidation, models.CodeValidationFailed,
			fmt.Sprintf("%d validation errors must be resolved before importing", summary.ErrorCount)).
			WithRemediation("apply the suggested fixes or skip the affected records")
	}

	if opts != nil {
		session.SetOptions(mergeOptions(session.GetOptions(), *opts))
	}
	now := time.Now().UTC()
	session.StartedAt = &now
	if err := s.moveTo(ctx, session, models.SessionStatusImporting); err != nil {
		return nil, err
	}

	run := *session
	s.runs.Add(1)
	s.setRunning(id, true)
	go s.runImport(&run)

	s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"records":    session.TotalRecords - session.SkippedRecords,
	}).Info("Import started")
	return session, nil
}

func mergeOptions(base, override models.ImportOptions) models.ImportOptions {
	if override.BatchSize > 0 {
		base.BatchSize = override.BatchSize
	}
	if override.MaxRetries != nil {
		base.MaxRetries = override.MaxRetries
	}
	if override.FailureTolerance != nil {
		base.FailureTolerance = override.FailureTolerance
	}
	base.SkipDuplicates = base.SkipDuplicates || override.SkipDuplicates
	base.StrictMode = base.StrictMode || override.StrictMode
	return base
}

func (s *SessionService) runImport(session *models.UploadSession) {
	defer s.runs.Done()
	defer s.setRunning(session.ID, false)

	outcome := s.importer.Run(s.runCtx, session)

	ctx := context.WithoutCancel(s.runCtx)
	if err := s.FinalizeImport(ctx, session.ID, outcome); err != nil {
		s.logger.WithError(err).WithField("session_id", session.ID.String()).Error("Failed to finalize import")
	}
}

// FinalizeImport records the outcome of an importer run and moves the session
// to its terminal status. A session cancelled during the run stays cancelled.
func (s *SessionService) FinalizeImport(ctx context.Context, id uuid.UUID, outcome *ImportOutcome) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, "", id)
	if err != nil {
		return err
	}
	for _, batchErr := range outcome.BatchErrors {
		session.AppendError(batchErr)
	}

	log := s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"processed":  session.ProcessedRecords,
		"successful": session.SuccessfulRecords,
		"failed":     session.FailedRecords,
	})

	switch session.Status {
	case models.SessionStatusCancelled:
		if err := s.save(ctx, session); err != nil {
			return err
		}
		s.publishTerminal(ctx, session, nil)
		log.Info("Cancelled import drained")
		return nil
	case models.SessionStatusImporting:
	default:
		log.WithField("status", session.Status).Warn("Import finished for a session that is no longer importing")
		return nil
	}

	to := models.SessionStatusCompleted
	var cause *models.ImportError
	switch {
	case outcome.Err != nil:
		to, cause = models.SessionStatusFailed, outcome.Err
	case outcome.Cancelled:
		to = models.SessionStatusFailed
		cause = models.NewImportError(models.ErrorKindSystem, models.CodeImportInterrupted,
			"the import stopped before all batches ran").
			WithRemediation("start a new import session for the records that were not processed")
	case s.exceedsTolerance(session):
		to = models.SessionStatusFailed
		cause = models.NewImportError(models.ErrorKindImportExecution, models.CodeToleranceExceeded,
			fmt.Sprintf("%d of %d records failed", session.FailedRecords, session.ProcessedRecords)).
			WithRemediation("download the error report, correct the failed records and import them again")
	}

	if err := s.finish(ctx, session, to, cause, true); err != nil {
		return err
	}
	log.WithField("status", to).Info("Import finished")
	return nil
}

func (s *SessionService) exceedsTolerance(session *models.UploadSession) bool {
	if session.ProcessedRecords == 0 || session.FailedRecords == 0 {
		return false
	}
	opts := session.GetOptions()
	tolerance := s.cfg.FailureTolerance
	switch {
	case opts.StrictMode:
		tolerance = 0
	case opts.FailureTolerance != nil:
		tolerance = *opts.FailureTolerance
	}
	return float64(session.FailedRecords)/float64(session.ProcessedRecords) > tolerance
}
