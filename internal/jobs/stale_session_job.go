package jobs

import (
	"context"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const staleBatchLimit = 100

// StaleSessionFinder lists sessions that stopped moving
type StaleSessionFinder interface {
	FindStale(ctx context.Context, status models.SessionStatus, updatedBefore time.Time, limit int) ([]models.UploadSession, error)
}

// SessionExpirer ends an abandoned session
type SessionExpirer interface {
	ExpireSession(ctx context.Context, id uuid.UUID, code, message string) error
}

// StaleSessionJobConfig holds the idle limits of the job
type StaleSessionJobConfig struct {
	Interval        time.Duration
	StaleAfter      time.Duration
	ApprovalTimeout time.Duration
	// ImportStallAfter is how long an importing session may go without
	// progress before it is treated as interrupted
	ImportStallAfter time.Duration
}

// StaleSessionJob cancels sessions abandoned before import and fails imports
// whose importer went away
type StaleSessionJob struct {
	finder  StaleSessionFinder
	expirer SessionExpirer
	cfg     StaleSessionJobConfig
	logger  *logrus.Logger
	now     func() time.Time
	stopCh  chan struct{}
}

// NewStaleSessionJob creates a new stale session job
func NewStaleSessionJob(finder StaleSessionFinder, expirer SessionExpirer, cfg StaleSessionJobConfig, logger *logrus.Logger) *StaleSessionJob {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = 72 * time.Hour
	}
	if cfg.ImportStallAfter <= 0 {
		cfg.ImportStallAfter = time.Hour
	}
	return &StaleSessionJob{
		finder:  finder,
		expirer: expirer,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the job until Stop is called or the context ends
func (j *StaleSessionJob) Start(ctx context.Context) {
	j.logger.Info("Stale session job started")

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	j.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			j.RunOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("Stale session job stopped")
			return
		case <-ctx.Done():
			j.logger.Info("Stale session job context cancelled")
			return
		}
	}
}

// Stop signals the job to stop
func (j *StaleSessionJob) Stop() {
	close(j.stopCh)
}

// RunOnce expires every session idle past its limit and returns how many
// were ended
func (j *StaleSessionJob) RunOnce(ctx context.Context) int {
	j.logger.Debug("Running stale session check...")

	now := j.now()
	expired := 0
	for _, status := range []models.SessionStatus{
		models.SessionStatusInitiated,
		models.SessionStatusAnalyzing,
		models.SessionStatusMapping,
		models.SessionStatusPreviewing,
	} {
		expired += j.expire(ctx, status, now.Add(-j.cfg.StaleAfter), models.CodeSessionStale,
			fmt.Sprintf("session was idle for more than %s", j.cfg.StaleAfter))
	}
	expired += j.expire(ctx, models.SessionStatusAwaitingApproval, now.Add(-j.cfg.ApprovalTimeout), models.CodeApprovalTimeout,
		fmt.Sprintf("no approval decision arrived within %s", j.cfg.ApprovalTimeout))
	expired += j.expire(ctx, models.SessionStatusImporting, now.Add(-j.cfg.ImportStallAfter), models.CodeImportInterrupted,
		fmt.Sprintf("the import made no progress for more than %s", j.cfg.ImportStallAfter))

	if expired > 0 {
		j.logger.Infof("Expired %d stale import sessions", expired)
	}
	return expired
}

func (j *StaleSessionJob) expire(ctx context.Context, status models.SessionStatus, cutoff time.Time, code, message string) int {
	sessions, err := j.finder.FindStale(ctx, status, cutoff, staleBatchLimit)
	if err != nil {
		j.logger.Errorf("Failed to find stale %s sessions: %v", status, err)
		return 0
	}

	expired := 0
	for _, session := range sessions {
		if err := j.expirer.ExpireSession(ctx, session.ID, code, message); err != nil {
			j.logger.Errorf("Failed to expire session %s: %v", session.ID, err)
			continue
		}
		j.logger.WithFields(logrus.Fields{
			"session_id": session.ID.String(),
			"tenant_id":  session.TenantID,
			"status":     status,
		}).Info("Expired stale import session")
		expired++
	}
	return expired
}
