package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// UpdateMappings applies manual mapping changes. An empty target removes the
// source's mapping. A target already held by another source moves to the new
// source and the displaced source becomes unmapped.
func (s *SessionService) UpdateMappings(ctx context.Context, tenantID string, id uuid.UUID, updates []models.FieldMapping) (*models.UploadSession, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "edit mappings", models.SessionStatusMapping, models.SessionStatusPreviewing); err != nil {
		return nil, err
	}
	if err := s.applyManualMappings(session, updates); err != nil {
		return nil, err
	}

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusPreviewing {
		err = s.moveTo(ctx, session, models.SessionStatusMapping)
	} else {
		err = s.save(ctx, session)
	}
	if err != nil {
		return nil, err
	}
	s.publishValidation(ctx, session, summary)

	s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"updates":    len(updates),
		"confidence": session.AggregateConfidence,
	}).Info("Mappings updated")
	return session, nil
}

// ConfirmMappings commits the current mappings. Risky imports go to approval;
// otherwise a session without validation errors moves to preview.
func (s *SessionService) ConfirmMappings(ctx context.Context, tenantID string, id uuid.UUID) (*models.UploadSession, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := requireStatus(session, "confirm mappings", models.SessionStatusMapping); err != nil {
		return nil, err
	}

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	session.MappingsConfirmed = true
	// Feedback is learned from the first confirmation only. The flag is
	// persisted with the transition so a lost race records nothing.
	firstConfirm := !session.FeedbackRecorded
	session.FeedbackRecorded = true

	log := s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"tenant_id":  session.TenantID,
	})

	if reasons, conflicted := s.approvalReasons(session); len(reasons) > 0 {
		session.RequiresApproval = true
		session.Approved = false
		session.RiskLevel = riskLevel(session.AggregateConfidence, conflicted)
		if err := s.moveTo(ctx, session, models.SessionStatusAwaitingApproval); err != nil {
			return nil, err
		}
		if firstConfirm {
			s.writeBack(ctx, session)
		}
		s.requestApproval(ctx, session, reasons)
		log.WithFields(logrus.Fields{
			"risk_level": session.RiskLevel,
			"reasons":    reasons,
		}).Info("Import requires approval")
		s.publishValidation(ctx, session, summary)
		return session, nil
	}

	session.RequiresApproval = false
	if summary.ErrorCount == 0 {
		err = s.moveTo(ctx, session, models.SessionStatusPreviewing)
	} else {
		err = s.save(ctx, session)
	}
	if err != nil {
		return nil, err
	}
	if firstConfirm {
		s.writeBack(ctx, session)
	}
	s.publishValidation(ctx, session, summary)

	log.WithFields(logrus.Fields{
		"status": session.Status,
		"errors": summary.ErrorCount,
	}).Info("Mappings confirmed")
	return session, nil
}

// RecordApprovalDecision applies a decision to a session awaiting approval
func (s *SessionService) RecordApprovalDecision(ctx context.Context, tenantID string, id uuid.UUID, decision models.ApprovalDecision) (*models.UploadSession, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := s.applyDecision(ctx, session, decision); err != nil {
		return nil, err
	}
	return session, nil
}

// HandleApprovalDecision applies a decision delivered by the approval service
func (s *SessionService) HandleApprovalDecision(ctx context.Context, decision models.ApprovalDecision) error {
	if decision.ApprovalRequestID == "" {
		return errors.New("approval decision has no approval request id")
	}
	found, err := s.sessions.FindByApprovalRequestID(ctx, decision.ApprovalRequestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to find session for approval: %w", err)
	}

	unlock := s.locks.Lock(found.ID.String())
	defer unlock()

	session, err := s.load(ctx, "", found.ID)
	if err != nil {
		return err
	}
	return s.applyDecision(ctx, session, decision)
}

func (s *SessionService) applyDecision(ctx context.Context, session *models.UploadSession, decision models.ApprovalDecision) error {
	if err := requireStatus(session, "record an approval decision", models.SessionStatusAwaitingApproval); err != nil {
		return err
	}

	log := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID.String(),
		"approved":   decision.Approved,
		"overrides":  len(decision.Overrides),
		"decided_by": decision.DecidedBy,
	})

	if decision.Approved {
		if len(decision.Overrides) > 0 {
			if err := s.applyManualMappings(session, decision.Overrides); err != nil {
				return err
			}
			s.recordOverrides(ctx, session, decision.Overrides)
		}
		session.MappingsConfirmed = true
		session.Approved = true

		summary, err := s.revalidate(ctx, session)
		if err != nil {
			return err
		}
		if summary.ErrorCount == 0 {
			err = s.moveTo(ctx, session, models.SessionStatusPreviewing)
		} else {
			err = s.save(ctx, session)
		}
		if err != nil {
			return err
		}
		s.publishValidation(ctx, session, summary)
		log.Info("Import approved")
		return nil
	}

	if len(decision.Overrides) > 0 {
		if err := s.applyManualMappings(session, decision.Overrides); err != nil {
			return err
		}
		session.RequiresApproval = false
		session.Approved = false

		summary, err := s.revalidate(ctx, session)
		if err != nil {
			return err
		}
		if err := s.moveTo(ctx, session, models.SessionStatusMapping); err != nil {
			return err
		}
		s.publishValidation(ctx, session, summary)
		log.Info("Import rejected with mapping corrections; back to mapping review")
		return nil
	}

	message := "the import was rejected by an approver"
	if decision.Reasoning != "" {
		message = fmt.Sprintf("%s: %s", message, decision.Reasoning)
	}
	cause := models.NewImportError(models.ErrorKindFieldMapping, models.CodeApprovalRejected, message).
		WithRemediation("review the mappings with the approver and upload the file again")
	if err := s.finish(ctx, session, models.SessionStatusCancelled, cause, true); err != nil {
		return err
	}
	log.Info("Import rejected")
	return nil
}

// ApplyFixes applies suggested auto-fixes and manual edits to the raw records,
// then revalidates. An empty request applies every available fix.
func (s *SessionService) ApplyFixes(ctx context.Context, tenantID string, id uuid.UUID, req models.FixRequest) (*models.ValidationSummary, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(session, "apply fixes"); err != nil {
		return nil, err
	}

	stored, err := s.sessions.ListRecords(ctx, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load session records: %w", err)
	}
	values := make(map[int]map[string]string, len(stored))
	for i := range stored {
		values[stored[i].RecordIndex] = stored[i].Values()
	}

	known := make(map[string]bool)
	for _, f := range session.GetSourceFields() {
		known[f.Name] = true
	}
	for _, edit := range req.Edits {
		if _, ok := values[edit.RecordIndex]; !ok {
			return nil, models.NewImportError(models.ErrorKindDataValidation, models.CodeUnknownRecord,
				fmt.Sprintf("record %d does not exist or is skipped", edit.RecordIndex))
		}
		if !known[edit.SourceField] {
			return nil, models.NewImportError(models.ErrorKindDataValidation, models.CodeUnknownSource,
				fmt.Sprintf("column %q is not part of the upload", edit.SourceField))
		}
	}

	dirty := make(map[int]bool)
	applied := 0
	if len(req.Edits) == 0 || len(req.RecordIndexes) > 0 || len(req.RuleIDs) > 0 {
		applied = s.applyAutoFixes(session, values, dirty, req.RecordIndexes, req.RuleIDs)
	}
	for _, edit := range req.Edits {
		values[edit.RecordIndex][edit.SourceField] = edit.Value
		dirty[edit.RecordIndex] = true
	}

	indexes := make([]int, 0, len(dirty))
	for idx := range dirty {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		if err := s.sessions.UpdateRecordValues(ctx, id, idx, values[idx]); err != nil {
			return nil, fmt.Errorf("failed to store record %d: %w", idx, err)
		}
	}

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.maybeAdvance(ctx, session); err != nil {
		return nil, err
	}
	s.publishValidation(ctx, session, summary)

	s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"fixes":      applied,
		"edits":      len(req.Edits),
		"errors":     summary.ErrorCount,
	}).Info("Fixes applied")
	return &summary, nil
}

// applyAutoFixes applies the selected fixes of the last validation run in
// order, so several fixes on one cell compose
func (s *SessionService) applyAutoFixes(session *models.UploadSession, values map[int]map[string]string, dirty map[int]bool, recordIndexes []int, ruleIDs []string) int {
	byIndex := make(map[int]bool, len(recordIndexes))
	for _, idx := range recordIndexes {
		byIndex[idx] = true
	}
	byRule := make(map[string]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		byRule[id] = true
	}

	schema := s.validator.Schema()
	applied := 0
	for _, finding := range session.GetValidationErrors() {
		if finding.AutoFix == nil || finding.RecordIndex < 0 || finding.SourceField == "" {
			continue
		}
		if len(byIndex) > 0 && !byIndex[finding.RecordIndex] {
			continue
		}
		if len(byRule) > 0 && !byRule[finding.RuleID] {
			continue
		}
		record, ok := values[finding.RecordIndex]
		if !ok {
			continue
		}
		field, ok := schema.Field(finding.Field)
		if !ok {
			continue
		}
		fixed, ok := ApplyFixAction(field, finding.AutoFix.Action, record[finding.SourceField])
		if !ok {
			continue
		}
		record[finding.SourceField] = fixed
		dirty[finding.RecordIndex] = true
		applied++
	}
	return applied
}

// SkipRecords excludes records from validation and import
func (s *SessionService) SkipRecords(ctx context.Context, tenantID string, id uuid.UUID, indexes []int) (*models.ValidationSummary, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	session, err := s.load(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := checkEditable(session, "skip records"); err != nil {
		return nil, err
	}

	skipped, err := s.sessions.MarkRecordsSkipped(ctx, id, indexes)
	if err != nil {
		return nil, fmt.Errorf("failed to skip records: %w", err)
	}
	session.SkippedRecords += int(skipped)

	summary, err := s.revalidate(ctx, session)
	if err != nil {
		return nil, err
	}
	if err := s.maybeAdvance(ctx, session); err != nil {
		return nil, err
	}
	s.publishValidation(ctx, session, summary)

	s.logger.WithFields(logrus.Fields{
		"session_id": id.String(),
		"skipped":    skipped,
		"errors":     summary.ErrorCount,
	}).Info("Records skipped")
	return &summary, nil
}

// checkEditable allows record changes during review, and after approval
func checkEditable(session *models.UploadSession, operation string) error {
	if session.Status == models.SessionStatusAwaitingApproval && session.Approved {
		return nil
	}
	return requireStatus(session, operation, models.SessionStatusMapping, models.SessionStatusPreviewing)
}

// maybeAdvance moves a reviewed session without errors to preview
func (s *SessionService) maybeAdvance(ctx context.Context, session *models.UploadSession) error {
	ready := session.ErrorCount == 0 &&
		((session.Status == models.SessionStatusMapping && session.MappingsConfirmed) ||
			(session.Status == models.SessionStatusAwaitingApproval && session.Approved))
	if ready {
		return s.moveTo(ctx, session, models.SessionStatusPreviewing)
	}
	return s.save(ctx, session)
}

// applyManualMappings validates every update before changing the session
func (s *SessionService) applyManualMappings(session *models.UploadSession, updates []models.FieldMapping) error {
	schema := s.validator.Schema()
	sources := session.GetSourceFields()
	known := make(map[string]bool, len(sources))
	for _, f := range sources {
		known[f.Name] = true
	}

	claimed := make(map[string]string)
	inRequest := make(map[string]bool)
	normalized := make([]models.FieldMapping, 0, len(updates))
	for _, u := range updates {
		if !known[u.SourceField] {
			return models.NewImportError(models.ErrorKindFieldMapping, models.CodeUnknownSource,
				fmt.Sprintf("column %q is not part of the upload", u.SourceField))
		}
		target := strings.TrimSpace(u.TargetField)
		if target != "" {
			field, ok := schema.Field(target)
			if !ok {
				return models.NewImportError(models.ErrorKindFieldMapping, models.CodeUnknownTarget,
					fmt.Sprintf("%q is not a catalog field", target))
			}
			target = field.Name
			if other, dup := claimed[target]; dup && other != u.SourceField {
				return models.NewImportError(models.ErrorKindFieldMapping, models.CodeDuplicateTarget,
					fmt.Sprintf("%q and %q both map to %s", other, u.SourceField, target))
			}
			claimed[target] = u.SourceField
		}
		u.TargetField = target
		inRequest[u.SourceField] = true
		normalized = append(normalized, u)
	}

	candidates := make(map[string][]models.FieldMapping)
	for _, f := range session.GetCandidates() {
		candidates[f.SourceField] = f.Candidates
	}
	bySource := make(map[string]models.FieldMapping)
	for _, m := range session.GetMappings() {
		bySource[m.SourceField] = m
	}
	unmapped := make(map[string]models.UnmappedField)
	for _, u := range session.GetUnmapped() {
		unmapped[u.SourceField] = u
	}
	conflicts := session.GetConflicts()

	for _, u := range normalized {
		delete(bySource, u.SourceField)
		if u.TargetField == "" {
			unmapped[u.SourceField] = models.UnmappedField{
				SourceField:  u.SourceField,
				Reason:       models.UnmappedRemoved,
				Alternatives: candidates[u.SourceField],
			}
			continue
		}

		for src, m := range bySource {
			if m.TargetField != u.TargetField {
				continue
			}
			delete(bySource, src)
			if inRequest[src] {
				continue
			}
			unmapped[src] = models.UnmappedField{
				SourceField:  src,
				Reason:       models.UnmappedConflict,
				Alternatives: candidates[src],
			}
			conflicts = append(conflicts, models.MappingConflict{
				TargetField:      u.TargetField,
				WinnerSource:     u.SourceField,
				WinnerConfidence: ManualConfidence,
				LoserSource:      src,
				LoserConfidence:  m.Confidence,
			})
		}

		delete(unmapped, u.SourceField)
		bySource[u.SourceField] = manualMapping(u, candidates[u.SourceField])
	}

	mappings := make([]models.FieldMapping, 0, len(bySource))
	unmappedList := make([]models.UnmappedField, 0, len(unmapped))
	for _, f := range sources {
		if m, ok := bySource[f.Name]; ok {
			mappings = append(mappings, m)
		}
		if u, ok := unmapped[f.Name]; ok {
			unmappedList = append(unmappedList, u)
		}
	}

	session.SetMappings(mappings)
	session.SetUnmapped(unmappedList)
	session.SetConflicts(conflicts)
	session.AggregateConfidence = meanConfidence(mappings)
	session.MappingsConfirmed = false
	return nil
}

// manualMapping keeps the strategy of a matching candidate, if any
func manualMapping(update models.FieldMapping, candidates []models.FieldMapping) models.FieldMapping {
	mapping := models.FieldMapping{
		SourceField:     update.SourceField,
		TargetField:     update.TargetField,
		Confidence:      ManualConfidence,
		Strategy:        models.StrategyExact,
		IsManual:        true,
		Transformations: update.Transformations,
		Rationale:       "set manually",
	}
	for _, c := range candidates {
		if c.TargetField != update.TargetField {
			continue
		}
		mapping.Strategy = c.Strategy
		if len(mapping.Transformations) == 0 {
			mapping.Transformations = c.Transformations
		}
		break
	}
	return mapping
}

func meanConfidence(mappings []models.FieldMapping) int {
	n := len(mappings)
	if n == 0 {
		return 0
	}
	sum := 0
	for _, m := range mappings {
		sum += m.Confidence
	}
	return (sum + n/2) / n
}

// approvalReasons lists why the session needs approval. conflicted is set
// when unresolved target conflicts remain.
func (s *SessionService) approvalReasons(session *models.UploadSession) (reasons []string, conflicted bool) {
	if session.AggregateConfidence < s.cfg.ApprovalConfidenceThreshold {
		reasons = append(reasons, fmt.Sprintf("mapping confidence %d is below %d",
			session.AggregateConfidence, s.cfg.ApprovalConfidenceThreshold))
	}

	current := make(map[string]models.FieldMapping)
	byTarget := make(map[string]models.FieldMapping)
	for _, m := range session.GetMappings() {
		current[m.SourceField] = m
		byTarget[m.TargetField] = m
	}

	openConflicts := 0
	for _, c := range session.GetConflicts() {
		if holder, ok := byTarget[c.TargetField]; ok && holder.IsManual {
			continue
		}
		if loser, ok := current[c.LoserSource]; ok && loser.IsManual {
			continue
		}
		openConflicts++
	}
	if openConflicts > 0 {
		conflicted = true
		reasons = append(reasons, fmt.Sprintf("%d unresolved mapping conflicts", openConflicts))
	}

	ambiguous := 0
	for _, f := range session.GetCandidates() {
		if !f.Ambiguous {
			continue
		}
		if m, ok := current[f.SourceField]; ok && !m.IsManual {
			ambiguous++
		}
	}
	if ambiguous > 0 {
		reasons = append(reasons, fmt.Sprintf("%d ambiguous mappings", ambiguous))
	}

	if records := session.TotalRecords - session.SkippedRecords; records > s.cfg.ApprovalRecordThreshold {
		reasons = append(reasons, fmt.Sprintf("%d records exceed the review threshold of %d",
			records, s.cfg.ApprovalRecordThreshold))
	}
	return reasons, conflicted
}

func riskLevel(confidence int, conflicted bool) models.RiskLevel {
	level := models.RiskLevelLow
	switch {
	case confidence < 50:
		level = models.RiskLevelHigh
	case confidence < 70:
		level = models.RiskLevelMedium
	}
	if conflicted {
		level = level.Raise()
	}
	return level
}

// requestApproval opens the approval request. A failure leaves the session
// waiting; a decision can still be recorded through the API.
func (s *SessionService) requestApproval(ctx context.Context, session *models.UploadSession, reasons []string) {
	if s.approvals == nil {
		return
	}
	log := s.logger.WithField("session_id", session.ID.String())

	req := &clients.CreateApprovalRequest{
		WorkflowName:  clients.ImportApprovalWorkflow,
		ActionType:    clients.ImportApprovalActionType,
		ResourceType:  clients.ImportApprovalResourceType,
		ResourceID:    session.ID.String(),
		ResourceRef:   session.FileName,
		RequestedByID: session.UserID,
		Reason:        strings.Join(reasons, "; "),
		ActionData: map[string]any{
			"sessionId":    session.ID.String(),
			"fileName":     session.FileName,
			"riskLevel":    session.RiskLevel,
			"confidence":   session.AggregateConfidence,
			"totalRecords": session.TotalRecords - session.SkippedRecords,
			"mappings":     session.GetMappings(),
		},
	}

	resp, err := s.approvals.CreateApprovalRequest(ctx, req, session.TenantID, session.UserID)
	if err == nil && (resp == nil || resp.Data == nil || resp.Data.ID == "") {
		err = errors.New("approval service returned no request id")
	}
	if err != nil {
		cause := models.NewImportError(models.ErrorKindNetwork, models.CodeApprovalRequest, "could not open an approval request").
			WithRemediation("an approver can still decide through the session approval endpoint").
			Wrap(err)
		log.WithError(err).WithField("kind", cause.Kind).Warn("Failed to create approval request")
		session.AppendError(cause)
		if err := s.save(ctx, session); err != nil {
			log.WithError(err).Error("Failed to record approval request failure")
		}
		return
	}

	approvalID := resp.Data.ID
	session.ApprovalRequestID = &approvalID
	if err := s.save(ctx, session); err != nil {
		log.WithError(err).Error("Failed to store approval request id")
		return
	}
	log.WithField("approval_id", approvalID).Info("Approval request created")
}

// writeBack records mapping feedback at commit time. Suggestions are accepted
// when the committed mapping kept them; manual choices are stored as accepted.
func (s *SessionService) writeBack(ctx context.Context, session *models.UploadSession) {
	if s.recorder == nil {
		return
	}
	committed := make(map[string]models.FieldMapping)
	mappings := session.GetMappings()
	for _, m := range mappings {
		committed[m.SourceField] = m
	}

	kept := make(map[string]bool)
	for _, sm := range session.GetSuggestedMappings() {
		accepted := committed[sm.SourceField].TargetField == sm.TargetField
		s.recorder.Record(ctx, session.TenantID, sm.SourceField, sm.TargetField, sm.Strategy, sm.Confidence, accepted)
		if accepted {
			kept[sm.SourceField] = true
		}
	}
	for _, m := range mappings {
		if m.IsManual && !kept[m.SourceField] {
			s.recorder.Record(ctx, session.TenantID, m.SourceField, m.TargetField, m.Strategy, ManualConfidence, true)
		}
	}
}

func (s *SessionService) recordOverrides(ctx context.Context, session *models.UploadSession, overrides []models.FieldMapping) {
	if s.recorder == nil {
		return
	}
	current := make(map[string]models.FieldMapping)
	for _, m := range session.GetMappings() {
		current[m.SourceField] = m
	}
	for _, o := range overrides {
		if m, ok := current[o.SourceField]; ok {
			s.recorder.Record(ctx, session.TenantID, m.SourceField, m.TargetField, m.Strategy, ManualConfidence, true)
		}
	}
}
