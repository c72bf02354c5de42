package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"standings/internal/cache"
	"standings/internal/config"
	"standings/internal/models"
	"standings/internal/notifications"
	"standings/internal/observability"
	"standings/internal/repository"
)

// Notifier delivers a message to a user. Delivery failures are logged, never returned to callers.
type Notifier interface {
	Notify(ctx context.Context, userID uint, note notifications.Notification) error
}

// SyncTrigger schedules contact sync after the approved standings changed.
type SyncTrigger interface {
	TriggerSync(ctx context.Context, ref models.EntityRef)
}

// nameLookupTimeout bounds the name lookup in a decision notice. A slower lookup leaves the raw id.
const nameLookupTimeout = 2 * time.Second

// NameResolver maps entity ids to display names.
type NameResolver interface {
	Names(ctx context.Context, ids []int64) map[int64]string
}

// WorkflowService owns the lifecycle of standing requests and revocations. Every approval or
// rejection locks the proposal, mutates the standings and writes its audit entry in one
// transaction; notifications and sync are triggered after commit.
type WorkflowService struct {
	repos     *repository.Repositories
	validator *Validator
	settings  config.Settings
	notifier  Notifier
	sync      SyncTrigger
	names     NameResolver
	nameWait  time.Duration
	now       func() time.Time
}

// NewWorkflowService returns a new WorkflowService. notifier, sync and names may be nil.
func NewWorkflowService(
	repos *repository.Repositories,
	validator *Validator,
	settings config.Settings,
	notifier Notifier,
	sync SyncTrigger,
	names NameResolver,
) *WorkflowService {
	return &WorkflowService{
		repos:     repos,
		validator: validator,
		settings:  settings,
		notifier:  notifier,
		sync:      sync,
		names:     names,
		nameWait:  nameLookupTimeout,
		now:       time.Now,
	}
}

// SubmitRequest opens a pending request for ref. A nil standing uses the configured default.
func (s *WorkflowService) SubmitRequest(ctx context.Context, userID uint, ref models.EntityRef, standing *float64) (*models.StandingRequest, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	value := s.settings.DefaultStanding
	if standing != nil {
		value = *standing
	}
	if !s.settings.StandingInRange(value) {
		return nil, models.NewValidationError(fmt.Sprintf("standing must be between %.0f and %.0f", config.MinStanding, config.MaxStanding))
	}

	if err := s.validator.CanRequest(ctx, userID, ref); err != nil {
		return nil, err
	}

	exists, err := s.repos.Standings.Exists(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, models.NewConflictError(fmt.Sprintf("%s already has a standing", ref))
	}
	pending, err := s.repos.Requests.PendingForEntity(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, models.NewConflictError(fmt.Sprintf("a standing request for %s is already pending", ref))
	}

	req := &models.StandingRequest{
		EntityID:          ref.ID,
		EntityType:        ref.Type,
		RequestedStanding: value,
		RequestedByUserID: userID,
		State:             models.RequestStatePending,
	}
	// The partial unique index rejects a concurrent duplicate with CONFLICT.
	if err := s.repos.Requests.Create(ctx, req); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "standing request submitted", "request_id", req.ID, "entity", ref.String(), "user_id", userID)
	return req, nil
}

// ApproveRequest approves a pending request and creates or updates the entity's standing.
func (s *WorkflowService) ApproveRequest(ctx context.Context, approverID, requestID uint, note string) (Outcome, error) {
	if err := s.requirePermission(ctx, approverID, models.PermApproveStandings); err != nil {
		return failed(requestID, err)
	}

	var req *models.StandingRequest
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if req, err = tx.Requests.GetForUpdate(ctx, requestID); err != nil {
			return err
		}
		if req.State != models.RequestStatePending {
			return models.NewInvalidStateError(fmt.Sprintf("standing request %d is already %s", req.ID, req.State))
		}

		requester := req.RequestedByUserID
		if err := tx.Standings.Upsert(ctx, &models.StandingsEntry{
			EntityID:      req.EntityID,
			EntityType:    req.EntityType,
			Standing:      req.RequestedStanding,
			AddedByUserID: &requester,
			Notes:         note,
		}); err != nil {
			return err
		}

		req.State = models.RequestStateApproved
		req.ActionedByUserID, req.ActionedAt = s.actioned(approverID)
		req.Note = note
		if err := tx.Requests.Save(ctx, req); err != nil {
			return err
		}

		standing := req.RequestedStanding
		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditApproveRequest,
			ActorUserID:     &approverID,
			RequesterUserID: &requester,
			EntityID:        req.EntityID,
			EntityType:      req.EntityType,
			Standing:        &standing,
			Detail:          note,
		})
	})
	if err != nil {
		return failed(requestID, err)
	}

	s.afterDecision(ctx, models.AuditApproveRequest, req.Ref(), true)
	s.notify(ctx, req.RequestedByUserID, notifications.Notification{
		Kind:     notifications.KindRequestApproved,
		Title:    "Standing request approved",
		Message:  fmt.Sprintf("Your standing request for %s (%s) has been approved with standing %s.", s.displayName(ctx, req.EntityID), req.EntityType.Label(), formatStanding(req.RequestedStanding)),
		EntityID: req.EntityID,
	})

	return succeeded(req.ID, fmt.Sprintf("Approved standing %s for %s", formatStanding(req.RequestedStanding), req.Ref())), nil
}

// RejectRequest rejects a pending request. The note is passed on to the requester.
func (s *WorkflowService) RejectRequest(ctx context.Context, approverID, requestID uint, note string) (Outcome, error) {
	if err := s.requirePermission(ctx, approverID, models.PermApproveStandings); err != nil {
		return failed(requestID, err)
	}

	var req *models.StandingRequest
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if req, err = tx.Requests.GetForUpdate(ctx, requestID); err != nil {
			return err
		}
		if req.State != models.RequestStatePending {
			return models.NewInvalidStateError(fmt.Sprintf("standing request %d is already %s", req.ID, req.State))
		}

		req.State = models.RequestStateRejected
		req.ActionedByUserID, req.ActionedAt = s.actioned(approverID)
		req.Note = note
		if err := tx.Requests.Save(ctx, req); err != nil {
			return err
		}

		requester := req.RequestedByUserID
		standing := req.RequestedStanding
		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditRejectRequest,
			ActorUserID:     &approverID,
			RequesterUserID: &requester,
			EntityID:        req.EntityID,
			EntityType:      req.EntityType,
			Standing:        &standing,
			Detail:          note,
		})
	})
	if err != nil {
		return failed(requestID, err)
	}

	s.afterDecision(ctx, models.AuditRejectRequest, req.Ref(), false)
	msg := fmt.Sprintf("Your standing request for %s (%s) has been rejected.", s.displayName(ctx, req.EntityID), req.EntityType.Label())
	s.notify(ctx, req.RequestedByUserID, notifications.Notification{
		Kind:     notifications.KindRequestRejected,
		Title:    "Standing request rejected",
		Message:  withReason(msg, note),
		EntityID: req.EntityID,
	})

	return succeeded(req.ID, fmt.Sprintf("Rejected standing request for %s", req.Ref())), nil
}

// SubmitRevocation opens a pending revocation for an existing standing. Users may only propose
// removing their own character standings unless they manage standings.
func (s *WorkflowService) SubmitRevocation(ctx context.Context, userID uint, ref models.EntityRef, reason models.RevocationReason) (*models.StandingRevocation, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = models.RevocationReasonUserRequest
	}
	if !reason.Valid() {
		return nil, models.NewValidationError(fmt.Sprintf("unknown revocation reason %q", reason))
	}

	entry, err := s.repos.Standings.GetByEntityID(ctx, ref.ID)
	if err != nil {
		return nil, err
	}

	ok, err := s.repos.Users.HasPermission(ctx, userID, models.PermAddSyncedCharacter)
	if err != nil {
		return nil, err
	}
	manager, err := s.repos.Users.HasPermission(ctx, userID, models.PermManageStandings)
	if err != nil {
		return nil, err
	}
	if !ok && !manager {
		return nil, models.NewForbiddenError("You do not have permission to request standing removals")
	}
	if entry.EntityType == models.EntityTypeCharacter && !manager {
		char, err := s.repos.Characters.GetByID(ctx, entry.EntityID)
		if models.HasCode(err, models.CodeNotFound) || (err == nil && char.UserID != userID) {
			return nil, models.NewForbiddenError("You can only request removal of your own standings")
		}
		if err != nil {
			return nil, err
		}
	}

	rev, err := openRevocation(ctx, s.repos, entry.Ref(), reason, &userID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "standing revocation submitted", "revocation_id", rev.ID, "entity", ref.String(), "user_id", userID)
	return rev, nil
}

// openRevocation creates a pending revocation. A nil requester marks it as system-initiated.
func openRevocation(ctx context.Context, repos *repository.Repositories, ref models.EntityRef, reason models.RevocationReason, requester *uint) (*models.StandingRevocation, error) {
	pending, err := repos.Revocations.PendingForEntity(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, models.NewConflictError(fmt.Sprintf("a revocation for %s is already pending", ref))
	}

	rev := &models.StandingRevocation{
		EntityID:          ref.ID,
		EntityType:        ref.Type,
		Reason:            reason,
		RequestedByUserID: requester,
		State:             models.RequestStatePending,
	}
	if err := repos.Revocations.Create(ctx, rev); err != nil {
		return nil, err
	}
	return rev, nil
}

// ApproveRevocation approves a pending revocation and removes the standing.
func (s *WorkflowService) ApproveRevocation(ctx context.Context, approverID, revocationID uint, note string) (Outcome, error) {
	if err := s.requirePermission(ctx, approverID, models.PermApproveStandings); err != nil {
		return failed(revocationID, err)
	}

	var rev *models.StandingRevocation
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if rev, err = tx.Revocations.GetForUpdate(ctx, revocationID); err != nil {
			return err
		}
		if rev.State != models.RequestStatePending {
			return models.NewInvalidStateError(fmt.Sprintf("revocation %d is already %s", rev.ID, rev.State))
		}

		removed, err := tx.Standings.DeleteByEntityID(ctx, rev.EntityID)
		if err != nil {
			return err
		}
		if !removed {
			slog.WarnContext(ctx, "approved revocation had no standing to remove", "revocation_id", rev.ID, "entity", rev.Ref().String())
		}

		rev.State = models.RequestStateApproved
		rev.ActionedByUserID, rev.ActionedAt = s.actioned(approverID)
		rev.Note = note
		if err := tx.Revocations.Save(ctx, rev); err != nil {
			return err
		}

		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditApproveRevocation,
			ActorUserID:     &approverID,
			RequesterUserID: rev.RequestedByUserID,
			EntityID:        rev.EntityID,
			EntityType:      rev.EntityType,
			Detail:          revocationDetail(rev.Reason, note),
		})
	})
	if err != nil {
		return failed(revocationID, err)
	}

	s.afterDecision(ctx, models.AuditApproveRevocation, rev.Ref(), true)
	if rev.RequestedByUserID != nil {
		s.notify(ctx, *rev.RequestedByUserID, notifications.Notification{
			Kind:     notifications.KindRevocationApproved,
			Title:    "Standing removal approved",
			Message:  fmt.Sprintf("Your request to remove the standing for %s (%s) has been approved.", s.displayName(ctx, rev.EntityID), rev.EntityType.Label()),
			EntityID: rev.EntityID,
		})
	}

	return succeeded(rev.ID, fmt.Sprintf("Removed standing for %s", rev.Ref())), nil
}

// RejectRevocation rejects a pending revocation. The standing stays in place.
func (s *WorkflowService) RejectRevocation(ctx context.Context, approverID, revocationID uint, note string) (Outcome, error) {
	if err := s.requirePermission(ctx, approverID, models.PermApproveStandings); err != nil {
		return failed(revocationID, err)
	}

	var rev *models.StandingRevocation
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if rev, err = tx.Revocations.GetForUpdate(ctx, revocationID); err != nil {
			return err
		}
		if rev.State != models.RequestStatePending {
			return models.NewInvalidStateError(fmt.Sprintf("revocation %d is already %s", rev.ID, rev.State))
		}

		rev.State = models.RequestStateRejected
		rev.ActionedByUserID, rev.ActionedAt = s.actioned(approverID)
		rev.Note = note
		if err := tx.Revocations.Save(ctx, rev); err != nil {
			return err
		}

		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditRejectRevocation,
			ActorUserID:     &approverID,
			RequesterUserID: rev.RequestedByUserID,
			EntityID:        rev.EntityID,
			EntityType:      rev.EntityType,
			Detail:          revocationDetail(rev.Reason, note),
		})
	})
	if err != nil {
		return failed(revocationID, err)
	}

	s.afterDecision(ctx, models.AuditRejectRevocation, rev.Ref(), false)
	if rev.RequestedByUserID != nil {
		msg := fmt.Sprintf("Your request to remove the standing for %s (%s) has been rejected. The standing will remain in place.", s.displayName(ctx, rev.EntityID), rev.EntityType.Label())
		s.notify(ctx, *rev.RequestedByUserID, notifications.Notification{
			Kind:     notifications.KindRevocationRejected,
			Title:    "Standing removal rejected",
			Message:  withReason(msg, note),
			EntityID: rev.EntityID,
		})
	}

	return succeeded(rev.ID, fmt.Sprintf("Kept standing for %s", rev.Ref())), nil
}

// BulkApproveRequests approves each request independently.
func (s *WorkflowService) BulkApproveRequests(ctx context.Context, approverID uint, ids []uint, note string) []Outcome {
	return bulk(ctx, "approve_request", ids, func(ctx context.Context, id uint) (Outcome, error) {
		return s.ApproveRequest(ctx, approverID, id, note)
	})
}

// BulkRejectRequests rejects each request independently.
func (s *WorkflowService) BulkRejectRequests(ctx context.Context, approverID uint, ids []uint, note string) []Outcome {
	return bulk(ctx, "reject_request", ids, func(ctx context.Context, id uint) (Outcome, error) {
		return s.RejectRequest(ctx, approverID, id, note)
	})
}

// BulkApproveRevocations approves each revocation independently.
func (s *WorkflowService) BulkApproveRevocations(ctx context.Context, approverID uint, ids []uint, note string) []Outcome {
	return bulk(ctx, "approve_revocation", ids, func(ctx context.Context, id uint) (Outcome, error) {
		return s.ApproveRevocation(ctx, approverID, id, note)
	})
}

// BulkRejectRevocations rejects each revocation independently.
func (s *WorkflowService) BulkRejectRevocations(ctx context.Context, approverID uint, ids []uint, note string) []Outcome {
	return bulk(ctx, "reject_revocation", ids, func(ctx context.Context, id uint) (Outcome, error) {
		return s.RejectRevocation(ctx, approverID, id, note)
	})
}

// AddStanding creates a standing directly, bypassing the request workflow.
func (s *WorkflowService) AddStanding(ctx context.Context, adminID uint, ref models.EntityRef, standing float64, notes string) (*models.StandingsEntry, error) {
	if err := s.requirePermission(ctx, adminID, models.PermManageStandings); err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if !s.settings.StandingInRange(standing) {
		return nil, models.NewValidationError(fmt.Sprintf("standing must be between %.0f and %.0f", config.MinStanding, config.MaxStanding))
	}

	entry := &models.StandingsEntry{
		EntityID:      ref.ID,
		EntityType:    ref.Type,
		Standing:      standing,
		AddedByUserID: &adminID,
		Notes:         notes,
	}
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if err := tx.Standings.Create(ctx, entry); err != nil {
			return err
		}
		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditAddStanding,
			ActorUserID:     &adminID,
			RequesterUserID: &adminID,
			EntityID:        ref.ID,
			EntityType:      ref.Type,
			Standing:        &standing,
			Detail:          notes,
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterDecision(ctx, models.AuditAddStanding, ref, true)
	return entry, nil
}

// RemoveStanding deletes a standing directly, bypassing the revocation workflow.
func (s *WorkflowService) RemoveStanding(ctx context.Context, adminID uint, entityID int64, notes string) error {
	if err := s.requirePermission(ctx, adminID, models.PermManageStandings); err != nil {
		return err
	}

	var entry *models.StandingsEntry
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		var err error
		if entry, err = tx.Standings.GetByEntityID(ctx, entityID); err != nil {
			return err
		}
		if _, err := tx.Standings.DeleteByEntityID(ctx, entityID); err != nil {
			return err
		}
		standing := entry.Standing
		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditRemoveStanding,
			ActorUserID:     &adminID,
			RequesterUserID: &adminID,
			EntityID:        entry.EntityID,
			EntityType:      entry.EntityType,
			Standing:        &standing,
			Detail:          notes,
		})
	})
	if err != nil {
		return err
	}

	s.afterDecision(ctx, models.AuditRemoveStanding, entry.Ref(), true)
	return nil
}

func (s *WorkflowService) requirePermission(ctx context.Context, userID uint, codename string) error {
	ok, err := s.repos.Users.HasPermission(ctx, userID, codename)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError(fmt.Sprintf("permission %s required", codename))
	}
	return nil
}

func (s *WorkflowService) actioned(approverID uint) (*uint, *time.Time) {
	now := s.now()
	return &approverID, &now
}

// afterDecision runs the post-commit side effects shared by every decision.
func (s *WorkflowService) afterDecision(ctx context.Context, action models.AuditAction, ref models.EntityRef, changed bool) {
	observability.WorkflowDecisions.WithLabelValues(string(action)).Inc()
	slog.InfoContext(ctx, "standings decision recorded", "action", action, "entity", ref.String())
	if !changed {
		return
	}
	cache.InvalidateStandings(ctx)
	if s.sync != nil {
		s.sync.TriggerSync(ctx, ref)
	}
}

func (s *WorkflowService) notify(ctx context.Context, userID uint, note notifications.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, note); err != nil {
		slog.WarnContext(ctx, "notification failed", "user_id", userID, "kind", note.Kind, "err", err)
	}
}

func (s *WorkflowService) displayName(ctx context.Context, entityID int64) string {
	if s.names == nil {
		return fmt.Sprint(entityID)
	}
	ctx, cancel := context.WithTimeout(ctx, s.nameWait)
	defer cancel()
	if name := s.names.Names(ctx, []int64{entityID})[entityID]; name != "" {
		return name
	}
	return fmt.Sprint(entityID)
}

func withReason(msg, note string) string {
	if note == "" {
		return msg
	}
	return msg + "\n\nReason: " + note
}

func revocationDetail(reason models.RevocationReason, note string) string {
	if note == "" {
		return "reason: " + string(reason)
	}
	return fmt.Sprintf("reason: %s; %s", reason, note)
}

func formatStanding(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
