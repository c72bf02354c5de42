package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"standings/internal/config"
	"standings/internal/contacts"
	"standings/internal/esi"
	"standings/internal/models"
	"standings/internal/notifications"
	"standings/internal/observability"
	"standings/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTriggerDelay = 2 * time.Second
	maxStoredErrorLen   = 500
)

// ContactClient is the external contact API as used by the sync engine.
type ContactClient interface {
	Online(ctx context.Context) error
	Snapshot(ctx context.Context, tok *models.CharacterToken) (contacts.Snapshot, error)
	Apply(ctx context.Context, tok *models.CharacterToken, plan contacts.Plan) (esi.ApplyResult, error)
}

// RunResult describes one character sync.
type RunResult struct {
	SyncedCharacterID uint            `json:"synced_character_id"`
	CharacterID       int64           `json:"character_id"`
	Mode              config.SyncMode `json:"mode"`
	Added             int             `json:"added"`
	Updated           int             `json:"updated"`
	Deleted           int             `json:"deleted"`
	Unconfirmed       []int64         `json:"unconfirmed,omitempty"`
	LabelMissing      bool            `json:"label_missing"`
	ContactsVersion   string          `json:"contacts_version,omitempty"`
	Deactivated       bool            `json:"deactivated"`
}

// CharacterFailure is a per-character error inside a batch.
type CharacterFailure struct {
	SyncedCharacterID uint   `json:"synced_character_id"`
	CharacterID       int64  `json:"character_id"`
	ErrorKind         string `json:"error_kind"`
	Message           string `json:"message"`
}

// BatchResult summarizes a sync of every active character.
type BatchResult struct {
	RunID     string             `json:"run_id"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Offline   bool               `json:"offline"`
	Failures  []CharacterFailure `json:"failures,omitempty"`
}

// ValidationResult summarizes an eligibility sweep.
type ValidationResult struct {
	Checked           int `json:"checked"`
	Deactivated       int `json:"deactivated"`
	RevocationsOpened int `json:"revocations_opened"`
}

// SyncedCharacterView adds the staleness flag to a synced character.
type SyncedCharacterView struct {
	models.SyncedCharacter
	Stale bool `json:"stale"`
}

// SyncService pushes the approved standings to every active synced character and keeps their
// health fields current. Characters are isolated: one failing never aborts the others.
type SyncService struct {
	repos     *repository.Repositories
	client    ContactClient
	validator *Validator
	settings  config.Settings
	label     contacts.Label
	notifier  Notifier

	now          func() time.Time
	sleep        func(context.Context, time.Duration) error
	triggerDelay time.Duration

	mu      sync.Mutex
	pending *time.Timer
	wg      sync.WaitGroup
}

// SyncOption customizes a SyncService.
type SyncOption func(*SyncService)

// WithTriggerDelay sets how long TriggerSync waits to coalesce bursts of changes.
func WithTriggerDelay(d time.Duration) SyncOption {
	return func(s *SyncService) { s.triggerDelay = d }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) { s.now = now }
}

// WithSleep replaces the stagger delay between character starts.
func WithSleep(sleep func(context.Context, time.Duration) error) SyncOption {
	return func(s *SyncService) { s.sleep = sleep }
}

// NewSyncService returns a new SyncService. notifier may be nil.
func NewSyncService(
	repos *repository.Repositories,
	client ContactClient,
	validator *Validator,
	settings config.Settings,
	notifier Notifier,
	opts ...SyncOption,
) *SyncService {
	s := &SyncService{
		repos:        repos,
		client:       client,
		validator:    validator,
		settings:     settings,
		label:        contacts.NewLabel(settings.LabelName),
		notifier:     notifier,
		now:          time.Now,
		sleep:        sleepContext,
		triggerDelay: defaultTriggerDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunCharacter syncs one synced character now.
func (s *SyncService) RunCharacter(ctx context.Context, syncedID uint) (RunResult, error) {
	sc, err := s.repos.SyncedCharacters.GetByID(ctx, syncedID)
	if err != nil {
		return RunResult{SyncedCharacterID: syncedID}, err
	}
	if !sc.Active {
		return RunResult{SyncedCharacterID: sc.ID, CharacterID: sc.CharacterID},
			models.NewInvalidStateError(fmt.Sprintf("sync is deactivated for character %d", sc.CharacterID))
	}
	return s.run(ctx, sc, true)
}

// ForceSync runs a sync on behalf of userID, who must own the character or manage standings.
func (s *SyncService) ForceSync(ctx context.Context, userID, syncedID uint) (RunResult, error) {
	sc, err := s.repos.SyncedCharacters.GetByID(ctx, syncedID)
	if err != nil {
		return RunResult{SyncedCharacterID: syncedID}, err
	}
	if err := s.requireOwnerOrManager(ctx, userID, sc); err != nil {
		return RunResult{SyncedCharacterID: syncedID}, err
	}
	return s.RunCharacter(ctx, syncedID)
}

func (s *SyncService) run(ctx context.Context, sc *models.SyncedCharacter, checkOnline bool) (res RunResult, err error) {
	start := time.Now()
	res = RunResult{SyncedCharacterID: sc.ID, CharacterID: sc.CharacterID, Mode: s.settings.Mode}

	span, ctx := observability.NewSpan(ctx, "sync.character")
	span.AddAttributes(
		attribute.Int64("character_id", sc.CharacterID),
		attribute.String("mode", string(s.settings.Mode)),
	)
	defer func() {
		span.SetError(err)
		span.End()
		outcome := "ok"
		if err != nil {
			outcome = models.ErrorKind(err)
		}
		observability.SyncRuns.WithLabelValues(outcome).Inc()
		observability.SyncDuration.WithLabelValues(string(s.settings.Mode)).Observe(time.Since(start).Seconds())
	}()

	elig, err := s.validator.IsEligible(ctx, sc)
	if err != nil {
		return res, err
	}
	if !elig.Eligible {
		if _, err := s.deactivate(ctx, sc, models.DeactivatedIneligible, elig.Cause, elig.Summary()); err != nil {
			return res, err
		}
		res.Deactivated = true
		return res, models.NewInvalidStateError("character is no longer eligible for sync: " + elig.Summary())
	}

	fail := func(cause error) (RunResult, error) {
		cause = s.recordFailure(ctx, sc, cause)
		res.Deactivated = !sc.Active
		return res, cause
	}

	if checkOnline {
		if err := s.client.Online(ctx); err != nil {
			return fail(err)
		}
	}

	tok, err := s.repos.Tokens.Current(ctx, sc.CharacterID, s.now())
	if err != nil {
		return fail(err)
	}
	snap, err := s.client.Snapshot(ctx, tok)
	if err != nil {
		return fail(err)
	}
	res.ContactsVersion = snap.Version()

	entries, err := s.repos.Standings.All(ctx)
	if err != nil {
		return res, err
	}
	plan := contacts.Reconcile(s.settings.Mode, s.label, snap, contacts.DesiredFromEntries(entries))
	res.LabelMissing = plan.LabelMissing
	if plan.LabelMissing && s.settings.Mode == config.SyncModeMerge {
		slog.WarnContext(ctx, "organization label missing, merging without it",
			"character_id", sc.CharacterID, "label", s.label.Name())
	}

	applied, err := s.client.Apply(ctx, tok, plan)
	res.Added, res.Updated, res.Deleted = applied.Added, applied.Updated, applied.Deleted
	res.Unconfirmed = applied.Unconfirmed
	if err != nil {
		return fail(err)
	}
	if len(res.Unconfirmed) > 0 {
		slog.WarnContext(ctx, "contact writes not confirmed", "character_id", sc.CharacterID, "ids", res.Unconfirmed)
	}

	if err := s.recordSuccess(ctx, sc, plan); err != nil {
		return res, err
	}

	slog.InfoContext(ctx, "character synced",
		"character_id", sc.CharacterID,
		"mode", s.settings.Mode,
		"added", res.Added,
		"updated", res.Updated,
		"deleted", res.Deleted,
		"skipped", len(plan.Skipped),
		"contacts_version", res.ContactsVersion,
	)
	return res, nil
}

func (s *SyncService) recordSuccess(ctx context.Context, sc *models.SyncedCharacter, plan contacts.Plan) error {
	now := s.now()
	sc.LastSyncAt = &now
	sc.LastAttemptAt = &now
	sc.LastOutcome = models.SyncOutcomeOK
	sc.LastError = ""
	sc.HasLabel = !plan.LabelMissing
	sc.ConsecutiveAuthFailures = 0
	return s.repos.SyncedCharacters.Update(ctx, sc,
		"last_sync_at", "last_attempt_at", "last_outcome", "last_error", "has_label", "consecutive_auth_failures")
}

// recordFailure stores the failure on the character and returns cause. Repeated auth failures
// deactivate the character when configured.
func (s *SyncService) recordFailure(ctx context.Context, sc *models.SyncedCharacter, cause error) error {
	now := s.now()
	sc.LastAttemptAt = &now
	sc.LastOutcome = models.SyncOutcomeError
	sc.LastError = truncate(cause.Error(), maxStoredErrorLen)
	if models.HasCode(cause, models.CodeAuth) {
		sc.ConsecutiveAuthFailures++
	}

	if err := s.repos.SyncedCharacters.Update(ctx, sc,
		"last_attempt_at", "last_outcome", "last_error", "consecutive_auth_failures"); err != nil {
		slog.ErrorContext(ctx, "failed to record sync failure", "character_id", sc.CharacterID, "err", err)
	}

	slog.WarnContext(ctx, "character sync failed",
		"character_id", sc.CharacterID, "kind", models.ErrorKind(cause), "err", cause)

	if models.HasCode(cause, models.CodeAuth) &&
		s.settings.AutoRevokeOnAuthFailure &&
		sc.ConsecutiveAuthFailures >= s.settings.AuthFailureThreshold {
		detail := fmt.Sprintf("%d consecutive authorization failures: %s", sc.ConsecutiveAuthFailures, sc.LastError)
		if _, err := s.deactivate(ctx, sc, models.DeactivatedAuthFailure, models.RevocationReasonMissingToken, detail); err != nil {
			slog.ErrorContext(ctx, "failed to deactivate character", "character_id", sc.CharacterID, "err", err)
		}
	}
	return cause
}

// deactivate stops sync for sc, writes the auto_revoke audit entry, tells the owner and, when
// configured, opens a system revocation for the character's standing.
func (s *SyncService) deactivate(ctx context.Context, sc *models.SyncedCharacter, reason string, cause models.RevocationReason, detail string) (bool, error) {
	err := s.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		now := s.now()
		sc.Active = false
		sc.DeactivatedAt = &now
		sc.DeactivationReason = reason
		if err := tx.SyncedCharacters.Update(ctx, sc, "active", "deactivated_at", "deactivation_reason"); err != nil {
			return err
		}
		owner := sc.UserID
		return tx.Audit.Create(ctx, &models.AuditLogEntry{
			Action:          models.AuditAutoRevoke,
			RequesterUserID: &owner,
			EntityID:        sc.CharacterID,
			EntityType:      models.EntityTypeCharacter,
			Detail:          fmt.Sprintf("%s: %s", reason, detail),
		})
	})
	if err != nil {
		return false, err
	}

	observability.AutoRevocations.WithLabelValues(reason).Inc()
	slog.WarnContext(ctx, "synced character deactivated",
		"character_id", sc.CharacterID, "user_id", sc.UserID, "reason", reason, "detail", detail)

	if s.notifier != nil {
		note := notifications.Notification{
			Kind:  notifications.KindSyncDeactivated,
			Title: "Standings sync deactivated",
			Message: fmt.Sprintf("Standings Sync has been deactivated for your character %s, because %s.\n"+
				"Feel free to activate sync for your character again, once the issue has been resolved.",
				characterName(sc), detail),
			EntityID: sc.CharacterID,
		}
		if err := s.notifier.Notify(ctx, sc.UserID, note); err != nil {
			slog.WarnContext(ctx, "notification failed", "user_id", sc.UserID, "err", err)
		}
	}

	if !s.settings.AutoRevocationRequests {
		return false, nil
	}
	return s.openSystemRevocation(ctx, sc.Ref(), cause)
}

// openSystemRevocation opens an automatic revocation for ref when it still has a standing and no
// revocation is pending. It reports whether one was created.
func (s *SyncService) openSystemRevocation(ctx context.Context, ref models.EntityRef, cause models.RevocationReason) (bool, error) {
	exists, err := s.repos.Standings.Exists(ctx, ref.ID)
	if err != nil || !exists {
		return false, err
	}
	rev, err := openRevocation(ctx, s.repos, ref, cause, nil)
	if models.HasCode(err, models.CodeConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	slog.InfoContext(ctx, "automatic revocation opened", "revocation_id", rev.ID, "entity", ref.String(), "reason", cause)
	return true, nil
}

// SyncAll syncs every active character with bounded concurrency, staggering starts. Domain
// failures are reported per character; only unexpected errors are returned.
func (s *SyncService) SyncAll(ctx context.Context) (BatchResult, error) {
	res := BatchResult{RunID: uuid.NewString()}
	ctx = observability.WithCorrelationID(ctx, res.RunID)
	fields := map[string]interface{}{"mode": string(s.settings.Mode)}
	observability.LogAsyncOperationStart(ctx, "sync_all", fields)

	list, err := s.repos.SyncedCharacters.ListActive(ctx)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "sync_all", err, fields)
		return res, err
	}
	res.Total = len(list)
	if len(list) == 0 {
		observability.LogAsyncOperationEnd(ctx, "sync_all", fields)
		return res, nil
	}

	if err := s.client.Online(ctx); err != nil {
		if models.IsDomainError(err) {
			res.Offline = true
			slog.WarnContext(ctx, "external service offline, sync skipped", "err", err)
			return res, nil
		}
		return res, err
	}

	var (
		mu         sync.Mutex
		unexpected []error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.settings.Concurrency)

	for i := range list {
		if i > 0 {
			if err := s.sleep(ctx, s.settings.StaggerDelay); err != nil {
				break
			}
		}
		sc := &list[i]
		g.Go(func() error {
			_, err := s.run(ctx, sc, false)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				res.Succeeded++
				return nil
			}
			res.Failures = append(res.Failures, CharacterFailure{
				SyncedCharacterID: sc.ID,
				CharacterID:       sc.CharacterID,
				ErrorKind:         models.ErrorKind(err),
				Message:           publicMessage(err),
			})
			if !models.IsDomainError(err) {
				unexpected = append(unexpected, fmt.Errorf("character %d: %w", sc.CharacterID, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	fields["total"] = res.Total
	fields["succeeded"] = res.Succeeded
	fields["failed"] = len(res.Failures)
	if err := errors.Join(unexpected...); err != nil {
		observability.LogAsyncOperationError(ctx, "sync_all", err, fields)
		return res, err
	}
	observability.LogAsyncOperationEnd(ctx, "sync_all", fields)
	return res, nil
}

// TriggerSync schedules a full sync after a change to ref's standing. Triggers arriving within
// the coalescing delay share one run. The run outlives the caller's context.
func (s *SyncService) TriggerSync(ctx context.Context, ref models.EntityRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slog.DebugContext(ctx, "sync triggered", "entity", ref.String())
	if s.pending != nil {
		return
	}

	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	s.pending = time.AfterFunc(s.triggerDelay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()

		if _, err := s.SyncAll(bg); err != nil {
			slog.ErrorContext(bg, "triggered sync failed", "err", err)
		}
	})
}

// Wait blocks until every triggered background sync has finished.
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// RunRegularSync is the periodic sync job.
func (s *SyncService) RunRegularSync(ctx context.Context) error {
	res, err := s.SyncAll(ctx)
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "regular sync finished",
		"run_id", res.RunID, "total", res.Total, "succeeded", res.Succeeded, "failed", len(res.Failures), "offline", res.Offline)
	return nil
}

// ValidateAll re-checks every active character and deactivates the ineligible ones.
func (s *SyncService) ValidateAll(ctx context.Context) (ValidationResult, error) {
	var res ValidationResult
	list, err := s.repos.SyncedCharacters.ListActive(ctx)
	if err != nil {
		return res, err
	}

	var unexpected []error
	for i := range list {
		sc := &list[i]
		res.Checked++
		elig, err := s.validator.IsEligible(ctx, sc)
		if err != nil {
			unexpected = append(unexpected, fmt.Errorf("character %d: %w", sc.CharacterID, err))
			continue
		}
		if elig.Eligible {
			continue
		}
		opened, err := s.deactivate(ctx, sc, models.DeactivatedIneligible, elig.Cause, elig.Summary())
		if err != nil {
			unexpected = append(unexpected, fmt.Errorf("character %d: %w", sc.CharacterID, err))
			continue
		}
		res.Deactivated++
		if opened {
			res.RevocationsOpened++
		}
	}
	return res, errors.Join(unexpected...)
}

// RunRegularValidation is the periodic eligibility sweep job.
func (s *SyncService) RunRegularValidation(ctx context.Context) error {
	res, err := s.ValidateAll(ctx)
	slog.InfoContext(ctx, "eligibility sweep finished",
		"checked", res.Checked, "deactivated", res.Deactivated, "revocations_opened", res.RevocationsOpened)
	return err
}

// AddSyncedCharacter enrolls an owned character that already holds a standing. A previously
// deactivated enrollment is reactivated. The first sync starts in the background.
func (s *SyncService) AddSyncedCharacter(ctx context.Context, userID uint, characterID int64) (*models.SyncedCharacter, error) {
	char, err := s.repos.Characters.GetByID(ctx, characterID)
	if models.HasCode(err, models.CodeNotFound) || (err == nil && char.UserID != userID) {
		return nil, models.NewForbiddenError("You do not own this character")
	}
	if err != nil {
		return nil, err
	}

	exists, err := s.repos.Standings.Exists(ctx, characterID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, models.NewValidationError("Character must have an approved standing before adding to sync")
	}

	sc, err := s.repos.SyncedCharacters.GetByCharacterID(ctx, characterID)
	switch {
	case err == nil && sc.Active:
		return nil, models.NewConflictError(fmt.Sprintf("character %s is already synced", char.Name))
	case err == nil:
		sc.UserID = userID
	case models.HasCode(err, models.CodeNotFound):
		sc = &models.SyncedCharacter{UserID: userID, CharacterID: characterID}
	default:
		return nil, err
	}

	elig, err := s.validator.IsEligible(ctx, sc)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, models.NewValidationError("Character is not eligible for sync: " + elig.Summary())
	}

	sc.Active = true
	sc.DeactivatedAt = nil
	sc.DeactivationReason = ""
	sc.ConsecutiveAuthFailures = 0
	if sc.ID == 0 {
		err = s.repos.SyncedCharacters.Create(ctx, sc)
	} else {
		err = s.repos.SyncedCharacters.Update(ctx, sc,
			"user_id", "active", "deactivated_at", "deactivation_reason", "consecutive_auth_failures")
	}
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "character added to sync", "character_id", characterID, "user_id", userID)
	s.runDetached(ctx, sc.ID)
	return sc, nil
}

// runDetached performs the initial sync of a new enrollment in the background.
func (s *SyncService) runDetached(ctx context.Context, syncedID uint) {
	bg := observability.EnsureCorrelationID(context.WithoutCancel(ctx))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunCharacter(bg, syncedID); err != nil && !models.IsDomainError(err) {
			slog.ErrorContext(bg, "initial sync failed", "synced_character_id", syncedID, "err", err)
		}
	}()
}

// RemoveSyncedCharacter stops syncing a character owned by userID.
func (s *SyncService) RemoveSyncedCharacter(ctx context.Context, userID, syncedID uint) error {
	sc, err := s.repos.SyncedCharacters.GetByID(ctx, syncedID)
	if err != nil {
		return err
	}
	if err := s.requireOwnerOrManager(ctx, userID, sc); err != nil {
		return err
	}
	if err := s.repos.SyncedCharacters.Delete(ctx, sc.ID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "character removed from sync", "character_id", sc.CharacterID, "user_id", userID)
	return nil
}

// ListSyncedCharacters returns userID's enrollments with the staleness flag.
func (s *SyncService) ListSyncedCharacters(ctx context.Context, userID uint) ([]SyncedCharacterView, error) {
	list, err := s.repos.SyncedCharacters.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views(list), nil
}

// ListAllSyncedCharacters returns every enrollment, active or not.
func (s *SyncService) ListAllSyncedCharacters(ctx context.Context) ([]SyncedCharacterView, error) {
	list, err := s.repos.SyncedCharacters.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.views(list), nil
}

func (s *SyncService) views(list []models.SyncedCharacter) []SyncedCharacterView {
	now := s.now()
	out := make([]SyncedCharacterView, len(list))
	for i, sc := range list {
		out[i] = SyncedCharacterView{SyncedCharacter: sc, Stale: sc.Active && sc.IsStale(now, s.settings.SyncTimeout)}
	}
	return out
}

func (s *SyncService) requireOwnerOrManager(ctx context.Context, userID uint, sc *models.SyncedCharacter) error {
	if sc.UserID == userID {
		return nil
	}
	ok, err := s.repos.Users.HasPermission(ctx, userID, models.PermManageStandings)
	if err != nil {
		return err
	}
	if !ok {
		return models.NewForbiddenError("You do not own this character")
	}
	return nil
}

func characterName(sc *models.SyncedCharacter) string {
	if sc.Character != nil && sc.Character.Name != "" {
		return sc.Character.Name
	}
	return fmt.Sprint(sc.CharacterID)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
