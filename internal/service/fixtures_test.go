package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"standings/internal/config"
	"standings/internal/contacts"
	"standings/internal/esi"
	"standings/internal/models"
	"standings/internal/notifications"
	"standings/internal/repository"
	"standings/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeContacts keeps one contact list per character and applies plans to it.
type fakeContacts struct {
	mu          sync.Mutex
	offline     error
	onlineCalls int
	lists       map[int64]contacts.Snapshot
	snapshotErr map[int64]error
	applyErr    map[int64]error
	plans       map[int64][]contacts.Plan
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		lists:       map[int64]contacts.Snapshot{},
		snapshotErr: map[int64]error{},
		applyErr:    map[int64]error{},
		plans:       map[int64][]contacts.Plan{},
	}
}

func (f *fakeContacts) Online(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineCalls++
	return f.offline
}

func (f *fakeContacts) Snapshot(_ context.Context, tok *models.CharacterToken) (contacts.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.snapshotErr[tok.CharacterID]; err != nil {
		return contacts.Snapshot{}, err
	}
	snap := f.lists[tok.CharacterID]
	snap.CharacterID = tok.CharacterID
	return snap, nil
}

func (f *fakeContacts) Apply(_ context.Context, tok *models.CharacterToken, plan contacts.Plan) (esi.ApplyResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[tok.CharacterID]; err != nil {
		return esi.ApplyResult{}, err
	}
	f.plans[tok.CharacterID] = append(f.plans[tok.CharacterID], plan)
	snap := f.lists[tok.CharacterID]
	snap.CharacterID = tok.CharacterID
	f.lists[tok.CharacterID] = plan.Apply(snap)
	adds, updates, deletes := plan.Counts()
	return esi.ApplyResult{Added: adds, Updated: updates, Deleted: deletes}, nil
}

func (f *fakeContacts) set(characterID int64, snap contacts.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[characterID] = snap
}

func (f *fakeContacts) list(characterID int64) contacts.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[characterID]
}

func (f *fakeContacts) lastPlan(characterID int64) contacts.Plan {
	f.mu.Lock()
	defer f.mu.Unlock()
	plans := f.plans[characterID]
	if len(plans) == 0 {
		return contacts.Plan{}
	}
	return plans[len(plans)-1]
}

type sentNote struct {
	UserID uint
	Note   notifications.Notification
}

type noteRecorder struct {
	mu   sync.Mutex
	sent []sentNote
}

func (r *noteRecorder) Notify(_ context.Context, userID uint, note notifications.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNote{UserID: userID, Note: note})
	return nil
}

func (r *noteRecorder) all() []sentNote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNote(nil), r.sent...)
}

type triggerRecorder struct {
	mu   sync.Mutex
	refs []models.EntityRef
}

func (r *triggerRecorder) TriggerSync(_ context.Context, ref models.EntityRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
}

type namesStub map[int64]string

func (n namesStub) Names(_ context.Context, ids []int64) map[int64]string {
	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if name, ok := n[id]; ok {
			out[id] = name
		}
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	repos     *repository.Repositories
	settings  config.Settings
	validator *Validator
	contacts  *fakeContacts
	notes     *noteRecorder
	triggers  *triggerRecorder
	workflow  *WorkflowService
	engine    *SyncService
}

func newFixture(t *testing.T, mutate ...func(*config.Settings)) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	settings := config.DefaultSettings()
	settings.StaggerDelay = 0
	for _, m := range mutate {
		m(&settings)
	}

	f := &fixture{
		db:       db,
		repos:    repository.New(db),
		settings: settings,
		contacts: newFakeContacts(),
		notes:    &noteRecorder{},
		triggers: &triggerRecorder{},
	}
	f.validator = NewValidator(f.repos, settings)
	f.workflow = NewWorkflowService(f.repos, f.validator, settings, f.notes, f.triggers, namesStub{})
	f.engine = NewSyncService(f.repos, f.contacts, f.validator, settings, f.notes,
		WithTriggerDelay(50*time.Millisecond),
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
	)
	t.Cleanup(f.engine.Wait)
	return f
}

func (f *fixture) user(t *testing.T, name string, perms ...string) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Username: name, State: "member"}
	require.NoError(t, f.repos.Users.Create(ctx, u))
	for _, p := range perms {
		require.NoError(t, f.repos.Users.Grant(ctx, u.ID, p))
	}
	return u
}

func (f *fixture) member(t *testing.T, name string) *models.User {
	return f.user(t, name, models.PermAddSyncedCharacter)
}

func (f *fixture) approver(t *testing.T, name string) *models.User {
	return f.user(t, name, models.PermApproveStandings, models.PermManageStandings, models.PermViewAuditLog)
}

type charOpt func(*models.Character)

func inAlliance(id int64) charOpt {
	return func(c *models.Character) { c.AllianceID = &id }
}

func (f *fixture) character(t *testing.T, owner *models.User, id, corporationID int64, name string, opts ...charOpt) *models.Character {
	t.Helper()
	c := &models.Character{CharacterID: id, UserID: owner.ID, Name: name, CorporationID: corporationID}
	for _, o := range opts {
		o(c)
	}
	require.NoError(t, f.repos.Characters.Upsert(context.Background(), c))
	return c
}

func (f *fixture) token(t *testing.T, owner *models.User, characterID int64, scopes ...string) {
	t.Helper()
	if scopes == nil {
		scopes = config.BaseScopes
	}
	require.NoError(t, f.repos.Tokens.Create(context.Background(), &models.CharacterToken{
		CharacterID: characterID,
		UserID:      owner.ID,
		AccessToken: "access-" + owner.Username,
		Scopes:      strings.Join(scopes, " "),
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
}

// enroll creates an owned character with a full token and an active enrollment.
func (f *fixture) enroll(t *testing.T, owner *models.User, characterID int64, name string) *models.SyncedCharacter {
	t.Helper()
	f.character(t, owner, characterID, 1000, name)
	f.token(t, owner, characterID)
	sc := &models.SyncedCharacter{UserID: owner.ID, CharacterID: characterID, Active: true}
	require.NoError(t, f.repos.SyncedCharacters.Create(context.Background(), sc))
	return sc
}

// syncable is enroll plus a standing for the character itself.
func (f *fixture) syncable(t *testing.T, owner *models.User, characterID int64, name string) *models.SyncedCharacter {
	t.Helper()
	sc := f.enroll(t, owner, characterID, name)
	f.standing(t, sc.Ref(), 5)
	return sc
}

func (f *fixture) standing(t *testing.T, ref models.EntityRef, value float64) {
	t.Helper()
	require.NoError(t, f.repos.Standings.Upsert(context.Background(), &models.StandingsEntry{
		EntityID:   ref.ID,
		EntityType: ref.Type,
		Standing:   value,
	}))
}

func (f *fixture) audit(t *testing.T) []models.AuditLogEntry {
	t.Helper()
	entries, _, err := f.repos.Audit.List(context.Background(), repository.AuditFilter{})
	require.NoError(t, err)
	return entries
}

func ptr[T any](v T) *T {
	return &v
}
