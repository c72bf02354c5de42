package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"standings/internal/models"
	"standings/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func seedUser(t *testing.T, repos *Repositories, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, State: "member"}
	require.NoError(t, repos.Users.Create(context.Background(), u))
	return u
}

func TestUserRepository_Permissions(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "approver")

	ok, err := repos.Users.HasPermission(ctx, u.ID, models.PermApproveStandings)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repos.Users.Grant(ctx, u.ID, models.PermApproveStandings))
	require.NoError(t, repos.Users.Grant(ctx, u.ID, models.PermApproveStandings))

	ok, err = repos.Users.HasPermission(ctx, u.ID, models.PermApproveStandings)
	require.NoError(t, err)
	assert.True(t, ok)

	approvers, err := repos.Users.ListWithPermission(ctx, models.PermApproveStandings)
	require.NoError(t, err)
	require.Len(t, approvers, 1)
	assert.Equal(t, u.ID, approvers[0].ID)

	require.NoError(t, repos.Users.Revoke(ctx, u.ID, models.PermApproveStandings))
	ok, err = repos.Users.HasPermission(ctx, u.ID, models.PermApproveStandings)
	require.NoError(t, err)
	assert.False(t, ok)

	err = repos.Users.Create(ctx, &models.User{Username: "approver"})
	assert.True(t, models.HasCode(err, models.CodeConflict))
}

func TestUserRepository_GetByUsername(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "pilot")

	got, err := repos.Users.GetByUsername(ctx, "pilot")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	got, err = repos.Users.GetByUsername(ctx, "nobody")
	assert.Nil(t, got)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestCharacterRepository_UpsertAndLookups(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "owner")

	alliance := int64(99000001)
	require.NoError(t, repos.Characters.Upsert(ctx, &models.Character{CharacterID: 9001, UserID: u.ID, Name: "Alt One", CorporationID: 98000001, AllianceID: &alliance}))
	require.NoError(t, repos.Characters.Upsert(ctx, &models.Character{CharacterID: 9002, UserID: u.ID, Name: "Alt Two", CorporationID: 98000002}))

	// Moving corporations updates the row in place.
	require.NoError(t, repos.Characters.Upsert(ctx, &models.Character{CharacterID: 9002, UserID: u.ID, Name: "Alt Two", CorporationID: 98000001}))

	inCorp, err := repos.Characters.ListByUserAndCorporation(ctx, u.ID, 98000001)
	require.NoError(t, err)
	assert.Len(t, inCorp, 2)

	inAlliance, err := repos.Characters.ListByUserAndAlliance(ctx, u.ID, alliance)
	require.NoError(t, err)
	assert.Len(t, inAlliance, 1)

	_, err = repos.Characters.GetByID(ctx, 1)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestTokenRepository_Current(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "pilot")
	now := time.Now().UTC()

	_, err := repos.Tokens.Current(ctx, 9001, now)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	expired := &models.CharacterToken{CharacterID: 9001, UserID: u.ID, AccessToken: "old", ExpiresAt: now.Add(-time.Minute)}
	fresh := &models.CharacterToken{CharacterID: 9001, UserID: u.ID, AccessToken: "new", ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repos.Tokens.Create(ctx, expired))
	require.NoError(t, repos.Tokens.Create(ctx, fresh))

	got, err := repos.Tokens.Current(ctx, 9001, now)
	require.NoError(t, err)
	assert.Equal(t, "new", got.AccessToken)

	require.NoError(t, repos.Tokens.Revoke(ctx, fresh.ID))
	_, err = repos.Tokens.Current(ctx, 9001, now)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestStandingsRepository(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()

	require.NoError(t, repos.Standings.Create(ctx, &models.StandingsEntry{EntityID: 7, EntityType: models.EntityTypeAlliance, Standing: 5}))
	require.NoError(t, repos.Standings.Create(ctx, &models.StandingsEntry{EntityID: 3, EntityType: models.EntityTypeCorporation, Standing: -10}))

	err := repos.Standings.Create(ctx, &models.StandingsEntry{EntityID: 7, EntityType: models.EntityTypeAlliance, Standing: 10})
	assert.True(t, models.HasCode(err, models.CodeConflict))

	all, err := repos.Standings.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.EqualValues(t, 3, all[0].EntityID)

	list, total, err := repos.Standings.List(ctx, StandingsFilter{EntityType: models.EntityTypeAlliance})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)

	exists, err := repos.Standings.Exists(ctx, 7)
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := repos.Standings.DeleteByEntityID(ctx, 7)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repos.Standings.DeleteByEntityID(ctx, 7)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repos.Standings.GetByEntityID(ctx, 7)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestStandingsRepository_UpsertOverwrites(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()

	require.NoError(t, repos.Standings.Upsert(ctx, &models.StandingsEntry{EntityID: 9, EntityType: models.EntityTypeCorporation, Standing: 5}))
	require.NoError(t, repos.Standings.Upsert(ctx, &models.StandingsEntry{EntityID: 9, EntityType: models.EntityTypeCorporation, Standing: -5, Notes: "changed"}))

	all, err := repos.Standings.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.InDelta(t, -5.0, all[0].Standing, 0.0001)
	assert.Equal(t, "changed", all[0].Notes)
}

func TestRequestRepository_PendingUniqueness(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "requester")

	req := &models.StandingRequest{EntityID: 7, EntityType: models.EntityTypeAlliance, RequestedStanding: 5, RequestedByUserID: u.ID, State: models.RequestStatePending}
	require.NoError(t, repos.Requests.Create(ctx, req))

	dup := &models.StandingRequest{EntityID: 7, EntityType: models.EntityTypeAlliance, RequestedStanding: 10, RequestedByUserID: u.ID, State: models.RequestStatePending}
	assert.True(t, models.HasCode(repos.Requests.Create(ctx, dup), models.CodeConflict))

	pending, err := repos.Requests.PendingForEntity(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, req.ID, pending.ID)

	locked, err := repos.Requests.GetForUpdate(ctx, req.ID)
	require.NoError(t, err)
	locked.State = models.RequestStateRejected
	require.NoError(t, repos.Requests.Save(ctx, locked))

	pending, err = repos.Requests.PendingForEntity(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, pending)

	mine, err := repos.Requests.List(ctx, ProposalFilter{UserID: u.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = repos.Requests.GetByID(ctx, 999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestRevocationRepository_SystemRequester(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()

	rev := &models.StandingRevocation{EntityID: 55, EntityType: models.EntityTypeCharacter, Reason: models.RevocationReasonLostPermission, State: models.RequestStatePending}
	require.NoError(t, repos.Revocations.Create(ctx, rev))

	got, err := repos.Revocations.GetByID(ctx, rev.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAutomatic())

	dup := &models.StandingRevocation{EntityID: 55, EntityType: models.EntityTypeCharacter, Reason: models.RevocationReasonMissingToken, State: models.RequestStatePending}
	assert.True(t, models.HasCode(repos.Revocations.Create(ctx, dup), models.CodeConflict))

	pending, err := repos.Revocations.List(ctx, ProposalFilter{State: models.RequestStatePending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSyncedCharacterRepository_UpdateSelectedColumns(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	u := seedUser(t, repos, "syncer")
	require.NoError(t, repos.Characters.Upsert(ctx, &models.Character{CharacterID: 55, UserID: u.ID, CorporationID: 1}))

	sc := &models.SyncedCharacter{UserID: u.ID, CharacterID: 55, Active: true, LastError: "old"}
	require.NoError(t, repos.SyncedCharacters.Create(ctx, sc))
	assert.True(t, models.HasCode(repos.SyncedCharacters.Create(ctx, &models.SyncedCharacter{UserID: u.ID, CharacterID: 55, Active: true}), models.CodeConflict))

	sc.Active = false
	sc.LastError = ""
	require.NoError(t, repos.SyncedCharacters.Update(ctx, sc, "active"))

	got, err := repos.SyncedCharacters.GetByCharacterID(ctx, 55)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "old", got.LastError, "unselected column must be untouched")
	require.NotNil(t, got.Character)

	active, err := repos.SyncedCharacters.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repos.SyncedCharacters.Delete(ctx, sc.ID))
	assert.True(t, models.HasCode(repos.SyncedCharacters.Delete(ctx, sc.ID), models.CodeNotFound))
}

func TestAuditRepository_ListFilters(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()
	actor := seedUser(t, repos, "admin")

	require.NoError(t, repos.Audit.Create(ctx, &models.AuditLogEntry{Action: models.AuditApproveRequest, ActorUserID: &actor.ID, EntityID: 7, EntityType: models.EntityTypeAlliance}))
	require.NoError(t, repos.Audit.Create(ctx, &models.AuditLogEntry{Action: models.AuditAutoRevoke, EntityID: 55, EntityType: models.EntityTypeCharacter}))

	all, total, err := repos.Audit.List(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)

	system, _, err := repos.Audit.List(ctx, AuditFilter{SystemOnly: true})
	require.NoError(t, err)
	require.Len(t, system, 1)
	assert.Equal(t, models.AuditAutoRevoke, system[0].Action)

	byActor, _, err := repos.Audit.List(ctx, AuditFilter{ActorUserID: &actor.ID})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.EqualValues(t, 7, byActor[0].EntityID)
}

func TestRepositories_TransactionRollsBack(t *testing.T) {
	repos := New(testutil.NewDB(t))
	ctx := context.Background()

	boom := errors.New("boom")
	err := repos.Transaction(ctx, func(tx *Repositories) error {
		if err := tx.Standings.Create(ctx, &models.StandingsEntry{EntityID: 7, EntityType: models.EntityTypeAlliance, Standing: 5}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := repos.Standings.Exists(ctx, 7)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAuditRepository_CreateFailureIsInternal(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "standings_audit_log"`)).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), &models.AuditLogEntry{Action: models.AuditRejectRequest, EntityID: 1, EntityType: models.EntityTypeCharacter})
	require.Error(t, err)
	assert.Equal(t, models.CodeInternal, models.ErrorKind(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
