// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"standings/internal/config"
	"standings/internal/models"
	"standings/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
)

// Entity id ranges follow the game's allocation so seeded ids look like real ones.
const (
	firstCharacterID   int64 = 90_000_000
	firstCorporationID int64 = 98_000_000
	firstAllianceID    int64 = 99_000_000
)

// Factory builds domain entities and persists them through the repositories.
// It is a thin helper used by the seed command and tests.
type Factory struct {
	repos *repository.Repositories
	faker *gofakeit.Faker

	nextCharacter   int64
	nextCorporation int64
	nextAlliance    int64
}

// NewFactory creates a Factory. A zero seed draws a random one; tests pass a fixed seed for
// stable names.
func NewFactory(repos *repository.Repositories, seed int64) *Factory {
	return &Factory{
		repos:           repos,
		faker:           gofakeit.New(seed),
		nextCharacter:   firstCharacterID,
		nextCorporation: firstCorporationID,
		nextAlliance:    firstAllianceID,
	}
}

// CorporationID allocates a fresh corporation id.
func (f *Factory) CorporationID() int64 {
	f.nextCorporation++
	return f.nextCorporation
}

// AllianceID allocates a fresh alliance id.
func (f *Factory) AllianceID() int64 {
	f.nextAlliance++
	return f.nextAlliance
}

// CreateUser persists a user holding perms.
// Optional override functions may modify the generated user before saving.
func (f *Factory) CreateUser(ctx context.Context, perms []string, overrides ...func(*models.User)) (*models.User, error) {
	user := &models.User{
		Username: strings.ToLower(f.faker.Username()) + fmt.Sprint(f.faker.Number(100, 999)),
		State:    "member",
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.repos.Users.Create(ctx, user); err != nil {
		return nil, err
	}
	for _, p := range perms {
		if err := f.repos.Users.Grant(ctx, user.ID, p); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// CreateCharacter persists a character owned by user in corporationID.
func (f *Factory) CreateCharacter(ctx context.Context, user *models.User, corporationID int64, overrides ...func(*models.Character)) (*models.Character, error) {
	f.nextCharacter++
	ch := &models.Character{
		CharacterID:   f.nextCharacter,
		UserID:        user.ID,
		Name:          f.faker.FirstName() + " " + f.faker.LastName(),
		CorporationID: corporationID,
	}
	for _, override := range overrides {
		override(ch)
	}
	if err := f.repos.Characters.Upsert(ctx, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

// CreateToken persists a usable token for ch. No scopes means the base sync scopes.
func (f *Factory) CreateToken(ctx context.Context, ch *models.Character, scopes ...string) (*models.CharacterToken, error) {
	if len(scopes) == 0 {
		scopes = config.BaseScopes
	}
	tok := &models.CharacterToken{
		CharacterID: ch.CharacterID,
		UserID:      ch.UserID,
		AccessToken: f.faker.UUID(),
		Scopes:      strings.Join(scopes, " "),
		ExpiresAt:   time.Now().Add(20 * time.Minute),
	}
	if err := f.repos.Tokens.Create(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// CreateStanding persists an approved standing for ref. A nil addedBy marks an imported entry.
func (f *Factory) CreateStanding(ctx context.Context, ref models.EntityRef, addedBy *models.User) (*models.StandingsEntry, error) {
	entry := &models.StandingsEntry{
		EntityID:   ref.ID,
		EntityType: ref.Type,
		Standing:   f.Standing(),
		Notes:      f.faker.Sentence(6),
	}
	if addedBy != nil {
		entry.AddedByUserID = &addedBy.ID
	}
	if err := f.repos.Standings.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateRequest persists a pending request by user for ref.
func (f *Factory) CreateRequest(ctx context.Context, user *models.User, ref models.EntityRef) (*models.StandingRequest, error) {
	req := &models.StandingRequest{
		EntityID:          ref.ID,
		EntityType:        ref.Type,
		RequestedStanding: f.Standing(),
		RequestedByUserID: user.ID,
		State:             models.RequestStatePending,
	}
	if err := f.repos.Requests.Create(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// CreateSyncedCharacter enrolls ch for contact sync.
func (f *Factory) CreateSyncedCharacter(ctx context.Context, ch *models.Character) (*models.SyncedCharacter, error) {
	sc := &models.SyncedCharacter{
		UserID:      ch.UserID,
		CharacterID: ch.CharacterID,
		Active:      true,
	}
	if err := f.repos.SyncedCharacters.Create(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// Standing draws a standing from the values players actually use.
func (f *Factory) Standing() float64 {
	values := []float64{-10, -5, 0, 5, 10}
	return values[f.faker.Number(0, len(values)-1)]
}
