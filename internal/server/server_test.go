package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"standings/internal/config"
	"standings/internal/contacts"
	"standings/internal/esi"
	"standings/internal/featureflags"
	"standings/internal/models"
	"standings/internal/notifications"
	"standings/internal/repository"
	"standings/internal/seed"
	"standings/internal/service"
	"standings/internal/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "server-test-secret-at-least-32-characters"

// stubContacts accepts every plan without talking to ESI.
type stubContacts struct{}

func (stubContacts) Online(context.Context) error { return nil }

func (stubContacts) Snapshot(_ context.Context, tok *models.CharacterToken) (contacts.Snapshot, error) {
	return contacts.Snapshot{CharacterID: tok.CharacterID}, nil
}

func (stubContacts) Apply(_ context.Context, _ *models.CharacterToken, plan contacts.Plan) (esi.ApplyResult, error) {
	adds, updates, deletes := plan.Counts()
	return esi.ApplyResult{Added: adds, Updated: updates, Deleted: deletes}, nil
}

type testEnv struct {
	repos   *repository.Repositories
	factory *seed.Factory
	app     *fiber.App
}

func newTestEnv(t *testing.T, flags string) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	repos := repository.New(db)
	settings := config.DefaultSettings()
	settings.StaggerDelay = 0

	validator := service.NewValidator(repos, settings)
	engine := service.NewSyncService(repos, stubContacts{}, validator, settings, nil,
		service.WithTriggerDelay(10*time.Millisecond))
	t.Cleanup(engine.Wait)
	workflow := service.NewWorkflowService(repos, validator, settings, nil, engine, nil)

	ff, err := featureflags.NewManager(flags)
	require.NoError(t, err)

	cfg := &config.Config{Env: "test", JWTSecret: testSecret, AllowedOrigins: "*"}
	srv := NewServer(cfg, Deps{DB: db, Repos: repos, Workflow: workflow, Engine: engine, Flags: ff,
		Hub: notifications.NewHub()})

	return &testEnv{
		repos:   repos,
		factory: seed.NewFactory(repos, 1),
		app:     srv.App(),
	}
}

func allFlags() string {
	return "force_sync=on,direct_standings=on,csv_export=on"
}

func bearer(t *testing.T, userID uint) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

// call performs a request as userID (0 for anonymous) and decodes a JSON response into out
// when out is non-nil.
func (e *testEnv) call(t *testing.T, method, path string, userID uint, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("Authorization", bearer(t, userID))
	}

	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "%s %s", method, path)
	}
	return resp
}

func (e *testEnv) member(t *testing.T) *models.User {
	t.Helper()
	u, err := e.factory.CreateUser(context.Background(), []string{models.PermAddSyncedCharacter})
	require.NoError(t, err)
	return u
}

func (e *testEnv) approver(t *testing.T) *models.User {
	t.Helper()
	u, err := e.factory.CreateUser(context.Background(), []string{
		models.PermAddSyncedCharacter,
		models.PermApproveStandings,
		models.PermManageStandings,
		models.PermViewAuditLog,
	})
	require.NoError(t, err)
	return u
}

// character creates a tokened character for owner in corp.
func (e *testEnv) character(t *testing.T, owner *models.User, corp int64) *models.Character {
	t.Helper()
	ctx := context.Background()
	ch, err := e.factory.CreateCharacter(ctx, owner, corp)
	require.NoError(t, err)
	_, err = e.factory.CreateToken(ctx, ch)
	require.NoError(t, err)
	return ch
}

func errorBody(t *testing.T, resp *http.Response) models.ErrorResponse {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}
