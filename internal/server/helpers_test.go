package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"standings/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupMockDB creates a GORM *gorm.DB backed by sqlmock with ping monitoring on.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return gormDB, mock
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHumanizeParam(t *testing.T) {
	tests := []struct {
		param    string
		expected string
	}{
		{"id", "ID"},
		{"entityId", "entity ID"},
		{"syncedCharacterId", "synced character ID"},
		{"something", "something"},
	}
	for _, tt := range tests {
		t.Run(tt.param, func(t *testing.T) {
			assert.Equal(t, tt.expected, humanizeParam(tt.param))
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  float64
		wantOffset float64
	}{
		{"", 0, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=5000", maxPaginationLimit, 0},
		{"?limit=-3&offset=-1", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			app.Get("/items", func(c *fiber.Ctx) error {
				p := parsePagination(c)
				return c.JSON(fiber.Map{"limit": p.Limit, "offset": p.Offset})
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			body := decodeMap(t, resp)
			assert.Equal(t, tt.wantLimit, body["limit"])
			assert.Equal(t, tt.wantOffset, body["offset"])
		})
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		param   string
		value   string
		status  int
		wantErr string
	}{
		{"valid", "id", "42", http.StatusOK, ""},
		{"non numeric", "id", "abc", http.StatusBadRequest, "Invalid ID"},
		{"zero", "id", "0", http.StatusBadRequest, "Invalid ID"},
		{"named param", "requestId", "x", http.StatusBadRequest, "Invalid request ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/items/:"+tt.param, func(c *fiber.Ctx) error {
				id, err := parseID(c, tt.param)
				if err != nil {
					return nil
				}
				return c.JSON(fiber.Map{"id": id})
			})

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items/"+tt.value, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeMap(t, resp)["error"])
			}
		})
	}
}

func TestParseEntityID(t *testing.T) {
	app := fiber.New()
	app.Get("/standings/:entityId", func(c *fiber.Ctx) error {
		id, err := parseEntityID(c, "entityId")
		if err != nil {
			return nil
		}
		return c.JSON(fiber.Map{"id": id})
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/standings/2112625428", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2112625428), decodeMap(t, resp)["id"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/standings/-5", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid entity ID", decodeMap(t, resp)["error"])
}

func TestBindBody(t *testing.T) {
	app := fiber.New()
	app.Post("/standings", func(c *fiber.Ctx) error {
		var body addStandingBody
		if err := bindBody(c, &body); err != nil {
			return nil
		}
		return c.JSON(body)
	})

	post := func(raw string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/standings", strings.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(`{"entity_id": 98000001, "entity_type": "corporation", "standing": 5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(`{"entity_id": `)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid request body", decodeMap(t, resp)["error"])

	resp = post(``)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "an empty body still validates")
	assert.Equal(t, models.CodeValidation, decodeMap(t, resp)["code"])
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		wantText string
	}{
		{"not found", models.NewNotFoundError("Standing request", 7), http.StatusNotFound, models.CodeNotFound, ""},
		{"invalid state", models.NewInvalidStateError("already approved"), http.StatusConflict, models.CodeInvalidState, "already approved"},
		{"transient", models.NewTransientError("ESI unavailable", nil), http.StatusServiceUnavailable, models.CodeTransient, ""},
		{"unexpected", errors.New("pq: connection reset"), http.StatusInternalServerError, models.CodeInternal, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeMap(t, resp)
			assert.Equal(t, tt.code, body["code"])
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, body["error"])
			}
		})
	}
}

func TestReadinessCheck_DatabaseDown(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	s := &Server{db: gormDB}
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeMap(t, resp)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "unhealthy", body["checks"].(map[string]any)["database"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadinessCheck_DatabaseUp(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	s := &Server{db: gormDB}
	mock.ExpectPing()

	app := fiber.New()
	app.Get("/health/ready", s.ReadinessCheck)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", decodeMap(t, resp)["status"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
