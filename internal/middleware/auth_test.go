package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"standings/internal/config"
	"standings/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func generateToken(t *testing.T, sub string, exp time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(exp).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func TestAuthRequired(t *testing.T) {
	app := fiber.New()
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	app.Get("/test", AuthRequired, func(c *fiber.Ctx) error {
		userID, _ := UserID(c)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"userID": userID})
	})

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
		expectedUserID uint
	}{
		{
			name:           "Happy Path",
			authHeader:     "Bearer " + generateToken(t, strconv.Itoa(123), time.Hour),
			expectedStatus: http.StatusOK,
			expectedUserID: 123,
		},
		{
			name:           "Missing Header",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid Format",
			authHeader:     "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Malformed Token",
			authHeader:     "Bearer malformed.token.here",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired Token",
			authHeader:     "Bearer " + generateToken(t, "123", -time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Non-numeric Subject",
			authHeader:     "Bearer " + generateToken(t, "pilot", time.Hour),
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			resp, err := app.Test(req)
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, float64(tt.expectedUserID), body["userID"])
			} else {
				assert.Equal(t, models.CodeUnauthorized, body["code"])
			}
		})
	}
}

type permStub struct {
	granted map[uint][]string
	err     error
}

func (p permStub) HasPermission(_ context.Context, userID uint, codename string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	for _, c := range p.granted[userID] {
		if c == codename {
			return true, nil
		}
	}
	return false, nil
}

func TestRequirePermission(t *testing.T) {
	InitMiddleware(&config.Config{JWTSecret: testSecret})

	tests := []struct {
		name   string
		perms  permStub
		sub    string
		status int
	}{
		{"granted", permStub{granted: map[uint][]string{7: {models.PermApproveStandings}}}, "7", http.StatusOK},
		{"missing", permStub{granted: map[uint][]string{7: {models.PermViewAuditLog}}}, "7", http.StatusForbidden},
		{"lookup failure", permStub{err: models.NewInternalError(errors.New("db down"))}, "7", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/approve", AuthRequired, RequirePermission(tt.perms, models.PermApproveStandings), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/approve", nil)
			req.Header.Set("Authorization", "Bearer "+generateToken(t, tt.sub, time.Hour))
			resp, err := app.Test(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
