package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"standings/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger(t *testing.T, level string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Logger
	SetLogger(NewLogger(&buf, "production", level))
	t.Cleanup(func() { SetLogger(prev) })
	return &buf
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines[len(lines)-1])
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestCtxHandlerAddsContextValues(t *testing.T) {
	buf := captureLogger(t, "info")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, uint(42))
	ctx = observability.WithCorrelationID(ctx, "run-7")
	Logger.InfoContext(ctx, "approved")

	rec := lastRecord(t, buf)
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, float64(42), rec["user_id"])
	assert.Equal(t, "run-7", rec["correlation_id"])
	assert.NotContains(t, rec, "trace_id")
}

func TestAccessLevel(t *testing.T) {
	assert.Equal(t, slog.LevelError, accessLevel("/api/requests", 200, errors.New("boom")))
	assert.Equal(t, slog.LevelError, accessLevel("/api/requests", 503, nil))
	assert.Equal(t, slog.LevelWarn, accessLevel("/api/requests", 409, nil))
	assert.Equal(t, slog.LevelDebug, accessLevel("/health/ready", 200, nil))
	assert.Equal(t, slog.LevelInfo, accessLevel("/api/standings", 200, nil))
}

func TestStructuredLoggerRecordsRoute(t *testing.T) {
	buf := captureLogger(t, "info")

	app := fiber.New()
	app.Use(requestid.New(), ContextMiddleware(), StructuredLogger())
	app.Post("/api/requests/:id/approve", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusConflict)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/requests/12/approve", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	rec := lastRecord(t, buf)
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "/api/requests/:id/approve", rec["route"])
	assert.Equal(t, "/api/requests/12/approve", rec["path"])
	assert.NotEmpty(t, rec["request_id"])
}
