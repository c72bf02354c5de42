package esi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"standings/internal/models"
)

// StatusError is a non-2xx response from ESI.
type StatusError struct {
	Method     string
	Route      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("esi %s %s: status %d: %s", e.Method, e.Route, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("esi %s %s: status %d", e.Method, e.Route, e.StatusCode)
}

// Retryable reports whether the status signals a transient condition.
// 420 is ESI's error-limit response.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case 420, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// Auth reports whether ESI rejected the token or its scopes.
func (e *StatusError) Auth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// classify maps a final call error onto the application error codes.
func classify(ctx context.Context, req request, err error) error {
	var serr *StatusError
	if errors.As(err, &serr) {
		switch {
		case serr.Auth():
			return models.NewAuthError(fmt.Sprintf("ESI rejected the token for %s %s", req.method, req.route), serr)
		case serr.Retryable():
			return models.NewTransientError(fmt.Sprintf("ESI %s %s still failing after retries", req.method, req.route), serr)
		default:
			// The request itself was refused for this character; other characters are unaffected.
			return &models.AppError{
				Code:    models.CodeValidation,
				Message: fmt.Sprintf("ESI rejected %s %s with status %d", req.method, req.route, serr.StatusCode),
				Err:     serr,
			}
		}
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return models.NewTransientError(fmt.Sprintf("ESI %s %s cancelled", req.method, req.route), err)
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	// Network failures and per-attempt timeouts.
	return models.NewTransientError(fmt.Sprintf("ESI %s %s unreachable", req.method, req.route), err)
}
