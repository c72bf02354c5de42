// Package middleware provides authentication and authorization middleware for the application.
package middleware

import (
	"context"
	"strconv"
	"strings"

	"standings/internal/config"
	"standings/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var cfg *config.Config

// InitMiddleware initializes authentication middleware with the given config.
func InitMiddleware(c *config.Config) {
	cfg = c
}

// PermissionLookup answers whether a user holds a permission codename.
type PermissionLookup interface {
	HasPermission(ctx context.Context, userID uint, codename string) (bool, error)
}

// AuthRequired is a middleware that enforces authentication for protected routes.
// Tokens are issued by the hosting application; the "sub" claim carries the user ID.
func AuthRequired(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Authorization header required"))
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("Invalid authorization header format"))
	}

	userID, err := ParseUserToken(parts[1])
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	c.Locals("userID", userID)
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))

	return c.Next()
}

// ParseUserToken validates a bearer token and returns the user id in its "sub" claim.
func ParseUserToken(tokenString string) (uint, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return 0, models.NewUnauthorizedError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, models.NewUnauthorizedError("Invalid token claims")
	}

	// "sub" per RFC 7519
	subStr, ok := claims["sub"].(string)
	if !ok || subStr == "" {
		return 0, models.NewUnauthorizedError("Invalid token structure - missing subject")
	}

	userIDVal, err := strconv.ParseUint(subStr, 10, 32)
	if err != nil || userIDVal == 0 {
		return 0, models.NewUnauthorizedError("Invalid user ID in token")
	}
	return uint(userIDVal), nil
}

// UserID returns the authenticated user ID stored by AuthRequired.
func UserID(c *fiber.Ctx) (uint, bool) {
	id, ok := c.Locals("userID").(uint)
	return id, ok && id != 0
}

// RequirePermission rejects requests whose user lacks codename. It must run after AuthRequired.
func RequirePermission(perms PermissionLookup, codename string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, ok := UserID(c)
		if !ok {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthorizedError("authentication required"))
		}

		allowed, err := perms.HasPermission(c.UserContext(), userID, codename)
		if err != nil {
			return models.RespondWithError(c, models.StatusFor(err), err)
		}
		if !allowed {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("missing permission "+codename))
		}
		return c.Next()
	}
}
