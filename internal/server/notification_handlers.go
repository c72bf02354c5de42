package server

import (
	"strings"

	"standings/internal/middleware"
	"standings/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// UpgradeNotifications authenticates a notification stream handshake. The token comes from
// the Authorization header or the "token" query parameter.
func (s *Server) UpgradeNotifications(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return models.RespondWithError(c, fiber.StatusUpgradeRequired,
			models.NewValidationError("websocket upgrade required"))
	}

	token := c.Query("token")
	if h := c.Get("Authorization"); token == "" && strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized,
			models.NewUnauthorizedError("token required"))
	}
	userID, err := middleware.ParseUserToken(token)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	}

	c.Locals("userID", userID)
	return c.Next()
}

// NotificationStream relays the user's notifications until the peer disconnects.
func (s *Server) NotificationStream(conn *websocket.Conn) {
	userID, _ := conn.Locals("userID").(uint)
	client, err := s.hub.Register(userID, conn)
	if err != nil {
		_ = conn.WriteJSON(models.ErrorResponse{Error: err.Error(), Code: "CONNECTION_LIMIT"})
		_ = conn.Close()
		return
	}

	go client.WritePump()
	client.ReadPump()
}
