package server

import (
	"strconv"

	"standings/internal/models"
	"standings/internal/repository"

	"github.com/gofiber/fiber/v2"
)

type addSyncedCharacterBody struct {
	CharacterID int64 `json:"character_id" validate:"gt=0"`
}

// GetMySyncedCharacters handles GET /api/synced-characters.
func (s *Server) GetMySyncedCharacters(c *fiber.Ctx) error {
	list, err := s.engine.ListSyncedCharacters(c.UserContext(), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// GetAllSyncedCharacters handles GET /api/synced-characters/all.
func (s *Server) GetAllSyncedCharacters(c *fiber.Ctx) error {
	list, err := s.engine.ListAllSyncedCharacters(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(list)
}

// AddSyncedCharacter handles POST /api/synced-characters. The initial sync runs in the
// background; the response carries the enrollment as stored.
func (s *Server) AddSyncedCharacter(c *fiber.Ctx) error {
	var body addSyncedCharacterBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}

	sc, err := s.engine.AddSyncedCharacter(c.UserContext(), currentUser(c), body.CharacterID)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sc)
}

// RemoveSyncedCharacter handles DELETE /api/synced-characters/:id.
func (s *Server) RemoveSyncedCharacter(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.engine.RemoveSyncedCharacter(c.UserContext(), currentUser(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ForceSync handles POST /api/synced-characters/:id/force-sync. It runs the sync inline and
// reports its result.
func (s *Server) ForceSync(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	res, err := s.engine.ForceSync(c.UserContext(), currentUser(c), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// GetAuditLog handles GET /api/audit.
func (s *Server) GetAuditLog(c *fiber.Ctx) error {
	filter := repository.AuditFilter{
		Action:     models.AuditAction(c.Query("action")),
		SystemOnly: c.QueryBool("system", false),
		Page:       parsePagination(c),
	}
	if raw := c.Query("entity_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return respondError(c, models.NewValidationError("entity_id must be a positive integer"))
		}
		filter.EntityID = id
	}
	if raw := c.Query("actor_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			return respondError(c, models.NewValidationError("actor_id must be a positive integer"))
		}
		actor := uint(id)
		filter.ActorUserID = &actor
	}
	since, err := parseSince(c, "since")
	if err != nil {
		return nil
	}
	filter.Since = since

	page, err := s.workflow.ListAuditLog(c.UserContext(), currentUser(c), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}
