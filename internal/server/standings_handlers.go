package server

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"standings/internal/models"
	"standings/internal/repository"

	"github.com/gofiber/fiber/v2"
)

type addStandingBody struct {
	EntityID   int64   `json:"entity_id" validate:"gt=0"`
	EntityType string  `json:"entity_type" validate:"required,entitytype"`
	Standing   float64 `json:"standing" validate:"gte=-10,lte=10"`
	Notes      string  `json:"notes" validate:"max=1000"`
}

type removeStandingBody struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// ListStandings handles GET /api/standings.
func (s *Server) ListStandings(c *fiber.Ctx) error {
	filter := repository.StandingsFilter{Page: parsePagination(c)}
	if raw := c.Query("entity_type"); raw != "" {
		t, err := models.ParseEntityType(raw)
		if err != nil {
			return respondError(c, err)
		}
		filter.EntityType = t
	}

	page, err := s.workflow.ListStandings(c.UserContext(), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(page)
}

// AddStanding handles POST /api/standings. Managers set a standing directly, skipping the
// request workflow.
func (s *Server) AddStanding(c *fiber.Ctx) error {
	var body addStandingBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}
	ref := models.EntityRef{ID: body.EntityID, Type: models.EntityType(strings.ToLower(body.EntityType))}

	entry, err := s.workflow.AddStanding(c.UserContext(), currentUser(c), ref, body.Standing, body.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// RemoveStanding handles DELETE /api/standings/:entityId.
func (s *Server) RemoveStanding(c *fiber.Ctx) error {
	entityID, err := parseEntityID(c, "entityId")
	if err != nil {
		return nil
	}
	var body removeStandingBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}

	if err := s.workflow.RemoveStanding(c.UserContext(), currentUser(c), entityID, body.Notes); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ExportStandings handles GET /api/standings/export.csv.
func (s *Server) ExportStandings(c *fiber.Ctx) error {
	var buf bytes.Buffer
	if _, err := s.workflow.ExportStandingsCSV(c.UserContext(), &buf); err != nil {
		return respondError(c, err)
	}

	filename := fmt.Sprintf("standings_%s.csv", time.Now().UTC().Format("20060102_150405"))
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(buf.Bytes())
}
