package server

import (
	"context"
	"strings"

	"standings/internal/models"
	"standings/internal/service"
	"standings/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type submitRequestBody struct {
	EntityID   int64    `json:"entity_id" validate:"gt=0"`
	EntityType string   `json:"entity_type" validate:"required,entitytype"`
	Standing   *float64 `json:"standing" validate:"omitempty,gte=-10,lte=10"`
}

func (b submitRequestBody) ref() models.EntityRef {
	return models.EntityRef{ID: b.EntityID, Type: models.EntityType(strings.ToLower(b.EntityType))}
}

type submitRevocationBody struct {
	EntityID   int64  `json:"entity_id" validate:"gt=0"`
	EntityType string `json:"entity_type" validate:"required,entitytype"`
	Reason     string `json:"reason" validate:"revocationreason"`
}

type decisionBody struct {
	Note string `json:"note" validate:"max=1000"`
}

type bulkDecisionBody struct {
	IDs  []uint `json:"ids"`
	Note string `json:"note" validate:"max=1000"`
}

type bulkResponse struct {
	Results   []service.Outcome `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

type decideFunc func(ctx context.Context, approverID, id uint, note string) (service.Outcome, error)

type bulkFunc func(ctx context.Context, approverID uint, ids []uint, note string) []service.Outcome

func (s *Server) decide(c *fiber.Ctx, fn decideFunc) error {
	id, err := parseID(c, "id")
	if err != nil {
		return nil
	}
	var body decisionBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}

	outcome, err := fn(c.UserContext(), currentUser(c), id, body.Note)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(outcome)
}

func (s *Server) decideBulk(c *fiber.Ctx, fn bulkFunc) error {
	var body bulkDecisionBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}
	if err := validation.IDs(body.IDs); err != nil {
		return respondError(c, err)
	}

	results := fn(c.UserContext(), currentUser(c), body.IDs, body.Note)
	ok := service.CountOK(results)
	return c.JSON(bulkResponse{Results: results, Succeeded: ok, Failed: len(results) - ok})
}

// SubmitRequest handles POST /api/requests.
func (s *Server) SubmitRequest(c *fiber.Ctx) error {
	var body submitRequestBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}

	req, err := s.workflow.SubmitRequest(c.UserContext(), currentUser(c), body.ref(), body.Standing)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// GetMyProposals handles GET /api/requests/me.
func (s *Server) GetMyProposals(c *fiber.Ctx) error {
	mine, err := s.workflow.ListMyProposals(c.UserContext(), currentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(mine)
}

// GetPendingRequests handles GET /api/requests/pending.
func (s *Server) GetPendingRequests(c *fiber.Ctx) error {
	reqs, err := s.workflow.ListPendingRequests(c.UserContext(), parsePagination(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(reqs)
}

// ApproveRequest handles POST /api/requests/:id/approve.
func (s *Server) ApproveRequest(c *fiber.Ctx) error {
	return s.decide(c, s.workflow.ApproveRequest)
}

// RejectRequest handles POST /api/requests/:id/reject.
func (s *Server) RejectRequest(c *fiber.Ctx) error {
	return s.decide(c, s.workflow.RejectRequest)
}

// BulkApproveRequests handles POST /api/requests/bulk/approve.
func (s *Server) BulkApproveRequests(c *fiber.Ctx) error {
	return s.decideBulk(c, s.workflow.BulkApproveRequests)
}

// BulkRejectRequests handles POST /api/requests/bulk/reject.
func (s *Server) BulkRejectRequests(c *fiber.Ctx) error {
	return s.decideBulk(c, s.workflow.BulkRejectRequests)
}

// SubmitRevocation handles POST /api/revocations.
func (s *Server) SubmitRevocation(c *fiber.Ctx) error {
	var body submitRevocationBody
	if err := bindBody(c, &body); err != nil {
		return nil
	}
	ref := models.EntityRef{ID: body.EntityID, Type: models.EntityType(strings.ToLower(body.EntityType))}

	rev, err := s.workflow.SubmitRevocation(c.UserContext(), currentUser(c), ref, models.RevocationReason(body.Reason))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(rev)
}

// GetPendingRevocations handles GET /api/revocations/pending.
func (s *Server) GetPendingRevocations(c *fiber.Ctx) error {
	revs, err := s.workflow.ListPendingRevocations(c.UserContext(), parsePagination(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(revs)
}

// ApproveRevocation handles POST /api/revocations/:id/approve.
func (s *Server) ApproveRevocation(c *fiber.Ctx) error {
	return s.decide(c, s.workflow.ApproveRevocation)
}

// RejectRevocation handles POST /api/revocations/:id/reject.
func (s *Server) RejectRevocation(c *fiber.Ctx) error {
	return s.decide(c, s.workflow.RejectRevocation)
}

// BulkApproveRevocations handles POST /api/revocations/bulk/approve.
func (s *Server) BulkApproveRevocations(c *fiber.Ctx) error {
	return s.decideBulk(c, s.workflow.BulkApproveRevocations)
}

// BulkRejectRevocations handles POST /api/revocations/bulk/reject.
func (s *Server) BulkRejectRevocations(c *fiber.Ctx) error {
	return s.decideBulk(c, s.workflow.BulkRejectRevocations)
}
