package service

import (
	"context"

	"standings/internal/cache"
	"standings/internal/models"
	"standings/internal/repository"
)

// StandingView is an approved standing with its resolved display name.
type StandingView struct {
	models.StandingsEntry
	Name string `json:"name"`
}

// StandingsPage is one page of the standings list.
type StandingsPage struct {
	Items []StandingView `json:"items"`
	Total int64          `json:"total"`
}

// MyProposals lists everything a user has submitted.
type MyProposals struct {
	Requests    []models.StandingRequest    `json:"requests"`
	Revocations []models.StandingRevocation `json:"revocations"`
}

// AuditPage is one page of the audit log.
type AuditPage struct {
	Items []models.AuditLogEntry `json:"items"`
	Total int64                  `json:"total"`
}

// ListStandings returns approved standings with names. Unfiltered first pages are served from
// the shared cache.
func (s *WorkflowService) ListStandings(ctx context.Context, filter repository.StandingsFilter) (StandingsPage, error) {
	var page StandingsPage
	load := func() error {
		entries, total, err := s.repos.Standings.List(ctx, filter)
		if err != nil {
			return err
		}
		page = StandingsPage{Items: s.withNames(ctx, entries), Total: total}
		return nil
	}

	if filter.EntityType == "" && filter.Page == (repository.Page{}) {
		err := cache.Aside(ctx, cache.StandingsKey, &page, cache.StandingsTTL, load)
		return page, err
	}
	return page, load()
}

func (s *WorkflowService) withNames(ctx context.Context, entries []models.StandingsEntry) []StandingView {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.EntityID
	}
	var names map[int64]string
	if s.names != nil {
		names = s.names.Names(ctx, ids)
	}

	out := make([]StandingView, len(entries))
	for i, e := range entries {
		out[i] = StandingView{StandingsEntry: e, Name: names[e.EntityID]}
	}
	return out
}

// ListPendingRequests returns pending requests, oldest first.
func (s *WorkflowService) ListPendingRequests(ctx context.Context, page repository.Page) ([]models.StandingRequest, error) {
	return s.repos.Requests.List(ctx, repository.ProposalFilter{State: models.RequestStatePending, Page: page})
}

// ListPendingRevocations returns pending revocations, oldest first.
func (s *WorkflowService) ListPendingRevocations(ctx context.Context, page repository.Page) ([]models.StandingRevocation, error) {
	return s.repos.Revocations.List(ctx, repository.ProposalFilter{State: models.RequestStatePending, Page: page})
}

// ListMyProposals returns the requests and revocations userID submitted, in any state.
func (s *WorkflowService) ListMyProposals(ctx context.Context, userID uint) (MyProposals, error) {
	reqs, err := s.repos.Requests.List(ctx, repository.ProposalFilter{UserID: userID})
	if err != nil {
		return MyProposals{}, err
	}
	revs, err := s.repos.Revocations.List(ctx, repository.ProposalFilter{UserID: userID})
	if err != nil {
		return MyProposals{}, err
	}
	return MyProposals{Requests: reqs, Revocations: revs}, nil
}

// ListAuditLog returns audit entries newest first. The viewer needs the audit permission.
func (s *WorkflowService) ListAuditLog(ctx context.Context, viewerID uint, filter repository.AuditFilter) (AuditPage, error) {
	if err := s.requirePermission(ctx, viewerID, models.PermViewAuditLog); err != nil {
		return AuditPage{}, err
	}
	entries, total, err := s.repos.Audit.List(ctx, filter)
	if err != nil {
		return AuditPage{}, err
	}
	return AuditPage{Items: entries, Total: total}, nil
}
