package seed

import (
	"context"
	"fmt"
	"log/slog"

	"standings/internal/models"
	"standings/internal/repository"
)

// Options configuration for the seeder
type Options struct {
	Members           int
	CharactersPerUser int
	Corporations      int
	PendingRequests   int
	Seed              int64
}

// DefaultOptions is a small demo dataset.
func DefaultOptions() Options {
	return Options{Members: 5, CharactersPerUser: 2, Corporations: 3, PendingRequests: 3}
}

// Summary counts what Run created.
type Summary struct {
	Users            int `json:"users" yaml:"users"`
	Characters       int `json:"characters" yaml:"characters"`
	Standings        int `json:"standings" yaml:"standings"`
	PendingRequests  int `json:"pending_requests" yaml:"pending_requests"`
	SyncedCharacters int `json:"synced_characters" yaml:"synced_characters"`
}

// Run creates one approver and opts.Members members in a single transaction. Every member's
// first character gets an approved standing and is enrolled for sync; the remaining characters
// carry tokens so corporation requests pass the coverage check. The first
// opts.PendingRequests corporations get a pending request.
func Run(ctx context.Context, repos *repository.Repositories, opts Options) (Summary, error) {
	var sum Summary
	err := repos.Transaction(ctx, func(tx *repository.Repositories) error {
		sum = Summary{}
		f := NewFactory(tx, opts.Seed)

		approver, err := f.CreateUser(ctx, []string{
			models.PermAddSyncedCharacter,
			models.PermApproveStandings,
			models.PermManageStandings,
			models.PermViewAuditLog,
		}, func(u *models.User) { u.Username = "approver_" + u.Username })
		if err != nil {
			return fmt.Errorf("create approver: %w", err)
		}
		sum.Users++

		corps := make([]int64, max(opts.Corporations, 1))
		for i := range corps {
			corps[i] = f.CorporationID()
		}

		for i := 0; i < opts.Members; i++ {
			member, err := f.CreateUser(ctx, []string{models.PermAddSyncedCharacter})
			if err != nil {
				return fmt.Errorf("create member: %w", err)
			}
			sum.Users++

			corp := corps[i%len(corps)]
			for j := 0; j < max(opts.CharactersPerUser, 1); j++ {
				ch, err := f.CreateCharacter(ctx, member, corp)
				if err != nil {
					return fmt.Errorf("create character: %w", err)
				}
				sum.Characters++
				if _, err := f.CreateToken(ctx, ch); err != nil {
					return fmt.Errorf("create token: %w", err)
				}
				if j > 0 {
					continue
				}

				ref := models.EntityRef{ID: ch.CharacterID, Type: models.EntityTypeCharacter}
				if _, err := f.CreateStanding(ctx, ref, member); err != nil {
					return fmt.Errorf("create standing: %w", err)
				}
				sum.Standings++
				if _, err := f.CreateSyncedCharacter(ctx, ch); err != nil {
					return fmt.Errorf("enroll character: %w", err)
				}
				sum.SyncedCharacters++
			}
		}

		for i := 0; i < opts.PendingRequests && i < len(corps); i++ {
			ref := models.EntityRef{ID: corps[i], Type: models.EntityTypeCorporation}
			if _, err := f.CreateRequest(ctx, approver, ref); err != nil {
				return fmt.Errorf("create request: %w", err)
			}
			sum.PendingRequests++
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	slog.InfoContext(ctx, "seed complete",
		"users", sum.Users,
		"characters", sum.Characters,
		"standings", sum.Standings,
		"pending_requests", sum.PendingRequests,
	)
	return sum, nil
}
