package main

import (
	"fmt"

	"standings/internal/middleware"

	"github.com/spf13/cobra"
)

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		characterID int64
		format      string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync contacts for every active character, or one with --character",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctx, release, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer release()

			if characterID != 0 {
				sc, err := rt.Repos.SyncedCharacters.GetByCharacterID(ctx, characterID)
				if err != nil {
					return fmt.Errorf("character %d: %w", characterID, err)
				}
				res, err := rt.Engine.RunCharacter(ctx, sc.ID)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, res)
			}

			res, err := rt.Engine.SyncAll(ctx)
			if err != nil {
				return err
			}
			if res.Offline {
				middleware.Logger.Warn("ESI is offline, nothing was synced", "run_id", res.RunID)
			}
			return render(cmd.OutOrStdout(), format, res)
		},
	}

	cmd.Flags().Int64Var(&characterID, "character", 0, "sync only this EVE character id")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml|json)")
	return cmd
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-check eligibility of every active character",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, ctx, release, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer release()

			res, err := rt.Engine.ValidateAll(ctx)
			if rerr := render(cmd.OutOrStdout(), format, res); rerr != nil {
				return rerr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "yaml", "output format (yaml|json)")
	return cmd
}
