package main

import (
	"errors"

	"standings/internal/seed"

	"github.com/spf13/cobra"
)

func newSeedCommand(opts *rootOptions) *cobra.Command {
	seedOpts := seed.DefaultOptions()
	var format string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create demo users, characters, standings and requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.cfg.IsProduction() {
				return errors.New("refusing to seed a production database")
			}
			rt, ctx, release, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer release()

			sum, err := seed.Run(ctx, rt.Repos, seedOpts)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), format, sum)
		},
	}

	f := cmd.Flags()
	f.IntVar(&seedOpts.Members, "members", seedOpts.Members, "member accounts to create")
	f.IntVar(&seedOpts.CharactersPerUser, "characters", seedOpts.CharactersPerUser, "characters per member")
	f.IntVar(&seedOpts.Corporations, "corporations", seedOpts.Corporations, "corporations to spread members over")
	f.IntVar(&seedOpts.PendingRequests, "pending", seedOpts.PendingRequests, "pending corporation requests")
	f.Int64Var(&seedOpts.Seed, "seed", 0, "random seed (0 picks one)")
	f.StringVar(&format, "format", "yaml", "output format (yaml|json)")
	return cmd
}
