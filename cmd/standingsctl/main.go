// Command standingsctl is the operator CLI: schema migrations, one-off sync and validation
// runs, exports and demo data.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"standings/internal/bootstrap"
	"standings/internal/config"
	"standings/internal/middleware"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	Timeout  time.Duration
	LogLevel string
	cfg      *config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "standingsctl",
		Short:         "Operate the standings service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.cfg = cfg
			middleware.SetLogger(middleware.NewLogger(cmd.ErrOrStderr(), cfg.Env, opts.LogLevel))
			return nil
		},
	}

	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Minute, "overall command timeout")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))

	return cmd
}

// runtime builds the full runtime and returns a release func bound to the command timeout.
func (o *rootOptions) runtime(cmd *cobra.Command) (*bootstrap.Runtime, context.Context, func(), error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	rt, err := bootstrap.InitRuntime(ctx, o.cfg, bootstrap.Options{})
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	release := func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer closeCancel()
		if err := rt.Close(closeCtx); err != nil {
			middleware.Logger.Warn("close runtime", "error", err)
		}
		cancel()
	}
	return rt, ctx, release, nil
}
