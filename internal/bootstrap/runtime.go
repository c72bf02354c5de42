// Package bootstrap wires the configured runtime shared by the server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"standings/internal/cache"
	"standings/internal/config"
	"standings/internal/database"
	"standings/internal/esi"
	"standings/internal/featureflags"
	"standings/internal/models"
	"standings/internal/names"
	"standings/internal/notifications"
	"standings/internal/repository"
	"standings/internal/scheduler"
	"standings/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Job names used for scheduler locks and metrics.
const (
	JobRegularSync       = "run_regular_sync"
	JobRegularValidation = "run_regular_validation"
)

// Options control runtime initialization behavior.
type Options struct {
	// SkipRedis leaves the cache, notifier and locks without a client.
	SkipRedis bool
}

// Runtime holds every long-lived dependency.
type Runtime struct {
	Config   *config.Config
	Settings config.Settings
	DB       *gorm.DB
	Redis    *redis.Client
	Repos    *repository.Repositories
	ESI      *esi.Client
	Names    *names.Resolver
	Notifier *notifications.Notifier
	Hub      *notifications.Hub
	Engine   *service.SyncService
	Workflow *service.WorkflowService
	Flags    *featureflags.Manager
}

// InitRuntime connects to DB and Redis and builds the services on top of them.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	settings, err := cfg.Standings.Settings()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	// Redis is optional; the client stays nil when unreachable.
	if !opts.SkipRedis {
		cache.InitRedis(cfg.RedisURL)
	}
	rdb := cache.GetClient()

	flags, err := featureflags.NewManager(cfg.FeatureFlags)
	if err != nil {
		slog.WarnContext(ctx, "feature flags", slog.String("error", err.Error()))
	}

	repos := repository.New(db)
	client := esi.New(cfg.ESI)
	resolver := names.NewResolver(client, 0, 0)
	notifier := notifications.NewNotifier(rdb)
	validator := service.NewValidator(repos, settings)
	engine := service.NewSyncService(repos, client, validator, settings, notifier)
	workflow := service.NewWorkflowService(repos, validator, settings, notifier, engine, resolver)

	if err := ensureDevRootAdmin(ctx, cfg, repos); err != nil {
		return nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
	}

	return &Runtime{
		Config:   cfg,
		Settings: settings,
		DB:       db,
		Redis:    rdb,
		Repos:    repos,
		ESI:      client,
		Names:    resolver,
		Notifier: notifier,
		Hub:      notifications.NewHub(),
		Engine:   engine,
		Workflow: workflow,
		Flags:    flags,
	}, nil
}

// Jobs returns the periodic jobs. Each run is bounded by the configured sync timeout.
func (r *Runtime) Jobs() []scheduler.Job {
	return []scheduler.Job{
		{Name: JobRegularSync, Interval: r.Settings.SyncInterval, Run: r.bounded(r.Engine.RunRegularSync)},
		{Name: JobRegularValidation, Interval: r.Settings.ValidateInterval, Run: r.bounded(r.Engine.RunRegularValidation)},
	}
}

// Scheduler returns a scheduler for Jobs locked through Redis.
func (r *Runtime) Scheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.NewRedisLocker(r.Redis), r.Jobs()...)
}

func (r *Runtime) bounded(run func(context.Context) error) func(context.Context) error {
	timeout := r.Settings.SyncTimeout
	return func(ctx context.Context) error {
		if timeout <= 0 {
			return run(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return run(ctx)
	}
}

// Close waits for background syncs, bounded by ctx, then releases connections.
func (r *Runtime) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.Engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.WarnContext(ctx, "background syncs still running at shutdown")
	}

	var errs []error
	if sqlDB, err := r.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}

var rootPermissions = []string{
	models.PermAddSyncedCharacter,
	models.PermApproveStandings,
	models.PermManageStandings,
	models.PermViewAuditLog,
}

// ensureDevRootAdmin creates or refreshes a development account holding every permission.
func ensureDevRootAdmin(ctx context.Context, cfg *config.Config, repos *repository.Repositories) error {
	if cfg == nil || repos == nil {
		return nil
	}
	if !strings.EqualFold(cfg.Env, "development") || !cfg.DevBootstrapRoot {
		return nil
	}

	username := strings.TrimSpace(cfg.DevRootUsername)
	if username == "" {
		username = "standings_root"
	}

	err := repos.Transaction(ctx, func(tx *repository.Repositories) error {
		root, err := tx.Users.GetByUsername(ctx, username)
		switch {
		case models.HasCode(err, models.CodeNotFound):
			root = &models.User{Username: username, State: "member"}
			if err := tx.Users.Create(ctx, root); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		for _, p := range rootPermissions {
			if err := tx.Users.Grant(ctx, root.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "development root admin bootstrap ensured", slog.String("username", username))
	return nil
}
