package server

import (
	"context"
	"log/slog"
	"time"

	"standings/internal/config"
	"standings/internal/featureflags"
	"standings/internal/middleware"
	"standings/internal/models"
	"standings/internal/notifications"
	"standings/internal/repository"
	"standings/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the already-initialized dependencies the server routes to.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Repos    *repository.Repositories
	Workflow *service.WorkflowService
	Engine   *service.SyncService
	Flags    *featureflags.Manager
	// Hub serves the notification stream; nil leaves the route unregistered.
	Hub *notifications.Hub
}

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	repos          *repository.Repositories
	workflow       *service.WorkflowService
	engine         *service.SyncService
	flags          *featureflags.Manager
	hub            *notifications.Hub
}

// NewServer creates a Server using already-initialized dependencies. Connections are opened
// by the bootstrap layer or by tests.
func NewServer(cfg *config.Config, deps Deps) *Server {
	middleware.InitMiddleware(cfg)
	return &Server{
		config:         cfg,
		db:             deps.DB,
		redis:          deps.Redis,
		promMiddleware: middleware.InitMetrics("standings-api"),
		repos:          deps.Repos,
		workflow:       deps.Workflow,
		engine:         deps.Engine,
		flags:          deps.Flags,
		hub:            deps.Hub,
	}
}

// App builds the fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName: "Standings API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			return respondError(c, err)
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.TracingMiddleware())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected browser requests still carry CORS headers.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Path() == "/metrics"
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(models.ErrorResponse{
				Error: "Too many requests, please try again later.",
				Code:  "RATE_LIMITED",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	// Browsers cannot set headers on a websocket handshake, so the stream authenticates itself.
	if s.hub != nil {
		app.Get("/ws/notifications", s.UpgradeNotifications, websocket.New(s.NotificationStream))
	}

	api := app.Group("/api", middleware.AuthRequired)
	perm := func(codename string) fiber.Handler {
		return middleware.RequirePermission(s.repos.Users, codename)
	}

	// Define specific routes BEFORE generic /:id routes
	standings := api.Group("/standings")
	standings.Get("/", s.ListStandings)
	standings.Get("/export.csv", s.requireFlag(featureflags.CSVExport), perm(models.PermManageStandings), s.ExportStandings)
	standings.Post("/", s.requireFlag(featureflags.DirectStandings), s.AddStanding)
	standings.Delete("/:entityId", s.requireFlag(featureflags.DirectStandings), s.RemoveStanding)

	requests := api.Group("/requests")
	requests.Post("/", middleware.RateLimit(s.redis, 20, time.Hour, "submit_request"), s.SubmitRequest)
	requests.Get("/me", s.GetMyProposals)
	requests.Get("/pending", perm(models.PermApproveStandings), s.GetPendingRequests)
	requests.Post("/bulk/approve", s.BulkApproveRequests)
	requests.Post("/bulk/reject", s.BulkRejectRequests)
	requests.Post("/:id/approve", s.ApproveRequest)
	requests.Post("/:id/reject", s.RejectRequest)

	revocations := api.Group("/revocations")
	revocations.Post("/", middleware.RateLimit(s.redis, 20, time.Hour, "submit_revocation"), s.SubmitRevocation)
	revocations.Get("/pending", perm(models.PermApproveStandings), s.GetPendingRevocations)
	revocations.Post("/bulk/approve", s.BulkApproveRevocations)
	revocations.Post("/bulk/reject", s.BulkRejectRevocations)
	revocations.Post("/:id/approve", s.ApproveRevocation)
	revocations.Post("/:id/reject", s.RejectRevocation)

	synced := api.Group("/synced-characters")
	synced.Get("/", s.GetMySyncedCharacters)
	synced.Get("/all", perm(models.PermManageStandings), s.GetAllSyncedCharacters)
	synced.Post("/", s.AddSyncedCharacter)
	synced.Post("/:id/force-sync",
		s.requireFlag(featureflags.ForceSync),
		middleware.RateLimitWithPolicy(s.redis, 1, time.Minute, middleware.FailOpen, "force_sync", middleware.ParamKey("id")),
		s.ForceSync)
	synced.Delete("/:id", s.RemoveSyncedCharacter)

	api.Get("/audit", s.GetAuditLog)
	api.Get("/feature-flags", s.GetFeatureFlags)
}

// requireFlag hides a route behind a feature flag. Disabled routes answer 404.
func (s *Server) requireFlag(name string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.flags.Enabled(name, currentUser(c)) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("Route", c.Path()))
		}
		return c.Next()
	}
}

// GetFeatureFlags handles GET /api/feature-flags.
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(s.flags.Snapshot(currentUser(c)))
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests. Redis is optional; the API degrades to
// uncached reads and unlimited force-sync without it.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	} else if redisStatus != "healthy" {
		overall = "degraded"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests, waits for detached sync runs, then closes connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Shutdown()
	}
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if s.engine != nil {
		done := make(chan struct{})
		go func() {
			s.engine.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			middleware.Logger.Warn("shutdown deadline reached with sync runs in flight")
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}
	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("server shutdown complete")
	return nil
}
