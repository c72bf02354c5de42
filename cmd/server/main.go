// Command server runs the standings HTTP API and its periodic sync jobs.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"standings/internal/bootstrap"
	"standings/internal/config"
	"standings/internal/middleware"
	"standings/internal/observability"
	"standings/internal/server"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional outside development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	middleware.SetLogger(middleware.NewLogger(os.Stdout, cfg.Env, os.Getenv("LOG_LEVEL")))
	slog.SetDefault(middleware.Logger)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "standings-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSamplerRatio,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.InitRuntime(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("Failed to initialize runtime: %v", err)
	}

	sched := rt.Scheduler()
	sched.Start(ctx)

	go func() {
		if err := rt.Hub.Run(ctx, rt.Redis); err != nil {
			middleware.Logger.Error("notification relay stopped", slog.String("error", err.Error()))
		}
	}()

	srv := server.NewServer(cfg, server.Deps{
		DB:       rt.DB,
		Redis:    rt.Redis,
		Repos:    rt.Repos,
		Workflow: rt.Workflow,
		Engine:   rt.Engine,
		Flags:    rt.Flags,
		Hub:      rt.Hub,
	})

	go func() {
		if err := srv.Start(); err != nil {
			middleware.Logger.Error("server stopped", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	middleware.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sched.Wait()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		middleware.Logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	if err := rt.Close(shutdownCtx); err != nil {
		middleware.Logger.Error("runtime close error", slog.String("error", err.Error()))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		middleware.Logger.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
}
