package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-frontdesk/cmd/mainconfig"
	"github.com/wolfman30/clinic-frontdesk/internal/api/router"
	"github.com/wolfman30/clinic-frontdesk/internal/app/bootstrap"
	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	httpmiddleware "github.com/wolfman30/clinic-frontdesk/internal/http/middleware"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-frontdesk API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadOptionalAWSConfig(ctx, cfg, bootstrap.NeedsAWS(cfg))
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	registry, metricsHandler := setupMetrics()
	app, err := bootstrap.New(ctx, bootstrap.Options{
		Config:      cfg,
		AWS:         awsCfg,
		Logger:      logger,
		Registerer:  registry,
		VerifyRedis: true,
	})
	if err != nil {
		logger.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	limiter := httpmiddleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.RunCleanup(ctx)
	go func() {
		if err := app.Hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("display fan-out stopped", "error", err)
		}
	}()
	go app.Scheduler.Run(ctx)

	srv := newServer(cfg.Port, buildRouter(cfg, app, metricsHandler, limiter, logger))

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		stop()
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server stopped")
}

// setupMetrics returns a private registry with the Go runtime collectors and
// the handler exposing it.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func buildRouter(cfg *appconfig.Config, app *bootstrap.App, metricsHandler http.Handler, limiter *httpmiddleware.RateLimiter, logger *logging.Logger) http.Handler {
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; staff routes are unauthenticated")
	}
	return router.New(&router.Config{
		Logger:              logger,
		QueueHandler:        queue.NewHandler(app.Engine, logger),
		AppointmentsHandler: appointments.NewHandler(app.Appointments, logger),
		DisplayHub:          app.Hub,
		HealthChecks:        app.HealthChecks(),
		MetricsHandler:      metricsHandler,
		AdminAuthSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		PatientRateLimiter:  limiter,
	})
}

// newServer leaves read and write timeouts unset: display websockets stay
// open for the whole clinic day.
func newServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
