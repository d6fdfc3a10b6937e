package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-frontdesk/internal/api/router"
	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	"github.com/wolfman30/clinic-frontdesk/internal/archive"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/observability/metrics"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/internal/realtime"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// Options configures New.
type Options struct {
	Config *appconfig.Config
	// AWS is nil when no AWS-backed component is configured.
	AWS    *aws.Config
	Logger *logging.Logger
	// Registerer receives the queue metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
	// VerifyRedis pings Redis at startup and runs without it on failure.
	VerifyRedis bool
}

// App is the wired queue core shared by the API and the reset lambda.
type App struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	Location *time.Location
	Metrics  *metrics.QueueMetrics

	Store        queue.Store
	Pool         *pgxpool.Pool
	DB           *sql.DB
	Redis        *redis.Client
	Appointments *appointments.Service
	Dispatcher   *queue.Dispatcher
	Engine       *queue.Engine
	Hub          *realtime.Hub
	Archive      *archive.Store
	Scheduler    *queue.ResetScheduler
}

// New wires storage, the engine, notifications, live displays and the reset
// scheduler. Call Close when done.
func New(ctx context.Context, opts Options) (_ *App, err error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	loc, err := LoadLocation(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		Logger:   logger,
		Location: loc,
		Metrics:  metrics.NewQueueMetrics(opts.Registerer),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Store, app.Pool, err = BuildQueueStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	app.DB, err = OpenSQLDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Appointments = appointments.NewService(BuildAppointmentsRepository(app.DB), logger)

	notifier, err := BuildNotifier(cfg, opts.AWS, NewAppointmentContacts(app.Appointments), logger)
	if err != nil {
		return nil, err
	}
	app.Dispatcher = queue.NewDispatcher(notifier, logger, app.Metrics)

	app.Engine, err = queue.NewEngine(queue.Config{
		Store:         app.Store,
		Directory:     app.Appointments,
		Gate:          app.Appointments,
		Dispatcher:    app.Dispatcher,
		Location:      loc,
		MaxFastTracks: cfg.QueueMaxFastTracks,
		Logger:        logger,
		Metrics:       app.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: build engine: %w", err)
	}
	app.Appointments.WithQueue(app.Engine)

	app.Hub = realtime.NewHub(app.Engine, logger).WithMetrics(app.Metrics)
	if app.Redis = BuildRedisClient(ctx, cfg, logger, opts.VerifyRedis); app.Redis != nil {
		app.Hub.WithBroker(realtime.NewRedisBroker(app.Redis, realtime.DefaultChannel, logger))
	}
	app.Dispatcher.AddListener(app.Hub)

	app.Scheduler = queue.NewResetScheduler(app.Engine, loc, logger).
		WithRetryInterval(cfg.QueueResetRetryInterval)
	if opts.AWS != nil && strings.TrimSpace(cfg.ArchiveBucket) != "" {
		app.Archive = archive.NewStore(s3.NewFromConfig(*opts.AWS), cfg.ArchiveBucket, app.Store, logger)
		app.Scheduler.WithHook(app.Archive)
		logger.Info("queue history archived to s3", "bucket", cfg.ArchiveBucket)
	}
	return app, nil
}

// HealthChecks lists the dependencies /health probes.
func (a *App) HealthChecks() map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if a.Pool != nil {
		checks["postgres"] = a.Pool.Ping
	}
	if a.DB != nil {
		checks["appointments_db"] = a.DB.PingContext
	}
	if a.Redis != nil {
		client := a.Redis
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}

// Close waits for in-flight notifications and releases connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.Dispatcher.Wait()
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Warn("failed to close database", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
