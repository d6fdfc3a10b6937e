package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-frontdesk/internal/appointments"
	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/queue"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// UsesMemory reports whether the process runs without Postgres.
func UsesMemory(cfg *appconfig.Config) bool {
	return cfg == nil || cfg.UseMemoryStore || strings.TrimSpace(cfg.DatabaseURL) == ""
}

// LoadLocation resolves the clinic calendar timezone, defaulting to UTC.
func LoadLocation(cfg *appconfig.Config) (*time.Location, error) {
	if cfg == nil || strings.TrimSpace(cfg.QueueTimezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(strings.TrimSpace(cfg.QueueTimezone))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load timezone %q: %w", cfg.QueueTimezone, err)
	}
	return loc, nil
}

// BuildQueueStore opens the pgx pool backing the queue store, or returns the
// in-memory store when no database is configured. The pool is nil in memory mode.
func BuildQueueStore(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (queue.Store, *pgxpool.Pool, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var lockTimeout time.Duration
	if cfg != nil {
		lockTimeout = cfg.QueueLockTimeout
	}
	if UsesMemory(cfg) {
		logger.Warn("queue store running in memory; state is lost on restart")
		return queue.NewMemoryStore(lockTimeout), nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: open queue pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("bootstrap: ping queue pool: %w", err)
	}
	logger.Info("queue store connected to postgres")
	return queue.NewPostgresStore(pool, lockTimeout), pool, nil
}

// OpenSQLDB opens a database/sql handle over the pgx driver. It returns nil in
// memory mode.
func OpenSQLDB(ctx context.Context, cfg *appconfig.Config) (*sql.DB, error) {
	if UsesMemory(cfg) {
		return nil, nil
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: ping database: %w", err)
	}
	return db, nil
}

// BuildAppointmentsRepository picks the SQL repository when a handle is
// available and falls back to memory otherwise.
func BuildAppointmentsRepository(db *sql.DB) appointments.Repository {
	if db == nil {
		return appointments.NewInMemoryRepository()
	}
	return appointments.NewSQLRepository(db)
}
