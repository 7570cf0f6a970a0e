package infra

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/karmaly/authloader/internal/config"
	"github.com/karmaly/authloader/internal/localstore"
)

// Resources are the backing connections the configuration asks for. Each
// field is nil when not configured.
type Resources struct {
	SQLite   *sql.DB
	Postgres *pgxpool.Pool
	Redis    *redis.Client
}

// Open connects to every backend cfg names. Redis and Postgres are optional
// unless the store driver needs them.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Resources, error) {
	res := &Resources{}

	if cfg.RedisURL != "" {
		client, err := NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.Redis = client
		logger.Info("redis connected")
	}

	if cfg.DatabaseURL != "" {
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.Postgres = pool
		logger.Info("postgres connected")
	}

	if cfg.StoreDriver == config.DriverSQLite {
		db, err := NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			res.Close()
			return nil, err
		}
		res.SQLite = db
		logger.Info("sqlite opened", "path", cfg.SQLitePath)
	}

	switch {
	case cfg.StoreDriver == config.DriverRedis && res.Redis == nil:
		res.Close()
		return nil, fmt.Errorf("store driver redis needs REDIS_URL")
	case cfg.StoreDriver == config.DriverPostgres && res.Postgres == nil:
		res.Close()
		return nil, fmt.Errorf("store driver postgres needs DATABASE_URL")
	}
	return res, nil
}

// Close releases every open connection.
func (r *Resources) Close() {
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
	if r.Postgres != nil {
		r.Postgres.Close()
	}
	if r.SQLite != nil {
		_ = r.SQLite.Close()
	}
}

// StoreDriver returns the local store backend for the configured driver.
func (r *Resources) StoreDriver(ctx context.Context, driver string) (localstore.Driver, error) {
	switch driver {
	case config.DriverMemory:
		return localstore.NewMemoryDriver(), nil
	case config.DriverSQLite:
		if r.SQLite == nil {
			return nil, fmt.Errorf("sqlite is not open")
		}
		d, err := localstore.NewSQLiteDriver(ctx, r.SQLite)
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DriverRedis:
		if r.Redis == nil {
			return nil, fmt.Errorf("redis is not connected")
		}
		return localstore.NewRedisDriver(r.Redis), nil
	case config.DriverPostgres:
		if r.Postgres == nil {
			return nil, fmt.Errorf("postgres is not connected")
		}
		d, err := localstore.NewPostgresDriver(ctx, r.Postgres)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Checks returns a ping per open backend for the health endpoint.
func (r *Resources) Checks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if r.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() }
	}
	if r.Postgres != nil {
		checks["postgres"] = r.Postgres.Ping
	}
	if r.SQLite != nil {
		checks["sqlite"] = r.SQLite.PingContext
	}
	return checks
}
