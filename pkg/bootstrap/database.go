package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"herald/internal/config"
	"herald/internal/logger"
	"herald/pkg/migrations"
)

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitRedis connects to database.redis.db. It returns nil without error when
// no Redis host is configured.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	return dc.connectRedis(ctx, dc.Config.Database.Redis.DB)
}

// InitRegistryRedis connects to the database shared by every service's agent
// registry (registry.redis_db) on the same Redis server.
func (dc *DatabaseConnector) InitRegistryRedis(ctx context.Context) (*redis.Client, error) {
	return dc.connectRedis(ctx, dc.Config.Registry.RedisDB)
}

// SharesRegistryRedis reports whether the client from InitRedis can serve the
// registry as well.
func (dc *DatabaseConnector) SharesRegistryRedis() bool {
	return dc.Config.Registry.RedisDB == dc.Config.Database.Redis.DB
}

func RedisOptions(cfg config.RedisConfig, db int) *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       db,
	}
}

func (dc *DatabaseConnector) connectRedis(ctx context.Context, db int) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(RedisOptions(dc.Config.Database.Redis, db))

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.InfowCtx(ctx, "Redis connected successfully", "db", db)
	return rdb, nil
}

// PostgresDSN builds the lib/pq connection URL for cfg.
func PostgresDSN(cfg config.PostgresConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.SSLMode,
	)
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres

	db, err := sql.Open("postgres", PostgresDSN(pg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if pg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pg.MaxOpenConns)
	}
	if pg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pg.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.Up(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		dc.Logger.InfowCtx(ctx, "Database migrations applied")
	}

	dc.Logger.InfowCtx(ctx, "PostgreSQL connected successfully", "host", pg.Host, "database", pg.DBName)
	return db, nil
}

// ShutdownDatabases closes every non-nil Redis client, then Postgres.
func (dc *DatabaseConnector) ShutdownDatabases(postgres *sql.DB, clients ...*redis.Client) []error {
	var errs []error

	for _, rdb := range clients {
		if rdb == nil {
			continue
		}
		if err := rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if postgres != nil {
		if err := postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	return errs
}
