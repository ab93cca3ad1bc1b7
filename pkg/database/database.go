// Package database owns the Postgres connection pool behind the deployment
// store. The workload is small bursty writes while an orchestration advances
// plus steady point reads from status polling, so the pool is tuned for many
// short-lived acquisitions rather than long transactions.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visgate-ai/deploy-orchestrator/internal/config"
)

// Database wraps the pgx connection pool. Pool is exported because the store
// and the migrator issue their own SQL against it.
type Database struct {
	Pool *pgxpool.Pool
}

func dsn(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// Connect builds the pool from cfg and verifies it with a bounded ping
// before handing it out, so a misconfigured DSN fails at startup rather than
// on the first deployment write.
func Connect(cfg config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health reports whether Postgres is reachable, for the readiness probe.
func (db *Database) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
