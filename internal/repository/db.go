package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations executes the initial schema migration.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS stores (
			id          TEXT PRIMARY KEY,
			shop        TEXT NOT NULL UNIQUE,
			owner_email TEXT NOT NULL DEFAULT '',
			credits     INT  NOT NULL DEFAULT 0 CHECK (credits >= 0),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_stores_shop ON stores(shop);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id               TEXT PRIMARY KEY,
			shop             TEXT NOT NULL,
			subscription_id  TEXT NOT NULL UNIQUE,
			plan_key         TEXT NOT NULL,
			quota            INT  NOT NULL DEFAULT 0,
			credits          INT  NOT NULL DEFAULT 0,
			status           TEXT NOT NULL,
			interval         TEXT NOT NULL DEFAULT '',
			last_credited_at TIMESTAMPTZ,
			store_id         TEXT REFERENCES stores(id) ON DELETE CASCADE,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_shop ON subscriptions(shop);

		CREATE TABLE IF NOT EXISTS tryon_sessions (
			id         TEXT PRIMARY KEY,
			store_id   TEXT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			category   TEXT NOT NULL,
			model_url  TEXT NOT NULL,
			dress_url  TEXT NOT NULL,
			variants   INT  NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tryon_sessions_store_id ON tryon_sessions(store_id);

		CREATE TABLE IF NOT EXISTS tryon_results (
			id         TEXT PRIMARY KEY,
			store_id   TEXT NOT NULL REFERENCES stores(id) ON DELETE CASCADE,
			session_id TEXT NOT NULL REFERENCES tryon_sessions(id) ON DELETE CASCADE,
			task_id    TEXT NOT NULL DEFAULT '',
			result_id  TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'CREATED',
			file_url   TEXT,
			error_msg  TEXT,
			refunded   BOOLEAN NOT NULL DEFAULT FALSE,
			cost       INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tryon_results_session_id ON tryon_results(session_id);
		CREATE INDEX IF NOT EXISTS idx_tryon_results_status ON tryon_results(status);

		CREATE TABLE IF NOT EXISTS platform_sessions (
			shop         TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
