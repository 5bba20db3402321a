package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a Postgres connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info().Str("database", config.ConnConfig.Database).Msg("postgres: pool ready")
	return &Pool{Pool: pool}, nil
}

// Migrate creates the schema if it does not exist yet.
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS qualified_wallets (
		address       TEXT PRIMARY KEY,
		qualified_at  TIMESTAMPTZ NOT NULL,
		priority      DOUBLE PRECISION NOT NULL,
		tier          TEXT NOT NULL,
		metrics       JSONB NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id            TEXT PRIMARY KEY,
		token         TEXT NOT NULL,
		source_wallet TEXT NOT NULL,
		state         TEXT NOT NULL,
		detail        JSONB NOT NULL,
		opened_at     TIMESTAMPTZ NOT NULL,
		closed_at     TIMESTAMPTZ,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS positions_state_idx ON positions (state)`,
	`CREATE TABLE IF NOT EXISTS signal_queue (
		id            TEXT PRIMARY KEY,
		source_wallet TEXT NOT NULL,
		token         TEXT NOT NULL,
		sol_amount    NUMERIC NOT NULL,
		detected_at   TIMESTAMPTZ NOT NULL,
		consumed      BOOLEAN NOT NULL DEFAULT FALSE,
		status        TEXT NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
