// Package db provides a pgxpool-based state backend with prepared statement
// registration and health checking.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/state"
)

// schema is applied by New; it is idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS user_state (
	user_id    TEXT        NOT NULL,
	kind       TEXT        NOT NULL,
	data       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, kind)
)`

// Pool wraps pgxpool.Pool and implements state.Backend.
type Pool struct {
	*pgxpool.Pool
}

// New creates and validates a new connection pool.
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MinConns = int32(cfg.DBPoolMinConns)
	poolCfg.MaxConns = int32(cfg.DBPoolMaxConns)
	poolCfg.MaxConnLifetime = cfg.DBPoolMaxLife
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepared statements reference user_state, so the table must exist
	// before the first pooled connection is opened.
	if err := applySchema(ctx, poolCfg.ConnConfig); err != nil {
		return nil, err
	}

	// Register prepared statements on every new connection.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return registerPreparedStatements(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

func applySchema(ctx context.Context, connCfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connect for schema: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// HealthCheck runs a trivial query to verify the database is reachable.
func (p *Pool) HealthCheck(ctx context.Context) error {
	var n int
	return p.QueryRow(ctx, "health_check").Scan(&n)
}

func (p *Pool) Get(ctx context.Context, userID string, kind state.Kind) ([]byte, error) {
	if err := state.ValidateUserID(userID); err != nil {
		return nil, err
	}
	var data string
	err := p.QueryRow(ctx, "state_get", userID, string(kind)).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	return []byte(data), nil
}

func (p *Pool) Put(ctx context.Context, userID string, kind state.Kind, data []byte) error {
	if err := state.ValidateUserID(userID); err != nil {
		return err
	}
	if _, err := p.Exec(ctx, "state_put", userID, string(kind), string(data)); err != nil {
		return fmt.Errorf("upsert %s: %w", kind, err)
	}
	return nil
}

func (p *Pool) Delete(ctx context.Context, userID string, kind state.Kind) error {
	if _, err := p.Exec(ctx, "state_delete", userID, string(kind)); err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

func (p *Pool) Users(ctx context.Context) ([]string, error) {
	rows, err := p.Query(ctx, "state_users")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// registerPreparedStatements registers all statements the state backend
// uses. Prepared statements eliminate parse overhead on every cycle.
func registerPreparedStatements(ctx context.Context, conn *pgx.Conn) error {
	stmts := map[string]string{
		// Health
		"health_check": "SELECT 1",

		// State documents
		"state_get":    "SELECT data::text FROM user_state WHERE user_id = $1 AND kind = $2",
		"state_put":    "INSERT INTO user_state (user_id, kind, data, updated_at) VALUES ($1, $2, $3::jsonb, NOW()) ON CONFLICT (user_id, kind) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at",
		"state_delete": "DELETE FROM user_state WHERE user_id = $1 AND kind = $2",
		"state_users":  "SELECT DISTINCT user_id FROM user_state ORDER BY user_id",
	}

	for name, sql := range stmts {
		if _, err := conn.Prepare(ctx, name, sql); err != nil {
			return fmt.Errorf("prepare %q: %w", name, err)
		}
	}
	return nil
}
