// Package store is the optional Postgres audit trail: protocol sessions,
// draft versions, and agent activity logs. It is a reporting sink, never a
// source of truth; the Redis checkpoints own run correctness.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store wraps the audit database.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres, applies pool limits, and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the audit tables if they do not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS protocol_sessions (
			thread_id      TEXT PRIMARY KEY,
			intent         TEXT NOT NULL,
			status         TEXT NOT NULL,
			latest_draft   TEXT,
			safety_score   DOUBLE PRECISION,
			empathy_score  DOUBLE PRECISION,
			iteration      INTEGER NOT NULL DEFAULT 0,
			final_protocol TEXT,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS draft_versions (
			id            BIGSERIAL PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			version_index INTEGER NOT NULL,
			content       TEXT NOT NULL,
			safety_score  DOUBLE PRECISION,
			empathy_score DOUBLE PRECISION,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (thread_id, version_index)
		)`,
		`CREATE TABLE IF NOT EXISTS agent_logs (
			id         BIGSERIAL PRIMARY KEY,
			thread_id  TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			phase      TEXT NOT NULL,
			message    TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_logs_thread ON agent_logs (thread_id)`,
		`CREATE INDEX IF NOT EXISTS idx_draft_versions_thread ON draft_versions (thread_id)`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
