package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL holds the full store schema. Every statement is idempotent so
// EnsureSchema can run on every boot.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id         TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		tenant_id  TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS faces (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		image_ref  TEXT NOT NULL DEFAULT '',
		embedding  REAL[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		FOREIGN KEY (tenant_id, user_id) REFERENCES users (tenant_id, user_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_faces_tenant_user ON faces (tenant_id, user_id)`,
	`CREATE TABLE IF NOT EXISTS viewing_sessions (
		id               TEXT PRIMARY KEY,
		tenant_id        TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		face_id          TEXT,
		start_ts         TIMESTAMPTZ NOT NULL,
		end_ts           TIMESTAMPTZ NOT NULL,
		duration_seconds DOUBLE PRECISION NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		FOREIGN KEY (tenant_id, user_id) REFERENCES users (tenant_id, user_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_start ON viewing_sessions (tenant_id, start_ts)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_tenant_user_start ON viewing_sessions (tenant_id, user_id, start_ts)`,
	`CREATE TABLE IF NOT EXISTS visit_counters (
		tenant_id   TEXT NOT NULL,
		user_id     TEXT NOT NULL,
		visit_count BIGINT NOT NULL DEFAULT 0,
		first_seen  TIMESTAMPTZ NOT NULL,
		last_seen   TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, user_id),
		FOREIGN KEY (tenant_id, user_id) REFERENCES users (tenant_id, user_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_counters_tenant_visits ON visit_counters (tenant_id, visit_count)`,
}

// EnsureSchema creates the tables and indexes the service needs.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaDDL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("op=postgres.EnsureSchema: %w", err)
		}
	}
	return nil
}
