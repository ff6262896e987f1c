// Package postgres implements the store-side repositories on PostgreSQL.
//
// Each repository wraps a minimal pgx pool, traces its calls, and maps
// database failures onto the domain error taxonomy.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// PgxPool is the slice of pgxpool used by the repos, narrowed for testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Postgres error codes the repos care about.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// TenantRepo persists tenants.
type TenantRepo struct{ Pool PgxPool }

func NewTenantRepo(p PgxPool) *TenantRepo { return &TenantRepo{Pool: p} }

// Create inserts a tenant; an existing id is a Conflict.
func (r *TenantRepo) Create(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Create")
	defer span.End()
	q := `INSERT INTO tenants (id, created_at) VALUES ($1, $2)`
	if _, err := r.Pool.Exec(ctx, q, id, time.Now().UTC()); err != nil {
		if isPgCode(err, codeUniqueViolation) {
			return fmt.Errorf("op=tenant.create: %w: tenant %s exists", domain.ErrConflict, id)
		}
		return fmt.Errorf("op=tenant.create: %w", err)
	}
	return nil
}

// Delete removes a tenant; users, faces, sessions and counters cascade.
func (r *TenantRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Delete")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `DELETE FROM tenants WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=tenant.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=tenant.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// Exists reports whether the tenant is in the store.
func (r *TenantRepo) Exists(ctx domain.Context, id string) (bool, error) {
	tracer := otel.Tracer("repo.tenants")
	ctx, span := tracer.Start(ctx, "tenants.Exists")
	defer span.End()
	var found bool
	row := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id=$1)`, id)
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("op=tenant.exists: %w", err)
	}
	return found, nil
}
