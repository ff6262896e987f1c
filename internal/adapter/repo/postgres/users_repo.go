package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// UserRepo persists users scoped to a tenant.
type UserRepo struct{ Pool PgxPool }

func NewUserRepo(p PgxPool) *UserRepo { return &UserRepo{Pool: p} }

// Create inserts a user. A missing tenant maps to NotFound, a duplicate
// (tenant_id, user_id) pair to Conflict.
func (r *UserRepo) Create(ctx domain.Context, u domain.User) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "insert"),
		attribute.String("db.sql.table", "users"),
	)

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO users (tenant_id, user_id, is_active, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.Pool.Exec(ctx, q, u.TenantID, u.UserID, u.Active, u.CreatedAt); err != nil {
		switch {
		case isPgCode(err, codeUniqueViolation):
			return fmt.Errorf("op=user.create: %w: user %s exists in tenant %s", domain.ErrConflict, u.UserID, u.TenantID)
		case isPgCode(err, codeForeignKeyViolation):
			return fmt.Errorf("op=user.create: %w: tenant %s does not exist", domain.ErrNotFound, u.TenantID)
		}
		return fmt.Errorf("op=user.create: %w", err)
	}
	return nil
}

// Get fetches one user.
func (r *UserRepo) Get(ctx domain.Context, tenantID, userID string) (domain.User, error) {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "select"),
		attribute.String("db.sql.table", "users"),
	)

	q := `SELECT tenant_id, user_id, is_active, created_at FROM users WHERE tenant_id=$1 AND user_id=$2`
	var u domain.User
	err := r.Pool.QueryRow(ctx, q, tenantID, userID).Scan(&u.TenantID, &u.UserID, &u.Active, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, fmt.Errorf("op=user.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("op=user.get: %w", err)
	}
	return u, nil
}

// Delete removes a user; their faces, sessions and counters cascade.
func (r *UserRepo) Delete(ctx domain.Context, tenantID, userID string) error {
	tracer := otel.Tracer("repo.users")
	ctx, span := tracer.Start(ctx, "users.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "delete"),
		attribute.String("db.sql.table", "users"),
	)

	tag, err := r.Pool.Exec(ctx, `DELETE FROM users WHERE tenant_id=$1 AND user_id=$2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("op=user.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=user.delete: %w", domain.ErrNotFound)
	}
	return nil
}
