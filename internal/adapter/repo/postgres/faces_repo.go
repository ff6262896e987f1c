package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// FaceRepo persists enrolled face samples with their embeddings.
type FaceRepo struct{ Pool PgxPool }

func NewFaceRepo(p PgxPool) *FaceRepo { return &FaceRepo{Pool: p} }

// Create inserts a face. A missing owner maps to NotFound, a duplicate id
// to Conflict.
func (r *FaceRepo) Create(ctx domain.Context, f domain.Face) error {
	tracer := otel.Tracer("repo.faces")
	ctx, span := tracer.Start(ctx, "faces.Create")
	defer span.End()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	q := `INSERT INTO faces (id, tenant_id, user_id, image_ref, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.Pool.Exec(ctx, q, f.ID, f.TenantID, f.UserID, f.ImageRef, f.Embedding, f.CreatedAt)
	if err != nil {
		switch {
		case isPgCode(err, codeUniqueViolation):
			return fmt.Errorf("op=face.create: %w: face %s exists", domain.ErrConflict, f.ID)
		case isPgCode(err, codeForeignKeyViolation):
			return fmt.Errorf("op=face.create: %w: user %s not found in tenant %s", domain.ErrNotFound, f.UserID, f.TenantID)
		}
		return fmt.Errorf("op=face.create: %w", err)
	}
	return nil
}

// Get fetches one face by id.
func (r *FaceRepo) Get(ctx domain.Context, faceID string) (domain.Face, error) {
	tracer := otel.Tracer("repo.faces")
	ctx, span := tracer.Start(ctx, "faces.Get")
	defer span.End()

	q := `SELECT id, tenant_id, user_id, image_ref, embedding, created_at FROM faces WHERE id=$1`
	var f domain.Face
	err := r.Pool.QueryRow(ctx, q, faceID).
		Scan(&f.ID, &f.TenantID, &f.UserID, &f.ImageRef, &f.Embedding, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Face{}, fmt.Errorf("op=face.get: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Face{}, fmt.Errorf("op=face.get: %w", err)
	}
	return f, nil
}

// Delete removes one face sample. The tenant id guards against deleting
// another tenant's face through a guessed id.
func (r *FaceRepo) Delete(ctx domain.Context, tenantID, faceID string) error {
	tracer := otel.Tracer("repo.faces")
	ctx, span := tracer.Start(ctx, "faces.Delete")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `DELETE FROM faces WHERE tenant_id=$1 AND id=$2`, tenantID, faceID)
	if err != nil {
		return fmt.Errorf("op=face.delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=face.delete: %w", domain.ErrNotFound)
	}
	return nil
}

// ListByUser returns a user's faces in enrollment order.
func (r *FaceRepo) ListByUser(ctx domain.Context, tenantID, userID string) ([]domain.Face, error) {
	tracer := otel.Tracer("repo.faces")
	ctx, span := tracer.Start(ctx, "faces.ListByUser")
	defer span.End()

	q := `SELECT id, tenant_id, user_id, image_ref, embedding, created_at
		FROM faces WHERE tenant_id=$1 AND user_id=$2 ORDER BY created_at, id`
	rows, err := r.Pool.Query(ctx, q, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("op=face.list: %w", err)
	}
	defer rows.Close()

	faces := []domain.Face{}
	for rows.Next() {
		var f domain.Face
		if err := rows.Scan(&f.ID, &f.TenantID, &f.UserID, &f.ImageRef, &f.Embedding, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=face.list: %w", err)
		}
		faces = append(faces, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=face.list: %w", err)
	}
	return faces, nil
}
