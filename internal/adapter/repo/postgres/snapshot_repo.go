package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// SnapshotRepo exports the whole store as the loader snapshot shape.
type SnapshotRepo struct{ Pool PgxPool }

func NewSnapshotRepo(p PgxPool) *SnapshotRepo { return &SnapshotRepo{Pool: p} }

// Export reads tenants, users and faces inside one repeatable-read
// transaction so a booting worker never sees a face without its user.
func (r *SnapshotRepo) Export(ctx domain.Context) (domain.Snapshot, error) {
	tracer := otel.Tracer("repo.snapshot")
	ctx, span := tracer.Start(ctx, "snapshot.Export")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.export: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // read-only tx

	snap := domain.Snapshot{
		Tenants:    []string{},
		Users:      map[string]map[string]domain.SnapshotUser{},
		Faces:      map[string][]domain.SnapshotFace{},
		Embeddings: map[string][]float32{},
	}

	rows, err := tx.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.tenants: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("op=snapshot.tenants: %w", err)
		}
		snap.Tenants = append(snap.Tenants, id)
		snap.Users[id] = map[string]domain.SnapshotUser{}
		snap.Faces[id] = []domain.SnapshotFace{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.tenants: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT tenant_id, user_id FROM users ORDER BY tenant_id, user_id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.users: %w", err)
	}
	for rows.Next() {
		var tid, uid string
		if err := rows.Scan(&tid, &uid); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("op=snapshot.users: %w", err)
		}
		if snap.Users[tid] == nil {
			snap.Users[tid] = map[string]domain.SnapshotUser{}
		}
		snap.Users[tid][uid] = domain.SnapshotUser{Faces: []string{}}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.users: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT id, tenant_id, user_id, embedding FROM faces ORDER BY tenant_id, created_at, id`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.faces: %w", err)
	}
	for rows.Next() {
		var fid, tid, uid string
		var emb []float32
		if err := rows.Scan(&fid, &tid, &uid, &emb); err != nil {
			rows.Close()
			return domain.Snapshot{}, fmt.Errorf("op=snapshot.faces: %w", err)
		}
		snap.Faces[tid] = append(snap.Faces[tid], domain.SnapshotFace{FaceID: fid, UserID: uid})
		u := snap.Users[tid][uid]
		u.Faces = append(u.Faces, fid)
		snap.Users[tid][uid] = u
		snap.Embeddings[fid] = emb
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.faces: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("op=snapshot.export: %w", err)
	}
	return snap, nil
}
