package usecase

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// AdminService is the management surface: tenants, explicit enrollment,
// face bookkeeping, worker introspection and the snapshot export.
// Mutations persist to the store first, then publish to the workers; the
// store stays the source of truth when the two disagree.
type AdminService struct {
	Tenants  domain.TenantRepository
	Users    domain.UserRepository
	Faces    domain.FaceRepository
	Snapshot domain.SnapshotRepository
	Bus      domain.TaskBus
	Cache    domain.ReportCache
}

// NewAdminService constructs an AdminService with its dependencies.
func NewAdminService(t domain.TenantRepository, u domain.UserRepository, f domain.FaceRepository, snap domain.SnapshotRepository, bus domain.TaskBus, cache domain.ReportCache) AdminService {
	return AdminService{Tenants: t, Users: u, Faces: f, Snapshot: snap, Bus: bus, Cache: cache}
}

type EnrollUserOutput struct {
	UserID        string
	FaceID        string
	EmbeddingSize int
}

type AddFaceOutput struct {
	FaceID        string
	EmbeddingSize int
}

func (s AdminService) CreateTenant(ctx domain.Context, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id required", domain.ErrInvalidInput)
	}
	if err := s.Tenants.Create(ctx, tenantID); err != nil {
		return err
	}
	return s.Bus.CreateTenant(ctx, tenantID)
}

func (s AdminService) DeleteTenant(ctx domain.Context, tenantID string) error {
	if err := s.Tenants.Delete(ctx, tenantID); err != nil {
		return err
	}
	if err := s.Bus.DeleteTenant(ctx, tenantID); err != nil {
		return err
	}
	invalidateReports(ctx, s.Cache, tenantID)
	return nil
}

// EnrollUser registers a named user from one face image. The workers
// compute the embedding; the store keeps it. A failed worker call rolls
// the fresh user row back so the enrollment can be retried cleanly.
func (s AdminService) EnrollUser(ctx domain.Context, tenantID, userID, imageB64 string) (EnrollUserOutput, error) {
	if tenantID == "" || userID == "" || imageB64 == "" {
		return EnrollUserOutput{}, fmt.Errorf("%w: tenant_id, user_id and image required", domain.ErrInvalidInput)
	}
	if err := s.Users.Create(ctx, domain.User{TenantID: tenantID, UserID: userID, Active: true}); err != nil {
		return EnrollUserOutput{}, err
	}

	rollback := func(err error) error {
		if derr := s.Users.Delete(ctx, tenantID, userID); derr != nil {
			return fmt.Errorf("op=admin.enroll: rollback after %w failed: %v", err, derr)
		}
		return err
	}
	faceID := uuid.NewString()
	emb, err := s.Bus.CreateUser(ctx, tenantID, userID, faceID, imageB64)
	if err != nil {
		return EnrollUserOutput{}, rollback(err)
	}
	if len(emb) == 0 {
		return EnrollUserOutput{}, rollback(fmt.Errorf("%w: worker returned an empty embedding for face %s", domain.ErrInternal, faceID))
	}

	if err := s.Faces.Create(ctx, domain.Face{ID: faceID, TenantID: tenantID, UserID: userID, Embedding: emb}); err != nil {
		return EnrollUserOutput{}, rollback(err)
	}
	return EnrollUserOutput{UserID: userID, FaceID: faceID, EmbeddingSize: len(emb)}, nil
}

func (s AdminService) DeleteUser(ctx domain.Context, tenantID, userID string) error {
	if err := s.Users.Delete(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := s.Bus.DeleteUser(ctx, tenantID, userID); err != nil {
		return err
	}
	// Their sessions and counters cascaded away with the row.
	invalidateReports(ctx, s.Cache, tenantID)
	return nil
}

// AddFace enrolls an additional sample for an existing user.
func (s AdminService) AddFace(ctx domain.Context, tenantID, userID, imageB64 string) (AddFaceOutput, error) {
	if tenantID == "" || userID == "" || imageB64 == "" {
		return AddFaceOutput{}, fmt.Errorf("%w: tenant_id, user_id and image required", domain.ErrInvalidInput)
	}
	if _, err := s.Users.Get(ctx, tenantID, userID); err != nil {
		return AddFaceOutput{}, err
	}

	faceID := uuid.NewString()
	emb, err := s.Bus.AddFace(ctx, tenantID, userID, faceID, imageB64)
	if err != nil {
		return AddFaceOutput{}, err
	}
	if len(emb) == 0 {
		return AddFaceOutput{}, fmt.Errorf("%w: worker returned an empty embedding for face %s", domain.ErrInternal, faceID)
	}

	if err := s.Faces.Create(ctx, domain.Face{ID: faceID, TenantID: tenantID, UserID: userID, Embedding: emb}); err != nil {
		return AddFaceOutput{}, err
	}
	return AddFaceOutput{FaceID: faceID, EmbeddingSize: len(emb)}, nil
}

func (s AdminService) DeleteFace(ctx domain.Context, tenantID, userID, faceID string) error {
	if err := s.Faces.Delete(ctx, tenantID, faceID); err != nil {
		return err
	}
	return s.Bus.DeleteFace(ctx, tenantID, userID, faceID)
}

// ListFaces returns the stored face records for a user.
func (s AdminService) ListFaces(ctx domain.Context, tenantID, userID string) ([]domain.Face, error) {
	if _, err := s.Users.Get(ctx, tenantID, userID); err != nil {
		return nil, err
	}
	return s.Faces.ListByUser(ctx, tenantID, userID)
}

// WorkerStats asks one worker for its index footprint.
func (s AdminService) WorkerStats(ctx domain.Context) (domain.CacheStatsResult, error) {
	return s.Bus.CacheStats(ctx)
}

// WorkerHealth asks one worker for a liveness report.
func (s AdminService) WorkerHealth(ctx domain.Context) (domain.HealthResult, error) {
	return s.Bus.WorkerHealth(ctx)
}

// ExportSnapshot dumps the full store in the worker loader's shape.
func (s AdminService) ExportSnapshot(ctx domain.Context) (domain.Snapshot, error) {
	return s.Snapshot.Export(ctx)
}
