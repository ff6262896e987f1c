package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// ViewerService runs the camera-facing flows: registering a viewing
// session for whoever is in front of the lens, and tracking repeat
// visits. Both recognize first and enroll only on a miss.
type ViewerService struct {
	Tenants  domain.TenantRepository
	Users    domain.UserRepository
	Faces    domain.FaceRepository
	Sessions domain.SessionRepository
	Bus      domain.TaskBus
	Cache    domain.ReportCache
}

// NewViewerService constructs a ViewerService with its dependencies.
func NewViewerService(t domain.TenantRepository, u domain.UserRepository, f domain.FaceRepository, s domain.SessionRepository, bus domain.TaskBus, cache domain.ReportCache) ViewerService {
	return ViewerService{Tenants: t, Users: u, Faces: f, Sessions: s, Bus: bus, Cache: cache}
}

// RegisterViewerInput carries one observed viewing. The timestamps and
// duration are optional; missing values are derived from each other.
type RegisterViewerInput struct {
	TenantID        string
	ImageB64        string
	StartTS         time.Time
	EndTS           time.Time
	DurationSeconds float64
}

type RegisterViewerOutput struct {
	UserID     string
	FaceID     string
	SessionID  string
	IsNewUser  bool
	Confidence float64
}

type TrackViewerOutput struct {
	Matched    bool
	UserID     string
	VisitCount int64
	Confidence float64
}

// RegisterViewer records one viewing session. A recognized face reuses
// the known viewer; an unrecognized one mints a viewer_<uuid> identity,
// enrolls it on the workers and persists the returned embedding.
func (s ViewerService) RegisterViewer(ctx domain.Context, in RegisterViewerInput) (RegisterViewerOutput, error) {
	if in.TenantID == "" || in.ImageB64 == "" {
		return RegisterViewerOutput{}, fmt.Errorf("%w: tenant_id and image required", domain.ErrInvalidInput)
	}
	start, end, dur, err := sessionBounds(in.StartTS, in.EndTS, in.DurationSeconds)
	if err != nil {
		return RegisterViewerOutput{}, err
	}

	if err := s.ensureTenant(ctx, in.TenantID); err != nil {
		return RegisterViewerOutput{}, err
	}

	rec, err := s.Bus.RecognizeFace(ctx, in.TenantID, in.ImageB64)
	if err != nil {
		return RegisterViewerOutput{}, err
	}

	out := RegisterViewerOutput{Confidence: rec.Confidence}
	if rec.UserID != "" {
		out.UserID = rec.UserID
		out.FaceID, err = s.knownViewerFace(ctx, in.TenantID, rec.UserID)
		if err != nil {
			return RegisterViewerOutput{}, err
		}
	} else {
		out.IsNewUser = true
		out.UserID = "viewer_" + uuid.NewString()
		out.FaceID = uuid.NewString()
		if err := s.enrollViewer(ctx, in.TenantID, out.UserID, out.FaceID, in.ImageB64); err != nil {
			return RegisterViewerOutput{}, err
		}
		slog.Info("new viewer enrolled",
			slog.String("tenant_id", in.TenantID),
			slog.String("user_id", out.UserID))
	}

	out.SessionID, err = s.Sessions.InsertSession(ctx, domain.ViewingSession{
		TenantID:        in.TenantID,
		UserID:          out.UserID,
		FaceID:          out.FaceID,
		StartTS:         start,
		EndTS:           end,
		DurationSeconds: dur,
	})
	if err != nil {
		return RegisterViewerOutput{}, err
	}

	invalidateReports(ctx, s.Cache, in.TenantID)
	return out, nil
}

// TrackViewer counts a repeat sighting. An unrecognized face is not an
// error; the caller gets matched=false with the best confidence seen.
func (s ViewerService) TrackViewer(ctx domain.Context, tenantID, imageB64 string) (TrackViewerOutput, error) {
	if tenantID == "" || imageB64 == "" {
		return TrackViewerOutput{}, fmt.Errorf("%w: tenant_id and image required", domain.ErrInvalidInput)
	}

	rec, err := s.Bus.RecognizeFace(ctx, tenantID, imageB64)
	if err != nil {
		return TrackViewerOutput{}, err
	}
	if rec.UserID == "" {
		return TrackViewerOutput{Confidence: rec.Confidence}, nil
	}

	counter, err := s.Sessions.UpsertVisitCounter(ctx, tenantID, rec.UserID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TrackViewerOutput{}, fmt.Errorf("%w: user %s recognized but missing from the store", domain.ErrInternal, rec.UserID)
		}
		return TrackViewerOutput{}, err
	}

	invalidateReports(ctx, s.Cache, tenantID)
	return TrackViewerOutput{
		Matched:    true,
		UserID:     rec.UserID,
		VisitCount: counter.VisitCount,
		Confidence: rec.Confidence,
	}, nil
}

// ensureTenant lazily creates the tenant on first sight. Only the winning
// creator publishes the worker-side create; a second publish would reset
// the tenant's index and wipe concurrent enrollments.
func (s ViewerService) ensureTenant(ctx domain.Context, tenantID string) error {
	exists, err := s.Tenants.Exists(ctx, tenantID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.Tenants.Create(ctx, tenantID)
	switch {
	case err == nil:
		slog.Info("tenant auto-created by viewer flow", slog.String("tenant_id", tenantID))
		return s.Bus.CreateTenant(ctx, tenantID)
	case errors.Is(err, domain.ErrConflict):
		return nil
	default:
		return err
	}
}

// knownViewerFace resolves the stored face of a recognized viewer. The
// workers recognized them, so absence from the store is an inconsistency,
// not a NotFound.
func (s ViewerService) knownViewerFace(ctx domain.Context, tenantID, userID string) (string, error) {
	if _, err := s.Users.Get(ctx, tenantID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("%w: user %s recognized but missing from the store", domain.ErrInternal, userID)
		}
		return "", err
	}
	faces, err := s.Faces.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return "", err
	}
	if len(faces) == 0 {
		return "", fmt.Errorf("%w: user %s recognized but has no stored face", domain.ErrInternal, userID)
	}
	return faces[0].ID, nil
}

// enrollViewer mints the synthetic viewer. A failed worker call or face
// persist rolls the fresh user row back; an orphan faceless user would
// count toward total_viewers forever.
func (s ViewerService) enrollViewer(ctx domain.Context, tenantID, userID, faceID, imageB64 string) error {
	if err := s.Users.Create(ctx, domain.User{TenantID: tenantID, UserID: userID, Active: true}); err != nil {
		return err
	}
	rollback := func(err error) error {
		if derr := s.Users.Delete(ctx, tenantID, userID); derr != nil {
			return fmt.Errorf("op=viewer.enroll: rollback after %w failed: %v", err, derr)
		}
		return err
	}
	emb, err := s.Bus.CreateUser(ctx, tenantID, userID, faceID, imageB64)
	if err != nil {
		return rollback(err)
	}
	if len(emb) == 0 {
		return rollback(fmt.Errorf("%w: worker returned an empty embedding for face %s", domain.ErrInternal, faceID))
	}
	if err := s.Faces.Create(ctx, domain.Face{
		ID:        faceID,
		TenantID:  tenantID,
		UserID:    userID,
		Embedding: emb,
	}); err != nil {
		return rollback(err)
	}
	return nil
}

// sessionBounds fills in whichever of start/end/duration were omitted.
func sessionBounds(start, end time.Time, dur float64) (time.Time, time.Time, float64, error) {
	if dur < 0 {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: negative view duration", domain.ErrInvalidInput)
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	if end.IsZero() {
		end = start.Add(time.Duration(dur * float64(time.Second)))
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, 0, fmt.Errorf("%w: session ends before it starts", domain.ErrInvalidInput)
	}
	if dur == 0 {
		dur = end.Sub(start).Seconds()
	}
	return start, end, dur, nil
}

func invalidateReports(ctx domain.Context, cache domain.ReportCache, tenantID string) {
	if cache == nil {
		return
	}
	if err := cache.InvalidateTenant(ctx, tenantID); err != nil {
		slog.Warn("report cache invalidation failed",
			slog.String("tenant_id", tenantID),
			slog.Any("error", err))
	}
}
