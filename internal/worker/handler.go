// Package worker implements the compute side of the system: the task handler
// dispatching bus requests against the in-memory recognition index, and the
// startup loader that seeds the index from a snapshot.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/observability"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/internal/index"
	"github.com/fairyhunter13/face-recognition-service/pkg/imagex"
)

// Version is reported by health_check replies.
const Version = "1.0.0"

// TaskHandler routes decoded task requests to the index and the face model.
// It is the single Handler implementation behind the bus consumer.
type TaskHandler struct {
	idx      *index.Index
	model    domain.FaceModel
	workerID string
}

func NewTaskHandler(idx *index.Index, model domain.FaceModel, workerID string) *TaskHandler {
	return &TaskHandler{idx: idx, model: model, workerID: workerID}
}

func (h *TaskHandler) WorkerID() string { return h.workerID }

// Handle decodes the parameters for req and dispatches it. The task type set
// is closed; anything else is InvalidInput.
func (h *TaskHandler) Handle(ctx context.Context, req domain.TaskRequest) (any, error) {
	params, err := domain.DecodeTaskParams(req.TaskType, req.Parameters)
	if err != nil {
		return nil, err
	}
	switch req.TaskType {
	case domain.TaskCreateTenant:
		return h.createTenant(params.(*domain.TenantParams))
	case domain.TaskDeleteTenant:
		return h.deleteTenant(params.(*domain.TenantParams))
	case domain.TaskCreateUser:
		return h.createUser(ctx, params.(*domain.EnrollParams))
	case domain.TaskDeleteUser:
		return h.deleteUser(params.(*domain.UserParams))
	case domain.TaskAddFace:
		return h.addFace(ctx, params.(*domain.EnrollParams))
	case domain.TaskDeleteFace:
		return h.deleteFace(params.(*domain.FaceParams))
	case domain.TaskFaceRecognition:
		return h.recognize(ctx, params.(*domain.RecognitionParams))
	case domain.TaskFaceDetection:
		return h.detect(ctx, params.(*domain.ImageParams))
	case domain.TaskFaceEmbedding:
		return h.embed(ctx, params.(*domain.ImageParams))
	case domain.TaskGetUserFaces:
		return h.userFaces(params.(*domain.UserParams))
	case domain.TaskGetCacheStats:
		return h.cacheStats(), nil
	case domain.TaskHealthCheck:
		return h.health(), nil
	default:
		return nil, domain.E(domain.ErrInvalidInput, "unknown task type %q", req.TaskType)
	}
}

// bestDetection runs the image pipeline: validate the payload, detect faces,
// pick the highest-scoring one. Zero detections is a typed error, never an
// empty success.
func (h *TaskHandler) bestDetection(ctx context.Context, imageB64 string) (domain.Detection, error) {
	data, _, err := imagex.Validate(imageB64)
	if err != nil {
		return domain.Detection{}, domain.E(domain.ErrInvalidInput, "%v", err)
	}
	dets, err := h.model.DetectAndEmbed(ctx, data)
	if err != nil {
		return domain.Detection{}, err
	}
	if len(dets) == 0 {
		return domain.Detection{}, domain.E(domain.ErrNoFaceDetected, "no face found in image")
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, nil
}

func (h *TaskHandler) publishIndexSize() {
	tenants, _, faces, _ := h.idx.Stats()
	observability.SetIndexSize(tenants, faces)
}

func (h *TaskHandler) createTenant(p *domain.TenantParams) (any, error) {
	if p.TenantID == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id is required")
	}
	h.idx.PutTenant(p.TenantID)
	h.publishIndexSize()
	slog.Info("tenant created",
		slog.String("tenant_id", p.TenantID),
		slog.String("worker_id", h.workerID))
	return domain.SuccessResult{Success: true}, nil
}

func (h *TaskHandler) deleteTenant(p *domain.TenantParams) (any, error) {
	if p.TenantID == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id is required")
	}
	h.idx.DropTenant(p.TenantID)
	h.publishIndexSize()
	slog.Info("tenant deleted",
		slog.String("tenant_id", p.TenantID),
		slog.String("worker_id", h.workerID))
	return domain.SuccessResult{Success: true}, nil
}

func (h *TaskHandler) createUser(ctx context.Context, p *domain.EnrollParams) (any, error) {
	if p.TenantID == "" || p.UserID == "" || p.FaceID == "" || p.ImageB64 == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id, user_id, face_id and image_b64 are required")
	}
	if !h.idx.HasTenant(p.TenantID) {
		return nil, domain.E(domain.ErrNotFound, "tenant %s does not exist", p.TenantID)
	}
	best, err := h.bestDetection(ctx, p.ImageB64)
	if err != nil {
		return nil, err
	}
	if err := h.idx.PutUser(p.TenantID, p.UserID, p.FaceID, best.Embedding); err != nil {
		return nil, err
	}
	h.publishIndexSize()
	slog.Info("user enrolled",
		slog.String("tenant_id", p.TenantID),
		slog.String("user_id", p.UserID),
		slog.String("face_id", p.FaceID))
	return domain.EmbeddingResult{Embedding: best.Embedding}, nil
}

func (h *TaskHandler) deleteUser(p *domain.UserParams) (any, error) {
	if p.TenantID == "" || p.UserID == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id and user_id are required")
	}
	ok := h.idx.DropUser(p.TenantID, p.UserID)
	h.publishIndexSize()
	return domain.SuccessResult{Success: ok}, nil
}

func (h *TaskHandler) addFace(ctx context.Context, p *domain.EnrollParams) (any, error) {
	if p.TenantID == "" || p.UserID == "" || p.FaceID == "" || p.ImageB64 == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id, user_id, face_id and image_b64 are required")
	}
	if !h.idx.HasUser(p.TenantID, p.UserID) {
		return nil, domain.E(domain.ErrNotFound, "user %s not found in tenant %s", p.UserID, p.TenantID)
	}
	best, err := h.bestDetection(ctx, p.ImageB64)
	if err != nil {
		return nil, err
	}
	if err := h.idx.AddFace(p.TenantID, p.UserID, p.FaceID, best.Embedding); err != nil {
		return nil, err
	}
	h.publishIndexSize()
	slog.Info("face added",
		slog.String("tenant_id", p.TenantID),
		slog.String("user_id", p.UserID),
		slog.String("face_id", p.FaceID))
	return domain.EmbeddingResult{Embedding: best.Embedding}, nil
}

func (h *TaskHandler) deleteFace(p *domain.FaceParams) (any, error) {
	if p.TenantID == "" || p.UserID == "" || p.FaceID == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id, user_id and face_id are required")
	}
	ok := h.idx.DropFace(p.TenantID, p.UserID, p.FaceID)
	h.publishIndexSize()
	return domain.SuccessResult{Success: ok}, nil
}

func (h *TaskHandler) recognize(ctx context.Context, p *domain.RecognitionParams) (any, error) {
	if p.TenantID == "" || p.ImageB64 == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id and image_b64 are required")
	}
	// An absent or empty tenant is a no-match, not an error: the caller
	// asked "who is this" and the answer is "nobody we know".
	best, err := h.bestDetection(ctx, p.ImageB64)
	if err != nil {
		return nil, err
	}
	userID, conf := h.idx.Recognize(p.TenantID, best.Embedding)
	observability.ObserveRecognition(float64(conf))
	slog.Info("face recognition",
		slog.String("tenant_id", p.TenantID),
		slog.String("user_id", userID),
		slog.Float64("confidence", float64(conf)))
	return domain.RecognitionResult{
		UserID:     userID,
		Confidence: float64(conf),
		BBox:       best.BBox,
	}, nil
}

// detect reports every face in the image. Zero faces is a valid answer here;
// only the embedding-producing paths require one.
func (h *TaskHandler) detect(ctx context.Context, p *domain.ImageParams) (any, error) {
	data, _, err := imagex.Validate(p.ImageB64)
	if err != nil {
		return nil, domain.E(domain.ErrInvalidInput, "%v", err)
	}
	dets, err := h.model.DetectAndEmbed(ctx, data)
	if err != nil {
		return nil, err
	}
	bboxes := make([][]float64, 0, len(dets))
	for _, d := range dets {
		bboxes = append(bboxes, d.BBox)
	}
	return domain.DetectionResult{FacesDetected: len(dets), BBoxes: bboxes}, nil
}

func (h *TaskHandler) embed(ctx context.Context, p *domain.ImageParams) (any, error) {
	best, err := h.bestDetection(ctx, p.ImageB64)
	if err != nil {
		return nil, err
	}
	return domain.EmbeddingResult{Embedding: best.Embedding}, nil
}

// userFaces answers with an empty list for unknown tenants or users.
func (h *TaskHandler) userFaces(p *domain.UserParams) (any, error) {
	if p.TenantID == "" || p.UserID == "" {
		return nil, domain.E(domain.ErrInvalidInput, "tenant_id and user_id are required")
	}
	faces, _ := h.idx.UserFaces(p.TenantID, p.UserID)
	if faces == nil {
		faces = []string{}
	}
	return domain.UserFacesResult{FaceIDs: faces}, nil
}

func (h *TaskHandler) cacheStats() domain.CacheStatsResult {
	tenants, users, faces, embeddings := h.idx.Stats()
	observability.SetIndexSize(tenants, faces)
	return domain.CacheStatsResult{
		Tenants:    tenants,
		Users:      users,
		Faces:      faces,
		Embeddings: embeddings,
		WorkerID:   h.workerID,
	}
}

func (h *TaskHandler) health() domain.HealthResult {
	return domain.HealthResult{
		Status:      "healthy",
		WorkerID:    h.workerID,
		TimestampMS: time.Now().UnixMilli(),
		Version:     Version,
	}
}
