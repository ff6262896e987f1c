package domain

import (
	"encoding/json"
	"fmt"
)

// TaskType tags every bus message. The set is closed: consumers fail fast on
// anything not listed here.
type TaskType string

const (
	// Fan-out mutations — applied by every worker.
	TaskCreateTenant TaskType = "create_tenant"
	TaskDeleteTenant TaskType = "delete_tenant"
	TaskCreateUser   TaskType = "create_user"
	TaskDeleteUser   TaskType = "delete_user"
	TaskAddFace      TaskType = "add_face"
	TaskDeleteFace   TaskType = "delete_face"

	// Processing tasks — served by exactly one worker.
	TaskFaceRecognition TaskType = "face_recognition"
	TaskFaceDetection   TaskType = "face_detection"
	TaskFaceEmbedding   TaskType = "face_embedding"
	TaskGetUserFaces    TaskType = "get_user_faces"
	TaskGetCacheStats   TaskType = "get_cache_stats"
	TaskHealthCheck     TaskType = "health_check"
)

// FanoutTaskTypes lists every mutation delivered to all workers.
var FanoutTaskTypes = []TaskType{
	TaskCreateTenant, TaskDeleteTenant, TaskCreateUser,
	TaskDeleteUser, TaskAddFace, TaskDeleteFace,
}

// ProcessingTaskTypes doubles as the binding-key set for the processing queue.
var ProcessingTaskTypes = []TaskType{
	TaskFaceRecognition, TaskFaceDetection, TaskFaceEmbedding,
	TaskGetUserFaces, TaskGetCacheStats, TaskHealthCheck,
}

// IsFanout reports whether t travels over the fan-out exchange.
func (t TaskType) IsFanout() bool {
	for _, f := range FanoutTaskTypes {
		if t == f {
			return true
		}
	}
	return false
}

// IsProcessing reports whether t travels over the processing queue.
func (t TaskType) IsProcessing() bool {
	for _, p := range ProcessingTaskTypes {
		if t == p {
			return true
		}
	}
	return false
}

// Reply status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSent    = "sent"
)

// TaskRequest is the request envelope published on the bus.
type TaskRequest struct {
	TaskID        string          `json:"task_id"`
	TaskType      TaskType        `json:"task_type"`
	Timestamp     int64           `json:"timestamp"`
	Parameters    json.RawMessage `json:"parameters"`
	ProducerID    string          `json:"producer_id"`
	SentAtMS      int64           `json:"sent_at_ms"`
	CorrelationID string          `json:"correlation_id"`
}

// TaskReply is the reply envelope workers publish to the reply queue.
type TaskReply struct {
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	WorkerID      string          `json:"worker_id"`
	ProcessedAtMS int64           `json:"processed_at_ms"`
	CorrelationID string          `json:"correlation_id"`
}

// SentAck is returned by fire-and-forget publishes.
type SentAck struct {
	Status        string `json:"status"`
	CorrelationID string `json:"correlation_id"`
}

// Task parameter variants (closed set, decoded once at the consumer boundary).

type TenantParams struct {
	TenantID string `json:"tenant_id"`
}

type UserParams struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// EnrollParams serves create_user and add_face.
type EnrollParams struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	FaceID   string `json:"face_id"`
	ImageB64 string `json:"image_b64"`
}

type FaceParams struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	FaceID   string `json:"face_id"`
}

type RecognitionParams struct {
	TenantID string `json:"tenant_id"`
	ImageB64 string `json:"image_b64"`
}

type ImageParams struct {
	ImageB64 string `json:"image_b64"`
}

// DecodeTaskParams decodes raw parameters into the variant matching t.
// Unknown task types are InvalidInput.
func DecodeTaskParams(t TaskType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("%w: parameters for %s: %v", ErrInvalidInput, t, err)
		}
		return dst, nil
	}
	switch t {
	case TaskCreateTenant, TaskDeleteTenant:
		return decode(&TenantParams{})
	case TaskCreateUser, TaskAddFace:
		return decode(&EnrollParams{})
	case TaskDeleteUser, TaskGetUserFaces:
		return decode(&UserParams{})
	case TaskDeleteFace:
		return decode(&FaceParams{})
	case TaskFaceRecognition:
		return decode(&RecognitionParams{})
	case TaskFaceDetection, TaskFaceEmbedding:
		return decode(&ImageParams{})
	case TaskGetCacheStats, TaskHealthCheck:
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown task type %q", ErrInvalidInput, t)
	}
}

// Task result variants.

type SuccessResult struct {
	Success bool `json:"success"`
}

type EmbeddingResult struct {
	Embedding []float32 `json:"embedding"`
}

type RecognitionResult struct {
	UserID     string    `json:"user_id,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

type DetectionResult struct {
	FacesDetected int         `json:"faces_detected"`
	BBoxes        [][]float64 `json:"bboxes"`
}

type UserFacesResult struct {
	FaceIDs []string `json:"face_ids"`
}

type CacheStatsResult struct {
	Tenants    int    `json:"tenants"`
	Users      int    `json:"users"`
	Faces      int    `json:"faces"`
	Embeddings int    `json:"embeddings"`
	WorkerID   string `json:"worker_id"`
}

type HealthResult struct {
	Status      string `json:"status"`
	WorkerID    string `json:"worker_id"`
	TimestampMS int64  `json:"timestamp_ms"`
	Version     string `json:"version,omitempty"`
}
