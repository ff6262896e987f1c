package domain

import (
	"context"
	"time"
)

// Tenant is the isolation boundary for users, faces and analytics.
type Tenant struct {
	ID        string
	CreatedAt time.Time
}

// User is a person known to a tenant. UserID is the external identifier
// (unique within the tenant) and is the identifier the workers speak.
type User struct {
	TenantID  string
	UserID    string
	Active    bool
	CreatedAt time.Time
}

// Face is one enrolled sample belonging to a user.
// ImageRef is an opaque URI into whatever blob store holds the raw image.
type Face struct {
	ID        string
	TenantID  string
	UserID    string
	ImageRef  string
	Embedding []float32
	CreatedAt time.Time
}

// ViewingSession is one observation of a user viewing. Append-only.
// Invariant: StartTS <= EndTS and DurationSeconds >= 0.
type ViewingSession struct {
	ID              string
	TenantID        string
	UserID          string
	FaceID          string
	StartTS         time.Time
	EndTS           time.Time
	DurationSeconds float64
	CreatedAt       time.Time
}

// VisitCounter is the per-user tally of tracked detections.
type VisitCounter struct {
	TenantID   string
	UserID     string
	VisitCount int64
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Snapshot is the loader/export shape for the recognition index.
// The wire form wraps it in a {"data": ...} envelope.
type Snapshot struct {
	Tenants    []string                           `json:"tenants" yaml:"tenants"`
	Users      map[string]map[string]SnapshotUser `json:"users" yaml:"users"`
	Faces      map[string][]SnapshotFace          `json:"faces" yaml:"faces"`
	Embeddings map[string][]float32               `json:"embeddings" yaml:"embeddings"`
}

// SnapshotUser lists the face ids attached to one user.
type SnapshotUser struct {
	Faces []string `json:"faces" yaml:"faces"`
}

// SnapshotFace ties a face id to its owning user within a tenant.
type SnapshotFace struct {
	FaceID string `json:"face_id" yaml:"face_id"`
	UserID string `json:"user_id" yaml:"user_id"`
}

// Recognition is the outcome of a 1-NN lookup. UserID is empty when no face
// scored above the threshold; Confidence then carries the best score seen.
type Recognition struct {
	UserID     string    `json:"user_id,omitempty"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

// Detection is one face found by the model in an image.
// BBox is [x, y, w, h] when the model supplies one.
type Detection struct {
	BBox      []float64
	Score     float64
	Embedding []float32
}

// Analytics report types, shaped for the HTTP response.

type AnalyticsPeriod struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

type AnalyticsSummary struct {
	TotalViewers                        int64 `json:"total_viewers"`
	DifferenceTotalViewersPercentage    int   `json:"difference_total_viewers_percentage"`
	TotalNewViewers                     int64 `json:"total_new_viewers"`
	TotalCustomers                      int64 `json:"total_customers"`
	DifferenceTotalCustomersPercentage  int   `json:"difference_total_customers_percentage"`
	AverageViewTime                     int   `json:"average_view_time"`
	DifferenceAverageViewTimePercentage int   `json:"difference_average_view_time_percentage"`
}

type DailyStat struct {
	Date            string `json:"date"`
	DayOfWeek       string `json:"day_of_week"`
	Viewers         int64  `json:"viewers"`
	Customers       int64  `json:"customers"`
	AverageViewTime int    `json:"average_view_time"`
}

type AnalyticsReport struct {
	TenantID     string           `json:"tenant_id"`
	Period       AnalyticsPeriod  `json:"period"`
	Summary      AnalyticsSummary `json:"summary"`
	DailyHistory []DailyStat      `json:"daily_history"`
}

// Raw rows the store hands to the analytics engine. Sessions covers the
// fetch window the engine asked for (current plus previous period);
// FirstSessions and Counters are all-time for the tenant.
type SessionRow struct {
	UserID          string
	StartTS         time.Time
	DurationSeconds float64
}

type VisitCounterRow struct {
	UserID     string
	VisitCount int64
	FirstSeen  time.Time
	LastSeen   time.Time
}

type AnalyticsRows struct {
	TotalViewers  int64
	Sessions      []SessionRow
	FirstSessions map[string]time.Time
	Counters      []VisitCounterRow
}

// Repositories (ports)

type TenantRepository interface {
	Create(ctx Context, id string) error
	Delete(ctx Context, id string) error
	Exists(ctx Context, id string) (bool, error)
}

type UserRepository interface {
	Create(ctx Context, u User) error
	Get(ctx Context, tenantID, userID string) (User, error)
	Delete(ctx Context, tenantID, userID string) error
}

type FaceRepository interface {
	Create(ctx Context, f Face) error
	Get(ctx Context, faceID string) (Face, error)
	Delete(ctx Context, tenantID, faceID string) error
	ListByUser(ctx Context, tenantID, userID string) ([]Face, error)
}

// SessionRepository persists viewing sessions and visit counters.
// UpsertVisitCounter is a single-statement upsert; callers rely on it being
// atomic under concurrent tracking.
type SessionRepository interface {
	InsertSession(ctx Context, s ViewingSession) (string, error)
	UpsertVisitCounter(ctx Context, tenantID, userID string, seen time.Time) (VisitCounter, error)
	QueryAnalytics(ctx Context, tenantID string, start, end time.Time) (AnalyticsRows, error)
}

// SnapshotRepository exports the full store state for worker bootstrap.
type SnapshotRepository interface {
	Export(ctx Context) (Snapshot, error)
}

// ReportCache holds computed analytics reports for a short TTL.
// Keys come from ReportCacheKey so InvalidateTenant can wildcard the
// tenant prefix.
type ReportCache interface {
	Get(ctx Context, key string) (AnalyticsReport, bool, error)
	Set(ctx Context, key string, report AnalyticsReport, ttl time.Duration) error
	InvalidateTenant(ctx Context, tenantID string) error
}

// ReportCacheKey names one cached report window.
func ReportCacheKey(tenantID string, start, end time.Time) string {
	return ReportCachePrefix(tenantID) + start.UTC().Format(time.RFC3339) + ":" + end.UTC().Format(time.RFC3339)
}

// ReportCachePrefix is the shared key prefix for one tenant's reports.
func ReportCachePrefix(tenantID string) string {
	return "analytics:" + tenantID + ":"
}

// FaceModel (port)
// DetectAndEmbed returns every face found in the decoded image, each with a
// detection score and an embedding vector.
type FaceModel interface {
	DetectAndEmbed(ctx Context, image []byte) ([]Detection, error)
}

// TaskBus (port) — the producer-side RPC surface the control plane calls.
// Every method is synchronous; errors carry the taxonomy sentinels.
type TaskBus interface {
	CreateTenant(ctx Context, tenantID string) error
	DeleteTenant(ctx Context, tenantID string) error
	CreateUser(ctx Context, tenantID, userID, faceID, imageB64 string) ([]float32, error)
	DeleteUser(ctx Context, tenantID, userID string) error
	AddFace(ctx Context, tenantID, userID, faceID, imageB64 string) ([]float32, error)
	DeleteFace(ctx Context, tenantID, userID, faceID string) error
	RecognizeFace(ctx Context, tenantID, imageB64 string) (Recognition, error)
	UserFaces(ctx Context, tenantID, userID string) ([]string, error)
	CacheStats(ctx Context) (CacheStatsResult, error)
	WorkerHealth(ctx Context) (HealthResult, error)
}

// Context is an alias to keep the domain decoupled from call sites;
// adapters and usecases pass context.Context straight through.
type Context = context.Context
