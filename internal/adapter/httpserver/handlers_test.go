package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fairyhunter13/face-recognition-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/internal/usecase"
)

type stubTenants struct {
	exists    bool
	createErr error
	deleteErr error
}

func (s *stubTenants) Create(_ domain.Context, _ string) error { return s.createErr }
func (s *stubTenants) Delete(_ domain.Context, _ string) error { return s.deleteErr }
func (s *stubTenants) Exists(_ domain.Context, _ string) (bool, error) {
	return s.exists, nil
}

type stubUsers struct {
	getErr    error
	createErr error
	deleteErr error
}

func (s *stubUsers) Create(_ domain.Context, _ domain.User) error { return s.createErr }
func (s *stubUsers) Get(_ domain.Context, tenantID, userID string) (domain.User, error) {
	return domain.User{TenantID: tenantID, UserID: userID, Active: true}, s.getErr
}
func (s *stubUsers) Delete(_ domain.Context, _, _ string) error { return s.deleteErr }

type stubFaces struct {
	faces []domain.Face
}

func (s *stubFaces) Create(_ domain.Context, f domain.Face) error {
	s.faces = append(s.faces, f)
	return nil
}
func (s *stubFaces) Get(_ domain.Context, _ string) (domain.Face, error) {
	return domain.Face{}, domain.ErrNotFound
}
func (s *stubFaces) Delete(_ domain.Context, _, _ string) error { return nil }
func (s *stubFaces) ListByUser(_ domain.Context, _, _ string) ([]domain.Face, error) {
	return s.faces, nil
}

type stubSessions struct {
	rows domain.AnalyticsRows
}

func (s *stubSessions) InsertSession(_ domain.Context, _ domain.ViewingSession) (string, error) {
	return "sess-1", nil
}
func (s *stubSessions) UpsertVisitCounter(_ domain.Context, _, userID string, seen time.Time) (domain.VisitCounter, error) {
	return domain.VisitCounter{UserID: userID, VisitCount: 2, FirstSeen: seen, LastSeen: seen}, nil
}
func (s *stubSessions) QueryAnalytics(_ domain.Context, _ string, _, _ time.Time) (domain.AnalyticsRows, error) {
	return s.rows, nil
}

type stubBus struct {
	rec    domain.Recognition
	recErr error
	emb    []float32
	err    error
}

func (s *stubBus) CreateTenant(_ domain.Context, _ string) error { return s.err }
func (s *stubBus) DeleteTenant(_ domain.Context, _ string) error { return s.err }
func (s *stubBus) CreateUser(_ domain.Context, _, _, _, _ string) ([]float32, error) {
	return s.emb, s.err
}
func (s *stubBus) DeleteUser(_ domain.Context, _, _ string) error { return s.err }
func (s *stubBus) AddFace(_ domain.Context, _, _, _, _ string) ([]float32, error) {
	return s.emb, s.err
}
func (s *stubBus) DeleteFace(_ domain.Context, _, _, _ string) error { return s.err }
func (s *stubBus) RecognizeFace(_ domain.Context, _, _ string) (domain.Recognition, error) {
	return s.rec, s.recErr
}
func (s *stubBus) UserFaces(_ domain.Context, _, _ string) ([]string, error) {
	return []string{"f1"}, s.err
}
func (s *stubBus) CacheStats(_ domain.Context) (domain.CacheStatsResult, error) {
	return domain.CacheStatsResult{Tenants: 1, WorkerID: "w1"}, s.err
}
func (s *stubBus) WorkerHealth(_ domain.Context) (domain.HealthResult, error) {
	return domain.HealthResult{Status: "healthy", WorkerID: "w1"}, s.err
}

type stubSnapshot struct{}

func (stubSnapshot) Export(domain.Context) (domain.Snapshot, error) {
	return domain.Snapshot{Tenants: []string{"t1"}}, nil
}

func newTestServer(t *testing.T, bus *stubBus, tenants *stubTenants, users *stubUsers) *httpserver.Server {
	t.Helper()
	if bus == nil {
		bus = &stubBus{emb: []float32{0.1, 0.2}}
	}
	if tenants == nil {
		tenants = &stubTenants{exists: true}
	}
	if users == nil {
		users = &stubUsers{}
	}
	faces := &stubFaces{faces: []domain.Face{{ID: "f1", TenantID: "t1", UserID: "u1"}}}
	sessions := &stubSessions{}
	cfg := config.Config{MaxBodyMB: 10}
	viewers := usecase.NewViewerService(tenants, users, faces, sessions, bus, nil)
	admin := usecase.NewAdminService(tenants, users, faces, stubSnapshot{}, bus, nil)
	analytics := usecase.NewAnalyticsService(sessions, nil, time.UTC, time.Minute)
	return httpserver.NewServer(cfg, viewers, admin, analytics, nil, nil, nil)
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterViewerHandler_NewViewer(t *testing.T) {
	t.Parallel()
	bus := &stubBus{emb: []float32{0.5, 0.5}}
	srv := newTestServer(t, bus, nil, nil)

	rec := doJSON(t, srv.RegisterViewerHandler(), http.MethodPost, "/v1/viewers/register",
		`{"tenant_id":"t1","image_b64":"aW1n","duration_seconds":12}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, true, out["is_new_user"])
	require.Equal(t, "sess-1", out["session_id"])
	require.True(t, strings.HasPrefix(out["user_id"].(string), "viewer_"))
}

func TestRegisterViewerHandler_InvalidJSON(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)
	rec := doJSON(t, srv.RegisterViewerHandler(), http.MethodPost, "/v1/viewers/register", `{`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_INPUT")
}

func TestRegisterViewerHandler_MissingFields(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)
	rec := doJSON(t, srv.RegisterViewerHandler(), http.MethodPost, "/v1/viewers/register",
		`{"tenant_id":"t1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "imageb64")
}

func TestTrackViewerHandler_NoMatch(t *testing.T) {
	t.Parallel()
	bus := &stubBus{rec: domain.Recognition{Confidence: 0.42}}
	srv := newTestServer(t, bus, nil, nil)

	rec := doJSON(t, srv.TrackViewerHandler(), http.MethodPost, "/v1/viewers/track",
		`{"tenant_id":"t1","image_b64":"aW1n"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, false, out["matched"])
	require.InDelta(t, 0.42, out["confidence"].(float64), 1e-9)
}

func TestTrackViewerHandler_Timeout(t *testing.T) {
	t.Parallel()
	bus := &stubBus{recErr: domain.ErrTimeout}
	srv := newTestServer(t, bus, nil, nil)

	rec := doJSON(t, srv.TrackViewerHandler(), http.MethodPost, "/v1/viewers/track",
		`{"tenant_id":"t1","image_b64":"aW1n"}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.Contains(t, rec.Body.String(), "TIMEOUT")
}

func TestCreateTenantHandler(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)

	rec := doJSON(t, srv.CreateTenantHandler(), http.MethodPost, "/v1/tenants", `{"tenant_id":"t1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv.CreateTenantHandler(), http.MethodPost, "/v1/tenants", `{"tenant_id":"bad id!"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_FORMAT")
}

func TestCreateTenantHandler_Conflict(t *testing.T) {
	t.Parallel()
	tenants := &stubTenants{createErr: domain.ErrConflict}
	srv := newTestServer(t, nil, tenants, nil)

	rec := doJSON(t, srv.CreateTenantHandler(), http.MethodPost, "/v1/tenants", `{"tenant_id":"t1"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "CONFLICT")
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}

func TestDeleteTenantHandler_NotFound(t *testing.T) {
	t.Parallel()
	tenants := &stubTenants{deleteErr: domain.ErrNotFound}
	srv := newTestServer(t, nil, tenants, nil)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tenants/ghost", nil)
	req = withURLParams(req, map[string]string{"tenant_id": "ghost"})
	rec := httptest.NewRecorder()
	srv.DeleteTenantHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnrollUserHandler(t *testing.T) {
	t.Parallel()
	bus := &stubBus{emb: []float32{1, 2, 3}}
	srv := newTestServer(t, bus, nil, nil)

	rec := doJSON(t, srv.EnrollUserHandler(), http.MethodPost, "/v1/users",
		`{"tenant_id":"t1","user_id":"u1","image_b64":"aW1n"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "u1", out["user_id"])
	require.EqualValues(t, 3, out["embedding_size"])
	require.NotEmpty(t, out["face_id"])
}

func TestEnrollUserHandler_NoFaceDetected(t *testing.T) {
	t.Parallel()
	bus := &stubBus{err: domain.ErrNoFaceDetected}
	srv := newTestServer(t, bus, nil, nil)

	rec := doJSON(t, srv.EnrollUserHandler(), http.MethodPost, "/v1/users",
		`{"tenant_id":"t1","user_id":"u1","image_b64":"aW1n"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "NO_FACE_DETECTED")
}

func TestListFacesHandler_RequiresTenant(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/users/u1/faces", nil)
	req = withURLParams(req, map[string]string{"user_id": "u1"})
	rec := httptest.NewRecorder()
	srv.ListFacesHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/users/u1/faces?tenant_id=t1", nil)
	req = withURLParams(req, map[string]string{"user_id": "u1"})
	rec = httptest.NewRecorder()
	srv.ListFacesHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"face_id":"f1"`)
}

func TestAnalyticsHandler(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics?tenant_id=t1&start_date=2026-08-01&end_date=2026-08-03", nil)
	rec := httptest.NewRecorder()
	srv.AnalyticsHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Period domain.AnalyticsPeriod `json:"period"`
		Data   struct {
			Summary      domain.AnalyticsSummary `json:"summary"`
			DailyHistory []domain.DailyStat      `json:"daily_history"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 3, out.Period.Days)
	require.Len(t, out.Data.DailyHistory, 3)
}

func TestSnapshotHandler_Envelope(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/internal/snapshot", nil)
	rec := httptest.NewRecorder()
	srv.SnapshotHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Data domain.Snapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, []string{"t1"}, out.Data.Tenants)
}

func TestReadyzHandler(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)
	srv.DBCheck = func(context.Context) error { return nil }
	srv.RedisCheck = func(context.Context) error { return nil }
	srv.BusCheck = func(context.Context) error { return nil }

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	srv.ReadyzHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	srv.BusCheck = func(context.Context) error { return context.DeadlineExceeded }
	rec = httptest.NewRecorder()
	srv.ReadyzHandler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"bus"`)
}

func TestWorkerHandlers(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.WorkerStatsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workers/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"worker_id":"w1"`)

	rec = httptest.NewRecorder()
	srv.WorkerHealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/workers/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
