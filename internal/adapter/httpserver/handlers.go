package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/face-recognition-service/internal/config"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
	"github.com/fairyhunter13/face-recognition-service/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Viewers    usecase.ViewerService
	Admin      usecase.AdminService
	Analytics  usecase.AnalyticsService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	BusCheck   func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, viewers usecase.ViewerService, admin usecase.AdminService, analytics usecase.AnalyticsService, dbCheck, redisCheck, busCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Viewers: viewers, Admin: admin, Analytics: analytics, DBCheck: dbCheck, RedisCheck: redisCheck, BusCheck: busCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// decodeJSON reads a capped JSON body into dst and runs struct validation.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.Cfg.MaxBodyMB*1024*1024)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code: "INVALID_INPUT", Message: "payload too large",
				Details: map[string]any{"max_mb": s.Cfg.MaxBodyMB},
			}})
			return false
		}
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidInput), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidInput), verrs)
		return false
	}
	return true
}

// RegisterViewerHandler records one viewing session, enrolling the face
// on the fly when it is not recognized.
func (s *Server) RegisterViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID        string  `json:"tenant_id" validate:"required,max=100"`
			ImageB64        string  `json:"image_b64" validate:"required"`
			StartTime       string  `json:"start_time"`
			EndTime         string  `json:"end_time"`
			DurationSeconds float64 `json:"duration_seconds" validate:"gte=0"`
		}
		if !s.decodeJSON(w, r, &req) {
			return
		}
		start, err := parseOptionalTime(req.StartTime)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: start_time %q", domain.ErrInvalidInput, req.StartTime), nil)
			return
		}
		end, err := parseOptionalTime(req.EndTime)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: end_time %q", domain.ErrInvalidInput, req.EndTime), nil)
			return
		}
		out, err := s.Viewers.RegisterViewer(r.Context(), usecase.RegisterViewerInput{
			TenantID:        req.TenantID,
			ImageB64:        req.ImageB64,
			StartTS:         start,
			EndTS:           end,
			DurationSeconds: req.DurationSeconds,
		})
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":     out.UserID,
			"face_id":     out.FaceID,
			"session_id":  out.SessionID,
			"is_new_user": out.IsNewUser,
			"confidence":  out.Confidence,
		})
	}
}

// TrackViewerHandler counts a repeat sighting of a known viewer.
func (s *Server) TrackViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id" validate:"required,max=100"`
			ImageB64 string `json:"image_b64" validate:"required"`
		}
		if !s.decodeJSON(w, r, &req) {
			return
		}
		out, err := s.Viewers.TrackViewer(r.Context(), req.TenantID, req.ImageB64)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"matched":     out.Matched,
			"user_id":     out.UserID,
			"visit_count": out.VisitCount,
			"confidence":  out.Confidence,
		})
	}
}

// CreateTenantHandler provisions a tenant in the store and on every worker.
func (s *Server) CreateTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id" validate:"required,max=100"`
		}
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if res := ValidateIdentifier("tenant_id", req.TenantID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: tenant_id", domain.ErrInvalidInput), res.Errors)
			return
		}
		if err := s.Admin.CreateTenant(r.Context(), req.TenantID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"tenant_id": req.TenantID})
	}
}

// DeleteTenantHandler removes a tenant and everything under it.
func (s *Server) DeleteTenantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenant_id")
		if err := s.Admin.DeleteTenant(r.Context(), tenantID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// EnrollUserHandler registers a named user from one face image.
func (s *Server) EnrollUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id" validate:"required,max=100"`
			UserID   string `json:"user_id" validate:"required,max=100"`
			ImageB64 string `json:"image_b64" validate:"required"`
		}
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if res := ValidateIdentifier("user_id", req.UserID); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: user_id", domain.ErrInvalidInput), res.Errors)
			return
		}
		out, err := s.Admin.EnrollUser(r.Context(), req.TenantID, req.UserID, req.ImageB64)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"user_id":        out.UserID,
			"face_id":        out.FaceID,
			"embedding_size": out.EmbeddingSize,
		})
	}
}

// DeleteUserHandler removes a user, their faces, sessions and counters.
func (s *Server) DeleteUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := s.tenantQuery(w, r)
		if !ok {
			return
		}
		if err := s.Admin.DeleteUser(r.Context(), tenantID, chi.URLParam(r, "user_id")); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddFaceHandler enrolls an additional face sample for an existing user.
func (s *Server) AddFaceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID string `json:"tenant_id" validate:"required,max=100"`
			ImageB64 string `json:"image_b64" validate:"required"`
		}
		if !s.decodeJSON(w, r, &req) {
			return
		}
		out, err := s.Admin.AddFace(r.Context(), req.TenantID, chi.URLParam(r, "user_id"), req.ImageB64)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"face_id":        out.FaceID,
			"embedding_size": out.EmbeddingSize,
		})
	}
}

// DeleteFaceHandler removes one enrolled face sample.
func (s *Server) DeleteFaceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := s.tenantQuery(w, r)
		if !ok {
			return
		}
		err := s.Admin.DeleteFace(r.Context(), tenantID, chi.URLParam(r, "user_id"), chi.URLParam(r, "face_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ListFacesHandler returns the stored face records for a user.
func (s *Server) ListFacesHandler() http.HandlerFunc {
	type faceOut struct {
		FaceID    string `json:"face_id"`
		ImageRef  string `json:"image_ref,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := s.tenantQuery(w, r)
		if !ok {
			return
		}
		faces, err := s.Admin.ListFaces(r.Context(), tenantID, chi.URLParam(r, "user_id"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		out := make([]faceOut, 0, len(faces))
		for _, f := range faces {
			out = append(out, faceOut{FaceID: f.ID, ImageRef: f.ImageRef, CreatedAt: f.CreatedAt.UTC().Format(time.RFC3339)})
		}
		writeJSON(w, http.StatusOK, map[string]any{"faces": out})
	}
}

// WorkerStatsHandler reports one worker's index footprint.
func (s *Server) WorkerStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := s.Admin.WorkerStats(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// WorkerHealthHandler reports one worker's liveness over the bus.
func (s *Server) WorkerHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health, err := s.Admin.WorkerHealth(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, health)
	}
}

// AnalyticsHandler serves the summary + daily-history report.
func (s *Server) AnalyticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := s.tenantQuery(w, r)
		if !ok {
			return
		}
		rep, err := s.Analytics.Report(r.Context(), tenantID, r.URL.Query().Get("start_date"), r.URL.Query().Get("end_date"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tenant_id": rep.TenantID,
			"period":    rep.Period,
			"data": map[string]any{
				"summary":       rep.Summary,
				"daily_history": rep.DailyHistory,
			},
		})
	}
}

// SnapshotHandler exports the full store in the worker loader's shape.
// The worker's DATA_SOURCE=API boot path consumes this endpoint.
func (s *Server) SnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := s.Admin.ExportSnapshot(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": snap})
	}
}

// ReadyzHandler probes the DB pool, Redis and the bus connection.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("bus", s.BusCheck)
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

func (s *Server) tenantQuery(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, r, fmt.Errorf("%w: tenant_id query parameter required", domain.ErrInvalidInput), nil)
		return "", false
	}
	return tenantID, true
}

// parseOptionalTime accepts RFC 3339 or empty. Empty means "not provided".
func parseOptionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
