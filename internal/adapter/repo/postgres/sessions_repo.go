package postgres

import (
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// SessionRepo persists viewing sessions and the per-user visit counters,
// and serves the raw rows the analytics engine aggregates.
type SessionRepo struct{ Pool PgxPool }

func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

// InsertSession appends one viewing session and returns its id. An empty
// s.ID gets a fresh ULID so inserts stay roughly time-ordered on the pk.
func (r *SessionRepo) InsertSession(ctx domain.Context, s domain.ViewingSession) (string, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.InsertSession")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "insert"),
		attribute.String("db.sql.table", "viewing_sessions"),
	)

	if s.ID == "" {
		s.ID = ulid.Make().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	var faceID any
	if s.FaceID != "" {
		faceID = s.FaceID
	}
	q := `INSERT INTO viewing_sessions (id, tenant_id, user_id, face_id, start_ts, end_ts, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.Pool.Exec(ctx, q, s.ID, s.TenantID, s.UserID, faceID, s.StartTS, s.EndTS, s.DurationSeconds, s.CreatedAt)
	if err != nil {
		if isPgCode(err, codeForeignKeyViolation) {
			return "", fmt.Errorf("op=session.insert: %w: user %s not found in tenant %s", domain.ErrNotFound, s.UserID, s.TenantID)
		}
		return "", fmt.Errorf("op=session.insert: %w", err)
	}
	return s.ID, nil
}

// UpsertVisitCounter bumps the user's visit count by one, creating the row
// on first sight. Single statement so concurrent trackers never lose a bump.
func (r *SessionRepo) UpsertVisitCounter(ctx domain.Context, tenantID, userID string, seen time.Time) (domain.VisitCounter, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.UpsertVisitCounter")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "upsert"),
		attribute.String("db.sql.table", "visit_counters"),
	)

	q := `INSERT INTO visit_counters (tenant_id, user_id, visit_count, first_seen, last_seen)
		VALUES ($1, $2, 1, $3, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE
		SET visit_count = visit_counters.visit_count + 1, last_seen = EXCLUDED.last_seen
		RETURNING visit_count, first_seen, last_seen`
	c := domain.VisitCounter{TenantID: tenantID, UserID: userID}
	err := r.Pool.QueryRow(ctx, q, tenantID, userID, seen).Scan(&c.VisitCount, &c.FirstSeen, &c.LastSeen)
	if err != nil {
		if isPgCode(err, codeForeignKeyViolation) {
			return domain.VisitCounter{}, fmt.Errorf("op=counter.upsert: %w: user %s not found in tenant %s", domain.ErrNotFound, userID, tenantID)
		}
		return domain.VisitCounter{}, fmt.Errorf("op=counter.upsert: %w", err)
	}
	return c, nil
}

// QueryAnalytics collects the raw material for one report: the registered
// user total, every session starting inside [start, end], the all-time first
// session per user, and all visit counters for the tenant. Aggregation
// happens in the usecase so windowing rules live in one place.
func (r *SessionRepo) QueryAnalytics(ctx domain.Context, tenantID string, start, end time.Time) (domain.AnalyticsRows, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.QueryAnalytics")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "select"),
		attribute.String("db.sql.table", "viewing_sessions"),
	)

	var out domain.AnalyticsRows
	row := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE tenant_id=$1`, tenantID)
	if err := row.Scan(&out.TotalViewers); err != nil {
		return domain.AnalyticsRows{}, fmt.Errorf("op=analytics.viewers: %w", err)
	}

	sessions, err := r.sessionRows(ctx, tenantID, start, end)
	if err != nil {
		return domain.AnalyticsRows{}, err
	}
	out.Sessions = sessions

	first, err := r.firstSessions(ctx, tenantID)
	if err != nil {
		return domain.AnalyticsRows{}, err
	}
	out.FirstSessions = first

	counters, err := r.counterRows(ctx, tenantID)
	if err != nil {
		return domain.AnalyticsRows{}, err
	}
	out.Counters = counters
	return out, nil
}

func (r *SessionRepo) sessionRows(ctx domain.Context, tenantID string, start, end time.Time) ([]domain.SessionRow, error) {
	q := `SELECT user_id, start_ts, duration_seconds FROM viewing_sessions
		WHERE tenant_id=$1 AND start_ts >= $2 AND start_ts <= $3 ORDER BY start_ts`
	rows, err := r.Pool.Query(ctx, q, tenantID, start, end)
	if err != nil {
		return nil, fmt.Errorf("op=analytics.sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionRow{}
	for rows.Next() {
		var s domain.SessionRow
		if err := rows.Scan(&s.UserID, &s.StartTS, &s.DurationSeconds); err != nil {
			return nil, fmt.Errorf("op=analytics.sessions: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analytics.sessions: %w", err)
	}
	return out, nil
}

// firstSessions is deliberately unwindowed: returning status is judged
// against a user's first session ever, not their first within the report.
func (r *SessionRepo) firstSessions(ctx domain.Context, tenantID string) (map[string]time.Time, error) {
	q := `SELECT user_id, MIN(start_ts) FROM viewing_sessions WHERE tenant_id=$1 GROUP BY user_id`
	rows, err := r.Pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("op=analytics.first: %w", err)
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var uid string
		var ts time.Time
		if err := rows.Scan(&uid, &ts); err != nil {
			return nil, fmt.Errorf("op=analytics.first: %w", err)
		}
		out[uid] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analytics.first: %w", err)
	}
	return out, nil
}

func (r *SessionRepo) counterRows(ctx domain.Context, tenantID string) ([]domain.VisitCounterRow, error) {
	q := `SELECT user_id, visit_count, first_seen, last_seen FROM visit_counters WHERE tenant_id=$1`
	rows, err := r.Pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("op=analytics.counters: %w", err)
	}
	defer rows.Close()

	out := []domain.VisitCounterRow{}
	for rows.Next() {
		var c domain.VisitCounterRow
		if err := rows.Scan(&c.UserID, &c.VisitCount, &c.FirstSeen, &c.LastSeen); err != nil {
			return nil, fmt.Errorf("op=analytics.counters: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=analytics.counters: %w", err)
	}
	return out, nil
}
