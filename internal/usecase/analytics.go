// Package usecase contains the control plane's application services.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// AnalyticsService computes viewing reports for a tenant. Reports are
// cached for a short TTL; the cache is optional and every cache failure
// degrades to a recompute.
type AnalyticsService struct {
	Sessions domain.SessionRepository
	Cache    domain.ReportCache
	Loc      *time.Location
	TTL      time.Duration
}

// NewAnalyticsService constructs an AnalyticsService. loc is the tenant
// time zone used for day bucketing; nil means UTC.
func NewAnalyticsService(sessions domain.SessionRepository, cache domain.ReportCache, loc *time.Location, ttl time.Duration) AnalyticsService {
	return AnalyticsService{Sessions: sessions, Cache: cache, Loc: loc, TTL: ttl}
}

// reportWindow is one resolved reporting period. prevStart opens the
// equal-length comparison window that ends one second before start.
type reportWindow struct {
	start     time.Time
	end       time.Time
	prevStart time.Time
	days      int
}

// Report builds the analytics report for [startDate, endDate]. Dates are
// RFC 3339 or YYYY-MM-DD; empty values default to the last seven days.
func (s AnalyticsService) Report(ctx domain.Context, tenantID, startDate, endDate string) (domain.AnalyticsReport, error) {
	if tenantID == "" {
		return domain.AnalyticsReport{}, fmt.Errorf("%w: tenant_id required", domain.ErrInvalidInput)
	}
	w, err := s.window(startDate, endDate)
	if err != nil {
		return domain.AnalyticsReport{}, err
	}

	key := domain.ReportCacheKey(tenantID, w.start, w.end)
	if s.Cache != nil {
		rep, ok, err := s.Cache.Get(ctx, key)
		if err != nil {
			slog.Warn("report cache read failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
		if ok {
			return rep, nil
		}
	}

	rows, err := s.Sessions.QueryAnalytics(ctx, tenantID, w.prevStart, w.end)
	if err != nil {
		return domain.AnalyticsReport{}, err
	}
	rep := s.buildReport(tenantID, w, rows)

	if s.Cache != nil {
		if err := s.Cache.Set(ctx, key, rep, s.TTL); err != nil {
			slog.Warn("report cache write failed", slog.String("tenant_id", tenantID), slog.Any("error", err))
		}
	}
	return rep, nil
}

func (s AnalyticsService) location() *time.Location {
	if s.Loc != nil {
		return s.Loc
	}
	return time.UTC
}

func (s AnalyticsService) window(startDate, endDate string) (reportWindow, error) {
	loc := s.location()

	end, endDateOnly, err := parseReportTime(endDate, loc)
	if err != nil {
		return reportWindow{}, fmt.Errorf("%w: end_date %q", domain.ErrInvalidInput, endDate)
	}
	if end.IsZero() {
		end, endDateOnly = time.Now().In(loc), true
	}

	start, startDateOnly, err := parseReportTime(startDate, loc)
	if err != nil {
		return reportWindow{}, fmt.Errorf("%w: start_date %q", domain.ErrInvalidInput, startDate)
	}
	if start.IsZero() {
		start, startDateOnly = end.AddDate(0, 0, -7), true
	}

	if startDateOnly {
		start = dayStart(start, loc)
	}
	if endDateOnly {
		end = dayEnd(end, loc)
	}
	if end.Before(start) {
		return reportWindow{}, fmt.Errorf("%w: end_date before start_date", domain.ErrInvalidInput)
	}

	days := calendarDays(start, end, loc)
	return reportWindow{start: start, end: end, prevStart: start.AddDate(0, 0, -days), days: days}, nil
}

// parseReportTime accepts RFC 3339 or a plain date; the zero time means
// "not provided". Plain dates report dateOnly so the caller can widen
// them to day bounds.
func parseReportTime(v string, loc *time.Location) (t time.Time, dateOnly bool, err error) {
	if v == "" {
		return time.Time{}, false, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(loc), false, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, errors.New("unrecognized date")
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func dayEnd(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, loc)
}

func calendarDays(start, end time.Time, loc *time.Location) int {
	days := 0
	last := dayStart(end, loc)
	for d := dayStart(start, loc); !d.After(last); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

func (s AnalyticsService) buildReport(tenantID string, w reportWindow, rows domain.AnalyticsRows) domain.AnalyticsReport {
	loc := s.location()

	// The fetch covered [prevStart, end]; everything before start belongs
	// to the comparison window.
	var curr, prev []domain.SessionRow
	for _, row := range rows.Sessions {
		if row.StartTS.Before(w.start) {
			prev = append(prev, row)
		} else {
			curr = append(curr, row)
		}
	}

	customers := map[string]bool{}
	prevCustomers := 0
	for _, c := range rows.Counters {
		if c.VisitCount <= 1 {
			continue
		}
		customers[c.UserID] = true
		if c.LastSeen.Before(w.start) {
			prevCustomers++
		}
	}

	newViewers := 0
	for _, first := range rows.FirstSessions {
		if !first.Before(w.start) && !first.After(w.end) {
			newViewers++
		}
	}

	avgMin := floorAvgMinutes(curr)
	prevAvgMin := floorAvgMinutes(prev)

	summary := domain.AnalyticsSummary{
		TotalViewers:                        rows.TotalViewers,
		DifferenceTotalViewersPercentage:    pctChange(len(distinctUsers(prev)), len(distinctUsers(curr))),
		TotalNewViewers:                     int64(newViewers),
		TotalCustomers:                      int64(len(customers)),
		DifferenceTotalCustomersPercentage:  pctChange(prevCustomers, len(customers)),
		AverageViewTime:                     avgMin,
		DifferenceAverageViewTimePercentage: pctChange(prevAvgMin, avgMin),
	}

	return domain.AnalyticsReport{
		TenantID: tenantID,
		Period: domain.AnalyticsPeriod{
			Start: w.start.Format(time.RFC3339),
			End:   w.end.Format(time.RFC3339),
			Days:  w.days,
		},
		Summary:      summary,
		DailyHistory: dailyHistory(w, curr, customers, loc),
	}
}

type dayAgg struct {
	viewers   map[string]bool
	customers map[string]bool
	total     float64
	n         int
}

// dailyHistory emits one entry per calendar day in the window, zero-filled
// for days without sessions. A session counts against the day its start_ts
// falls on.
func dailyHistory(w reportWindow, sessions []domain.SessionRow, customers map[string]bool, loc *time.Location) []domain.DailyStat {
	byDay := map[string]*dayAgg{}
	for _, row := range sessions {
		key := row.StartTS.In(loc).Format("2006-01-02")
		agg := byDay[key]
		if agg == nil {
			agg = &dayAgg{viewers: map[string]bool{}, customers: map[string]bool{}}
			byDay[key] = agg
		}
		agg.viewers[row.UserID] = true
		if customers[row.UserID] {
			agg.customers[row.UserID] = true
		}
		agg.total += row.DurationSeconds
		agg.n++
	}

	daily := make([]domain.DailyStat, 0, w.days)
	last := dayStart(w.end, loc)
	for d := dayStart(w.start, loc); !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		stat := domain.DailyStat{Date: key, DayOfWeek: d.Weekday().String()}
		if agg := byDay[key]; agg != nil {
			stat.Viewers = int64(len(agg.viewers))
			stat.Customers = int64(len(agg.customers))
			stat.AverageViewTime = int(agg.total / float64(agg.n) / 60)
		}
		daily = append(daily, stat)
	}
	return daily
}

func distinctUsers(rows []domain.SessionRow) map[string]bool {
	users := map[string]bool{}
	for _, r := range rows {
		users[r.UserID] = true
	}
	return users
}

// floorAvgMinutes is the mean session duration in whole minutes,
// truncated. Durations are non-negative, so truncation is a floor.
func floorAvgMinutes(rows []domain.SessionRow) int {
	if len(rows) == 0 {
		return 0
	}
	var total float64
	for _, r := range rows {
		total += r.DurationSeconds
	}
	return int(total / float64(len(rows)) / 60)
}

// pctChange rounds half away from zero. A zero baseline reads as no
// change when curr is also zero, otherwise as a 100% jump.
func pctChange(prev, curr int) int {
	if prev == 0 {
		if curr == 0 {
			return 0
		}
		return 100
	}
	return int(math.Round(float64(curr-prev) / float64(prev) * 100))
}
