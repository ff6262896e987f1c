package usecase_test

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

type fakeTenants struct {
	exists    bool
	existsErr error
	createErr error
	deleteErr error
	created   []string
	deleted   []string
}

func (f *fakeTenants) Create(_ domain.Context, id string) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, id)
	return nil
}

func (f *fakeTenants) Delete(_ domain.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTenants) Exists(_ domain.Context, _ string) (bool, error) {
	return f.exists, f.existsErr
}

type fakeUsers struct {
	users     map[string]domain.User
	createErr error
	deleteErr error
	created   []domain.User
	deleted   []string
}

func userKey(tenantID, userID string) string { return tenantID + "/" + userID }

func (f *fakeUsers) Create(_ domain.Context, u domain.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.users == nil {
		f.users = map[string]domain.User{}
	}
	f.users[userKey(u.TenantID, u.UserID)] = u
	f.created = append(f.created, u)
	return nil
}

func (f *fakeUsers) Get(_ domain.Context, tenantID, userID string) (domain.User, error) {
	u, ok := f.users[userKey(tenantID, userID)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) Delete(_ domain.Context, tenantID, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.users[userKey(tenantID, userID)]; !ok {
		return domain.ErrNotFound
	}
	delete(f.users, userKey(tenantID, userID))
	f.deleted = append(f.deleted, userKey(tenantID, userID))
	return nil
}

type fakeFaces struct {
	byUser    map[string][]domain.Face
	createErr error
	deleteErr error
	listErr   error
	created   []domain.Face
	deleted   []string
}

func (f *fakeFaces) Create(_ domain.Context, face domain.Face) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byUser == nil {
		f.byUser = map[string][]domain.Face{}
	}
	key := userKey(face.TenantID, face.UserID)
	f.byUser[key] = append(f.byUser[key], face)
	f.created = append(f.created, face)
	return nil
}

func (f *fakeFaces) Get(_ domain.Context, faceID string) (domain.Face, error) {
	for _, faces := range f.byUser {
		for _, face := range faces {
			if face.ID == faceID {
				return face, nil
			}
		}
	}
	return domain.Face{}, domain.ErrNotFound
}

func (f *fakeFaces) Delete(_ domain.Context, tenantID, faceID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, tenantID+"/"+faceID)
	return nil
}

func (f *fakeFaces) ListByUser(_ domain.Context, tenantID, userID string) ([]domain.Face, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.byUser[userKey(tenantID, userID)], nil
}

type counterCall struct {
	tenantID string
	userID   string
	seen     time.Time
}

type fakeSessions struct {
	inserted   []domain.ViewingSession
	insertErr  error
	counter    domain.VisitCounter
	counterErr error
	counters   []counterCall
	rows       domain.AnalyticsRows
	queryErr   error
	queryFrom  time.Time
	queryTo    time.Time
}

func (f *fakeSessions) InsertSession(_ domain.Context, s domain.ViewingSession) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, s)
	return fmt.Sprintf("sess-%d", len(f.inserted)), nil
}

func (f *fakeSessions) UpsertVisitCounter(_ domain.Context, tenantID, userID string, seen time.Time) (domain.VisitCounter, error) {
	f.counters = append(f.counters, counterCall{tenantID: tenantID, userID: userID, seen: seen})
	if f.counterErr != nil {
		return domain.VisitCounter{}, f.counterErr
	}
	return f.counter, nil
}

func (f *fakeSessions) QueryAnalytics(_ domain.Context, _ string, start, end time.Time) (domain.AnalyticsRows, error) {
	f.queryFrom, f.queryTo = start, end
	if f.queryErr != nil {
		return domain.AnalyticsRows{}, f.queryErr
	}
	return f.rows, nil
}

type fakeBus struct {
	rec             domain.Recognition
	recErr          error
	embedding       []float32
	createTenantErr error
	deleteTenantErr error
	createUserErr   error
	deleteUserErr   error
	addFaceErr      error
	deleteFaceErr   error
	faceIDs         []string
	stats           domain.CacheStatsResult
	health          domain.HealthResult

	createdTenants []string
	deletedTenants []string
	createdUsers   []string
	deletedUsers   []string
	addedFaces     []string
	deletedFaces   []string
}

func (f *fakeBus) CreateTenant(_ domain.Context, tenantID string) error {
	if f.createTenantErr != nil {
		return f.createTenantErr
	}
	f.createdTenants = append(f.createdTenants, tenantID)
	return nil
}

func (f *fakeBus) DeleteTenant(_ domain.Context, tenantID string) error {
	if f.deleteTenantErr != nil {
		return f.deleteTenantErr
	}
	f.deletedTenants = append(f.deletedTenants, tenantID)
	return nil
}

func (f *fakeBus) CreateUser(_ domain.Context, tenantID, userID, faceID, _ string) ([]float32, error) {
	if f.createUserErr != nil {
		return nil, f.createUserErr
	}
	f.createdUsers = append(f.createdUsers, tenantID+"/"+userID+"/"+faceID)
	return f.embedding, nil
}

func (f *fakeBus) DeleteUser(_ domain.Context, tenantID, userID string) error {
	if f.deleteUserErr != nil {
		return f.deleteUserErr
	}
	f.deletedUsers = append(f.deletedUsers, tenantID+"/"+userID)
	return nil
}

func (f *fakeBus) AddFace(_ domain.Context, tenantID, userID, faceID, _ string) ([]float32, error) {
	if f.addFaceErr != nil {
		return nil, f.addFaceErr
	}
	f.addedFaces = append(f.addedFaces, tenantID+"/"+userID+"/"+faceID)
	return f.embedding, nil
}

func (f *fakeBus) DeleteFace(_ domain.Context, tenantID, userID, faceID string) error {
	if f.deleteFaceErr != nil {
		return f.deleteFaceErr
	}
	f.deletedFaces = append(f.deletedFaces, tenantID+"/"+userID+"/"+faceID)
	return nil
}

func (f *fakeBus) RecognizeFace(_ domain.Context, _, _ string) (domain.Recognition, error) {
	if f.recErr != nil {
		return domain.Recognition{}, f.recErr
	}
	return f.rec, nil
}

func (f *fakeBus) UserFaces(_ domain.Context, _, _ string) ([]string, error) {
	return f.faceIDs, nil
}

func (f *fakeBus) CacheStats(_ domain.Context) (domain.CacheStatsResult, error) {
	return f.stats, nil
}

func (f *fakeBus) WorkerHealth(_ domain.Context) (domain.HealthResult, error) {
	return f.health, nil
}

type cacheSet struct {
	key string
	ttl time.Duration
}

type fakeCache struct {
	store       map[string]domain.AnalyticsReport
	getErr      error
	setErr      error
	invErr      error
	sets        []cacheSet
	invalidated []string
}

func (f *fakeCache) Get(_ domain.Context, key string) (domain.AnalyticsReport, bool, error) {
	if f.getErr != nil {
		return domain.AnalyticsReport{}, false, f.getErr
	}
	rep, ok := f.store[key]
	return rep, ok, nil
}

func (f *fakeCache) Set(_ domain.Context, key string, report domain.AnalyticsReport, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	if f.store == nil {
		f.store = map[string]domain.AnalyticsReport{}
	}
	f.store[key] = report
	f.sets = append(f.sets, cacheSet{key: key, ttl: ttl})
	return nil
}

func (f *fakeCache) InvalidateTenant(_ domain.Context, tenantID string) error {
	if f.invErr != nil {
		return f.invErr
	}
	f.invalidated = append(f.invalidated, tenantID)
	for key := range f.store {
		if strings.HasPrefix(key, domain.ReportCachePrefix(tenantID)) {
			delete(f.store, key)
		}
	}
	return nil
}
