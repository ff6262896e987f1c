// Package index holds the in-memory per-tenant embedding corpora and answers
// cosine nearest-neighbor queries for face recognition.
//
// Each tenant owns a contiguous row-major float32 matrix aligned with an
// explicit face-row order; rows are compacted on delete, never tombstoned.
package index

import (
	"math"
	"sort"
	"sync"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

// normEpsilon is the minimum vector norm accepted on insert. Vectors at or
// below it cannot be scored meaningfully.
const normEpsilon = 1e-6

// Index is the process-wide registry of tenant corpora. The outer lock guards
// the tenant map and the embedding width; each tenant carries its own
// reader-writer lock so tenants can be read and written in parallel.
type Index struct {
	mu        sync.RWMutex
	tenants   map[string]*tenant
	dim       int
	cfgDim    int
	threshold float32
}

type tenant struct {
	mu      sync.RWMutex
	users   map[string]*userEntry
	faces   map[string]*faceEntry
	rows    []string
	vectors []float32
}

type userEntry struct {
	faces []string
}

type faceEntry struct {
	userID string
	row    int
}

// New builds an empty index. dim fixes the embedding width; pass 0 to learn
// it from the first accepted vector. threshold is the minimum cosine score
// for a recognition match.
func New(dim int, threshold float32) *Index {
	return &Index{
		tenants:   make(map[string]*tenant),
		dim:       dim,
		cfgDim:    dim,
		threshold: threshold,
	}
}

func newTenant() *tenant {
	return &tenant{
		users: make(map[string]*userEntry),
		faces: make(map[string]*faceEntry),
	}
}

// PutTenant creates or resets a tenant. Re-creating an existing tenant leaves
// it empty.
func (x *Index) PutTenant(tenantID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tenants[tenantID] = newTenant()
}

// DropTenant removes a tenant and all of its users, faces, and rows.
// Dropping an absent tenant is a no-op.
func (x *Index) DropTenant(tenantID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.tenants, tenantID)
}

// HasTenant reports whether the tenant exists.
func (x *Index) HasTenant(tenantID string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.tenants[tenantID]
	return ok
}

func (x *Index) tenant(tenantID string) *tenant {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.tenants[tenantID]
}

// ensureDim validates the embedding against the fixed width, learning the
// width from the first accepted vector when none was configured.
func (x *Index) ensureDim(emb []float32) error {
	if len(emb) == 0 {
		return domain.E(domain.ErrInvalidInput, "invalid embedding: empty vector")
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dim == 0 {
		x.dim = len(emb)
	}
	if len(emb) != x.dim {
		return domain.E(domain.ErrInvalidInput, "invalid embedding: dimension %d, want %d", len(emb), x.dim)
	}
	return nil
}

func validateValues(emb []float32) error {
	var sum float64
	for _, v := range emb {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return domain.E(domain.ErrInvalidInput, "invalid embedding: non-finite value")
		}
		sum += f * f
	}
	if math.Sqrt(sum) <= normEpsilon {
		return domain.E(domain.ErrInvalidInput, "invalid embedding: zero norm")
	}
	return nil
}

func (x *Index) validate(emb []float32) error {
	if err := x.ensureDim(emb); err != nil {
		return err
	}
	return validateValues(emb)
}

// PutUser creates the user if absent and attaches the given face. The tenant
// must already exist. A duplicate face_id within the tenant is a conflict.
func (x *Index) PutUser(tenantID, userID, faceID string, emb []float32) error {
	t := x.tenant(tenantID)
	if t == nil {
		return domain.E(domain.ErrNotFound, "tenant %s not found", tenantID)
	}
	if err := x.validate(emb); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.faces[faceID]; ok {
		return domain.E(domain.ErrConflict, "face %s already enrolled", faceID)
	}
	u, ok := t.users[userID]
	if !ok {
		u = &userEntry{}
		t.users[userID] = u
	}
	t.appendRow(userID, faceID, emb)
	u.faces = append(u.faces, faceID)
	return nil
}

// AddFace appends a face to an existing user.
func (x *Index) AddFace(tenantID, userID, faceID string, emb []float32) error {
	t := x.tenant(tenantID)
	if t == nil {
		return domain.E(domain.ErrNotFound, "tenant %s not found", tenantID)
	}
	if err := x.validate(emb); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return domain.E(domain.ErrNotFound, "user %s not found in tenant %s", userID, tenantID)
	}
	if _, dup := t.faces[faceID]; dup {
		return domain.E(domain.ErrConflict, "face %s already enrolled", faceID)
	}
	t.appendRow(userID, faceID, emb)
	u.faces = append(u.faces, faceID)
	return nil
}

// appendRow assumes t.mu is held for writing and emb passed validation.
func (t *tenant) appendRow(userID, faceID string, emb []float32) {
	t.faces[faceID] = &faceEntry{userID: userID, row: len(t.rows)}
	t.rows = append(t.rows, faceID)
	t.vectors = append(t.vectors, emb...)
}

// removeRow compacts the matrix by shifting trailing rows down one slot.
// Assumes t.mu is held for writing.
func (t *tenant) removeRow(i, dim int) {
	copy(t.vectors[i*dim:], t.vectors[(i+1)*dim:])
	t.vectors = t.vectors[:len(t.vectors)-dim]
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	for j := i; j < len(t.rows); j++ {
		t.faces[t.rows[j]].row = j
	}
}

// DropFace removes one face and its row. Returns false when nothing matched.
func (x *Index) DropFace(tenantID, userID, faceID string) bool {
	t := x.tenant(tenantID)
	if t == nil {
		return false
	}
	x.mu.RLock()
	dim := x.dim
	x.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	fe, ok := t.faces[faceID]
	if !ok || fe.userID != userID {
		return false
	}
	if u, ok := t.users[userID]; ok {
		for i, fid := range u.faces {
			if fid == faceID {
				u.faces = append(u.faces[:i], u.faces[i+1:]...)
				break
			}
		}
	}
	t.removeRow(fe.row, dim)
	delete(t.faces, faceID)
	return true
}

// DropUser removes a user and cascades to all of its faces. Returns false
// when the user was absent.
func (x *Index) DropUser(tenantID, userID string) bool {
	t := x.tenant(tenantID)
	if t == nil {
		return false
	}
	x.mu.RLock()
	dim := x.dim
	x.mu.RUnlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		return false
	}
	// Iterate a copy: removeRow rewrites t.rows.
	faces := append([]string(nil), u.faces...)
	for _, fid := range faces {
		if fe, ok := t.faces[fid]; ok {
			t.removeRow(fe.row, dim)
			delete(t.faces, fid)
		}
	}
	delete(t.users, userID)
	return true
}

// Recognize scores the query against every row of the tenant and returns the
// best user with its clamped cosine confidence. The user is empty when the
// tenant is missing, has no rows, the query norm is zero, or the best score
// is below the threshold; the confidence still carries the best score in the
// last case. Ties on the top score resolve to the lexicographically smallest
// face_id.
func (x *Index) Recognize(tenantID string, query []float32) (string, float32) {
	t := x.tenant(tenantID)
	if t == nil {
		return "", 0
	}
	x.mu.RLock()
	dim := x.dim
	x.mu.RUnlock()
	if len(query) == 0 || len(query) != dim {
		return "", 0
	}
	var qq float32
	for _, v := range query {
		qq += v * v
	}
	qNorm := float32(math.Sqrt(float64(qq)))
	if qNorm <= normEpsilon {
		return "", 0
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.rows) == 0 {
		return "", 0
	}
	best := float32(-1)
	bestFace := ""
	for i, fid := range t.rows {
		s := cosine(query, qNorm, t.vectors[i*dim:(i+1)*dim])
		if s > best || (s == best && fid < bestFace) {
			best = s
			bestFace = fid
		}
	}
	if best < x.threshold {
		return "", best
	}
	return t.faces[bestFace].userID, best
}

// cosine computes the clamped cosine similarity between the query and one
// row. Row norms are computed in the scan; vectors are stored raw so a zero
// row scores zero instead of hiding behind pre-normalization.
func cosine(q []float32, qNorm float32, v []float32) float32 {
	var dot, vv float32
	for i := range q {
		dot += q[i] * v[i]
		vv += v[i] * v[i]
	}
	if vv == 0 {
		return 0
	}
	s := dot / (qNorm * float32(math.Sqrt(float64(vv))))
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// UserFaces returns the user's face IDs in enrollment order. ok is false when
// the tenant or user is absent.
func (x *Index) UserFaces(tenantID, userID string) ([]string, bool) {
	t := x.tenant(tenantID)
	if t == nil {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[userID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), u.faces...), true
}

// Stats reports the index footprint: tenant, user, face, and embedding-row
// counts.
func (x *Index) Stats() (tenants, users, faces, embeddings int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	tenants = len(x.tenants)
	for _, t := range x.tenants {
		t.mu.RLock()
		users += len(t.users)
		faces += len(t.faces)
		embeddings += len(t.rows)
		t.mu.RUnlock()
	}
	return tenants, users, faces, embeddings
}

// Export captures the full index as a snapshot. Tenant order is sorted;
// per-tenant face order follows the matrix rows so a later Load rebuilds the
// identical layout.
func (x *Index) Export() domain.Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	snap := domain.Snapshot{
		Tenants:    make([]string, 0, len(x.tenants)),
		Users:      make(map[string]map[string]domain.SnapshotUser),
		Faces:      make(map[string][]domain.SnapshotFace),
		Embeddings: make(map[string][]float32),
	}
	for tid := range x.tenants {
		snap.Tenants = append(snap.Tenants, tid)
	}
	sort.Strings(snap.Tenants)
	for _, tid := range snap.Tenants {
		t := x.tenants[tid]
		t.mu.RLock()
		us := make(map[string]domain.SnapshotUser, len(t.users))
		for uid, u := range t.users {
			us[uid] = domain.SnapshotUser{Faces: append([]string(nil), u.faces...)}
		}
		snap.Users[tid] = us
		fs := make([]domain.SnapshotFace, 0, len(t.rows))
		for i, fid := range t.rows {
			fs = append(fs, domain.SnapshotFace{FaceID: fid, UserID: t.faces[fid].userID})
			row := t.vectors[i*x.dim : (i+1)*x.dim]
			snap.Embeddings[fid] = append([]float32(nil), row...)
		}
		snap.Faces[tid] = fs
		t.mu.RUnlock()
	}
	return snap
}

// Load populates the index from a snapshot. Faces are applied in snapshot
// array order so the matrix layout matches the exporting process. Any face_id
// referenced without an embedding is skipped and returned as an orphan.
func (x *Index) Load(snap domain.Snapshot) (orphans []string) {
	seen := make(map[string]bool)
	orphan := func(fid string) {
		if !seen[fid] {
			seen[fid] = true
			orphans = append(orphans, fid)
		}
	}

	tenantIDs := make(map[string]bool)
	for _, tid := range snap.Tenants {
		tenantIDs[tid] = true
	}
	for tid := range snap.Users {
		tenantIDs[tid] = true
	}
	for tid := range snap.Faces {
		tenantIDs[tid] = true
	}

	for tid := range tenantIDs {
		if !x.HasTenant(tid) {
			x.PutTenant(tid)
		}
		for uid := range snap.Users[tid] {
			x.ensureUser(tid, uid)
		}
		for _, f := range snap.Faces[tid] {
			emb, ok := snap.Embeddings[f.FaceID]
			if !ok {
				orphan(f.FaceID)
				continue
			}
			if err := x.PutUser(tid, f.UserID, f.FaceID, emb); err != nil {
				orphan(f.FaceID)
			}
		}
		// Faces declared on users but absent from both the face list and
		// the embedding table are orphans too.
		for _, u := range snap.Users[tid] {
			for _, fid := range u.Faces {
				if _, ok := snap.Embeddings[fid]; !ok {
					orphan(fid)
				}
			}
		}
	}
	return orphans
}

func (x *Index) ensureUser(tenantID, userID string) {
	t := x.tenant(tenantID)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.users[userID]; !ok {
		t.users[userID] = &userEntry{}
	}
}

// HasUser reports whether the user exists in the tenant.
func (x *Index) HasUser(tenantID, userID string) bool {
	t := x.tenant(tenantID)
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.users[userID]
	return ok
}

// Wipe clears every tenant and resets the learned embedding width back to
// the configured one.
func (x *Index) Wipe() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.tenants = make(map[string]*tenant)
	x.dim = x.cfgDim
}
