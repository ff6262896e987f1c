package index

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

func e(dim, at int) []float32 {
	v := make([]float32, dim)
	v[at] = 1
	return v
}

func TestPutUserAndRecognize(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", e(4, 0)); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	uid, conf := idx.Recognize("t1", e(4, 0))
	if uid != "u1" {
		t.Fatalf("Recognize user = %q, want u1", uid)
	}
	if conf < 0.999 {
		t.Fatalf("Recognize confidence = %v, want ~1", conf)
	}
}

func TestRecognizeBelowThresholdKeepsConfidence(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	// 45 degrees off: cosine ~0.7071 would match at 0.7, so use a wider angle.
	uid, conf := idx.Recognize("t1", []float32{1, 2, 0, 0})
	if uid != "" {
		t.Fatalf("expected no match, got %q", uid)
	}
	want := float32(1 / math.Sqrt(5))
	if diff := conf - want; diff < -1e-3 || diff > 1e-3 {
		t.Fatalf("confidence = %v, want ~%v", conf, want)
	}
}

func TestRecognizeNoMatchCases(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("empty")

	cases := []struct {
		name   string
		tenant string
		query  []float32
	}{
		{"missing tenant", "nope", e(4, 0)},
		{"tenant without faces", "empty", e(4, 0)},
		{"zero norm query", "empty", []float32{0, 0, 0, 0}},
		{"dimension mismatch", "empty", []float32{1, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uid, conf := idx.Recognize(tc.tenant, tc.query)
			if uid != "" || conf != 0 {
				t.Fatalf("got (%q, %v), want (\"\", 0)", uid, conf)
			}
		})
	}
}

func TestRecognizeTieBreaksOnSmallestFaceID(t *testing.T) {
	same := []float32{0, 1, 0, 0}

	// Insert the larger face_id first so map or row order cannot mask the
	// tie-break.
	idx := New(4, 0.5)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u-late", "f-b", same); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.PutUser("t1", "u-early", "f-a", same); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	uid, _ := idx.Recognize("t1", same)
	if uid != "u-early" {
		t.Fatalf("tie resolved to %q, want u-early (smallest face_id)", uid)
	}
}

func TestRecognizeStableUnderRowReordering(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	c := []float32{1, 1, 0, 0}
	query := []float32{3, 1, 0, 0}

	build := func(order [][3]interface{}) *Index {
		idx := New(4, 0.5)
		idx.PutTenant("t1")
		for _, it := range order {
			uid := it[0].(string)
			fid := it[1].(string)
			emb := it[2].([]float32)
			if err := idx.PutUser("t1", uid, fid, emb); err != nil {
				t.Fatalf("PutUser(%s): %v", fid, err)
			}
		}
		return idx
	}

	one := build([][3]interface{}{{"ua", "f1", a}, {"ub", "f2", b}, {"uc", "f3", c}})
	two := build([][3]interface{}{{"uc", "f3", c}, {"ua", "f1", a}, {"ub", "f2", b}})

	u1, c1 := one.Recognize("t1", query)
	u2, c2 := two.Recognize("t1", query)
	if u1 != u2 || c1 != c2 {
		t.Fatalf("row order changed the answer: (%q,%v) vs (%q,%v)", u1, c1, u2, c2)
	}
	if u1 != "ua" {
		t.Fatalf("best match = %q, want ua", u1)
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("t1")
	idx.PutTenant("t2")
	if err := idx.PutUser("t1", "alice", "f1", e(4, 0)); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.PutUser("t2", "bob", "f2", e(4, 1)); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	if uid, _ := idx.Recognize("t1", e(4, 0)); uid != "alice" {
		t.Fatalf("t1 match = %q, want alice", uid)
	}
	// Alice's embedding must not match inside t2.
	if uid, conf := idx.Recognize("t2", e(4, 0)); uid != "" {
		t.Fatalf("t2 leaked a match: (%q, %v)", uid, conf)
	}
}

func TestEmbeddingValidation(t *testing.T) {
	idx := New(0, 0.7)
	idx.PutTenant("t1")

	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 2, 3}); err != nil {
		t.Fatalf("first insert learns dimension: %v", err)
	}

	cases := []struct {
		name string
		emb  []float32
	}{
		{"empty", nil},
		{"wrong dimension", []float32{1, 2}},
		{"nan", []float32{1, float32(math.NaN()), 3}},
		{"inf", []float32{1, float32(math.Inf(1)), 3}},
		{"zero norm", []float32{0, 0, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := idx.PutUser("t1", "u2", "fx-"+tc.name, tc.emb)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAddFaceErrors(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", e(4, 0)); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	if err := idx.AddFace("nope", "u1", "f2", e(4, 1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing tenant err = %v, want ErrNotFound", err)
	}
	if err := idx.AddFace("t1", "ghost", "f2", e(4, 1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing user err = %v, want ErrNotFound", err)
	}
	if err := idx.AddFace("t1", "u1", "f1", e(4, 1)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate face err = %v, want ErrConflict", err)
	}
	if err := idx.PutUser("t1", "u2", "f1", e(4, 1)); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate face via PutUser err = %v, want ErrConflict", err)
	}
}

func TestRecreateTenantLeavesItEmpty(t *testing.T) {
	idx := New(4, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", e(4, 0)); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	idx.DropTenant("t1")
	idx.PutTenant("t1")

	tenants, users, faces, embeddings := idx.Stats()
	if tenants != 1 || users != 0 || faces != 0 || embeddings != 0 {
		t.Fatalf("stats = (%d,%d,%d,%d), want (1,0,0,0)", tenants, users, faces, embeddings)
	}
	if uid, conf := idx.Recognize("t1", e(4, 0)); uid != "" || conf != 0 {
		t.Fatalf("recreated tenant still matches: (%q, %v)", uid, conf)
	}
}

func TestAddThenDropFaceRestoresLayout(t *testing.T) {
	idx := New(2, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 0}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.AddFace("t1", "u1", "f2", []float32{0, 1}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}

	tn := idx.tenant("t1")
	beforeVectors := append([]float32(nil), tn.vectors...)
	beforeRows := append([]string(nil), tn.rows...)

	if err := idx.AddFace("t1", "u1", "f3", []float32{1, 1}); err != nil {
		t.Fatalf("AddFace f3: %v", err)
	}
	if !idx.DropFace("t1", "u1", "f3") {
		t.Fatalf("DropFace f3 reported nothing removed")
	}

	if !reflect.DeepEqual(tn.vectors, beforeVectors) {
		t.Fatalf("vector layout changed:\n got %v\nwant %v", tn.vectors, beforeVectors)
	}
	if !reflect.DeepEqual(tn.rows, beforeRows) {
		t.Fatalf("row order changed:\n got %v\nwant %v", tn.rows, beforeRows)
	}
}

func TestDropMiddleFaceCompactsRows(t *testing.T) {
	idx := New(2, 0.7)
	idx.PutTenant("t1")
	for i, fid := range []string{"f1", "f2", "f3"} {
		emb := []float32{float32(i + 1), 1}
		if err := idx.PutUser("t1", "u1", fid, emb); err != nil {
			t.Fatalf("PutUser(%s): %v", fid, err)
		}
	}

	if !idx.DropFace("t1", "u1", "f2") {
		t.Fatalf("DropFace f2 reported nothing removed")
	}

	tn := idx.tenant("t1")
	wantRows := []string{"f1", "f3"}
	wantVectors := []float32{1, 1, 3, 1}
	if !reflect.DeepEqual(tn.rows, wantRows) {
		t.Fatalf("rows = %v, want %v", tn.rows, wantRows)
	}
	if !reflect.DeepEqual(tn.vectors, wantVectors) {
		t.Fatalf("vectors = %v, want %v", tn.vectors, wantVectors)
	}
	// Row bookkeeping must follow the shift.
	if tn.faces["f3"].row != 1 {
		t.Fatalf("f3 row = %d, want 1", tn.faces["f3"].row)
	}
	faces, ok := idx.UserFaces("t1", "u1")
	if !ok || !reflect.DeepEqual(faces, []string{"f1", "f3"}) {
		t.Fatalf("UserFaces = %v (%v), want [f1 f3]", faces, ok)
	}
}

func TestDropUserCascades(t *testing.T) {
	idx := New(2, 0.7)
	idx.PutTenant("t1")
	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 0}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.AddFace("t1", "u1", "f2", []float32{0, 1}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}
	if err := idx.PutUser("t1", "u2", "f3", []float32{1, 1}); err != nil {
		t.Fatalf("PutUser u2: %v", err)
	}

	if !idx.DropUser("t1", "u1") {
		t.Fatalf("DropUser reported nothing removed")
	}
	if idx.DropUser("t1", "u1") {
		t.Fatalf("second DropUser should be a no-op")
	}

	_, users, faces, embeddings := idx.Stats()
	if users != 1 || faces != 1 || embeddings != 1 {
		t.Fatalf("after cascade stats = (%d users, %d faces, %d rows), want (1,1,1)", users, faces, embeddings)
	}
	if uid, _ := idx.Recognize("t1", []float32{1, 0}); uid == "u1" {
		t.Fatalf("dropped user still recognized")
	}
}

func TestExportWipeLoadRoundTrip(t *testing.T) {
	idx := New(3, 0.7)
	idx.PutTenant("t1")
	idx.PutTenant("t2")
	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.AddFace("t1", "u1", "f2", []float32{0, 1, 0}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}
	if err := idx.PutUser("t2", "u2", "f3", []float32{0, 0, 1}); err != nil {
		t.Fatalf("PutUser t2: %v", err)
	}

	snap := idx.Export()
	beforeVectors := append([]float32(nil), idx.tenant("t1").vectors...)
	beforeRows := append([]string(nil), idx.tenant("t1").rows...)

	idx.Wipe()
	if tenants, _, _, _ := idx.Stats(); tenants != 0 {
		t.Fatalf("wipe left %d tenants", tenants)
	}

	if orphans := idx.Load(snap); len(orphans) != 0 {
		t.Fatalf("unexpected orphans: %v", orphans)
	}

	tn := idx.tenant("t1")
	if !reflect.DeepEqual(tn.vectors, beforeVectors) {
		t.Fatalf("restored vectors differ:\n got %v\nwant %v", tn.vectors, beforeVectors)
	}
	if !reflect.DeepEqual(tn.rows, beforeRows) {
		t.Fatalf("restored rows differ:\n got %v\nwant %v", tn.rows, beforeRows)
	}
	if !reflect.DeepEqual(idx.Export(), snap) {
		t.Fatalf("re-export does not match the original snapshot")
	}
}

func TestLoadSkipsOrphanFaces(t *testing.T) {
	snap := domain.Snapshot{
		Tenants: []string{"t1"},
		Users: map[string]map[string]domain.SnapshotUser{
			"t1": {"u1": {Faces: []string{"f1", "f-ghost"}}},
		},
		Faces: map[string][]domain.SnapshotFace{
			"t1": {{FaceID: "f1", UserID: "u1"}, {FaceID: "f-orphan", UserID: "u1"}},
		},
		Embeddings: map[string][]float32{
			"f1": {1, 0},
		},
	}

	idx := New(2, 0.7)
	orphans := idx.Load(snap)

	want := map[string]bool{"f-orphan": true, "f-ghost": true}
	if len(orphans) != len(want) {
		t.Fatalf("orphans = %v, want %v", orphans, want)
	}
	for _, fid := range orphans {
		if !want[fid] {
			t.Fatalf("unexpected orphan %q", fid)
		}
	}

	_, users, faces, _ := idx.Stats()
	if users != 1 || faces != 1 {
		t.Fatalf("stats after load = (%d users, %d faces), want (1,1)", users, faces)
	}
}

func TestStatsCountsAcrossTenants(t *testing.T) {
	idx := New(2, 0.7)
	idx.PutTenant("t1")
	idx.PutTenant("t2")
	if err := idx.PutUser("t1", "u1", "f1", []float32{1, 0}); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := idx.AddFace("t1", "u1", "f2", []float32{0, 1}); err != nil {
		t.Fatalf("AddFace: %v", err)
	}
	if err := idx.PutUser("t2", "u2", "f3", []float32{1, 1}); err != nil {
		t.Fatalf("PutUser t2: %v", err)
	}

	tenants, users, faces, embeddings := idx.Stats()
	if tenants != 2 || users != 2 || faces != 3 || embeddings != 3 {
		t.Fatalf("stats = (%d,%d,%d,%d), want (2,2,3,3)", tenants, users, faces, embeddings)
	}
}
