package postgres_test

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/repo/postgres"
)

func TestSnapshotRepo_Export(t *testing.T) {
	tx := &txStub{rowsBySQL: func(sql string) pgx.Rows {
		switch {
		case strings.Contains(sql, "FROM tenants"):
			return &rowsStub{grid: [][]any{{"t1"}, {"t2"}}}
		case strings.Contains(sql, "FROM users"):
			return &rowsStub{grid: [][]any{{"t1", "u1"}, {"t1", "u2"}}}
		case strings.Contains(sql, "FROM faces"):
			return &rowsStub{grid: [][]any{
				{"f1", "t1", "u1", []float32{1, 0}},
				{"f2", "t1", "u1", []float32{0, 1}},
			}}
		}
		t.Fatalf("unexpected query: %s", sql)
		return nil
	}}
	pool := &poolStub{tx: tx}
	repo := postgres.NewSnapshotRepo(pool)

	snap, err := repo.Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, snap.Tenants)
	assert.Equal(t, []string{"f1", "f2"}, snap.Users["t1"]["u1"].Faces)
	assert.Empty(t, snap.Users["t1"]["u2"].Faces, "user without faces stays listed")
	assert.NotNil(t, snap.Users["t2"], "empty tenant keeps an entry")
	require.Len(t, snap.Faces["t1"], 2)
	assert.Equal(t, "u1", snap.Faces["t1"][0].UserID)
	assert.Empty(t, snap.Faces["t2"])
	assert.Equal(t, []float32{1, 0}, snap.Embeddings["f1"])
	assert.True(t, tx.committed)
}

func TestSnapshotRepo_Export_BeginError(t *testing.T) {
	pool := &poolStub{beginErr: assert.AnError}
	repo := postgres.NewSnapshotRepo(pool)

	_, err := repo.Export(context.Background())
	require.Error(t, err)
}
