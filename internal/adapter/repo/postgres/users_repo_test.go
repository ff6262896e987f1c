package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/face-recognition-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/face-recognition-service/internal/domain"
)

func TestUserRepo_Create(t *testing.T) {
	pool := &poolStub{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := postgres.NewUserRepo(pool)

	u := domain.User{TenantID: "t1", UserID: "u1", Active: true}
	require.NoError(t, repo.Create(context.Background(), u))
	require.Len(t, pool.stmts, 1)
	args := pool.stmts[0].args
	assert.Equal(t, "t1", args[0])
	assert.Equal(t, "u1", args[1])
	assert.Equal(t, true, args[2])
	created, ok := args[3].(time.Time)
	require.True(t, ok)
	assert.False(t, created.IsZero())
}

func TestUserRepo_Create_MissingTenant(t *testing.T) {
	pool := &poolStub{execErr: &pgconn.PgError{Code: "23503"}}
	repo := postgres.NewUserRepo(pool)

	err := repo.Create(context.Background(), domain.User{TenantID: "ghost", UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepo_Create_Duplicate(t *testing.T) {
	pool := &poolStub{execErr: &pgconn.PgError{Code: "23505"}}
	repo := postgres.NewUserRepo(pool)

	err := repo.Create(context.Background(), domain.User{TenantID: "t1", UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestUserRepo_Get(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pool := &poolStub{row: rowStub{vals: []any{"t1", "u1", true, created}}}
	repo := postgres.NewUserRepo(pool)

	u, err := repo.Get(context.Background(), "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "t1", u.TenantID)
	assert.Equal(t, "u1", u.UserID)
	assert.True(t, u.Active)
	assert.Equal(t, created, u.CreatedAt)
}

func TestUserRepo_Get_Missing(t *testing.T) {
	pool := &poolStub{row: rowStub{err: pgx.ErrNoRows}}
	repo := postgres.NewUserRepo(pool)

	_, err := repo.Get(context.Background(), "t1", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUserRepo_Delete_Missing(t *testing.T) {
	pool := &poolStub{execTag: pgconn.NewCommandTag("DELETE 0")}
	repo := postgres.NewUserRepo(pool)

	err := repo.Delete(context.Background(), "t1", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
