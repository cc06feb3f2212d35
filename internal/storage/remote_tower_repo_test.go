package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTowerRepo(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	repo, err := NewRedisTowerRepo(context.Background(), RedisConfig{Addr: mr.Addr(), KeyPrefix: "test:"})
	require.NoError(t, err)
	defer repo.Close()

	checkRepoContract(t, repo)
	assert.True(t, mr.Exists("test:tower"), "башня хранится под префиксом")
}

func TestRedisTowerRepo_DefaultPrefixAndCorruption(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	repo, err := NewTowerRepo(context.Background(), Config{
		Backend: BackendRedis,
		Redis:   RedisConfig{Addr: mr.Addr()},
	})
	require.NoError(t, err)
	defer repo.Close()
	require.IsType(t, &RedisTowerRepo{}, repo)

	require.NoError(t, mr.Set("voxel:tower", "not json"))
	_, _, err = repo.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisTowerRepo_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = NewRedisTowerRepo(ctx, RedisConfig{Addr: addr})
	assert.Error(t, err)
}

func TestMariaTowerRepo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	ctx := context.Background()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tower_snapshots").WillReturnResult(sqlmock.NewResult(0, 0))
	repo, err := newMariaTowerRepo(ctx, db)
	require.NoError(t, err)

	// пустая таблица
	mock.ExpectQuery("SELECT data FROM tower_snapshots WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	snap, found, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, snap)

	want := sampleSnapshot(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := encodeRecord(want, ts)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO tower_snapshots").
		WithArgs(data, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.Save(ctx, want, ts))

	mock.ExpectQuery("SELECT data FROM tower_snapshots WHERE id = 1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(data))
	got, found, err := repo.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Cells(), got.Cells())

	mock.ExpectExec("INSERT INTO tower_snapshots").WillReturnError(errors.New("lock wait timeout"))
	assert.Error(t, repo.Save(ctx, want, ts))
	assert.Error(t, repo.Save(ctx, nil, ts))

	mock.ExpectClose()
	require.NoError(t, repo.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMariaTowerRepo_CreateTableError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tower_snapshots").WillReturnError(errors.New("access denied"))
	_, err = newMariaTowerRepo(context.Background(), db)
	assert.Error(t, err)
}
