package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/annel0/voxel-tower/internal/tower"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTowerConfig = tower.Config{DefaultHeight: 3, Dimension: 3, MaximumLevels: 5}

func sampleSnapshot(t *testing.T) *tower.Snapshot {
	t.Helper()
	tw := tower.New(testTowerConfig)
	require.True(t, tw.AddBlock(1, 4, -1))
	require.True(t, tw.AddBlock(0, 5, 0))
	return tw.Export()
}

// checkRepoContract прогоняет общий контракт TowerRepo для любого бэкенда
func checkRepoContract(t *testing.T, repo TowerRepo) {
	ctx := context.Background()

	t.Run("пустое хранилище", func(t *testing.T) {
		snap, found, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, snap)
	})

	t.Run("сохранение и загрузка", func(t *testing.T) {
		want := sampleSnapshot(t)
		require.NoError(t, repo.Save(ctx, want, time.Now()))

		got, found, err := repo.Load(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, want.MinHeight, got.MinHeight)
		assert.Equal(t, want.MaxHeight, got.MaxHeight)
		assert.Equal(t, want.Dimension, got.Dimension)
		assert.Equal(t, want.Cells(), got.Cells())
	})

	t.Run("перезапись", func(t *testing.T) {
		fresh := tower.New(tower.Config{DefaultHeight: 0, Dimension: 1, MaximumLevels: 5}).Export()
		require.NoError(t, repo.Save(ctx, fresh, time.Now()))

		got, found, err := repo.Load(ctx)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, 1, got.Dimension)
		assert.Len(t, got.Cells(), 1)
	})

	t.Run("nil снимок", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, nil, time.Now()))
	})
}

func TestMemoryTowerRepo(t *testing.T) {
	repo := NewMemoryTowerRepo()
	checkRepoContract(t, repo)
	assert.Equal(t, 2, repo.SaveCount())
	assert.False(t, repo.LastSavedAt().IsZero())
}

func TestFileTowerRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileTowerRepo(dir)
	require.NoError(t, err)
	defer repo.Close()

	checkRepoContract(t, repo)

	_, err = os.Stat(filepath.Join(dir, towerFileName))
	assert.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "временные файлы должны быть удалены")
}

func TestFileTowerRepo_Corrupted(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileTowerRepo(dir)
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, os.WriteFile(repo.Path(), []byte("not zstd"), 0644))
	_, _, err = repo.Load(context.Background())
	assert.Error(t, err)
}

func TestBadgerTowerRepo(t *testing.T) {
	repo, err := NewBadgerTowerRepo(t.TempDir())
	require.NoError(t, err)

	checkRepoContract(t, repo)

	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close(), "повторное закрытие безопасно")

	_, _, err = repo.Load(context.Background())
	assert.Error(t, err)
}

func TestBadgerTowerRepo_Reopen(t *testing.T) {
	dir := t.TempDir()
	want := sampleSnapshot(t)

	repo, err := NewBadgerTowerRepo(dir)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), want, time.Now()))
	require.NoError(t, repo.Close())

	reopened, err := NewBadgerTowerRepo(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want.Cells(), got.Cells())
}

func TestRecord_WireFormat(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := encodeRecord(&tower.Snapshot{MinHeight: 1, MaxHeight: 2, Dimension: 3}, ts)
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"timestamp":"2024-05-01T12:00:00Z","minHeight":1,"maxHeight":2,"dimension":3,"levels":null}`,
		string(data))

	snap, err := decodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Dimension)
}

func TestLoadOrCreate_Found(t *testing.T) {
	repo := NewMemoryTowerRepo()
	want := sampleSnapshot(t)
	require.NoError(t, repo.Save(context.Background(), want, time.Now()))

	tw, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	assert.True(t, loaded)
	assert.Equal(t, want.MaxHeight, tw.MaxHeight())
	assert.Equal(t, want.Cells(), tw.Export().Cells())
	assert.Equal(t, 1, repo.SaveCount(), "загруженная башня не пересохраняется")
}

func TestLoadOrCreate_Absent(t *testing.T) {
	repo := NewMemoryTowerRepo()

	tw, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	assert.False(t, loaded)
	assert.Equal(t, 3, tw.MaxHeight())
	assert.Equal(t, 1, repo.SaveCount(), "новая башня сохраняется сразу")
}

func TestLoadOrCreate_LoadError(t *testing.T) {
	repo := NewMemoryTowerRepo()
	repo.FailLoads(errors.New("connection refused"))

	tw, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	require.NotNil(t, tw)
	assert.False(t, loaded)
	assert.Equal(t, 4*9, tw.FilledCount())
}

func TestLoadOrCreate_NotFoundSentinel(t *testing.T) {
	repo := NewMemoryTowerRepo()
	repo.FailLoads(ErrNotFound)

	_, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	assert.False(t, loaded)
	assert.Equal(t, 1, repo.SaveCount())
}

func TestLoadOrCreate_InvalidSnapshot(t *testing.T) {
	repo := NewMemoryTowerRepo()
	require.NoError(t, repo.Save(context.Background(), &tower.Snapshot{Dimension: 4}, time.Now()))

	tw, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	assert.False(t, loaded)
	assert.Equal(t, 3, tw.Dimension())
}

func TestLoadOrCreate_SaveErrorStillServes(t *testing.T) {
	repo := NewMemoryTowerRepo()
	repo.FailSaves(errors.New("disk full"))

	tw, loaded := LoadOrCreate(context.Background(), repo, testTowerConfig)
	require.NotNil(t, tw)
	assert.False(t, loaded)
}

func TestNewTowerRepo(t *testing.T) {
	ctx := context.Background()

	repo, err := NewTowerRepo(ctx, Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryTowerRepo{}, repo)

	repo, err = NewTowerRepo(ctx, Config{Backend: "FILE", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileTowerRepo{}, repo)
	require.NoError(t, repo.Close())

	_, err = NewTowerRepo(ctx, Config{Backend: "floppy"})
	assert.Error(t, err)

	_, err = NewTowerRepo(ctx, Config{Backend: BackendMaria})
	assert.Error(t, err)
}

func TestOpenTowerRepo_FallsBackToMemory(t *testing.T) {
	repo := OpenTowerRepo(context.Background(), Config{Backend: "floppy"})
	assert.IsType(t, &MemoryTowerRepo{}, repo)
}
