package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/citegraph/internal/platform/logger"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	db, err := Open(":memory:", logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewRepo(db, nil)
}

func TestStartAssignsIDAndRunningStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	run, err := repo.Start(ctx, &Run{Source: "papers.json", Workers: 4, BatchSize: 100})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, run.ID)
	assert.Equal(t, StatusRunning, run.Status)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "papers.json", got.Source)
	assert.Nil(t, got.FinishedAt)
}

func TestFinishRecordsTotals(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	run, err := repo.Start(ctx, &Run{Source: "papers.json"})
	require.NoError(t, err)

	require.NoError(t, repo.Finish(ctx, run.ID, StatusSucceeded, map[string]interface{}{
		"records":   int64(10),
		"committed": int64(9),
		"failed":    int64(1),
	}))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, int64(9), got.Committed)
	assert.Equal(t, int64(1), got.Failed)
	assert.NotNil(t, got.FinishedAt)
}

func TestFinishUnknownRun(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.Finish(context.Background(), uuid.New(), StatusFailed, nil)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = repo.Get(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestListRecentNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	first, err := repo.Start(ctx, &Run{Source: "a.json"})
	require.NoError(t, err)
	second, err := repo.Start(ctx, &Run{Source: "b.json", StartedAt: first.StartedAt.Add(time.Second)})
	require.NoError(t, err)

	runs, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
}

func TestIsPostgresDSN(t *testing.T) {
	assert.True(t, isPostgresDSN("postgres://u:p@localhost:5432/citegraph"))
	assert.True(t, isPostgresDSN("host=localhost user=citegraph dbname=runs"))
	assert.False(t, isPostgresDSN("runs.db"))
	assert.False(t, isPostgresDSN(":memory:"))
}
