package jobstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "jobs", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(id string, created time.Time) *Job {
	return &Job{
		ID:        id,
		Status:    JobStatusQueued,
		Params:    ConvertParams{Input: "a.gem", Output: "a.bgef", Bins: []int{1, 50}},
		CreatedAt: created,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.CreateJob(ctx, newJob("j1", now)))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, []int{1, 50}, job.Params.Bins)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.Result)

	started, err := s.UpdateJobStarted(ctx, "j1")
	require.NoError(t, err)
	assert.True(t, started)
	started, err = s.UpdateJobStarted(ctx, "j1")
	require.NoError(t, err)
	assert.False(t, started, "only queued jobs can start")

	require.NoError(t, s.UpdateJobProgress(ctx, "j1", JobProgress{Phase: "aggregate", Records: 1200}))
	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, uint64(1200), job.Progress.Records)
	require.NotNil(t, job.StartedAt)

	result := &JobResult{Output: "a.bgef", Records: 1500, DurationMS: 12, Bins: []BinResult{{BinSize: 1, Genes: 3, Records: 40, Box: "0,0,9,9"}}}
	require.NoError(t, s.CompleteJob(ctx, "j1", result))
	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, "done", job.Progress.Phase)
	assert.Equal(t, result, job.Result)
	require.NotNil(t, job.FinishedAt)
	assert.True(t, job.Status.Terminal())
}

func TestStore_NotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteJob(context.Background(), "missing"), ErrNotFound)
}

func TestStore_ListAndRecovery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateJob(ctx, newJob(id, base.Add(time.Duration(i)*time.Second))))
	}
	_, err := s.UpdateJobStarted(ctx, "b")
	require.NoError(t, err)

	all, err := s.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID, "newest first")

	queued, err := s.ListQueuedJobs(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "a", queued[0].ID, "oldest first")

	n, err := s.MarkRunningAsFailed(ctx, "server restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	failed, err := s.ListJobs(ctx, JobStatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "server restarted", failed[0].Error)
}

func TestStore_DeleteExpired(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, newJob("old", time.Now())))
	require.NoError(t, s.CreateJob(ctx, newJob("open", time.Now())))
	require.NoError(t, s.UpdateJobStatus(ctx, "old", JobStatusCancelled, "cancelled before start"))

	// nothing is older than an hour yet
	n, err := s.DeleteExpiredJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteExpiredJobs(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob(ctx, "open")
	assert.NoError(t, err, "unfinished jobs are never expired")
}
