package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"dealdesk-backend/internal/task/domain"
	"dealdesk-backend/pkg/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, *miniredis.Miniredis) {
	t.Helper()
	rdb, mr, err := cache.NewRedisClientForTest()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	q := NewRedisJobQueue(rdb, "test", time.Hour)
	q.SetPopTimeout(time.Second)
	return q, mr
}

func TestEnqueue_DedupesPerUserAndType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, queued, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)
	assert.True(t, queued)
	assert.Equal(t, domain.JobStatusPending, first.Status)

	again, queued, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Equal(t, first.ID, again.ID)

	_, queued, err = q.Enqueue(ctx, domain.JobPrune, "user-1")
	require.NoError(t, err)
	assert.True(t, queued, "other job types are independent")

	_, queued, err = q.Enqueue(ctx, domain.JobSyncUser, "user-2")
	require.NoError(t, err)
	assert.True(t, queued)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPopComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	state, _, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)

	job, err := q.Pop(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, state.ID, job.ID)
	assert.Equal(t, 1, job.Attempt)

	running, err := q.GetState(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, running.Status)
	assert.Equal(t, "worker-1", running.WorkerID)

	require.NoError(t, q.Complete(ctx, job, map[string]int{"inserted": 3}))
	done, err := q.GetState(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, done.Status)
	assert.JSONEq(t, `{"inserted":3}`, string(done.Result))
	assert.NotNil(t, done.FinishedAt)

	// The slot is free again
	_, queued, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)
	assert.True(t, queued)
}

func TestPop_Empty(t *testing.T) {
	q, _ := newTestQueue(t)
	job, err := q.Pop(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestRetryAndPromote(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)
	job, err := q.Pop(ctx, "worker-1")
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, q.Retry(ctx, job, now.Add(time.Minute), errors.New("rate limited")))

	state, err := q.GetState(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRetrying, state.Status)
	assert.Equal(t, 2, state.Attempt)
	assert.Equal(t, "rate limited", state.Error)

	// Still deduped while waiting
	_, queued, err := q.Enqueue(ctx, domain.JobSyncUser, "user-1")
	require.NoError(t, err)
	assert.False(t, queued)

	promoted, err := q.PromoteDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, promoted)

	promoted, err = q.PromoteDue(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	retried, err := q.Pop(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, job.ID, retried.ID)
	assert.Equal(t, 2, retried.Attempt)

	require.NoError(t, q.Fail(ctx, retried, errors.New("gave up")))
	state, err = q.GetState(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, state.Status)
}

func TestGetState_NotFound(t *testing.T) {
	q, _ := newTestQueue(t)
	_, err := q.GetState(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCooldown(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	left, err := q.Cooldown(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, left)

	require.NoError(t, q.SetCooldown(ctx, "user-1", 30*time.Second))
	left, err = q.Cooldown(ctx, "user-1")
	require.NoError(t, err)
	assert.Greater(t, left, 29*time.Second)

	mr.FastForward(31 * time.Second)
	left, err = q.Cooldown(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, left)
}
