package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	emailusecase "dealdesk-backend/internal/email/usecase"
	"dealdesk-backend/internal/task/domain"
	"dealdesk-backend/internal/task/repository"
	"dealdesk-backend/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue(t *testing.T) *repository.RedisJobQueue {
	t.Helper()
	rdb, mr, err := cache.NewRedisClientForTest()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	q := repository.NewRedisJobQueue(rdb, "test", time.Hour)
	q.SetPopTimeout(time.Second)
	return q
}

func popped(t *testing.T, q *repository.RedisJobQueue, jobType domain.JobType, userID string) *domain.Job {
	t.Helper()
	ctx := context.Background()
	_, _, err := q.Enqueue(ctx, jobType, userID)
	require.NoError(t, err)
	job, err := q.Pop(ctx, "test")
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func state(t *testing.T, q *repository.RedisJobQueue, id string) *domain.JobState {
	t.Helper()
	s, err := q.GetState(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestWorker_Process(t *testing.T) {
	tests := []struct {
		name        string
		attempt     int
		handler     Handler
		wantStatus  domain.JobStatus
		wantAttempt int
	}{
		{
			name:        "success",
			handler:     func(ctx context.Context, job *domain.Job) (interface{}, error) { return "ok", nil },
			wantStatus:  domain.JobStatusSucceeded,
			wantAttempt: 1,
		},
		{
			name: "permanent",
			handler: func(ctx context.Context, job *domain.Job) (interface{}, error) {
				return nil, Permanent(errors.New("revoked"))
			},
			wantStatus:  domain.JobStatusFailed,
			wantAttempt: 1,
		},
		{
			name: "transient",
			handler: func(ctx context.Context, job *domain.Job) (interface{}, error) {
				return nil, errors.New("try later")
			},
			wantStatus:  domain.JobStatusRetrying,
			wantAttempt: 2,
		},
		{
			name:    "attempts exhausted",
			attempt: 3,
			handler: func(ctx context.Context, job *domain.Job) (interface{}, error) {
				return nil, errors.New("still failing")
			},
			wantStatus:  domain.JobStatusFailed,
			wantAttempt: 1,
		},
		{
			name: "panic",
			handler: func(ctx context.Context, job *domain.Job) (interface{}, error) {
				panic("boom")
			},
			wantStatus:  domain.JobStatusRetrying,
			wantAttempt: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQueue(t)
			w := NewWorker(q, WorkerOptions{MaxAttempts: 3, RetryBackoff: time.Second, JobTimeout: time.Second})
			w.Handle(domain.JobPrune, tt.handler)

			job := popped(t, q, domain.JobPrune, "user-1")
			if tt.attempt > 0 {
				job.Attempt = tt.attempt
			}
			w.Process(context.Background(), job)

			s := state(t, q, job.ID)
			assert.Equal(t, tt.wantStatus, s.Status)
			if tt.wantStatus == domain.JobStatusRetrying {
				assert.Equal(t, tt.wantAttempt, s.Attempt)
				assert.NotNil(t, s.RetryAt)
			}
		})
	}
}

func TestWorker_RetryAfterUsesDelay(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, WorkerOptions{RetryBackoff: time.Second})
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	w.Handle(domain.JobSyncUser, func(ctx context.Context, job *domain.Job) (interface{}, error) {
		return nil, &RetryAfterError{Delay: 10 * time.Minute, Err: emailusecase.ErrRateLimited}
	})

	job := popped(t, q, domain.JobSyncUser, "user-1")
	w.Process(context.Background(), job)

	s := state(t, q, job.ID)
	assert.Equal(t, domain.JobStatusRetrying, s.Status)
	require.NotNil(t, s.RetryAt)
	assert.True(t, s.RetryAt.Equal(now.Add(10*time.Minute)))
}

func TestWorker_JobTimeout(t *testing.T) {
	t.Run("handler that honours ctx is failed, not retried", func(t *testing.T) {
		q := newQueue(t)
		w := NewWorker(q, WorkerOptions{JobTimeout: 50 * time.Millisecond, MaxAttempts: 5})
		w.Handle(domain.JobSyncUser, func(ctx context.Context, job *domain.Job) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		job := popped(t, q, domain.JobSyncUser, "user-1")
		w.Process(context.Background(), job)

		s := state(t, q, job.ID)
		assert.Equal(t, domain.JobStatusFailed, s.Status)
		assert.Contains(t, s.Error, ErrJobTimeout.Error())
	})

	t.Run("handler that ignores ctx is abandoned", func(t *testing.T) {
		q := newQueue(t)
		w := NewWorker(q, WorkerOptions{JobTimeout: 50 * time.Millisecond})
		release := make(chan struct{})
		t.Cleanup(func() { close(release) })
		w.Handle(domain.JobSyncUser, func(ctx context.Context, job *domain.Job) (interface{}, error) {
			<-release
			return "late", nil
		})

		job := popped(t, q, domain.JobSyncUser, "user-1")
		start := time.Now()
		w.Process(context.Background(), job)

		assert.Less(t, time.Since(start), time.Second)
		s := state(t, q, job.ID)
		assert.Equal(t, domain.JobStatusFailed, s.Status)
		assert.Contains(t, s.Error, ErrJobTimeout.Error())
	})
}

func TestWorker_UnknownType(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, WorkerOptions{})

	job := popped(t, q, domain.JobRenewWatch, "user-1")
	w.Process(context.Background(), job)
	assert.Equal(t, domain.JobStatusFailed, state(t, q, job.ID).Status)
}

func TestWorker_Run(t *testing.T) {
	q := newQueue(t)
	w := NewWorker(q, WorkerOptions{Concurrency: 2, PromoteEvery: 50 * time.Millisecond})

	var calls atomic.Int32
	w.Handle(domain.JobSyncUser, func(ctx context.Context, job *domain.Job) (interface{}, error) {
		calls.Add(1)
		return nil, nil
	})

	st, _, err := q.Enqueue(context.Background(), domain.JobSyncUser, "user-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, err := q.GetState(context.Background(), st.ID)
		return err == nil && s.Status == domain.JobStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, int32(1), calls.Load())
}
