package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealdesk-backend/internal/task/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queueKey    = "dealdesk:jobs:%s"          // pending job payloads
	retryKey    = "dealdesk:jobs:%s:retry"    // delayed jobs by due time
	inFlightKey = "dealdesk:jobs:%s:inflight" // ids being processed
	stateKey    = "dealdesk:job_state:%s"     // state by job id
	dedupeKey   = "dealdesk:job_dedupe:%s:%s" // (type, user) -> job id
	cooldownKey = "dealdesk:cooldown:%s"      // per-user provider cooldown

	defaultQueueName  = "default"
	defaultPopTimeout = 2 * time.Second
	stateTTL          = 24 * time.Hour
)

var ErrJobNotFound = errors.New("job not found")

// JobQueue is the Redis backed queue. A (type, user) pair has at most one
// job pending, running or waiting for retry.
type JobQueue interface {
	// Enqueue returns the existing job's state and false when a job of the
	// same type is already queued for the user.
	Enqueue(ctx context.Context, jobType domain.JobType, userID string) (*domain.JobState, bool, error)
	// Pop blocks up to the pop timeout. A nil job means nothing was ready.
	Pop(ctx context.Context, workerID string) (*domain.Job, error)
	Complete(ctx context.Context, job *domain.Job, result interface{}) error
	Fail(ctx context.Context, job *domain.Job, jobErr error) error
	// Retry parks the job until at. The attempt counter is incremented.
	Retry(ctx context.Context, job *domain.Job, at time.Time, jobErr error) error
	// PromoteDue moves retries whose time has come back onto the queue
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	GetState(ctx context.Context, jobID string) (*domain.JobState, error)
	Len(ctx context.Context) (int64, error)

	SetCooldown(ctx context.Context, userID string, d time.Duration) error
	// Cooldown returns the time left on the user's cooldown, zero if none
	Cooldown(ctx context.Context, userID string) (time.Duration, error)
}

type RedisJobQueue struct {
	rdb        *redis.Client
	queueName  string
	popTimeout time.Duration
	dedupeTTL  time.Duration
}

// NewRedisJobQueue creates the queue. dedupeTTL bounds how long a lost job
// can block new ones for the same user.
func NewRedisJobQueue(rdb *redis.Client, queueName string, dedupeTTL time.Duration) *RedisJobQueue {
	if queueName == "" {
		queueName = defaultQueueName
	}
	if dedupeTTL <= 0 {
		dedupeTTL = time.Hour
	}
	return &RedisJobQueue{
		rdb:        rdb,
		queueName:  queueName,
		popTimeout: defaultPopTimeout,
		dedupeTTL:  dedupeTTL,
	}
}

// SetPopTimeout shortens the blocking pop, mostly for tests
func (q *RedisJobQueue) SetPopTimeout(d time.Duration) {
	q.popTimeout = d
}

func (q *RedisJobQueue) Enqueue(ctx context.Context, jobType domain.JobType, userID string) (*domain.JobState, bool, error) {
	job := &domain.Job{
		ID:         uuid.New().String(),
		Type:       jobType,
		UserID:     userID,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}

	dkey := fmt.Sprintf(dedupeKey, jobType, userID)
	acquired, err := q.rdb.SetNX(ctx, dkey, job.ID, q.dedupeTTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for queued job: %w", err)
	}
	if !acquired {
		existingID, err := q.rdb.Get(ctx, dkey).Result()
		if err == nil {
			if state, err := q.GetState(ctx, existingID); err == nil {
				return state, false, nil
			}
		}
		// The holder vanished between the two calls, take over the key
		if err := q.rdb.Set(ctx, dkey, job.ID, q.dedupeTTL).Err(); err != nil {
			return nil, false, fmt.Errorf("failed to claim job slot: %w", err)
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal job: %w", err)
	}
	state := &domain.JobState{
		ID:        job.ID,
		Type:      job.Type,
		UserID:    job.UserID,
		Status:    domain.JobStatusPending,
		Attempt:   job.Attempt,
		CreatedAt: job.EnqueuedAt,
	}
	stateData, err := json.Marshal(state)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal job state: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(stateKey, job.ID), stateData, stateTTL)
	pipe.LPush(ctx, fmt.Sprintf(queueKey, q.queueName), data)
	if _, err := pipe.Exec(ctx); err != nil {
		q.rdb.Del(ctx, dkey)
		return nil, false, fmt.Errorf("failed to push job: %w", err)
	}
	return state, true, nil
}

func (q *RedisJobQueue) Pop(ctx context.Context, workerID string) (*domain.Job, error) {
	result, err := q.rdb.BRPop(ctx, q.popTimeout, fmt.Sprintf(queueKey, q.queueName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop job: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	now := time.Now().UTC()
	_ = q.updateState(ctx, job.ID, func(s *domain.JobState) {
		s.Status = domain.JobStatusRunning
		s.Attempt = job.Attempt
		s.WorkerID = workerID
		s.StartedAt = &now
		s.RetryAt = nil
	})
	q.rdb.SAdd(ctx, fmt.Sprintf(inFlightKey, q.queueName), job.ID)
	// The job was popped, tracking failures do not lose it
	return &job, nil
}

func (q *RedisJobQueue) Complete(ctx context.Context, job *domain.Job, result interface{}) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
		raw = data
	}
	return q.finish(ctx, job, func(s *domain.JobState) {
		s.Status = domain.JobStatusSucceeded
		s.Result = raw
		s.Error = ""
	})
}

func (q *RedisJobQueue) Fail(ctx context.Context, job *domain.Job, jobErr error) error {
	return q.finish(ctx, job, func(s *domain.JobState) {
		s.Status = domain.JobStatusFailed
		s.Error = jobErr.Error()
	})
}

func (q *RedisJobQueue) finish(ctx context.Context, job *domain.Job, apply func(s *domain.JobState)) error {
	now := time.Now().UTC()
	if err := q.updateState(ctx, job.ID, func(s *domain.JobState) {
		apply(s)
		s.FinishedAt = &now
		s.RetryAt = nil
	}); err != nil {
		return err
	}

	pipe := q.rdb.Pipeline()
	pipe.SRem(ctx, fmt.Sprintf(inFlightKey, q.queueName), job.ID)
	q.releaseDedupe(ctx, pipe, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

func (q *RedisJobQueue) Retry(ctx context.Context, job *domain.Job, at time.Time, jobErr error) error {
	next := *job
	next.Attempt++
	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	retryAt := at.UTC()
	holdFor := q.dedupeTTL
	if wait := time.Until(retryAt); wait > 0 {
		holdFor += wait
	}
	if err := q.updateState(ctx, job.ID, func(s *domain.JobState) {
		s.Status = domain.JobStatusRetrying
		s.Attempt = next.Attempt
		s.RetryAt = &retryAt
		if jobErr != nil {
			s.Error = jobErr.Error()
		}
	}); err != nil {
		return err
	}

	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, fmt.Sprintf(inFlightKey, q.queueName), job.ID)
	pipe.ZAdd(ctx, fmt.Sprintf(retryKey, q.queueName), redis.Z{Score: float64(retryAt.UnixMilli()), Member: data})
	// Keep the slot claimed while the job waits
	pipe.Expire(ctx, fmt.Sprintf(dedupeKey, job.Type, job.UserID), holdFor)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule retry: %w", err)
	}
	return nil
}

func (q *RedisJobQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	rkey := fmt.Sprintf(retryKey, q.queueName)
	due, err := q.rdb.ZRangeByScore(ctx, rkey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read retries: %w", err)
	}

	promoted := 0
	for _, member := range due {
		// Only the caller that removes the member pushes it
		removed, err := q.rdb.ZRem(ctx, rkey, member).Result()
		if err != nil {
			return promoted, fmt.Errorf("failed to claim retry: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, fmt.Sprintf(queueKey, q.queueName), member).Err(); err != nil {
			return promoted, fmt.Errorf("failed to requeue retry: %w", err)
		}
		var job domain.Job
		if json.Unmarshal([]byte(member), &job) == nil {
			_ = q.updateState(ctx, job.ID, func(s *domain.JobState) {
				s.Status = domain.JobStatusPending
			})
		}
		promoted++
	}
	return promoted, nil
}

func (q *RedisJobQueue) GetState(ctx context.Context, jobID string) (*domain.JobState, error) {
	data, err := q.rdb.Get(ctx, fmt.Sprintf(stateKey, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	var state domain.JobState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job state: %w", err)
	}
	return &state, nil
}

func (q *RedisJobQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, fmt.Sprintf(queueKey, q.queueName)).Result()
}

func (q *RedisJobQueue) SetCooldown(ctx context.Context, userID string, d time.Duration) error {
	until := time.Now().Add(d).UTC().Format(time.RFC3339Nano)
	return q.rdb.Set(ctx, fmt.Sprintf(cooldownKey, userID), until, d).Err()
}

func (q *RedisJobQueue) Cooldown(ctx context.Context, userID string) (time.Duration, error) {
	ttl, err := q.rdb.PTTL(ctx, fmt.Sprintf(cooldownKey, userID)).Result()
	if err != nil {
		return 0, err
	}
	// Negative values mean no key or no expiry
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (q *RedisJobQueue) updateState(ctx context.Context, jobID string, apply func(s *domain.JobState)) error {
	state, err := q.GetState(ctx, jobID)
	if err != nil {
		return err
	}
	apply(state)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}
	return q.rdb.Set(ctx, fmt.Sprintf(stateKey, jobID), data, stateTTL).Err()
}

// releaseDedupe frees the (type, user) slot if this job still holds it
func (q *RedisJobQueue) releaseDedupe(ctx context.Context, pipe redis.Pipeliner, job *domain.Job) {
	dkey := fmt.Sprintf(dedupeKey, job.Type, job.UserID)
	if holder, err := q.rdb.Get(ctx, dkey).Result(); err == nil && holder == job.ID {
		pipe.Del(ctx, dkey)
	}
}
