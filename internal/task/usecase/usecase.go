package usecase

import (
	"context"
	"errors"

	"dealdesk-backend/internal/task/domain"
	"dealdesk-backend/internal/task/repository"
)

var ErrUnknownJobType = errors.New("unknown job type")

// JobUsecase enqueues background work and reports on it
type JobUsecase interface {
	Enqueue(ctx context.Context, jobType domain.JobType, userID string) (*domain.JobState, bool, error)
	// Get only returns jobs owned by userID
	Get(ctx context.Context, userID, jobID string) (*domain.JobState, error)
	QueueLength(ctx context.Context) (int64, error)
}

type jobUsecase struct {
	queue repository.JobQueue
}

func NewJobUsecase(queue repository.JobQueue) JobUsecase {
	return &jobUsecase{queue: queue}
}

func (u *jobUsecase) Enqueue(ctx context.Context, jobType domain.JobType, userID string) (*domain.JobState, bool, error) {
	if !jobType.Valid() {
		return nil, false, ErrUnknownJobType
	}
	return u.queue.Enqueue(ctx, jobType, userID)
}

func (u *jobUsecase) Get(ctx context.Context, userID, jobID string) (*domain.JobState, error) {
	state, err := u.queue.GetState(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state.UserID != userID {
		return nil, repository.ErrJobNotFound
	}
	return state, nil
}

func (u *jobUsecase) QueueLength(ctx context.Context) (int64, error) {
	return u.queue.Len(ctx)
}
