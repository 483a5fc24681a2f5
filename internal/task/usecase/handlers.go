package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	emailusecase "dealdesk-backend/internal/email/usecase"
	"dealdesk-backend/internal/task/domain"
	"dealdesk-backend/internal/task/repository"

	"github.com/rs/zerolog/log"
)

// WatchRenewer re-registers push notifications for a user
type WatchRenewer interface {
	RenewWatch(ctx context.Context, userID string, renewBefore time.Duration) error
}

// Pruner enforces the retention cap for a user
type Pruner interface {
	Prune(ctx context.Context, userID string) (int64, error)
}

type HandlerOptions struct {
	RateLimitCooldown time.Duration
	WatchRenewBefore  time.Duration
}

// Handlers maps job types onto the services that do the work
type Handlers struct {
	sync    emailusecase.SyncService
	queue   repository.JobQueue
	watches WatchRenewer
	pruner  Pruner
	opts    HandlerOptions
}

func NewHandlers(sync emailusecase.SyncService, queue repository.JobQueue, watches WatchRenewer, pruner Pruner, opts HandlerOptions) *Handlers {
	if opts.RateLimitCooldown <= 0 {
		opts.RateLimitCooldown = 5 * time.Minute
	}
	return &Handlers{
		sync:    sync,
		queue:   queue,
		watches: watches,
		pruner:  pruner,
		opts:    opts,
	}
}

func (h *Handlers) Register(w *Worker) {
	w.Handle(domain.JobSyncUser, h.SyncUser)
	w.Handle(domain.JobRenewWatch, h.RenewWatch)
	w.Handle(domain.JobPrune, h.Prune)
}

func (h *Handlers) SyncUser(ctx context.Context, job *domain.Job) (interface{}, error) {
	left, err := h.queue.Cooldown(ctx, job.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown: %w", err)
	}
	if left > 0 {
		return nil, &RetryAfterError{Delay: left, Err: emailusecase.ErrRateLimited}
	}

	result, err := h.sync.Sync(ctx, job.UserID)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, emailusecase.ErrRateLimited):
		if cerr := h.queue.SetCooldown(ctx, job.UserID, h.opts.RateLimitCooldown); cerr != nil {
			log.Error().Err(cerr).Str("user_id", job.UserID).Msg("failed to set rate limit cooldown")
		}
		return nil, &RetryAfterError{Delay: h.opts.RateLimitCooldown, Err: err}
	case errors.Is(err, emailusecase.ErrReauthRequired), errors.Is(err, emailusecase.ErrAccountNotLinked):
		return nil, Permanent(err)
	default:
		// Incomplete batches retry with backoff, stored rows absorb the replay
		return nil, err
	}
}

func (h *Handlers) RenewWatch(ctx context.Context, job *domain.Job) (interface{}, error) {
	err := h.watches.RenewWatch(ctx, job.UserID, h.opts.WatchRenewBefore)
	if errors.Is(err, emailusecase.ErrReauthRequired) {
		return nil, Permanent(err)
	}
	return nil, err
}

func (h *Handlers) Prune(ctx context.Context, job *domain.Job) (interface{}, error) {
	pruned, err := h.pruner.Prune(ctx, job.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"pruned": pruned}, nil
}
