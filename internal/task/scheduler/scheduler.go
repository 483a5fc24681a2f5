package scheduler

import (
	"context"
	"errors"
	"time"

	maildomain "dealdesk-backend/internal/mailaccount/domain"
	"dealdesk-backend/internal/task/domain"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog/log"
)

const lockKey = "dealdesk:scheduler:tick"

// Links lists the mailboxes that should be kept in sync
type Links interface {
	ListActive(ctx context.Context) ([]*maildomain.Link, error)
}

// Enqueuer pushes a job for a user
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType domain.JobType, userID string) (*domain.JobState, bool, error)
}

// Locker is satisfied by *redislock.Client
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// SyncScheduler enqueues a periodic sync and watch renewal for every active
// mailbox. Instances share a lock so one tick enqueues once.
type SyncScheduler struct {
	links    Links
	jobs     Enqueuer
	locker   Locker
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
}

func NewSyncScheduler(links Links, jobs Enqueuer, locker Locker, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SyncScheduler{
		links:    links,
		jobs:     jobs,
		locker:   locker,
		interval: interval,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *SyncScheduler) Start() {
	log.Info().Dur("interval", s.interval).Msg("sync scheduler started")

	go func() {
		defer close(s.done)
		// Run immediately on start
		s.Tick(context.Background())

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(context.Background())
			case <-s.stopChan:
				log.Info().Msg("sync scheduler stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the scheduler
func (s *SyncScheduler) Stop() {
	close(s.stopChan)
	<-s.done
}

// Tick enqueues one round of jobs. It returns the number of sync jobs
// queued, zero when another instance holds the tick.
func (s *SyncScheduler) Tick(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	if s.locker != nil {
		// Held until it expires so a tick runs once per interval
		_, err := s.locker.Obtain(ctx, lockKey, s.interval/2, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			log.Debug().Msg("scheduler tick held by another instance")
			return 0
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to obtain scheduler lock")
			return 0
		}
	}

	links, err := s.links.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active mailboxes")
		return 0
	}

	queued := 0
	for _, link := range links {
		if _, ok, err := s.jobs.Enqueue(ctx, domain.JobSyncUser, link.UserID); err != nil {
			log.Error().Err(err).Str("user_id", link.UserID).Msg("failed to enqueue sync")
		} else if ok {
			queued++
		}
		if _, _, err := s.jobs.Enqueue(ctx, domain.JobRenewWatch, link.UserID); err != nil {
			log.Error().Err(err).Str("user_id", link.UserID).Msg("failed to enqueue watch renewal")
		}
	}

	if len(links) > 0 {
		log.Info().Int("mailboxes", len(links)).Int("queued", queued).Msg("scheduled sync round")
	}
	return queued
}
