package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dealdesk-backend/internal/task/domain"
	"dealdesk-backend/internal/task/repository"
	"dealdesk-backend/pkg/metrics"

	"github.com/rs/zerolog/log"
)

// Handler runs one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, job *domain.Job) (interface{}, error)

// ErrPermanent marks failures that retrying cannot fix
var ErrPermanent = errors.New("permanent job failure")

// ErrJobTimeout is recorded for jobs that outlive WorkerOptions.JobTimeout
var ErrJobTimeout = errors.New("job exceeded its time budget")

// RetryAfterError asks the worker to run the job again after Delay
type RetryAfterError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the worker fails the job without retrying
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type WorkerOptions struct {
	Concurrency  int
	JobTimeout   time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	// PromoteEvery is how often due retries are moved back to the queue
	PromoteEvery time.Duration
}

type Worker struct {
	queue    repository.JobQueue
	handlers map[domain.JobType]Handler
	opts     WorkerOptions
	now      func() time.Time
}

func NewWorker(queue repository.JobQueue, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 30 * time.Second
	}
	if opts.PromoteEvery <= 0 {
		opts.PromoteEvery = time.Second
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[domain.JobType]Handler),
		opts:     opts,
		now:      time.Now,
	}
}

func (w *Worker) Handle(t domain.JobType, h Handler) {
	w.handlers[t] = h
}

// Run processes jobs until ctx is cancelled, then waits for running jobs.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Int("concurrency", w.opts.Concurrency).Msg("job worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, fmt.Sprintf("worker-%d", id))
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promote(ctx)
	}()

	wg.Wait()
	log.Info().Msg("job worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, workerID string) {
	for ctx.Err() == nil {
		job, err := w.queue.Pop(ctx, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("worker_id", workerID).Msg("failed to pop job")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}
		w.Process(ctx, job)
	}
}

func (w *Worker) promote(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PromoteEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.queue.PromoteDue(ctx, w.now()); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("failed to promote due jobs")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Process runs a single job and records its outcome on the queue.
func (w *Worker) Process(ctx context.Context, job *domain.Job) {
	logger := log.With().Str("job_id", job.ID).Str("type", string(job.Type)).Str("user_id", job.UserID).Int("attempt", job.Attempt).Logger()

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.fail(ctx, job, Permanent(fmt.Errorf("no handler for job type %q", job.Type)))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	out, timedOut := w.runWithBudget(jobCtx, handler, job)
	cancel()
	result, err := out.result, out.err

	// Bookkeeping must land even when shutdown cancelled ctx
	bookCtx, bookCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bookCancel()

	if timedOut {
		w.fail(bookCtx, job, fmt.Errorf("%w (%s)", ErrJobTimeout, w.opts.JobTimeout))
		return
	}

	if err == nil {
		if cerr := w.queue.Complete(bookCtx, job, result); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to complete job")
		}
		metrics.Jobs.WithLabelValues(string(job.Type), "succeeded").Inc()
		logger.Debug().Msg("job succeeded")
		return
	}

	var retryAfter *RetryAfterError
	switch {
	case errors.Is(err, ErrPermanent):
		w.fail(bookCtx, job, err)
	case errors.As(err, &retryAfter):
		w.retry(bookCtx, job, retryAfter.Delay, err)
	case job.Attempt >= w.opts.MaxAttempts:
		w.fail(bookCtx, job, err)
	default:
		w.retry(bookCtx, job, w.backoff(job.Attempt), err)
	}
}

type jobOutcome struct {
	result interface{}
	err    error
}

// runWithBudget runs the handler on its own goroutine. When the job deadline
// passes first, the handler is abandoned and timedOut is true. On shutdown
// the handler is waited for, since it sees the same cancellation.
func (w *Worker) runWithBudget(jobCtx context.Context, h Handler, job *domain.Job) (jobOutcome, bool) {
	done := make(chan jobOutcome, 1)
	go func() {
		res, err := w.run(jobCtx, h, job)
		done <- jobOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		// A handler that returned because of the deadline still counts as timed out
		if out.err != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return out, true
		}
		return out, false
	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			log.Warn().Str("job_id", job.ID).Str("type", string(job.Type)).Dur("budget", w.opts.JobTimeout).Msg("job exceeded its time budget, abandoning handler")
			return jobOutcome{err: jobCtx.Err()}, true
		}
		return <-done, false
	}
}

func (w *Worker) run(ctx context.Context, h Handler, job *domain.Job) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return h(ctx, job)
}

func (w *Worker) retry(ctx context.Context, job *domain.Job, delay time.Duration, err error) {
	if job.Attempt >= w.opts.MaxAttempts*2 {
		// Rate limit delays do not count against attempts, but still end
		w.fail(ctx, job, err)
		return
	}
	at := w.now().Add(delay)
	if rerr := w.queue.Retry(ctx, job, at, err); rerr != nil {
		log.Error().Err(rerr).Str("job_id", job.ID).Msg("failed to schedule job retry")
	}
	metrics.Jobs.WithLabelValues(string(job.Type), "retried").Inc()
	log.Warn().Err(err).Str("job_id", job.ID).Str("type", string(job.Type)).Time("retry_at", at).Msg("job will be retried")
}

func (w *Worker) fail(ctx context.Context, job *domain.Job, err error) {
	if ferr := w.queue.Fail(ctx, job, err); ferr != nil {
		log.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to record job failure")
	}
	metrics.Jobs.WithLabelValues(string(job.Type), "failed").Inc()
	log.Error().Err(err).Str("job_id", job.ID).Str("type", string(job.Type)).Str("user_id", job.UserID).Msg("job failed")
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.opts.RetryBackoff
	for i := 1; i < attempt && d < time.Hour; i++ {
		d *= 2
	}
	return d
}
