package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// ErrLocked is returned when another instance is already running the job
var ErrLocked = errors.New("job already running")

const defaultLockTTL = 30 * time.Minute

// LockKey is the Redis key guarding a job
func LockKey(job string) string {
	return "scheduler:lock:" + job
}

// WithLock runs fn while holding the job lock. A nil locker runs fn unlocked.
func WithLock(ctx context.Context, locker billing.Locker, job string, ttl time.Duration, fn func(ctx context.Context) error) (err error) {
	if locker == nil {
		return fn(ctx)
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	key := LockKey(job)
	token, acquired, err := locker.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLocked
	}
	defer func() {
		// release even when ctx was canceled mid-run
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if uerr := locker.Unlock(unlockCtx, key, token); uerr != nil && err == nil {
			err = fmt.Errorf("failed to release %s: %w", key, uerr)
		}
	}()
	return fn(ctx)
}

// Job is a named unit of scheduled work
type Job struct {
	Name string
	// Spec is a standard five field cron expression or descriptor such as @hourly
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on their cron schedules. Each run holds a distributed
// lock so that overlapping instances skip instead of double charging.
type Scheduler struct {
	cron    *cron.Cron
	locker  billing.Locker
	lockTTL time.Duration
	logger  *observability.Logger

	mu   sync.Mutex
	jobs []Job
	ctx  context.Context
}

// New creates a scheduler. Cron times are UTC.
func New(locker billing.Locker, lockTTL time.Duration, logger *observability.Logger) *Scheduler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Add schedules job
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s has no run function", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		s.Run(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", job.Spec, job.Name, err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Run executes job once under its lock. Panics are converted to errors.
// ErrLocked is logged and swallowed.
func (s *Scheduler) Run(ctx context.Context, job Job) error {
	logger := s.logger.WithField("job", job.Name)
	start := time.Now()

	err := WithLock(ctx, s.locker, job.Name, s.lockTTL, func(ctx context.Context) error {
		logger.Info("Job started")
		return observability.Guard(logger, "scheduler."+job.Name, func() error {
			return job.Run(ctx)
		})
	})

	switch {
	case errors.Is(err, ErrLocked):
		logger.Info("Job skipped, another instance holds the lock")
		return nil
	case err != nil:
		logger.WithError(err).WithField("duration_ms", time.Since(start).Milliseconds()).Error("Job failed")
		return err
	default:
		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Info("Job finished")
		return nil
	}
}

// RunAll runs every scheduled job once, in the order added
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var errs []error
	for _, job := range jobs {
		if err := s.Run(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Start begins running jobs on schedule. ctx is passed to every run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops scheduling. The returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Jobs returns the scheduled jobs
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...)
}
