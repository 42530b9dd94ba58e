package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"api_gateway/internal/audit"
	"api_gateway/internal/utils"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler runs the gateway's maintenance jobs on cron specs.
type Scheduler struct {
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *utils.Logger
}

// New creates a scheduler. Each run gets jobTimeout to finish.
func New(jobTimeout time.Duration) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c:       cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:     ctx,
		cancel:  cancel,
		timeout: jobTimeout,
		logger:  utils.NewLogger("scheduler"),
	}
}

// AddJob registers fn under name. Runs that overlap a previous one are skipped.
func (s *Scheduler) AddJob(name, spec string, fn JobFunc) error {
	if spec == "" {
		s.logger.Info("Job disabled", "job", name)
		return nil
	}
	if _, err := s.c.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", name, spec, err)
	}
	s.logger.Info("Job scheduled", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.Error("Job failed", "job", name, "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Debug("Job finished", "job", name, "duration", time.Since(start))
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.c.Stop()
	s.cancel()

	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeper is satisfied by audit.RetentionSweeper.
type Sweeper interface {
	Sweep(ctx context.Context) (*audit.SweepResult, error)
}

// AuditRetentionJob archives and deletes expired audit entries.
func AuditRetentionJob(sweeper Sweeper) JobFunc {
	return func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}
}

// SubscriptionExpirer is satisfied by storage.SubscriptionRepository.
type SubscriptionExpirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// SubscriptionExpiryJob flips subscriptions whose end date passed to expired.
// Validation already ignores them; this keeps the stored status honest.
func SubscriptionExpiryJob(store SubscriptionExpirer, now func() time.Time) JobFunc {
	logger := utils.NewLogger("subscription-expiry")
	return func(ctx context.Context) error {
		n, err := store.ExpireDue(ctx, now().UTC())
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info("Expired subscriptions", "count", n)
		}
		return nil
	}
}

// CacheCleanupJob runs each cleaner and logs how many entries were dropped.
func CacheCleanupJob(cleaners map[string]func() int) JobFunc {
	logger := utils.NewLogger("cache-cleanup")
	return func(ctx context.Context) error {
		for name, clean := range cleaners {
			if removed := clean(); removed > 0 {
				logger.Debug("Removed expired cache entries", "cache", name, "count", removed)
			}
		}
		return nil
	}
}
