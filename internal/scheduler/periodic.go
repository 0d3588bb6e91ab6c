package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatfunnel_backend/platform/config"
	"chatfunnel_backend/platform/logger"

	"github.com/hibiken/asynq"
)

const defaultReengagementCron = "@every 1m"

// ReengagementScheduler enqueues the idle-session sweep on a cron schedule.
// Only one sweep task is kept per period, so several scheduler replicas do
// not multiply nudges.
type ReengagementScheduler struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewReengagementScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*ReengagementScheduler, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	spec := cfg.GetReengagementCron()
	if spec == "" {
		spec = defaultReengagementCron
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
				log.Warn("re-engagement sweep not enqueued", "error", err)
			}
		},
	})
	if _, err := s.Register(spec, NewReengagementSweepTask(), asynq.Queue(queue), asynq.MaxRetry(0), asynq.Unique(sweepUniqueTTL(spec))); err != nil {
		return nil, fmt.Errorf("register re-engagement sweep: %w", err)
	}

	return &ReengagementScheduler{scheduler: s, log: log}, nil
}

func (r *ReengagementScheduler) Run(ctx context.Context) {
	if r == nil || r.scheduler == nil {
		return
	}

	if err := r.scheduler.Start(); err != nil {
		r.log.Error("re-engagement scheduler failed to start", "error", err)
		return
	}
	r.log.Info("re-engagement scheduler started")

	<-ctx.Done()
	r.scheduler.Shutdown()
}

// sweepUniqueTTL keeps the uniqueness lock shorter than the default period.
func sweepUniqueTTL(spec string) time.Duration {
	if d, err := time.ParseDuration(strings.TrimPrefix(spec, "@every ")); err == nil && d > time.Second {
		return d - time.Second
	}
	return 50 * time.Second
}
