package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/tripnest/booking-payments/pkg/logger"
)

// Scheduler enqueues the periodic reconciliation sweep
type Scheduler struct {
	scheduler *asynq.Scheduler
	logger    *logger.Logger
}

// NewScheduler registers a sweep every interval
func NewScheduler(redis asynq.RedisConnOpt, interval time.Duration, p SweepPayload, log *logger.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive")
	}
	task, opts, err := NewSweepTask(p, interval)
	if err != nil {
		return nil, err
	}

	log = log.Named("scheduler")
	s := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Logger: NewAsynqLogger(log),
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err == nil || errors.Is(err, asynq.ErrDuplicateTask) {
				return
			}
			log.Warn("Failed to enqueue scheduled sweep", logger.Err(err))
		},
	})
	if _, err := s.Register("@every "+interval.String(), task, opts...); err != nil {
		return nil, fmt.Errorf("failed to register sweep: %w", err)
	}

	return &Scheduler{scheduler: s, logger: log}, nil
}

// Start begins enqueueing in the background
func (s *Scheduler) Start() error {
	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.logger.Info("Scheduler started")
	return nil
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
