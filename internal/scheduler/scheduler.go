package scheduler

import (
	"context"
	"fmt"
	"time"

	"rental-service/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LateSweeper finds rental orders past their next action date
type LateSweeper interface {
	SweepLateOrders(ctx context.Context) (int, error)
}

// Scheduler runs the periodic rental jobs
type Scheduler struct {
	cron    *cron.Cron
	sweeper LateSweeper
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler running the late sweep on lateSweepSpec,
// a cron expression with a seconds field
func NewScheduler(lateSweepSpec string, sweeper LateSweeper, timeout time.Duration) (*Scheduler, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	s := &Scheduler{
		cron:    c,
		sweeper: sweeper,
		timeout: timeout,
		logger:  util.ComponentLogger("scheduler"),
	}

	if _, err := s.cron.AddFunc(lateSweepSpec, s.SweepLateOrders); err != nil {
		return nil, fmt.Errorf("invalid late sweep schedule %q: %w", lateSweepSpec, err)
	}
	return s, nil
}

// SweepLateOrders runs one late sweep
func (s *Scheduler) SweepLateOrders() {
	s.runWithRecovery("SweepLateOrders", func(ctx context.Context) error {
		count, err := s.sweeper.SweepLateOrders(ctx)
		if err != nil {
			return err
		}
		s.logger.Info("Late sweep done", zap.Int("late_orders", count))
		return nil
	})
}

// runWithRecovery runs a job with a deadline and keeps a panicking job from
// taking the process down
func (s *Scheduler) runWithRecovery(jobName string, job func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", zap.String("job", jobName), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("Job failed", zap.String("job", jobName), zap.Error(err))
		return
	}
	s.logger.Debug("Job completed", zap.String("job", jobName), zap.Duration("took", time.Since(start)))
}

// Start begins the cron scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Starting cron scheduler", zap.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron scheduler stopped")
}
