package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/pkg/logger"
)

// Scheduler runs ingestion on a fixed interval. A tick that fires while a
// run is still going is skipped rather than queued.
type Scheduler struct {
	scheduler gocron.Scheduler
	interval  time.Duration
}

func NewScheduler(ctx context.Context, interval time.Duration, runner Runner) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("ingestion interval must be positive, got %s", interval)
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if ctx.Err() != nil {
				return
			}
			if _, err := runner.Run(ctx); err != nil {
				logger.Error("Scheduled ingestion failed", zap.Error(err))
			}
		}),
		gocron.WithName("policy-ingestion"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.Shutdown()
		return nil, fmt.Errorf("failed to schedule ingestion: %w", err)
	}

	return &Scheduler{scheduler: s, interval: interval}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
	logger.Info("Ingestion scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
