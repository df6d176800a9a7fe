package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobScheduler runs a job every Interval on a cron schedule until ctx is
// cancelled. Cron schedules have one second resolution.
type JobScheduler struct {
	Name     string
	Interval time.Duration
	Job      func(ctx context.Context) error
	logger   *zap.Logger
}

func NewJobScheduler(name string, interval time.Duration, job func(ctx context.Context) error, logger *zap.Logger) *JobScheduler {
	return &JobScheduler{Name: name, Interval: interval, Job: job, logger: logger}
}

// Run fires the job on each schedule tick. Job errors and panics are logged,
// never fatal. A tick that lands while the previous run is busy is skipped.
func (s *JobScheduler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive, got %s", s.Name, s.Interval)
	}
	log := cronLogger{s.logger.With(zap.String("scheduler", s.Name))}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc("@every "+s.Interval.String(), func() {
		if err := s.Job(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled job failed", zap.String("scheduler", s.Name), zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("scheduler %s: %w", s.Name, err)
	}

	c.Start()
	s.logger.Info("scheduler running", zap.String("scheduler", s.Name), zap.Duration("interval", s.Interval))
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler shutting down", zap.String("scheduler", s.Name))
	return ctx.Err()
}

// cronLogger routes cron's internal logging through zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

// ScoreScheduler refreshes every master's score on each tick.
func ScoreScheduler(scoring *ScoringService, interval time.Duration, logger *zap.Logger) *JobScheduler {
	return NewJobScheduler("score-refresh", interval, func(ctx context.Context) error {
		failed, err := scoring.RefreshAll(ctx)
		if err != nil {
			return err
		}
		if failed > 0 {
			logger.Info("score refresh pass finished with failures", zap.Int("failed", failed))
		}
		return nil
	}, logger)
}

// ExpiryScheduler runs the expiry sweep on each tick.
func ExpiryScheduler(expiry *ExpiryService, interval time.Duration, logger *zap.Logger) *JobScheduler {
	return NewJobScheduler("expiry-sweep", interval, func(ctx context.Context) error {
		res, err := expiry.Sweep(ctx)
		if err != nil {
			return err
		}
		if res.Renewed+res.Expired+res.Failed > 0 {
			logger.Info("expiry sweep finished",
				zap.Int("renewed", res.Renewed),
				zap.Int("expired", res.Expired),
				zap.Int("failed", res.Failed))
		}
		return nil
	}, logger)
}
