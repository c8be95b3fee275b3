/**
 * @description
 * Cron scheduler setup for the daily auto-transfer batch. The job chain uses
 * SkipIfStillRunning as a single-flight guard: if a batch is still executing
 * when the next firing arrives, the new firing is skipped rather than run
 * concurrently, since two overlapping batches would contend for the same
 * account locks and confuse the same-month idempotency window.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/autotransfer-service/internal/config"
	"github.com/transfa/autotransfer-service/internal/domain"
	"github.com/transfa/autotransfer-service/internal/locks"
)

// Scheduler manages the cron-driven batch trigger.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	locks  *locks.Registry
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(engine *Engine, registry *locks.Registry, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	))

	return &Scheduler{
		cron:   c,
		engine: engine,
		locks:  registry,
		logger: logger,
		config: cfg,
	}
}

// Start registers the batch job and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.config.AutoTransferJobSchedule, s.runBatch); err != nil {
		s.logger.Error("failed to schedule auto-transfer batch job", "error", err)
	} else {
		s.logger.Info("scheduled auto-transfer batch job", "schedule", s.config.AutoTransferJobSchedule)
	}

	s.cron.Start()
}

// runBatch executes one day's batch and drops the lock entries afterwards.
// The registry is only safe to clear between runs, which SkipIfStillRunning
// guarantees.
func (s *Scheduler) runBatch() {
	ctx := context.Background()

	report, err := s.engine.Run(ctx, time.Now())
	if err != nil {
		// Selection failed; nothing was attempted. The next firing retries.
		s.logger.Error("auto-transfer batch aborted", "error", err)
		return
	}

	for _, res := range report.Results {
		if res.Outcome == domain.OutcomeFailed {
			s.logger.Warn("transfer recorded as failed", "transfer_id", res.TransferID, "error", res.Err)
		}
	}

	dropped := s.locks.Clear()
	if dropped > 0 {
		s.logger.Info("cleared account locks", "count", dropped)
	}
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
