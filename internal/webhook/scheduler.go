package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/snapforge/snapforge-api/internal/config"
	"github.com/snapforge/snapforge-api/internal/store"
	"github.com/snapforge/snapforge-api/internal/task"
)

// Submitter enqueues tasks on the durable work queue. Satisfied by
// *task.TaskRunner.
type Submitter interface {
	Submit(ctx context.Context, t task.Task) error
}

// Scheduler periodically sweeps the retry store for due records and turns
// each into a retry task on the work queue. The sweep is deliberately dumb:
// it owns no delivery state and may overlap with in-flight attempts, because
// task identity and the record state machine make double scheduling safe.
type Scheduler struct {
	retries  store.WebhookRetryStore
	factory  *RetryTaskFactory
	runner   Submitter
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler configured from cfg.
// If logger is nil, a default logger will be used.
func NewScheduler(
	retries store.WebhookRetryStore,
	factory *RetryTaskFactory,
	runner Submitter,
	cfg config.WebhookConfig,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		retries:  retries,
		factory:  factory,
		runner:   runner,
		interval: time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		logger:   logger.With(slog.String("component", "webhook_scheduler")),
	}
}

// Start launches the sweep loop. An immediate first sweep picks up records
// that came due while the process was down.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		s.sweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()

	s.logger.Info("webhook retry scheduler started",
		slog.Duration("sweep_interval", s.interval))
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("webhook retry scheduler stopped")
}

// sweep schedules a retry task for every record that is due now.
func (s *Scheduler) sweep(ctx context.Context) {
	records, err := s.retries.FindDue(ctx, time.Now().UTC())
	if err != nil {
		// The next sweep retries; due records stay due.
		s.logger.Error("failed to query due retry records", slog.String("error", err.Error()))
		return
	}

	if len(records) == 0 {
		return
	}

	scheduled := 0
	for _, record := range records {
		retryTask, err := s.factory.CreateTask(record.ID)
		if err != nil {
			s.logger.Error("failed to build retry task",
				slog.String("record_id", record.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		if err := s.runner.Submit(ctx, retryTask); err != nil {
			if errors.Is(err, task.ErrDuplicateTask) {
				// A previous sweep's attempt for this record is still active.
				s.logger.Debug("retry already scheduled",
					slog.String("record_id", record.ID.String()))
				continue
			}
			s.logger.Error("failed to submit retry task",
				slog.String("record_id", record.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		scheduled++
	}

	s.logger.Info("retry sweep finished",
		slog.Int("due", len(records)),
		slog.Int("scheduled", scheduled))
}
