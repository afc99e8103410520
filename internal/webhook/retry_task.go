package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/config"
	"github.com/snapforge/snapforge-api/internal/store"
	"github.com/snapforge/snapforge-api/internal/task"
)

// Sender performs one webhook POST. Satisfied by *Deliverer; narrowed to an
// interface so retry tasks can be tested without a network.
type Sender interface {
	Deliver(ctx context.Context, url string, payload []byte, timeout time.Duration) error
}

// retryTaskPayload is the persisted payload of a webhook retry task.
type retryTaskPayload struct {
	RecordID string `json:"record_id"`
}

// RetryTask performs one delivery attempt for a webhook retry record. The
// task's identity equals the record ID, so overlapping scheduler sweeps
// cannot queue the same record twice; a later sweep simply re-schedules the
// identity after the previous attempt finished.
//
// Delivery outcomes are absorbed into the record's own attempt ladder and
// never surface as task errors; only store failures escape to the work
// queue's retry policy.
type RetryTask struct {
	recordID uuid.UUID
	payload  []byte

	retries    store.WebhookRetryStore
	sender     Sender
	timeout    time.Duration
	backoff    time.Duration
	backoffCap time.Duration
	logger     *slog.Logger
}

var _ task.Task = (*RetryTask)(nil)

// ID returns the task's unique identifier (the retry record ID).
func (t *RetryTask) ID() uuid.UUID {
	return t.recordID
}

// Type returns the task type identifier.
func (t *RetryTask) Type() string {
	return task.TaskTypeWebhookRetry
}

// Payload returns the task data as a byte slice.
func (t *RetryTask) Payload() []byte {
	return t.payload
}

// Execute reloads the record and, if it is still pending, performs one
// delivery attempt against the recorded webhook URL.
func (t *RetryTask) Execute(ctx context.Context) error {
	log := t.logger.With(slog.String("record_id", t.recordID.String()))

	record, err := t.retries.GetByID(ctx, t.recordID)
	if err != nil {
		if errors.Is(err, store.ErrRetryRecordNotFound) {
			// The record was removed between scheduling and execution;
			// nothing left to deliver.
			log.Warn("retry record no longer exists")
			return nil
		}
		return fmt.Errorf("failed to load retry record: %w", err)
	}

	// A sweep that raced a successful attempt finds the record already
	// terminal. The state machine makes the extra execution a no-op.
	if record.Terminal() {
		log.Debug("retry record already terminal", slog.String("status", string(record.Status)))
		return nil
	}

	deliverErr := t.sender.Deliver(ctx, record.WebhookURL, record.Payload, t.timeout)
	if deliverErr == nil {
		record.MarkDelivered()
		if err := t.retries.Update(ctx, record); err != nil {
			return fmt.Errorf("failed to mark record delivered: %w", err)
		}
		log.Info("webhook retry delivered",
			slog.String("request_id", record.RequestID.String()),
			slog.Int("attempt_count", record.AttemptCount))
		return nil
	}

	record.MarkAttemptFailed(deliverErr.Error(), t.backoff, t.backoffCap)
	if err := t.retries.Update(ctx, record); err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}

	if record.Terminal() {
		log.Error("webhook retry budget exhausted, giving up",
			slog.String("request_id", record.RequestID.String()),
			slog.Int("attempt_count", record.AttemptCount),
			slog.String("last_error", record.LastError))
	} else {
		log.Warn("webhook retry attempt failed",
			slog.String("request_id", record.RequestID.String()),
			slog.Int("attempt_count", record.AttemptCount),
			slog.Time("next_retry_at", record.NextRetryAt),
			slog.String("error", deliverErr.Error()))
	}

	return nil
}

// RetryTaskFactory creates RetryTask instances, both for fresh scheduler
// submissions and for tasks recovered from the store.
type RetryTaskFactory struct {
	retries    store.WebhookRetryStore
	sender     Sender
	timeout    time.Duration
	backoff    time.Duration
	backoffCap time.Duration
	logger     *slog.Logger
}

// NewRetryTaskFactory creates a new RetryTaskFactory configured from cfg.
func NewRetryTaskFactory(
	retries store.WebhookRetryStore,
	sender Sender,
	cfg config.WebhookConfig,
	logger *slog.Logger,
) *RetryTaskFactory {
	if logger == nil {
		logger = slog.Default()
	}

	return &RetryTaskFactory{
		retries:    retries,
		sender:     sender,
		timeout:    time.Duration(cfg.RetryTimeoutSeconds) * time.Second,
		backoff:    time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		backoffCap: time.Duration(cfg.BackoffCapSeconds) * time.Second,
		logger:     logger.With(slog.String("component", "webhook_retry_task")),
	}
}

// CreateTask creates a new retry task for the given record.
func (f *RetryTaskFactory) CreateTask(recordID uuid.UUID) (task.Task, error) {
	if recordID == uuid.Nil {
		return nil, errors.New("record ID cannot be empty")
	}

	payload, err := json.Marshal(retryTaskPayload{RecordID: recordID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	return f.build(recordID, payload), nil
}

// RecoveryFactory returns the task.Factory used to rebuild persisted retry
// tasks after a restart.
func (f *RetryTaskFactory) RecoveryFactory() task.Factory {
	return func(id uuid.UUID, raw []byte) (task.Task, error) {
		var payload retryTaskPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
		}

		recordID, err := uuid.Parse(payload.RecordID)
		if err != nil {
			return nil, fmt.Errorf("invalid record ID in task payload: %w", err)
		}

		return f.build(recordID, raw), nil
	}
}

func (f *RetryTaskFactory) build(recordID uuid.UUID, payload []byte) *RetryTask {
	return &RetryTask{
		recordID:   recordID,
		payload:    payload,
		retries:    f.retries,
		sender:     f.sender,
		timeout:    f.timeout,
		backoff:    f.backoff,
		backoffCap: f.backoffCap,
		logger:     f.logger,
	}
}
