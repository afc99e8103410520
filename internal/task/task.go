package task

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task type constants
const (
	// TaskTypeImageProcessing represents the task type for processing all
	// images of one ingested request
	TaskTypeImageProcessing = "image_processing"

	// TaskTypeWebhookRetry represents the task type for one webhook
	// redelivery attempt
	TaskTypeWebhookRetry = "webhook_retry"
)

// ErrDuplicateTask is returned by Submit when an active (non-terminal) task
// already exists under the same identity. Callers that use business-entity
// IDs as task identity rely on this to deduplicate concurrent re-scheduling
// of the same logical unit of work.
var ErrDuplicateTask = errors.New("task already scheduled")

// Task represents a unit of background work to be processed
type Task interface {
	// ID returns the task's unique identifier. Supplying the ID of a
	// business entity here deduplicates scheduling for that entity.
	ID() uuid.UUID

	// Type returns the task type identifier
	Type() string

	// Payload returns the task data as a byte slice
	Payload() []byte

	// Execute runs the task logic
	Execute(ctx context.Context) error
}

// QueueOptions controls the retry ladder for one task type.
type QueueOptions struct {
	// MaxAttempts is the total execution budget, first run included.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each further retry
	// doubles it.
	BackoffBase time.Duration

	// BackoffCap bounds the doubling.
	BackoffCap time.Duration
}

// DefaultQueueOptions returns the retry settings used when a task type
// registers without its own.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}
}

// NextDelay computes the wait before retry attemptIndex (zero-based),
// doubling from the base and capping at BackoffCap.
func (o QueueOptions) NextDelay(attemptIndex int) time.Duration {
	delay := o.BackoffBase << attemptIndex
	if delay <= 0 || delay > o.BackoffCap {
		return o.BackoffCap
	}
	return delay
}

// Factory rebuilds an executable task of one type from its persisted
// identity and payload. The runner uses factories to recover tasks after a
// restart.
type Factory func(id uuid.UUID, payload []byte) (Task, error)

// TaskRecord is the persisted form of a task, as loaded from the store.
type TaskRecord struct {
	ID        uuid.UUID
	Type      string
	Payload   []byte
	Status    TaskStatus
	Attempts  int
	LastError string
	NextRunAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStore defines the interface for persisting tasks
type TaskStore interface {
	// SaveTask persists a new task. If an active task with the same ID
	// already exists it returns ErrDuplicateTask; a terminal task under the
	// same ID is reset and reused, so an identity can be scheduled again
	// once its previous run finished.
	SaveTask(ctx context.Context, t Task) error

	// UpdateTaskStatus updates the status of a task
	UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error

	// ScheduleRetry moves a task back to pending with the given attempt
	// count, failure cause, and earliest next execution time.
	ScheduleRetry(ctx context.Context, taskID uuid.UUID, attempts int, errorMsg string, nextRunAt time.Time) error

	// GetPendingTasks retrieves all tasks with "pending" status
	GetPendingTasks(ctx context.Context) ([]TaskRecord, error)

	// GetProcessingTasks retrieves tasks with "processing" status.
	// If olderThan is non-zero, only returns tasks that have been in this
	// state longer than the specified duration.
	GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]TaskRecord, error)
}
