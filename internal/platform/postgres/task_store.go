package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/platform/logger"
	"github.com/snapforge/snapforge-api/internal/store"
	"github.com/snapforge/snapforge-api/internal/task"
)

// PostgresTaskStore implements the task.TaskStore interface using PostgreSQL
type PostgresTaskStore struct {
	db store.DBTX
}

// NewPostgresTaskStore creates a new PostgresTaskStore
func NewPostgresTaskStore(db store.DBTX) *PostgresTaskStore {
	return &PostgresTaskStore{
		db: db,
	}
}

// Ensure PostgresTaskStore implements task.TaskStore interface
var _ task.TaskStore = (*PostgresTaskStore)(nil)

// SaveTask persists a new task. Task identity is enforced at the row level:
// a conflicting insert reuses the row only when the previous run under that
// identity already reached a terminal state. An active row wins the race and
// the caller gets task.ErrDuplicateTask.
func (s *PostgresTaskStore) SaveTask(ctx context.Context, t task.Task) error {
	log := logger.FromContext(ctx)

	query := `
		INSERT INTO tasks (id, type, payload, status, attempts, error_message, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, '', $5, $6, $6)
		ON CONFLICT (id) DO UPDATE
		SET type = EXCLUDED.type,
		    payload = EXCLUDED.payload,
		    status = EXCLUDED.status,
		    attempts = 0,
		    error_message = '',
		    next_run_at = EXCLUDED.next_run_at,
		    updated_at = EXCLUDED.updated_at
		WHERE tasks.status IN ($7, $8)
	`

	now := time.Now().UTC()

	result, err := s.db.ExecContext(ctx, query,
		t.ID(),
		t.Type(),
		t.Payload(),
		task.TaskStatusPending,
		now,
		now,
		task.TaskStatusCompleted,
		task.TaskStatusFailed,
	)
	if err != nil {
		log.Error("failed to save task",
			"task_id", t.ID(),
			"task_type", t.Type(),
			"error", err)
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return task.ErrDuplicateTask
	}

	return nil
}

// UpdateTaskStatus updates the status of a task in the database
func (s *PostgresTaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status task.TaskStatus, errorMsg string) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		status,
		errorMsg,
		time.Now().UTC(),
		taskID,
	)
	if err != nil {
		log.Error("failed to update task status",
			"task_id", taskID,
			"status", status,
			"error", err)
		return fmt.Errorf("failed to update task status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		log.Warn("no task found with ID to update status",
			"task_id", taskID)
		return nil // Task not found, treat as no-op
	}

	return nil
}

// ScheduleRetry moves a task back to pending with its retry bookkeeping
func (s *PostgresTaskStore) ScheduleRetry(ctx context.Context, taskID uuid.UUID, attempts int, errorMsg string, nextRunAt time.Time) error {
	log := logger.FromContext(ctx)

	query := `
		UPDATE tasks
		SET status = $1, attempts = $2, error_message = $3, next_run_at = $4, updated_at = $5
		WHERE id = $6
	`

	_, err := s.db.ExecContext(ctx, query,
		task.TaskStatusPending,
		attempts,
		errorMsg,
		nextRunAt,
		time.Now().UTC(),
		taskID,
	)
	if err != nil {
		log.Error("failed to schedule task retry",
			"task_id", taskID,
			"attempts", attempts,
			"error", err)
		return fmt.Errorf("failed to schedule task retry: %w", err)
	}

	return nil
}

// GetPendingTasks retrieves all tasks with "pending" status
func (s *PostgresTaskStore) GetPendingTasks(ctx context.Context) ([]task.TaskRecord, error) {
	return s.getTasksByStatus(ctx, task.TaskStatusPending, 0)
}

// GetProcessingTasks retrieves tasks with "processing" status
func (s *PostgresTaskStore) GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]task.TaskRecord, error) {
	return s.getTasksByStatus(ctx, task.TaskStatusProcessing, olderThan)
}

// getTasksByStatus is a helper method to get tasks by status with optional age filter
func (s *PostgresTaskStore) getTasksByStatus(ctx context.Context, status task.TaskStatus, olderThan time.Duration) ([]task.TaskRecord, error) {
	log := logger.FromContext(ctx)

	var query string
	var args []any

	if olderThan > 0 {
		query = `
			SELECT id, type, payload, status, attempts, error_message, next_run_at, created_at, updated_at
			FROM tasks
			WHERE status = $1 AND updated_at < $2
			ORDER BY created_at ASC
		`
		args = []any{status, time.Now().UTC().Add(-olderThan)}
	} else {
		query = `
			SELECT id, type, payload, status, attempts, error_message, next_run_at, created_at, updated_at
			FROM tasks
			WHERE status = $1
			ORDER BY created_at ASC
		`
		args = []any{status}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query tasks by status",
			"status", status,
			"error", err)
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer rows.Close()

	var records []task.TaskRecord

	for rows.Next() {
		var (
			record   task.TaskRecord
			errorMsg sql.NullString
		)

		if err := rows.Scan(
			&record.ID,
			&record.Type,
			&record.Payload,
			&record.Status,
			&record.Attempts,
			&errorMsg,
			&record.NextRunAt,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			log.Error("failed to scan task row",
				"status", status,
				"error", err)
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}

		record.LastError = errorMsg.String
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return records, nil
}
