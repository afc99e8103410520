package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockTask is a simple implementation of the Task interface for testing
type MockTask struct {
	TaskID      uuid.UUID
	TaskType    string
	TaskPayload []byte
	ExecuteFn   func(ctx context.Context) error
}

// NewMockTask creates a new MockTask with the given ID and type
func NewMockTask(id uuid.UUID, taskType string, payload []byte) *MockTask {
	return &MockTask{
		TaskID:      id,
		TaskType:    taskType,
		TaskPayload: payload,
		ExecuteFn:   func(ctx context.Context) error { return nil },
	}
}

// ID returns the task's unique identifier
func (t *MockTask) ID() uuid.UUID {
	return t.TaskID
}

// Type returns the task type identifier
func (t *MockTask) Type() string {
	return t.TaskType
}

// Payload returns the task data as a byte slice
func (t *MockTask) Payload() []byte {
	return t.TaskPayload
}

// Execute runs the task logic
func (t *MockTask) Execute(ctx context.Context) error {
	return t.ExecuteFn(ctx)
}

// MockTaskStore implements the TaskStore interface for testing. It keeps
// task records in memory and honors the same active-identity semantics as
// the postgres implementation.
type MockTaskStore struct {
	mutex   sync.RWMutex
	records map[uuid.UUID]*TaskRecord

	SaveFn          func(ctx context.Context, t Task) error
	UpdateStatusFn  func(ctx context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error
	ScheduleRetryFn func(ctx context.Context, taskID uuid.UUID, attempts int, errorMsg string, nextRunAt time.Time) error
}

// NewMockTaskStore creates a new MockTaskStore
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{
		records: make(map[uuid.UUID]*TaskRecord),
	}
}

// SaveTask persists a new task, resetting a terminal record under the same
// identity and rejecting an active one with ErrDuplicateTask.
func (s *MockTaskStore) SaveTask(ctx context.Context, t Task) error {
	if s.SaveFn != nil {
		return s.SaveFn(ctx, t)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.records[t.ID()]; ok {
		if existing.Status == TaskStatusPending || existing.Status == TaskStatusProcessing {
			return ErrDuplicateTask
		}
	}

	now := time.Now().UTC()
	s.records[t.ID()] = &TaskRecord{
		ID:        t.ID(),
		Type:      t.Type(),
		Payload:   t.Payload(),
		Status:    TaskStatusPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// UpdateTaskStatus updates the status of a task
func (s *MockTaskStore) UpdateTaskStatus(ctx context.Context, taskID uuid.UUID, status TaskStatus, errorMsg string) error {
	if s.UpdateStatusFn != nil {
		return s.UpdateStatusFn(ctx, taskID, status, errorMsg)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return nil
	}

	record.Status = status
	record.LastError = errorMsg
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// ScheduleRetry moves a task back to pending with retry bookkeeping
func (s *MockTaskStore) ScheduleRetry(ctx context.Context, taskID uuid.UUID, attempts int, errorMsg string, nextRunAt time.Time) error {
	if s.ScheduleRetryFn != nil {
		return s.ScheduleRetryFn(ctx, taskID, attempts, errorMsg, nextRunAt)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.records[taskID]
	if !ok {
		return nil
	}

	record.Status = TaskStatusPending
	record.Attempts = attempts
	record.LastError = errorMsg
	record.NextRunAt = nextRunAt
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// GetPendingTasks retrieves all tasks with "pending" status
func (s *MockTaskStore) GetPendingTasks(ctx context.Context) ([]TaskRecord, error) {
	return s.tasksByStatus(TaskStatusPending, 0), nil
}

// GetProcessingTasks retrieves tasks with "processing" status
func (s *MockTaskStore) GetProcessingTasks(ctx context.Context, olderThan time.Duration) ([]TaskRecord, error) {
	return s.tasksByStatus(TaskStatusProcessing, olderThan), nil
}

// GetRecord returns a copy of the stored record for assertions.
func (s *MockTaskStore) GetRecord(taskID uuid.UUID) (TaskRecord, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	record, ok := s.records[taskID]
	if !ok {
		return TaskRecord{}, false
	}
	return *record, true
}

func (s *MockTaskStore) tasksByStatus(status TaskStatus, olderThan time.Duration) []TaskRecord {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cutoff := time.Now().UTC().Add(-olderThan)

	var out []TaskRecord
	for _, record := range s.records {
		if record.Status != status {
			continue
		}
		if olderThan > 0 && record.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, *record)
	}
	return out
}
