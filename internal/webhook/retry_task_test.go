package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender scripts delivery outcomes per attempt.
type fakeSender struct {
	mu       sync.Mutex
	outcomes []error
	calls    int
}

func (s *fakeSender) Deliver(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.calls < len(s.outcomes) {
		err = s.outcomes[s.calls]
	}
	s.calls++
	return err
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pendingRecord(t *testing.T) *domain.WebhookRetryRecord {
	t.Helper()

	payload, err := json.Marshal(completionPayload{
		RequestID: uuid.NewString(),
		Status:    "COMPLETED",
	})
	require.NoError(t, err)

	record, err := domain.NewWebhookRetryRecord(
		uuid.New(), "https://hooks.example.com/done", payload, "initial delivery failed", domain.DefaultMaxWebhookAttempts)
	require.NoError(t, err)
	return record
}

func TestRetryTask_SuccessMarksCompleted(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	record := pendingRecord(t)
	retries.put(record)

	sender := &fakeSender{}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.ID, retryTask.ID(), "task identity is the record ID")
	assert.Equal(t, task.TaskTypeWebhookRetry, retryTask.Type())

	require.NoError(t, retryTask.Execute(context.Background()))

	stored := retries.get(record.ID)
	assert.Equal(t, domain.RetryStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount, "the successful attempt still counts")
}

func TestRetryTask_FailureSchedulesNextAttempt(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	record := pendingRecord(t)
	retries.put(record)

	sender := &fakeSender{outcomes: []error{errors.New("endpoint returned status 502")}}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(record.ID)
	require.NoError(t, err)

	// A failed delivery is the record's problem, not the queue's
	require.NoError(t, retryTask.Execute(context.Background()))

	stored := retries.get(record.ID)
	assert.Equal(t, domain.RetryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Contains(t, stored.LastError, "502")
	assert.True(t, stored.NextRetryAt.After(time.Now()), "next attempt must be in the future")
}

func TestRetryTask_ThirdAttemptDelivers(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	record := pendingRecord(t)
	retries.put(record)

	down := errors.New("connection refused")
	sender := &fakeSender{outcomes: []error{down, down, nil}}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	// Three sweeps each execute one attempt; the third one lands
	for i := 0; i < 3; i++ {
		retryTask, err := factory.CreateTask(record.ID)
		require.NoError(t, err)
		require.NoError(t, retryTask.Execute(context.Background()))
	}

	stored := retries.get(record.ID)
	assert.Equal(t, domain.RetryStatusCompleted, stored.Status)
	assert.Equal(t, 3, stored.AttemptCount)
	assert.Equal(t, 3, sender.callCount())
}

func TestRetryTask_BudgetExhaustionMarksFailed(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	record := pendingRecord(t)
	record.AttemptCount = record.MaxAttempts - 1
	retries.put(record)

	sender := &fakeSender{outcomes: []error{errors.New("still down")}}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(record.ID)
	require.NoError(t, err)
	require.NoError(t, retryTask.Execute(context.Background()))

	stored := retries.get(record.ID)
	assert.Equal(t, domain.RetryStatusFailed, stored.Status)
	assert.Equal(t, stored.MaxAttempts, stored.AttemptCount)

	// A terminal record is never attempted again
	retryTask, err = factory.CreateTask(record.ID)
	require.NoError(t, err)
	require.NoError(t, retryTask.Execute(context.Background()))
	assert.Equal(t, 1, sender.callCount())
}

func TestRetryTask_TerminalRecordIsNoOp(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	record := pendingRecord(t)
	record.MarkDelivered()
	retries.put(record)

	sender := &fakeSender{}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(record.ID)
	require.NoError(t, err)
	require.NoError(t, retryTask.Execute(context.Background()))

	assert.Equal(t, 0, sender.callCount(), "a raced sweep must not redeliver")
	assert.Equal(t, 1, retries.get(record.ID).AttemptCount)
}

func TestRetryTask_MissingRecordIsNoOp(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	sender := &fakeSender{}
	factory := NewRetryTaskFactory(retries, sender, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(uuid.New())
	require.NoError(t, err)

	assert.NoError(t, retryTask.Execute(context.Background()))
	assert.Equal(t, 0, sender.callCount())
}

func TestRetryTask_StoreFailureEscapes(t *testing.T) {
	t.Parallel()

	retries := newFakeRetryStore()
	retries.getErr = errors.New("connection refused")

	factory := NewRetryTaskFactory(retries, &fakeSender{}, testWebhookConfig(), testLogger())

	retryTask, err := factory.CreateTask(uuid.New())
	require.NoError(t, err)

	err = retryTask.Execute(context.Background())
	assert.Error(t, err, "infrastructure failures must reach the work queue's retry policy")
}

func TestRetryTaskFactory_RecoveryFactory(t *testing.T) {
	t.Parallel()

	factory := NewRetryTaskFactory(newFakeRetryStore(), &fakeSender{}, testWebhookConfig(), testLogger())

	original, err := factory.CreateTask(uuid.New())
	require.NoError(t, err)

	rebuilt, err := factory.RecoveryFactory()(original.ID(), original.Payload())
	require.NoError(t, err)

	assert.Equal(t, original.ID(), rebuilt.ID())
	assert.Equal(t, task.TaskTypeWebhookRetry, rebuilt.Type())

	_, err = factory.RecoveryFactory()(uuid.New(), []byte("not json"))
	assert.Error(t, err)
}
