package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskRunnerConfig holds configuration for the task runner
type TaskRunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue
	QueueSize int

	// StuckTaskAge defines how long a task can be in processing state
	// before it's considered stuck and reset
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks
	// If zero, defaults to 5 minutes
	StuckTaskCheckInterval time.Duration
}

// DefaultTaskRunnerConfig returns a TaskRunnerConfig with reasonable defaults
func DefaultTaskRunnerConfig() TaskRunnerConfig {
	return TaskRunnerConfig{
		WorkerCount:            2,
		QueueSize:              100,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// registration binds a task type to its recovery factory and retry settings.
type registration struct {
	factory Factory
	opts    QueueOptions
}

// execution is one scheduled run of a task. attempts counts executions that
// have already finished (successfully or not) for this task identity.
type execution struct {
	task     Task
	attempts int
}

// TaskRunner manages background task processing. Tasks are persisted before
// they are queued, retried with exponential backoff up to their type's
// attempt budget, and recovered from the store after a process restart.
// Delivery is at-least-once: each queued task reaches exactly one worker per
// execution, and a crash mid-execution leads to a re-run after recovery.
type TaskRunner struct {
	store      TaskStore
	taskChan   chan execution
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     TaskRunnerConfig
	logger     *slog.Logger

	mu       sync.Mutex
	registry map[string]registration
	timers   map[uuid.UUID]*time.Timer

	failureHandler func(t Task, err error)
}

// NewTaskRunner creates a new TaskRunner
func NewTaskRunner(store TaskStore, config TaskRunnerConfig, logger *slog.Logger) *TaskRunner {
	if config.StuckTaskCheckInterval == 0 {
		config.StuckTaskCheckInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TaskRunner{
		store:      store,
		taskChan:   make(chan execution, config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger,
		registry:   make(map[string]registration),
		timers:     make(map[uuid.UUID]*time.Timer),
		failureHandler: func(t Task, err error) {
			logger.Error("task permanently failed",
				"task_id", t.ID(),
				"task_type", t.Type(),
				"error", err)
		},
	}
}

// SetFailureHandler sets the callback invoked when a task exhausts its
// attempt budget. The default handler just logs the failure.
func (r *TaskRunner) SetFailureHandler(handler func(t Task, err error)) {
	r.failureHandler = handler
}

// Register binds a task type to its retry options and a factory used to
// rebuild the task from persisted state during recovery. Submitting or
// recovering a task of an unregistered type is an error.
func (r *TaskRunner) Register(taskType string, opts QueueOptions, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry[taskType] = registration{factory: factory, opts: opts}
}

// Submit persists a new task and adds it to the queue. Returns
// ErrDuplicateTask when an active task already exists under the same
// identity; the caller can treat that as "already scheduled" and move on.
func (r *TaskRunner) Submit(ctx context.Context, t Task) error {
	if _, ok := r.registration(t.Type()); !ok {
		return fmt.Errorf("no registration for task type %q", t.Type())
	}

	// Save task to database first
	if err := r.store.SaveTask(ctx, t); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	// Then add to in-memory queue
	select {
	case r.taskChan <- execution{task: t}:
		return nil
	default:
		return fmt.Errorf("task queue is full, try again later")
	}
}

// Start initializes the worker pool and begins processing tasks
func (r *TaskRunner) Start() error {
	// Recover unfinished tasks from previous runs
	if err := r.Recover(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	// Start worker goroutines
	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	// Start goroutine to check for stuck tasks periodically
	r.wg.Add(1)
	go r.stuckTaskMonitor()

	return nil
}

// Stop gracefully shuts down the task runner. In-flight executions finish;
// anything waiting on a backoff timer stays pending in the store and is
// picked up by recovery on the next start.
func (r *TaskRunner) Stop() {
	r.cancelFunc()

	r.mu.Lock()
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

// Recover loads any unfinished tasks from the database, rebuilds them
// through their type's factory, and requeues them. Tasks whose backoff has
// not elapsed yet are scheduled for their persisted next run time.
func (r *TaskRunner) Recover() error {
	ctx := context.Background()

	pending, err := r.store.GetPendingTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}

	// Tasks that were in "processing" state were interrupted by a crash
	processing, err := r.store.GetProcessingTasks(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to get processing tasks: %w", err)
	}

	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"processing_count", len(processing))

	for _, record := range pending {
		r.requeueRecord(ctx, record)
	}

	for _, record := range processing {
		// Reset status in database to pending before requeueing
		if err := r.store.UpdateTaskStatus(ctx, record.ID, TaskStatusPending, "Reset after recovery"); err != nil {
			r.logger.Error("failed to reset processing task status",
				"task_id", record.ID,
				"task_type", record.Type,
				"error", err)
			continue
		}
		r.requeueRecord(ctx, record)
	}

	return nil
}

// requeueRecord rebuilds a persisted task and either queues it immediately
// or arms a timer for its next run time.
func (r *TaskRunner) requeueRecord(ctx context.Context, record TaskRecord) {
	reg, ok := r.registration(record.Type)
	if !ok {
		r.logger.Error("no factory registered for recovered task",
			"task_id", record.ID,
			"task_type", record.Type)
		return
	}

	t, err := reg.factory(record.ID, record.Payload)
	if err != nil {
		r.logger.Error("failed to rebuild recovered task",
			"task_id", record.ID,
			"task_type", record.Type,
			"error", err)
		if updateErr := r.store.UpdateTaskStatus(ctx, record.ID, TaskStatusFailed, err.Error()); updateErr != nil {
			r.logger.Error("failed to mark unrecoverable task failed",
				"task_id", record.ID,
				"error", updateErr)
		}
		return
	}

	exec := execution{task: t, attempts: record.Attempts}

	if wait := time.Until(record.NextRunAt); wait > 0 {
		r.enqueueAfter(exec, wait)
		return
	}

	r.enqueue(exec)
}

// enqueue feeds an execution to the worker channel without blocking.
func (r *TaskRunner) enqueue(exec execution) {
	select {
	case r.taskChan <- exec:
	default:
		r.logger.Error("failed to requeue task, queue is full",
			"task_id", exec.task.ID(),
			"task_type", exec.task.Type())
	}
}

// enqueueAfter arms a timer that feeds the execution to the workers once the
// backoff delay has elapsed. Stop cancels all armed timers; the persisted
// pending state covers the task across a restart.
func (r *TaskRunner) enqueueAfter(exec execution, wait time.Duration) {
	id := exec.task.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[id]; ok {
		old.Stop()
	}

	r.timers[id] = time.AfterFunc(wait, func() {
		r.mu.Lock()
		delete(r.timers, id)
		r.mu.Unlock()

		if r.ctx.Err() != nil {
			return
		}
		r.enqueue(exec)
	})
}

// worker processes tasks from the queue
func (r *TaskRunner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return

		case exec := <-r.taskChan:
			r.processTask(exec, id)
		}
	}
}

// processTask handles a single execution of a task, scheduling a retry or
// reporting permanent failure when it errors.
func (r *TaskRunner) processTask(exec execution, workerID int) {
	ctx := context.Background()
	t := exec.task
	logger := r.logger.With(
		"task_id", t.ID(),
		"task_type", t.Type(),
		"worker_id", workerID,
		"attempt", exec.attempts+1,
	)

	reg, ok := r.registration(t.Type())
	if !ok {
		logger.Error("task type lost its registration, dropping task")
		return
	}

	if err := r.store.UpdateTaskStatus(ctx, t.ID(), TaskStatusProcessing, ""); err != nil {
		logger.Error("failed to update task status to processing", "error", err)
		return
	}

	logger.Info("processing task")

	err := t.Execute(ctx)
	if err == nil {
		logger.Info("task completed successfully")
		if updateErr := r.store.UpdateTaskStatus(ctx, t.ID(), TaskStatusCompleted, ""); updateErr != nil {
			logger.Error("failed to update task status to completed", "error", updateErr)
		}
		return
	}

	attempts := exec.attempts + 1

	if attempts >= reg.opts.MaxAttempts {
		logger.Error("task execution failed, attempt budget exhausted", "error", err)
		if updateErr := r.store.UpdateTaskStatus(ctx, t.ID(), TaskStatusFailed, err.Error()); updateErr != nil {
			logger.Error("failed to update task status to failed", "error", updateErr)
		}
		r.failureHandler(t, err)
		return
	}

	delay := reg.opts.NextDelay(attempts - 1)
	logger.Warn("task execution failed, scheduling retry",
		"error", err,
		"retry_in", delay)

	if updateErr := r.store.ScheduleRetry(ctx, t.ID(), attempts, err.Error(), time.Now().UTC().Add(delay)); updateErr != nil {
		logger.Error("failed to persist task retry state", "error", updateErr)
	}

	r.enqueueAfter(execution{task: t, attempts: attempts}, delay)
}

// stuckTaskMonitor periodically checks for tasks that have been in
// "processing" state for too long and resets them
func (r *TaskRunner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return

		case <-ticker.C:
			ctx := context.Background()

			stuck, err := r.store.GetProcessingTasks(ctx, r.config.StuckTaskAge)
			if err != nil {
				r.logger.Error("failed to check for stuck tasks", "error", err)
				continue
			}

			if len(stuck) == 0 {
				continue
			}

			r.logger.Info("found stuck tasks", "count", len(stuck))

			for _, record := range stuck {
				if err := r.store.UpdateTaskStatus(ctx, record.ID, TaskStatusPending,
					"Reset after being stuck in processing state"); err != nil {
					r.logger.Error("failed to reset stuck task status",
						"task_id", record.ID,
						"task_type", record.Type,
						"error", err)
					continue
				}
				r.requeueRecord(ctx, record)
			}
		}
	}
}

func (r *TaskRunner) registration(taskType string) (registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.registry[taskType]
	return reg, ok
}
