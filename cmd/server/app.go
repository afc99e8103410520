package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/snapforge/snapforge-api/internal/api"
	"github.com/snapforge/snapforge-api/internal/config"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/imagepipe"
	"github.com/snapforge/snapforge-api/internal/platform/postgres"
	"github.com/snapforge/snapforge-api/internal/platform/storage"
	"github.com/snapforge/snapforge-api/internal/ratelimit"
	"github.com/snapforge/snapforge-api/internal/service"
	"github.com/snapforge/snapforge-api/internal/store"
	"github.com/snapforge/snapforge-api/internal/task"
	"github.com/snapforge/snapforge-api/internal/webhook"
)

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	// Configuration
	config *config.Config

	// Core services
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	// Stores (using interfaces for proper abstraction)
	requestStore store.RequestStore
	retryStore   store.WebhookRetryStore
	taskStore    task.TaskStore

	// Service interfaces
	requestService service.RequestService

	// Admission control
	rateLimiter *ratelimit.Limiter

	// Task handling
	taskRunner       *task.TaskRunner
	imageTaskFactory *task.ImageProcessingTaskFactory
	webhookScheduler *webhook.Scheduler

	// API handlers
	requestHandler *api.RequestHandler
}

// newApplication creates a new application instance with all dependencies
// initialized. It accepts core dependencies like configuration, logger, and
// database connection that must be established before application
// initialization.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, db *sql.DB) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	// Initialize stores
	app.requestStore = postgres.NewPostgresRequestStore(db, logger)
	app.retryStore = postgres.NewPostgresWebhookRetryStore(db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(db)

	// Initialize redis-backed rate limiter
	app.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := app.redis.Ping(ctx).Err(); err != nil {
		// Degraded mode is a policy decision made per request; startup
		// proceeds so a redis blip cannot keep the service down.
		logger.Warn("redis unreachable at startup, limiter will run degraded", "error", err)
	}
	app.rateLimiter = ratelimit.NewLimiter(app.redis, cfg.RateLimit, logger)

	// Initialize the image pipeline
	objectStore := storage.NewSupabaseStore(cfg.Storage, logger)
	processor := imagepipe.NewProcessor(objectStore, cfg.Worker, logger)

	// Initialize webhook delivery
	deliverer := webhook.NewDeliverer(app.retryStore, cfg.Webhook, logger)
	retryTaskFactory := webhook.NewRetryTaskFactory(app.retryStore, deliverer, cfg.Webhook, logger)

	// Initialize the task runner and register both task types before Start,
	// so recovery can rebuild persisted tasks of either type
	app.imageTaskFactory = task.NewImageProcessingTaskFactory(
		app.requestStore, processor, deliverer, logger)

	app.taskRunner = task.NewTaskRunner(app.taskStore, task.TaskRunnerConfig{
		QueueSize:    cfg.Task.QueueSize,
		WorkerCount:  cfg.Task.WorkerCount,
		StuckTaskAge: time.Duration(cfg.Task.StuckTaskAgeMinutes) * time.Minute,
	}, logger)

	app.taskRunner.Register(task.TaskTypeImageProcessing, task.QueueOptions{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}, app.imageTaskFactory.RecoveryFactory())

	app.taskRunner.Register(task.TaskTypeWebhookRetry, task.QueueOptions{
		MaxAttempts: 5,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
	}, retryTaskFactory.RecoveryFactory())

	app.taskRunner.SetFailureHandler(app.handleExhaustedTask)

	if err := app.taskRunner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	// Initialize the webhook retry scheduler
	app.webhookScheduler = webhook.NewScheduler(
		app.retryStore, retryTaskFactory, app.taskRunner, cfg.Webhook, logger)
	app.webhookScheduler.Start(ctx)

	// Initialize request service
	var err error
	app.requestService, err = service.NewRequestService(
		app.requestStore, app.taskRunner, app.imageTaskFactory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create request service: %w", err)
	}

	app.requestHandler = api.NewRequestHandler(app.requestService)

	logger.Info("Application initialized successfully")
	return app, nil
}

// handleExhaustedTask runs when a task burns through its queue-level attempt
// budget. For image tasks that means the request itself could never be
// processed, so the request is finalized as failed; callers polling the
// status endpoint see a terminal state instead of a forever-pending one.
func (app *application) handleExhaustedTask(t task.Task, taskErr error) {
	log := app.logger.With(
		"task_id", t.ID(),
		"task_type", t.Type())

	log.Error("task permanently failed", "error", taskErr)

	if t.Type() != task.TaskTypeImageProcessing {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request, err := app.requestStore.GetByID(ctx, t.ID())
	if err != nil {
		if errors.Is(err, store.ErrRequestNotFound) {
			return
		}
		log.Error("failed to load request for failure handling", "error", err)
		return
	}

	if request.Status == domain.RequestStatusFailed || request.Status == domain.RequestStatusCompleted {
		return
	}

	if err := request.UpdateStatus(domain.RequestStatusFailed); err != nil {
		log.Error("failed to mark request failed", "error", err)
		return
	}
	if err := app.requestStore.Update(ctx, request); err != nil {
		log.Error("failed to persist failed request", "error", err)
	}
}

// Run starts the application server, handling lifecycle and cleanup.
// It returns an error if the server fails to start or encounters problems.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	// Stop accepting new retry sweeps before draining workers
	if app.webhookScheduler != nil {
		app.webhookScheduler.Stop()
	}

	if app.taskRunner != nil {
		app.taskRunner.Stop()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("Error closing redis connection", "error", err)
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
