package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/store"
	"github.com/snapforge/snapforge-api/internal/task"
)

// RequestRepository defines the repository interface for the service layer.
// This is aligned with store.RequestStore to ensure proper separation of concerns.
type RequestRepository interface {
	// Create saves a new processing request to the store
	Create(ctx context.Context, request *domain.ProcessingRequest) error

	// GetByID retrieves a processing request by its unique ID
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingRequest, error)
}

// TaskRunner defines the interface for submitting background tasks
type TaskRunner interface {
	// Submit adds a task to the processing queue
	Submit(ctx context.Context, task task.Task) error
}

// ImageTaskFactory creates image processing tasks for ingested requests
type ImageTaskFactory interface {
	// CreateTask creates a new image processing task for the specified request
	CreateTask(requestID uuid.UUID) (task.Task, error)
}

// RequestService provides processing-request operations
type RequestService interface {
	// CreateRequestAndEnqueueTask persists a new processing request and
	// enqueues the task that will process its images
	CreateRequestAndEnqueueTask(
		ctx context.Context,
		products []domain.Product,
		webhookURL string,
	) (*domain.ProcessingRequest, error)

	// GetRequest retrieves a processing request by its ID
	GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.ProcessingRequest, error)
}

// Common sentinel errors for RequestService
var (
	// ErrRequestNotFound indicates that the processing request does not exist
	ErrRequestNotFound = errors.New("processing request not found")
)

// RequestServiceError wraps errors from the request service with context.
type RequestServiceError struct {
	// Operation is the operation that failed (e.g., "create_request")
	Operation string
	// Message is a human-readable description of the error
	Message string
	// Err is the underlying error that caused the failure
	Err error
}

// Error implements the error interface for RequestServiceError.
func (e *RequestServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request service %s failed: %s: %v", e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("request service %s failed: %s", e.Operation, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *RequestServiceError) Unwrap() error {
	return e.Err
}

// NewRequestServiceError creates a new RequestServiceError.
// It returns known sentinel errors directly without wrapping.
func NewRequestServiceError(operation, message string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRequestNotFound) || errors.Is(err, store.ErrRequestNotFound) {
		return ErrRequestNotFound
	}

	return &RequestServiceError{
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// requestServiceImpl implements the RequestService interface
type requestServiceImpl struct {
	requestRepo RequestRepository
	taskRunner  TaskRunner
	taskFactory ImageTaskFactory
	logger      *slog.Logger
}

// NewRequestService creates a new RequestService.
// It returns an error if any of the required dependencies are nil.
func NewRequestService(
	requestRepo RequestRepository,
	taskRunner TaskRunner,
	taskFactory ImageTaskFactory,
	logger *slog.Logger,
) (RequestService, error) {
	if requestRepo == nil {
		return nil, &RequestServiceError{
			Operation: "create_service",
			Message:   "requestRepo cannot be nil",
		}
	}
	if taskRunner == nil {
		return nil, &RequestServiceError{
			Operation: "create_service",
			Message:   "taskRunner cannot be nil",
		}
	}
	if taskFactory == nil {
		return nil, &RequestServiceError{
			Operation: "create_service",
			Message:   "taskFactory cannot be nil",
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &requestServiceImpl{
		requestRepo: requestRepo,
		taskRunner:  taskRunner,
		taskFactory: taskFactory,
		logger:      logger.With("component", "request_service"),
	}, nil
}

// CreateRequestAndEnqueueTask persists a new request with pending status,
// then enqueues its image processing task. The request row is written first
// so that a crash between the two steps leaves a visible pending request
// rather than an untracked task.
func (s *requestServiceImpl) CreateRequestAndEnqueueTask(
	ctx context.Context,
	products []domain.Product,
	webhookURL string,
) (*domain.ProcessingRequest, error) {
	request, err := domain.NewProcessingRequest(products, webhookURL)
	if err != nil {
		s.logger.Warn("rejected invalid processing request",
			"error", err,
			"product_count", len(products))
		return nil, NewRequestServiceError("create_request", "invalid request data", err)
	}

	if err := s.requestRepo.Create(ctx, request); err != nil {
		s.logger.Error("failed to persist processing request",
			"error", err,
			"request_id", request.ID)
		return nil, NewRequestServiceError("create_request", "failed to save request", err)
	}

	imageTask, err := s.taskFactory.CreateTask(request.ID)
	if err != nil {
		s.logger.Error("failed to build image processing task",
			"error", err,
			"request_id", request.ID)
		return nil, NewRequestServiceError("create_request", "failed to build task", err)
	}

	if err := s.taskRunner.Submit(ctx, imageTask); err != nil {
		// The request stays pending; the duplicate case means processing is
		// already underway under this identity.
		if errors.Is(err, task.ErrDuplicateTask) {
			s.logger.Warn("image processing task already scheduled",
				"request_id", request.ID)
			return request, nil
		}
		s.logger.Error("failed to enqueue image processing task",
			"error", err,
			"request_id", request.ID)
		return nil, NewRequestServiceError("create_request", "failed to enqueue task", err)
	}

	s.logger.Info("processing request accepted",
		"request_id", request.ID,
		"product_count", len(products),
		"has_webhook", webhookURL != "")

	return request, nil
}

// GetRequest retrieves a processing request by its ID
func (s *requestServiceImpl) GetRequest(
	ctx context.Context,
	requestID uuid.UUID,
) (*domain.ProcessingRequest, error) {
	request, err := s.requestRepo.GetByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrRequestNotFound) {
			return nil, ErrRequestNotFound
		}
		s.logger.Error("failed to retrieve processing request",
			"error", err,
			"request_id", requestID)
		return nil, NewRequestServiceError("get_request", "failed to retrieve request", err)
	}

	return request, nil
}
