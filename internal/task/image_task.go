package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
)

// RequestReadWriter is the narrow slice of the request store the image task
// needs. The work queue's per-task exclusivity makes these read-modify-write
// cycles single-writer.
type RequestReadWriter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingRequest, error)
	Update(ctx context.Context, request *domain.ProcessingRequest) error
}

// ImageProcessor transforms one source image and stores the result,
// returning the public URL of the stored output.
type ImageProcessor interface {
	Process(ctx context.Context, sourceURL string, requestID uuid.UUID) (string, error)
}

// CompletionNotifier is invoked once a request reaches a terminal status.
// Implementations own their failure handling; a notification problem must
// never fail the processing task that raised it.
type CompletionNotifier interface {
	NotifyCompletion(ctx context.Context, request *domain.ProcessingRequest) error
}

// imageTaskPayload is the persisted payload of an image processing task.
type imageTaskPayload struct {
	RequestID string `json:"request_id"`
}

// ImageProcessingTask processes every image of one ingested request. The
// task's identity equals the request ID, so the same request can never be
// queued twice concurrently.
type ImageProcessingTask struct {
	requestID uuid.UUID
	payload   []byte

	requests  RequestReadWriter
	processor ImageProcessor
	notifier  CompletionNotifier
	logger    *slog.Logger
}

var _ Task = (*ImageProcessingTask)(nil)

// ID returns the task's unique identifier (the request ID).
func (t *ImageProcessingTask) ID() uuid.UUID {
	return t.requestID
}

// Type returns the task type identifier.
func (t *ImageProcessingTask) Type() string {
	return TaskTypeImageProcessing
}

// Payload returns the task data as a byte slice.
func (t *ImageProcessingTask) Payload() []byte {
	return t.payload
}

// Execute drives one request through the image pipeline. Failures are
// isolated to the smallest scope: a bad image leaves a nil output slot, a
// fully failed product leaves siblings alone, and only store errors escape
// to the work queue's retry policy.
func (t *ImageProcessingTask) Execute(ctx context.Context) error {
	logger := t.logger.With("request_id", t.requestID)

	request, err := t.requests.GetByID(ctx, t.requestID)
	if err != nil {
		return fmt.Errorf("failed to load request: %w", err)
	}

	if err := request.UpdateStatus(domain.RequestStatusProcessing); err != nil {
		return err
	}
	if err := t.requests.Update(ctx, request); err != nil {
		return fmt.Errorf("failed to mark request processing: %w", err)
	}

	for i := range request.Products {
		product := &request.Products[i]
		outputs := make([]*string, len(product.InputURLs))

		for j, inputURL := range product.InputURLs {
			if !isValidHTTPURL(inputURL) {
				logger.Warn("skipping malformed input URL",
					"serial_number", product.SerialNumber,
					"url", inputURL)
				continue
			}

			outputURL, err := t.processor.Process(ctx, inputURL, t.requestID)
			if err != nil {
				logger.Warn("image processing failed",
					"serial_number", product.SerialNumber,
					"url", inputURL,
					"error", err)
				continue
			}

			outputs[j] = &outputURL
		}

		product.OutputURLs = outputs
		product.Status = domain.DeriveProductStatus(outputs)
	}

	if err := request.UpdateStatus(domain.DeriveRequestStatus(request.Products)); err != nil {
		return err
	}
	if err := t.requests.Update(ctx, request); err != nil {
		return fmt.Errorf("failed to persist processed request: %w", err)
	}

	logger.Info("request processing finished",
		"status", request.Status,
		"processed_products", request.ProcessedProductCount(),
		"total_products", len(request.Products))

	if request.WebhookURL != "" {
		if err := t.notifier.NotifyCompletion(ctx, request); err != nil {
			// The notifier persists its own retry state; the request itself
			// is already finalized.
			logger.Warn("completion notification failed", "error", err)
		}
	}

	return nil
}

// isValidHTTPURL reports whether the string parses as an absolute http(s) URL.
func isValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ImageProcessingTaskFactory creates ImageProcessingTask instances, both for
// fresh submissions and for tasks recovered from the store.
type ImageProcessingTaskFactory struct {
	requests  RequestReadWriter
	processor ImageProcessor
	notifier  CompletionNotifier
	logger    *slog.Logger
}

// NewImageProcessingTaskFactory creates a new ImageProcessingTaskFactory.
func NewImageProcessingTaskFactory(
	requests RequestReadWriter,
	processor ImageProcessor,
	notifier CompletionNotifier,
	logger *slog.Logger,
) *ImageProcessingTaskFactory {
	return &ImageProcessingTaskFactory{
		requests:  requests,
		processor: processor,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "image_processing_task")),
	}
}

// CreateTask creates a new task for the given request.
func (f *ImageProcessingTaskFactory) CreateTask(requestID uuid.UUID) (Task, error) {
	if requestID == uuid.Nil {
		return nil, domain.ErrEmptyRequestID
	}

	payload, err := json.Marshal(imageTaskPayload{RequestID: requestID.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	return &ImageProcessingTask{
		requestID: requestID,
		payload:   payload,
		requests:  f.requests,
		processor: f.processor,
		notifier:  f.notifier,
		logger:    f.logger,
	}, nil
}

// RecoveryFactory returns the Factory the task runner uses to rebuild
// persisted image processing tasks.
func (f *ImageProcessingTaskFactory) RecoveryFactory() Factory {
	return func(id uuid.UUID, raw []byte) (Task, error) {
		var payload imageTaskPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
		}

		requestID, err := uuid.Parse(payload.RequestID)
		if err != nil {
			return nil, fmt.Errorf("invalid request ID in task payload: %w", err)
		}

		return &ImageProcessingTask{
			requestID: requestID,
			payload:   raw,
			requests:  f.requests,
			processor: f.processor,
			notifier:  f.notifier,
			logger:    f.logger,
		}, nil
	}
}
