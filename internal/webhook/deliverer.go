// Package webhook implements completion notifications for processed
// requests. First-attempt delivery happens inline when a request reaches a
// terminal status; failed deliveries become durable retry records that a
// periodic scheduler turns back into delivery attempts, each with its own
// exponential backoff independent of the work queue's retry ladder.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/snapforge/snapforge-api/internal/config"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/store"
)

// completionPayload is the JSON body POSTed to a configured webhook once a
// request reaches a terminal status.
type completionPayload struct {
	RequestID    string    `json:"requestId"`
	Status       string    `json:"status"`
	SuccessCount int       `json:"successCount"`
	FailedCount  int       `json:"failedCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// Deliverer performs webhook POSTs and absorbs first-attempt failures into
// retry records. It implements task.CompletionNotifier.
type Deliverer struct {
	client       *http.Client
	retries      store.WebhookRetryStore
	firstTimeout time.Duration
	retryTimeout time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// NewDeliverer creates a Deliverer configured from cfg.
// If logger is nil, a default logger will be used.
func NewDeliverer(retries store.WebhookRetryStore, cfg config.WebhookConfig, logger *slog.Logger) *Deliverer {
	if retries == nil {
		panic("retries cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Deliverer{
		// Per-attempt deadlines come from the request context, not the
		// client, because first attempts and retries use different budgets.
		client:       &http.Client{},
		retries:      retries,
		firstTimeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		retryTimeout: time.Duration(cfg.RetryTimeoutSeconds) * time.Second,
		maxAttempts:  cfg.MaxAttempts,
		logger:       logger.With(slog.String("component", "webhook_deliverer")),
	}
}

var _ interface {
	NotifyCompletion(ctx context.Context, request *domain.ProcessingRequest) error
} = (*Deliverer)(nil)

// NotifyCompletion attempts first delivery of the completion webhook for a
// finalized request. A delivery failure is not an error from the caller's
// perspective: the failure is converted into a retry record and the request
// stays finalized. Only a failure to persist that record escapes.
func (d *Deliverer) NotifyCompletion(ctx context.Context, request *domain.ProcessingRequest) error {
	log := d.logger.With(slog.String("request_id", request.ID.String()))

	payload, err := json.Marshal(buildPayload(request))
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	deliverErr := d.Deliver(ctx, request.WebhookURL, payload, d.firstTimeout)
	if deliverErr == nil {
		log.Info("webhook delivered on first attempt",
			slog.String("webhook_url", request.WebhookURL))
		return nil
	}

	log.Warn("first webhook delivery failed, scheduling retries",
		slog.String("webhook_url", request.WebhookURL),
		slog.String("error", deliverErr.Error()))

	record, err := domain.NewWebhookRetryRecord(request.ID, request.WebhookURL, payload, deliverErr.Error(), d.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to build retry record: %w", err)
	}

	if err := d.retries.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to persist retry record: %w", err)
	}

	return nil
}

// Deliver POSTs payload to url within the given timeout. Any transport
// error or non-2xx response is a failed delivery.
func (d *Deliverer) Deliver(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

func buildPayload(request *domain.ProcessingRequest) completionPayload {
	success, failed := domain.SuccessFailCounts(request.Products)
	return completionPayload{
		RequestID:    request.ID.String(),
		Status:       string(request.Status),
		SuccessCount: success,
		FailedCount:  failed,
		Timestamp:    time.Now().UTC(),
	}
}
