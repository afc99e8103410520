package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// RetryStatus represents the delivery state of a webhook retry record
type RetryStatus string

// Possible retry record status values
const (
	RetryStatusPending   RetryStatus = "pending"
	RetryStatusCompleted RetryStatus = "completed"
	RetryStatusFailed    RetryStatus = "failed"
)

// DefaultMaxWebhookAttempts is the record-level delivery attempt budget.
const DefaultMaxWebhookAttempts = 10

// Common validation errors for WebhookRetryRecord
var (
	ErrEmptyRetryID         = errors.New("retry record ID cannot be empty")
	ErrEmptyRetryRequestID  = errors.New("retry record request ID cannot be empty")
	ErrEmptyRetryWebhookURL = errors.New("retry record webhook URL cannot be empty")
	ErrEmptyRetryPayload    = errors.New("retry record payload cannot be empty")
	ErrInvalidRetryStatus   = errors.New("invalid retry record status")
)

// WebhookRetryRecord tracks a webhook delivery that failed on its first
// attempt and is being retried across scheduler sweeps. RequestID is a weak
// reference used for lookups only; the record owns its own payload copy so a
// retry never depends on re-reading the request.
type WebhookRetryRecord struct {
	ID           uuid.UUID       `json:"id"`
	RequestID    uuid.UUID       `json:"request_id"`
	WebhookURL   string          `json:"webhook_url"`
	Payload      json.RawMessage `json:"payload"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	NextRetryAt  time.Time       `json:"next_retry_at"`
	LastError    string          `json:"last_error,omitempty"`
	Status       RetryStatus     `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// NewWebhookRetryRecord creates a retry record for a delivery that just
// failed. The record starts pending with zero attempts and is due
// immediately, so the next scheduler sweep picks it up. A non-positive
// maxAttempts falls back to DefaultMaxWebhookAttempts.
func NewWebhookRetryRecord(
	requestID uuid.UUID,
	webhookURL string,
	payload json.RawMessage,
	lastError string,
	maxAttempts int,
) (*WebhookRetryRecord, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxWebhookAttempts
	}

	now := time.Now().UTC()

	record := &WebhookRetryRecord{
		ID:           uuid.New(),
		RequestID:    requestID,
		WebhookURL:   webhookURL,
		Payload:      payload,
		AttemptCount: 0,
		MaxAttempts:  maxAttempts,
		NextRetryAt:  now,
		LastError:    lastError,
		Status:       RetryStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	return record, nil
}

// Validate checks if the WebhookRetryRecord has valid data.
func (r *WebhookRetryRecord) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRetryID
	}

	if r.RequestID == uuid.Nil {
		return ErrEmptyRetryRequestID
	}

	if r.WebhookURL == "" {
		return ErrEmptyRetryWebhookURL
	}

	if len(r.Payload) == 0 {
		return ErrEmptyRetryPayload
	}

	if !isValidRetryStatus(r.Status) {
		return ErrInvalidRetryStatus
	}

	return nil
}

// MarkDelivered records a successful delivery. The attempt that succeeded
// still counts, keeping AttemptCount monotonic across the record's life.
func (r *WebhookRetryRecord) MarkDelivered() {
	r.AttemptCount++
	r.Status = RetryStatusCompleted
	r.UpdatedAt = time.Now().UTC()
}

// MarkAttemptFailed records a failed delivery attempt and schedules the next
// one at now + min(ceiling, base * 2^attemptCount). When the attempt budget
// is exhausted the record becomes terminally failed and is never scheduled
// again.
func (r *WebhookRetryRecord) MarkAttemptFailed(cause string, base, ceiling time.Duration) {
	r.AttemptCount++
	r.LastError = cause

	if r.AttemptCount >= r.MaxAttempts {
		r.Status = RetryStatusFailed
	} else {
		delay := base << r.AttemptCount
		if delay > ceiling || delay <= 0 {
			delay = ceiling
		}
		r.NextRetryAt = time.Now().UTC().Add(delay)
	}

	r.UpdatedAt = time.Now().UTC()
}

// Terminal reports whether the record has reached a state from which no
// further delivery attempt will be made.
func (r *WebhookRetryRecord) Terminal() bool {
	return r.Status == RetryStatusCompleted || r.Status == RetryStatusFailed
}

func isValidRetryStatus(status RetryStatus) bool {
	switch status {
	case RetryStatusPending, RetryStatusCompleted, RetryStatusFailed:
		return true
	default:
		return false
	}
}
