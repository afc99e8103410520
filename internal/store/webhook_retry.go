package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
)

// WebhookRetryStore defines the persistence interface for webhook retry
// records.
type WebhookRetryStore interface {
	// Create saves a new retry record to the store.
	Create(ctx context.Context, record *domain.WebhookRetryRecord) error

	// GetByID retrieves a retry record by its unique ID.
	// Returns ErrRetryRecordNotFound if the record does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookRetryRecord, error)

	// Update saves changes to an existing retry record.
	// Returns ErrRetryRecordNotFound if the record does not exist.
	Update(ctx context.Context, record *domain.WebhookRetryRecord) error

	// FindDue retrieves all pending records whose next retry time is at or
	// before the given instant, ordered by next retry time.
	FindDue(ctx context.Context, now time.Time) ([]*domain.WebhookRetryRecord, error)
}
