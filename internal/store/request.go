package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
)

// RequestStore defines the persistence interface for processing requests.
// Updates always write the full aggregate: the work queue guarantees a single
// writer per request, so read-modify-write cycles need no extra locking.
type RequestStore interface {
	// Create saves a new processing request to the store.
	Create(ctx context.Context, request *domain.ProcessingRequest) error

	// GetByID retrieves a processing request by its unique ID.
	// Returns ErrRequestNotFound if the request does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingRequest, error)

	// Update saves changes to an existing processing request, including its
	// full product list. Returns ErrRequestNotFound if the request does not
	// exist.
	Update(ctx context.Context, request *domain.ProcessingRequest) error
}
