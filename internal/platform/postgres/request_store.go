package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/platform/logger"
	"github.com/snapforge/snapforge-api/internal/store"
)

// PostgresRequestStore implements the store.RequestStore interface using a
// PostgreSQL database as the storage backend. Products are stored as a JSONB
// document on the request row, matching the aggregate's single-writer update
// pattern.
type PostgresRequestStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRequestStore creates a new PostgreSQL implementation of the
// RequestStore interface. It accepts a database connection or transaction
// that should be initialized and managed by the caller.
// If logger is nil, a default logger will be used.
func NewPostgresRequestStore(db store.DBTX, logger *slog.Logger) *PostgresRequestStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRequestStore{
		db:     db,
		logger: logger.With(slog.String("component", "request_store")),
	}
}

// Ensure PostgresRequestStore implements store.RequestStore interface
var _ store.RequestStore = (*PostgresRequestStore)(nil)

// Create implements store.RequestStore.Create
func (s *PostgresRequestStore) Create(ctx context.Context, request *domain.ProcessingRequest) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := request.Validate(); err != nil {
		log.Warn("request validation failed during create",
			slog.String("error", err.Error()),
			slog.String("request_id", request.ID.String()))
		return err
	}

	products, err := json.Marshal(request.Products)
	if err != nil {
		return fmt.Errorf("failed to marshal products: %w", err)
	}

	query := `
		INSERT INTO processing_requests (id, status, webhook_url, products, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(
		ctx,
		query,
		request.ID,
		request.Status,
		request.WebhookURL,
		products,
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save processing request",
			slog.String("error", err.Error()),
			slog.String("request_id", request.ID.String()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.RequestStore.GetByID
// Returns store.ErrRequestNotFound if the request does not exist.
func (s *PostgresRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessingRequest, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, status, webhook_url, products, created_at, updated_at
		FROM processing_requests
		WHERE id = $1
	`

	var (
		request     domain.ProcessingRequest
		rawProducts []byte
	)

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&request.ID,
		&request.Status,
		&request.WebhookURL,
		&rawProducts,
		&request.CreatedAt,
		&request.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRequestNotFound
		}
		log.Error("failed to get processing request",
			slog.String("error", err.Error()),
			slog.String("request_id", id.String()))
		return nil, MapError(err)
	}

	if err := json.Unmarshal(rawProducts, &request.Products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal products: %w", err)
	}

	return &request, nil
}

// Update implements store.RequestStore.Update
// Returns store.ErrRequestNotFound if the request does not exist.
func (s *PostgresRequestStore) Update(ctx context.Context, request *domain.ProcessingRequest) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := request.Validate(); err != nil {
		log.Warn("request validation failed during update",
			slog.String("error", err.Error()),
			slog.String("request_id", request.ID.String()))
		return err
	}

	products, err := json.Marshal(request.Products)
	if err != nil {
		return fmt.Errorf("failed to marshal products: %w", err)
	}

	request.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE processing_requests
		SET status = $1, products = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		request.Status,
		products,
		request.UpdatedAt,
		request.ID,
	)
	if err != nil {
		log.Error("failed to update processing request",
			slog.String("error", err.Error()),
			slog.String("request_id", request.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrRequestNotFound
	}

	return nil
}
