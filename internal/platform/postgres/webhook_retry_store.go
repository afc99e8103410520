package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/platform/logger"
	"github.com/snapforge/snapforge-api/internal/store"
)

// PostgresWebhookRetryStore implements the store.WebhookRetryStore interface
// using a PostgreSQL database as the storage backend.
type PostgresWebhookRetryStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWebhookRetryStore creates a new PostgreSQL implementation of
// the WebhookRetryStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresWebhookRetryStore(db store.DBTX, logger *slog.Logger) *PostgresWebhookRetryStore {
	if db == nil {
		panic("db cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresWebhookRetryStore{
		db:     db,
		logger: logger.With(slog.String("component", "webhook_retry_store")),
	}
}

// Ensure PostgresWebhookRetryStore implements store.WebhookRetryStore interface
var _ store.WebhookRetryStore = (*PostgresWebhookRetryStore)(nil)

// Create implements store.WebhookRetryStore.Create
func (s *PostgresWebhookRetryStore) Create(ctx context.Context, record *domain.WebhookRetryRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		log.Warn("retry record validation failed during create",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return err
	}

	query := `
		INSERT INTO webhook_retries
			(id, request_id, webhook_url, payload, attempt_count, max_attempts,
			 next_retry_at, last_error, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.RequestID,
		record.WebhookURL,
		[]byte(record.Payload),
		record.AttemptCount,
		record.MaxAttempts,
		record.NextRetryAt,
		record.LastError,
		record.Status,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to save webhook retry record",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return MapError(err)
	}

	return nil
}

// GetByID implements store.WebhookRetryStore.GetByID
// Returns store.ErrRetryRecordNotFound if the record does not exist.
func (s *PostgresWebhookRetryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookRetryRecord, error) {
	query := selectRetryColumns + ` WHERE id = $1`

	record, err := s.scanRetryRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrRetryRecordNotFound
		}
		return nil, MapError(err)
	}

	return record, nil
}

// Update implements store.WebhookRetryStore.Update
// Returns store.ErrRetryRecordNotFound if the record does not exist.
func (s *PostgresWebhookRetryStore) Update(ctx context.Context, record *domain.WebhookRetryRecord) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := record.Validate(); err != nil {
		log.Warn("retry record validation failed during update",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return err
	}

	record.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE webhook_retries
		SET attempt_count = $1, next_retry_at = $2, last_error = $3,
		    status = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := s.db.ExecContext(
		ctx,
		query,
		record.AttemptCount,
		record.NextRetryAt,
		record.LastError,
		record.Status,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		log.Error("failed to update webhook retry record",
			slog.String("error", err.Error()),
			slog.String("record_id", record.ID.String()))
		return MapError(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrRetryRecordNotFound
	}

	return nil
}

// FindDue implements store.WebhookRetryStore.FindDue
func (s *PostgresWebhookRetryStore) FindDue(ctx context.Context, now time.Time) ([]*domain.WebhookRetryRecord, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := selectRetryColumns + `
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, domain.RetryStatusPending, now)
	if err != nil {
		log.Error("failed to query due retry records",
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer rows.Close()

	var records []*domain.WebhookRetryRecord
	for rows.Next() {
		record, err := s.scanRetryRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retry record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating retry record rows: %w", err)
	}

	return records, nil
}

const selectRetryColumns = `
	SELECT id, request_id, webhook_url, payload, attempt_count, max_attempts,
	       next_retry_at, last_error, status, created_at, updated_at
	FROM webhook_retries
`

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *PostgresWebhookRetryStore) scanRetryRecord(row scanner) (*domain.WebhookRetryRecord, error) {
	var (
		record  domain.WebhookRetryRecord
		payload []byte
	)

	err := row.Scan(
		&record.ID,
		&record.RequestID,
		&record.WebhookURL,
		&payload,
		&record.AttemptCount,
		&record.MaxAttempts,
		&record.NextRetryAt,
		&record.LastError,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Payload = payload
	return &record, nil
}
