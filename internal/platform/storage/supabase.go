// Package storage provides the object storage backend for processed images.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/snapforge/snapforge-api/internal/config"
	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore uploads processed images to a Supabase storage bucket and
// resolves their public URLs. It implements imagepipe.ObjectStore.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
	logger *slog.Logger
}

// NewSupabaseStore creates a store backed by the configured Supabase project.
// If logger is nil, a default logger will be used.
func NewSupabaseStore(cfg config.StorageConfig, logger *slog.Logger) *SupabaseStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &SupabaseStore{
		client: storage_go.NewClient(cfg.URL, cfg.ServiceKey, nil),
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "supabase_store")),
	}
}

// Upload stores data under key in the configured bucket and returns the
// object's public URL. Keys are never overwritten; each processed image
// gets a unique key upstream.
func (s *SupabaseStore) Upload(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// Keys are content-addressed per image, so cached copies never go stale.
	cacheControl := "public, max-age=31536000"
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &cacheControl,
	})
	if err != nil {
		s.logger.Error("failed to upload object",
			slog.String("bucket", s.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return "", fmt.Errorf("failed to upload object %q: %w", key, err)
	}

	publicURL := s.client.GetPublicUrl(s.bucket, key).SignedURL

	s.logger.Debug("object uploaded",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(data)))

	return publicURL, nil
}
