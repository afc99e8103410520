// Package imagepipe implements the image transformation pipeline: it
// downloads a source image over HTTP, re-encodes it as a compressed JPEG,
// and uploads the result to object storage. Throughput is capped by a
// shared token-bucket limiter so a burst of tasks cannot overwhelm
// downstream transform and storage capacity.
package imagepipe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/config"
	"golang.org/x/time/rate"
)

// Sentinel errors for the failure modes callers may want to distinguish.
var (
	// ErrUnsupportedContent indicates the source URL served something that
	// is not an image.
	ErrUnsupportedContent = errors.New("unsupported content type")

	// ErrDownloadFailed indicates the source image could not be fetched.
	ErrDownloadFailed = errors.New("image download failed")
)

// maxDownloadBytes caps how much of a response body is read. Source URLs
// are caller-supplied, so an unbounded read is an invitation for abuse.
const maxDownloadBytes = 32 << 20

// maxRedirects caps redirect chains on caller-supplied URLs.
const maxRedirects = 5

// userAgent mirrors what image CDNs expect from a well-behaved fetcher.
const userAgent = "Mozilla/5.0 (compatible; ImageProcessor/1.0)"

// ObjectStore persists processed image bytes and returns a public URL for
// the stored object.
type ObjectStore interface {
	Upload(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Processor downloads, transforms, and stores a single image. It is safe
// for concurrent use; all workers share one rate limiter.
type Processor struct {
	client  *http.Client
	store   ObjectStore
	limiter *rate.Limiter
	quality int
	logger  *slog.Logger
}

// NewProcessor creates a Processor configured from cfg.
// If logger is nil, a default logger will be used.
func NewProcessor(store ObjectStore, cfg config.WorkerConfig, logger *slog.Logger) *Processor {
	if store == nil {
		panic("store cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Processor{
		client: &http.Client{
			Timeout: time.Duration(cfg.DownloadTimeoutSeconds) * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.TransformsPerSecond), cfg.TransformsPerSecond),
		quality: cfg.JPEGQuality,
		logger:  logger.With(slog.String("component", "image_processor")),
	}
}

// Process fetches the image at sourceURL, re-encodes it as a JPEG at the
// configured quality, and uploads it under the owning request's prefix.
// It returns the public URL of the stored object.
func (p *Processor) Process(ctx context.Context, sourceURL string, requestID uuid.UUID) (string, error) {
	raw, err := p.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	// The ceiling applies to transform starts, not downloads. Waiting here
	// lets slow fetches overlap while still pacing the CPU-bound work.
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait interrupted: %w", err)
	}

	compressed, err := p.transform(raw)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("processed/%s/%s.jpg", requestID, uuid.New())

	publicURL, err := p.store.Upload(ctx, key, "image/jpeg", compressed)
	if err != nil {
		return "", fmt.Errorf("failed to upload processed image: %w", err)
	}

	p.logger.Debug("image processed",
		slog.String("source_url", sourceURL),
		slog.String("key", key),
		slog.Int("input_bytes", len(raw)),
		slog.Int("output_bytes", len(compressed)))

	return publicURL, nil
}

func (p *Processor) download(ctx context.Context, sourceURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrDownloadFailed, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrDownloadFailed, err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrDownloadFailed, maxDownloadBytes)
	}

	return data, nil
}

// transform decodes the source image and re-encodes it as a JPEG at the
// configured quality. The output is always JPEG regardless of input format.
func (p *Processor) transform(raw []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedContent, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
