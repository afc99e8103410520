package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RequestStatus represents the processing state of a ProcessingRequest
type RequestStatus string

// Possible request status values
const (
	RequestStatusPending    RequestStatus = "PENDING"
	RequestStatusProcessing RequestStatus = "PROCESSING"
	RequestStatusCompleted  RequestStatus = "COMPLETED"
	RequestStatusFailed     RequestStatus = "FAILED"
)

// ProductStatus represents the processing state of a single product
type ProductStatus string

// Possible product status values
const (
	ProductStatusPending            ProductStatus = "PENDING"
	ProductStatusProcessed          ProductStatus = "PROCESSED"
	ProductStatusPartiallyProcessed ProductStatus = "PARTIALLY_PROCESSED"
	ProductStatusFailed             ProductStatus = "FAILED"
)

// Common validation errors for ProcessingRequest
var (
	ErrEmptyRequestID       = errors.New("request ID cannot be empty")
	ErrNoProducts           = errors.New("request must contain at least one product")
	ErrInvalidRequestStatus = errors.New("invalid request status")
	ErrEmptyProductName     = errors.New("product name cannot be empty")
	ErrEmptySerialNumber    = errors.New("product serial number cannot be empty")
	ErrNoInputURLs          = errors.New("product must contain at least one input URL")
	ErrInvalidProductStatus = errors.New("invalid product status")
)

// Product is one row of a bulk processing request. OutputURLs is kept
// index-aligned with InputURLs: a nil entry marks an image that failed to
// process, it is never dropped.
type Product struct {
	SerialNumber string        `json:"serial_number"`
	ProductName  string        `json:"product_name"`
	InputURLs    []string      `json:"input_urls"`
	OutputURLs   []*string     `json:"output_urls"`
	Status       ProductStatus `json:"status"`
}

// ProcessingRequest is the aggregate for one bulk image-processing submission.
// It is created at ingestion and mutated only by the image worker.
type ProcessingRequest struct {
	ID         uuid.UUID     `json:"id"`
	Status     RequestStatus `json:"status"`
	WebhookURL string        `json:"webhook_url,omitempty"`
	Products   []Product     `json:"products"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// NewProcessingRequest creates a new ProcessingRequest with the given products
// and optional webhook URL. It generates a new UUID, sets the status to
// PENDING on the request and every product, and sets the timestamps.
// Returns an error if validation fails.
func NewProcessingRequest(products []Product, webhookURL string) (*ProcessingRequest, error) {
	now := time.Now().UTC()

	req := &ProcessingRequest{
		ID:         uuid.New(),
		Status:     RequestStatusPending,
		WebhookURL: webhookURL,
		Products:   products,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for i := range req.Products {
		req.Products[i].Status = ProductStatusPending
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// Validate checks if the ProcessingRequest has valid data.
// Returns an error if any field fails validation.
func (r *ProcessingRequest) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRequestID
	}

	if len(r.Products) == 0 {
		return ErrNoProducts
	}

	if !isValidRequestStatus(r.Status) {
		return ErrInvalidRequestStatus
	}

	for i := range r.Products {
		if err := r.Products[i].Validate(); err != nil {
			return err
		}
	}

	return nil
}

// UpdateStatus updates the request's status and the UpdatedAt timestamp.
// Returns an error if the new status is invalid.
func (r *ProcessingRequest) UpdateStatus(status RequestStatus) error {
	if !isValidRequestStatus(status) {
		return ErrInvalidRequestStatus
	}

	r.Status = status
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ProcessedProductCount returns the number of products that were fully processed.
func (r *ProcessingRequest) ProcessedProductCount() int {
	count := 0
	for i := range r.Products {
		if r.Products[i].Status == ProductStatusProcessed {
			count++
		}
	}
	return count
}

// Validate checks if the Product has valid data.
func (p *Product) Validate() error {
	if p.SerialNumber == "" {
		return ErrEmptySerialNumber
	}

	if p.ProductName == "" {
		return ErrEmptyProductName
	}

	if len(p.InputURLs) == 0 {
		return ErrNoInputURLs
	}

	if !isValidProductStatus(p.Status) {
		return ErrInvalidProductStatus
	}

	return nil
}

func isValidRequestStatus(status RequestStatus) bool {
	switch status {
	case RequestStatusPending, RequestStatusProcessing,
		RequestStatusCompleted, RequestStatusFailed:
		return true
	default:
		return false
	}
}

func isValidProductStatus(status ProductStatus) bool {
	switch status {
	case ProductStatusPending, ProductStatusProcessed,
		ProductStatusPartiallyProcessed, ProductStatusFailed:
		return true
	default:
		return false
	}
}
