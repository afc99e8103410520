package domain

import (
	"testing"

	"github.com/google/uuid"
)

func validProducts() []Product {
	return []Product{
		{
			SerialNumber: "1",
			ProductName:  "SKU-1",
			InputURLs:    []string{"https://example.com/one.jpg", "https://example.com/two.jpg"},
		},
		{
			SerialNumber: "2",
			ProductName:  "SKU-2",
			InputURLs:    []string{"https://example.com/three.jpg"},
		},
	}
}

func TestNewProcessingRequest(t *testing.T) {
	t.Parallel()

	req, err := NewProcessingRequest(validProducts(), "https://hooks.example.com/done")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if req.ID == uuid.Nil {
		t.Error("Expected non-nil UUID, got nil UUID")
	}

	if req.Status != RequestStatusPending {
		t.Errorf("Expected status %v, got %v", RequestStatusPending, req.Status)
	}

	for i, p := range req.Products {
		if p.Status != ProductStatusPending {
			t.Errorf("Expected product %d status %v, got %v", i, ProductStatusPending, p.Status)
		}
	}

	if req.CreatedAt.IsZero() {
		t.Error("Expected non-zero CreatedAt time")
	}

	if req.UpdatedAt.IsZero() {
		t.Error("Expected non-zero UpdatedAt time")
	}

	// Test empty product list
	_, err = NewProcessingRequest(nil, "")
	if err != ErrNoProducts {
		t.Errorf("Expected error %v, got %v", ErrNoProducts, err)
	}

	// Test product missing serial number
	bad := validProducts()
	bad[0].SerialNumber = ""
	_, err = NewProcessingRequest(bad, "")
	if err != ErrEmptySerialNumber {
		t.Errorf("Expected error %v, got %v", ErrEmptySerialNumber, err)
	}

	// Test product missing name
	bad = validProducts()
	bad[1].ProductName = ""
	_, err = NewProcessingRequest(bad, "")
	if err != ErrEmptyProductName {
		t.Errorf("Expected error %v, got %v", ErrEmptyProductName, err)
	}

	// Test product with no input URLs
	bad = validProducts()
	bad[0].InputURLs = nil
	_, err = NewProcessingRequest(bad, "")
	if err != ErrNoInputURLs {
		t.Errorf("Expected error %v, got %v", ErrNoInputURLs, err)
	}
}

func TestProcessingRequestUpdateStatus(t *testing.T) {
	t.Parallel()

	req, err := NewProcessingRequest(validProducts(), "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	before := req.UpdatedAt

	if err := req.UpdateStatus(RequestStatusProcessing); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if req.Status != RequestStatusProcessing {
		t.Errorf("Expected status %v, got %v", RequestStatusProcessing, req.Status)
	}

	if req.UpdatedAt.Before(before) {
		t.Error("Expected UpdatedAt to advance")
	}

	if err := req.UpdateStatus("NOT_A_STATUS"); err != ErrInvalidRequestStatus {
		t.Errorf("Expected error %v, got %v", ErrInvalidRequestStatus, err)
	}
}

func TestProcessedProductCount(t *testing.T) {
	t.Parallel()

	req, err := NewProcessingRequest(validProducts(), "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if got := req.ProcessedProductCount(); got != 0 {
		t.Errorf("Expected 0 processed products, got %d", got)
	}

	req.Products[0].Status = ProductStatusProcessed
	req.Products[1].Status = ProductStatusPartiallyProcessed

	if got := req.ProcessedProductCount(); got != 1 {
		t.Errorf("Expected 1 processed product, got %d", got)
	}
}
