package api

import "time"

// ProductInput represents one product row in an ingestion request
type ProductInput struct {
	SerialNumber string   `json:"serialNumber" validate:"required,min=1"`
	ProductName  string   `json:"productName"  validate:"required,min=1"`
	InputURLs    []string `json:"inputUrls"    validate:"required,min=1,dive,required"`
}

// CreateRequestRequest represents the request body for submitting a new
// processing request
type CreateRequestRequest struct {
	Products   []ProductInput `json:"products"   validate:"required,min=1,dive"`
	WebhookURL string         `json:"webhookUrl" validate:"omitempty,url"`
}

// CreateRequestResponse is the acknowledgement returned for an accepted
// processing request
type CreateRequestResponse struct {
	RequestID string `json:"requestId"`
}

// ProductStatusResponse represents one product's processing state
type ProductStatusResponse struct {
	SerialNumber string    `json:"serialNumber"`
	ProductName  string    `json:"productName"`
	InputURLs    []string  `json:"inputUrls"`
	OutputURLs   []*string `json:"outputUrls"`
	Status       string    `json:"status"`
}

// RequestStatusResponse represents the response data for a status query
type RequestStatusResponse struct {
	RequestID         string                  `json:"requestId"`
	Status            string                  `json:"status"`
	ProcessedProducts int                     `json:"processedProducts"`
	TotalProducts     int                     `json:"totalProducts"`
	Products          []ProductStatusResponse `json:"products"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}
