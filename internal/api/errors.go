package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/service"
	"github.com/snapforge/snapforge-api/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, store.ErrRequestNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, domain.ErrNoProducts),
		errors.Is(err, domain.ErrEmptySerialNumber),
		errors.Is(err, domain.ErrEmptyProductName),
		errors.Is(err, domain.ErrNoInputURLs):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, service.ErrRequestNotFound),
		errors.Is(err, store.ErrRequestNotFound):
		return "Request not found"

	case errors.Is(err, domain.ErrNoProducts):
		return "At least one product is required"

	case errors.Is(err, domain.ErrEmptySerialNumber):
		return "Product serial number is required"

	case errors.Is(err, domain.ErrEmptyProductName):
		return "Product name is required"

	case errors.Is(err, domain.ErrNoInputURLs):
		return "Each product needs at least one input image URL"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validation error message
	if strings.Contains(errMsg, "Field validation") {
		// Extract the field name and validation tag
		// Example format: "Key: 'CreateRequestRequest.Products' Error:Field validation for 'Products' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "url":
		return "invalid URL format"
	case "min":
		return "too few entries"
	case "max":
		return "too many entries"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
