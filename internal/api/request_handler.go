package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/api/shared"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/service"
)

// RequestHandler handles processing-request HTTP requests
type RequestHandler struct {
	requestService service.RequestService
	validator      *validator.Validate
}

// NewRequestHandler creates a new RequestHandler
func NewRequestHandler(requestService service.RequestService) *RequestHandler {
	return &RequestHandler{
		requestService: requestService,
		validator:      validator.New(),
	}
}

// CreateRequest handles POST /api/requests requests
func (h *RequestHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req CreateRequestRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	products := make([]domain.Product, len(req.Products))
	for i, p := range req.Products {
		products[i] = domain.Product{
			SerialNumber: p.SerialNumber,
			ProductName:  p.ProductName,
			InputURLs:    p.InputURLs,
		}
	}

	request, err := h.requestService.CreateRequestAndEnqueueTask(r.Context(), products, req.WebhookURL)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	// Processing happens asynchronously; the caller polls with the ID
	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateRequestResponse{
		RequestID: request.ID.String(),
	})
}

// GetRequestStatus handles GET /api/requests/{id} requests
func (h *RequestHandler) GetRequestStatus(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.parseRequestID(w, r)
	if !ok {
		return
	}

	request, err := h.requestService.GetRequest(r.Context(), requestID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, requestToStatusResponse(request))
}

// ExportRequestCSV handles GET /api/requests/{id}/export requests. The
// export is only available once processing finished successfully.
func (h *RequestHandler) ExportRequestCSV(w http.ResponseWriter, r *http.Request) {
	requestID, ok := h.parseRequestID(w, r)
	if !ok {
		return
	}

	request, err := h.requestService.GetRequest(r.Context(), requestID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if request.Status != domain.RequestStatusCompleted {
		shared.RespondWithError(w, r, http.StatusBadRequest,
			fmt.Sprintf("Request is not completed (current status: %s)", request.Status))
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().
		Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "request_"+request.ID.String()+".csv"))
	w.WriteHeader(http.StatusOK)

	writeRequestCSV(w, request)
}

// parseRequestID extracts and validates the {id} path parameter.
func (h *RequestHandler) parseRequestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	requestID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request ID")
		return uuid.Nil, false
	}
	return requestID, true
}

// requestToStatusResponse converts a domain.ProcessingRequest to a RequestStatusResponse
func requestToStatusResponse(request *domain.ProcessingRequest) RequestStatusResponse {
	products := make([]ProductStatusResponse, len(request.Products))
	for i, p := range request.Products {
		products[i] = ProductStatusResponse{
			SerialNumber: p.SerialNumber,
			ProductName:  p.ProductName,
			InputURLs:    p.InputURLs,
			OutputURLs:   p.OutputURLs,
			Status:       string(p.Status),
		}
	}

	return RequestStatusResponse{
		RequestID:         request.ID.String(),
		Status:            string(request.Status),
		ProcessedProducts: request.ProcessedProductCount(),
		TotalProducts:     len(request.Products),
		Products:          products,
		CreatedAt:         request.CreatedAt,
		UpdatedAt:         request.UpdatedAt,
	}
}

// writeRequestCSV streams the processed request as CSV. Failed images leave
// an empty slot in the output URL list, keeping it aligned with the inputs.
func writeRequestCSV(w http.ResponseWriter, request *domain.ProcessingRequest) {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	_ = writer.Write([]string{
		"Serial Number", "Product Name", "Input Image Urls", "Output Image Urls", "Status",
	})

	for _, product := range request.Products {
		outputs := make([]string, len(product.OutputURLs))
		for i, out := range product.OutputURLs {
			if out != nil {
				outputs[i] = *out
			}
		}

		_ = writer.Write([]string{
			product.SerialNumber,
			product.ProductName,
			strings.Join(product.InputURLs, ", "),
			strings.Join(outputs, ", "),
			string(product.Status),
		})
	}
}
