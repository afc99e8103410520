package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/snapforge/snapforge-api/internal/domain"
	"github.com/snapforge/snapforge-api/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRequestService scripts service outcomes for handler tests.
type fakeRequestService struct {
	created   *domain.ProcessingRequest
	createErr error
	got       *domain.ProcessingRequest
	getErr    error

	lastProducts   []domain.Product
	lastWebhookURL string
}

func (s *fakeRequestService) CreateRequestAndEnqueueTask(
	ctx context.Context,
	products []domain.Product,
	webhookURL string,
) (*domain.ProcessingRequest, error) {
	s.lastProducts = products
	s.lastWebhookURL = webhookURL
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.created, nil
}

func (s *fakeRequestService) GetRequest(ctx context.Context, requestID uuid.UUID) (*domain.ProcessingRequest, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.got, nil
}

var _ service.RequestService = (*fakeRequestService)(nil)

func newTestRouter(handler *RequestHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/api/requests", handler.CreateRequest)
	r.Get("/api/requests/{id}", handler.GetRequestStatus)
	r.Get("/api/requests/{id}/export", handler.ExportRequestCSV)
	return r
}

func sampleRequest(t *testing.T, status domain.RequestStatus) *domain.ProcessingRequest {
	t.Helper()

	req, err := domain.NewProcessingRequest([]domain.Product{
		{
			SerialNumber: "1",
			ProductName:  "SKU-1",
			InputURLs:    []string{"https://example.com/a.jpg", "https://example.com/b.jpg"},
		},
	}, "")
	require.NoError(t, err)

	okURL := "https://cdn.example.com/processed/a.jpg"
	req.Products[0].OutputURLs = []*string{&okURL, nil}
	req.Products[0].Status = domain.ProductStatusPartiallyProcessed
	require.NoError(t, req.UpdateStatus(status))
	return req
}

func TestCreateRequest_Accepted(t *testing.T) {
	t.Parallel()

	created := sampleRequest(t, domain.RequestStatusPending)
	svc := &fakeRequestService{created: created}
	router := newTestRouter(NewRequestHandler(svc))

	body := `{
		"products": [
			{"serialNumber": "1", "productName": "SKU-1", "inputUrls": ["https://example.com/a.jpg"]}
		],
		"webhookUrl": "https://hooks.example.com/done"
	}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, created.ID.String(), resp.RequestID)

	require.Len(t, svc.lastProducts, 1)
	assert.Equal(t, "SKU-1", svc.lastProducts[0].ProductName)
	assert.Equal(t, "https://hooks.example.com/done", svc.lastWebhookURL)
}

func TestCreateRequest_MalformedJSON(t *testing.T) {
	t.Parallel()

	router := newTestRouter(NewRequestHandler(&fakeRequestService{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString("{not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRequest_ValidationFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"no products", `{"products": []}`},
		{"missing serial number", `{"products": [{"productName": "SKU-1", "inputUrls": ["https://example.com/a.jpg"]}]}`},
		{"missing product name", `{"products": [{"serialNumber": "1", "inputUrls": ["https://example.com/a.jpg"]}]}`},
		{"no input urls", `{"products": [{"serialNumber": "1", "productName": "SKU-1", "inputUrls": []}]}`},
		{"bad webhook url", `{"products": [{"serialNumber": "1", "productName": "SKU-1", "inputUrls": ["https://example.com/a.jpg"]}], "webhookUrl": "not-a-url"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeRequestService{}
			router := newTestRouter(NewRequestHandler(svc))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString(tc.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, svc.lastProducts, "invalid payloads must not reach the service")
		})
	}
}

func TestCreateRequest_ServiceFailure(t *testing.T) {
	t.Parallel()

	svc := &fakeRequestService{createErr: errors.New("connection refused")}
	router := newTestRouter(NewRequestHandler(svc))

	body := `{"products": [{"serialNumber": "1", "productName": "SKU-1", "inputUrls": ["https://example.com/a.jpg"]}]}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused", "internal details must not leak")
}

func TestGetRequestStatus_Success(t *testing.T) {
	t.Parallel()

	stored := sampleRequest(t, domain.RequestStatusProcessing)
	router := newTestRouter(NewRequestHandler(&fakeRequestService{got: stored}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+stored.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp RequestStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, stored.ID.String(), resp.RequestID)
	assert.Equal(t, "PROCESSING", resp.Status)
	assert.Equal(t, 0, resp.ProcessedProducts)
	assert.Equal(t, 1, resp.TotalProducts)
	require.Len(t, resp.Products, 1)
	require.Len(t, resp.Products[0].OutputURLs, 2)
	assert.NotNil(t, resp.Products[0].OutputURLs[0])
	assert.Nil(t, resp.Products[0].OutputURLs[1], "failed slots stay null in the response")
}

func TestGetRequestStatus_InvalidID(t *testing.T) {
	t.Parallel()

	router := newTestRouter(NewRequestHandler(&fakeRequestService{}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/not-a-uuid", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRequestStatus_NotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(NewRequestHandler(&fakeRequestService{getErr: service.ErrRequestNotFound}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+uuid.NewString(), nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportRequestCSV_Completed(t *testing.T) {
	t.Parallel()

	stored := sampleRequest(t, domain.RequestStatusCompleted)
	router := newTestRouter(NewRequestHandler(&fakeRequestService{got: stored}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+stored.ID.String()+"/export", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "request_"+stored.ID.String()+".csv")

	rows, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2, "header plus one product row")

	assert.Equal(t, []string{"Serial Number", "Product Name", "Input Image Urls", "Output Image Urls", "Status"}, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "SKU-1", rows[1][1])
	assert.Equal(t, "https://example.com/a.jpg, https://example.com/b.jpg", rows[1][2])
	assert.Equal(t, "https://cdn.example.com/processed/a.jpg, ", rows[1][3], "failed image leaves an empty slot")
}

func TestExportRequestCSV_NotCompleted(t *testing.T) {
	t.Parallel()

	for _, status := range []domain.RequestStatus{
		domain.RequestStatusPending,
		domain.RequestStatusProcessing,
		domain.RequestStatusFailed,
	} {
		stored := sampleRequest(t, status)
		router := newTestRouter(NewRequestHandler(&fakeRequestService{got: stored}))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+stored.ID.String()+"/export", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code, "export must be rejected while %s", status)
	}
}

func TestExportRequestCSV_NotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(NewRequestHandler(&fakeRequestService{getErr: service.ErrRequestNotFound}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/requests/"+uuid.NewString()+"/export", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
