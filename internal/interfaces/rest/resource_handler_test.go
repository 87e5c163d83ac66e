package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/interfaces/rest"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// MockResourceService is a mock implementation of the ResourceService
type MockResourceService struct {
	mock.Mock
}

func (m *MockResourceService) Get(ctx context.Context, path string, query url.Values) (any, error) {
	args := m.Called(ctx, path, query)
	return args.Get(0), args.Error(1)
}

func (m *MockResourceService) Post(ctx context.Context, path string, body map[string]any) (string, error) {
	args := m.Called(ctx, path, body)
	return args.String(0), args.Error(1)
}

func (m *MockResourceService) Put(ctx context.Context, path string, body map[string]any) error {
	args := m.Called(ctx, path, body)
	return args.Error(0)
}

func (m *MockResourceService) Patch(ctx context.Context, path string, patch []byte) (bool, error) {
	args := m.Called(ctx, path, patch)
	return args.Bool(0), args.Error(1)
}

func (m *MockResourceService) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func newMockRouter(svc rest.ResourceService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return rest.NewRouter(rest.RouterConfig{Prefix: "/rest/v1", Resources: svc})
}

func serve(router http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) apperrors.ErrorResponse {
	t.Helper()
	var resp apperrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestResourceHandler_Get(t *testing.T) {
	svc := new(MockResourceService)
	router := newMockRouter(svc)

	svc.On("Get", mock.Anything, "/system/bridges", mock.MatchedBy(func(q url.Values) bool {
		return q.Get("depth") == "1"
	})).Return([]any{map[string]any{"configuration": map[string]any{"name": "br0"}}}, nil)

	w := serve(router, http.MethodGet, "/rest/v1/system/bridges?depth=1", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"configuration":{"name":"br0"}}]`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestResourceHandler_GetKeepsEscapedSegments(t *testing.T) {
	svc := new(MockResourceService)
	router := newMockRouter(svc)

	svc.On("Get", mock.Anything, "/system/vrfs/red/routes/static/10.0.0.0%2F8", mock.Anything).
		Return(map[string]any{}, nil)

	w := serve(router, http.MethodGet, "/rest/v1/system/vrfs/red/routes/static/10.0.0.0%2F8", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestResourceHandler_Post(t *testing.T) {
	svc := new(MockResourceService)
	router := newMockRouter(svc)

	svc.On("Post", mock.Anything, "/system/bridges", mock.MatchedBy(func(body map[string]any) bool {
		cfg, ok := body["configuration"].(map[string]any)
		// numbers stay json.Number so integers are not rounded
		return ok && cfg["name"] == "br0" && cfg["mtu"] == json.Number("9000")
	})).Return("/rest/v1/system/bridges/br0", nil)

	w := serve(router, http.MethodPost, "/rest/v1/system/bridges",
		[]byte(`{"configuration":{"name":"br0","mtu":9000}}`))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/rest/v1/system/bridges/br0", w.Header().Get("Location"))
	svc.AssertExpectations(t)
}

func TestResourceHandler_BadBodies(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   []byte
	}{
		{"empty post", http.MethodPost, nil},
		{"malformed post", http.MethodPost, []byte(`{"configuration":`)},
		{"array post", http.MethodPost, []byte(`[1,2]`)},
		{"null put", http.MethodPut, []byte(`null`)},
		{"trailing data", http.MethodPut, []byte(`{} {}`)},
		{"empty patch", http.MethodPatch, []byte(`  `)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockResourceService)
			router := newMockRouter(svc)

			w := serve(router, tt.method, "/rest/v1/system/bridges/br0", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := errorBody(t, w)
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			assert.Equal(t, []string{"body"}, resp.Fields)
			svc.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
			svc.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
			svc.AssertNotCalled(t, "Patch", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestResourceHandler_PutPatchDelete(t *testing.T) {
	svc := new(MockResourceService)
	router := newMockRouter(svc)
	patch := []byte(`[{"op":"test","path":"/name","value":"br0"}]`)

	svc.On("Put", mock.Anything, "/system/bridges/br0", mock.Anything).Return(nil)
	svc.On("Patch", mock.Anything, "/system/bridges/br0", patch).Return(false, nil)
	svc.On("Delete", mock.Anything, "/system/bridges/br0").Return(nil)

	w := serve(router, http.MethodPut, "/rest/v1/system/bridges/br0", []byte(`{"configuration":{}}`))
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(router, http.MethodPatch, "/rest/v1/system/bridges/br0", patch)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(router, http.MethodDelete, "/rest/v1/system/bridges/br0", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	svc.AssertExpectations(t)
}

func TestResourceHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		fields []string
	}{
		{"not found", apperrors.NewNotFoundError("/system/x", ""), http.StatusNotFound, "NOT_FOUND", nil},
		{"validation", apperrors.ValidationErrors{
			apperrors.NewValidationError("name", "required"),
			apperrors.NewValidationError("tag", "out of range"),
		}, http.StatusBadRequest, "VALIDATION_ERROR", []string{"name", "tag"}},
		{"method", apperrors.NewMethodNotAllowedError(http.MethodDelete, "the root"), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", nil},
		{"try again", apperrors.NewTransactionError("try-again", ""), http.StatusConflict, "TRANSACTION_FAILED", nil},
		{"unavailable", apperrors.NewUnavailableError("session down"), http.StatusServiceUnavailable, "UNAVAILABLE", nil},
		{"timeout", apperrors.NewTimeoutError("commit"), http.StatusGatewayTimeout, "TIMEOUT", nil},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "UNKNOWN_ERROR", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockResourceService)
			router := newMockRouter(svc)
			svc.On("Delete", mock.Anything, "/system").Return(tt.err)

			w := serve(router, http.MethodDelete, "/rest/v1/system", nil)

			assert.Equal(t, tt.status, w.Code)
			resp := errorBody(t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Message)
			assert.Equal(t, tt.fields, resp.Fields)
		})
	}
}

func TestResourceHandler_UnsupportedMethod(t *testing.T) {
	svc := new(MockResourceService)
	router := newMockRouter(svc)

	w := serve(router, http.MethodHead, "/rest/v1/system", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	svc.AssertExpectations(t)
}

func TestRouter_Health(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ready := false
	router := rest.NewRouter(rest.RouterConfig{
		Prefix:    "/rest/v1",
		Resources: new(MockResourceService),
		Ready:     func() bool { return ready },
	})

	assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/health", nil).Code)
	ready = true
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", nil).Code)
}
