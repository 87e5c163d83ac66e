package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/application/services"
	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/store"
	"github.com/ovsrestd/backend/internal/interfaces/rest"
)

// newLiveRouter serves a real service manager backed by a memory store
func newLiveRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sch, err := schema.Load("../../../testdata/schema.json")
	require.NoError(t, err)
	cfg := &config.Config{
		Server:      config.Server{Prefix: "/rest/v1"},
		Replica:     config.Replica{ReconnectInterval: 20 * time.Millisecond, ReadyTimeout: time.Second},
		Transaction: config.Transaction{Timeout: 2 * time.Second},
	}
	reg := prometheus.NewRegistry()
	sm := services.NewServiceManager(cfg, sch, store.NewMemoryStore(0), reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, sm.Connection.Ready, 2*time.Second, 5*time.Millisecond)

	return rest.NewRouter(rest.RouterConfig{
		Prefix:    cfg.Server.Prefix,
		Resources: sm.Resources,
		Ready:     sm.Connection.Ready,
		Gatherer:  reg,
	})
}

func TestRouter_ResourceLifecycle(t *testing.T) {
	router := newLiveRouter(t)

	w := serve(router, http.MethodPost, "/rest/v1/system/vrfs", []byte(`{"configuration":{"name":"red"}}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(router, http.MethodPost, "/rest/v1/system/vrfs/red/routes",
		[]byte(`{"configuration":{"from":"static","prefix":"10.0.0.0/8","distance":1}}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	assert.Equal(t, "/rest/v1/system/vrfs/red/routes/static/10.0.0.0%2F8", location)

	w = serve(router, http.MethodGet, location, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var route map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &route))
	assert.Equal(t, "10.0.0.0/8", route["configuration"]["prefix"])
	assert.Equal(t, float64(1), route["configuration"]["distance"])

	w = serve(router, http.MethodGet, "/rest/v1/system/vrfs/red/routes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["/rest/v1/system/vrfs/red/routes/static/10.0.0.0%2F8"]`, w.Body.String())

	w = serve(router, http.MethodPatch, location, []byte(`[{"op":"replace","path":"/distance","value":5}]`))
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = serve(router, http.MethodDelete, location, nil)
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = serve(router, http.MethodGet, location, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_StatusMapping(t *testing.T) {
	router := newLiveRouter(t)
	require.Equal(t, http.StatusCreated,
		serve(router, http.MethodPost, "/rest/v1/system/bridges", []byte(`{"configuration":{"name":"br0","datapath_type":""}}`)).Code)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		fields []string
	}{
		{"post to an instance", http.MethodPost, "/rest/v1/system/bridges/br0", `{"configuration":{}}`, http.StatusMethodNotAllowed, nil},
		{"delete the root", http.MethodDelete, "/rest/v1/system", "", http.StatusMethodNotAllowed, nil},
		{"unknown collection", http.MethodGet, "/rest/v1/system/widgets", "", http.StatusNotFound, nil},
		{"unknown attribute", http.MethodPost, "/rest/v1/system/bridges", `{"configuration":{"name":"br1","datapath_type":"","bogus":1}}`, http.StatusBadRequest, []string{"bogus"}},
		{"bad depth", http.MethodGet, "/rest/v1/system/bridges?depth=99", "", http.StatusBadRequest, []string{"depth"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			w := serve(router, tt.method, tt.target, body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.fields != nil {
				assert.Subset(t, errorBody(t, w).Fields, tt.fields)
			}
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router := newLiveRouter(t)
	serve(router, http.MethodPost, "/rest/v1/system/bridges", []byte(`{"configuration":{"name":"br0","datapath_type":""}}`))

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", nil).Code)

	w := serve(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `ovsrestd_transactions_total{status="success"}`)
}
