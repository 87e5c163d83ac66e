package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/store"
)

const testPrefix = "/rest/v1"

type testEnv struct {
	sm       *ServiceManager
	store    *store.MemoryStore
	registry *prometheus.Registry
	svc      *ResourceService
	cancel   context.CancelFunc
	done     chan error
}

func loadTestSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Load("../../../testdata/schema.json")
	require.NoError(t, err)
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.Server{Prefix: testPrefix},
		Replica: config.Replica{
			ReconnectInterval: 20 * time.Millisecond,
			ReadyTimeout:      time.Second,
		},
		Transaction: config.Transaction{Timeout: 2 * time.Second},
	}
}

// newTestEnv starts a service manager over a memory store and waits until the
// root row exists. mutate may adjust the config or seed the store.
func newTestEnv(t *testing.T, latency time.Duration, mutate ...func(*config.Config, *store.MemoryStore)) *testEnv {
	t.Helper()
	cfg := testConfig()
	st := store.NewMemoryStore(latency)
	for _, fn := range mutate {
		fn(cfg, st)
	}

	reg := prometheus.NewRegistry()
	sm := NewServiceManager(cfg, loadTestSchema(t), st, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	env := &testEnv{sm: sm, store: st, registry: reg, svc: sm.Resources, cancel: cancel, done: make(chan error, 1)}
	go func() { env.done <- sm.Run(ctx) }()
	t.Cleanup(env.stop)

	require.Eventually(t, sm.Connection.Ready, 2*time.Second, 5*time.Millisecond, "session never became ready")
	_, ok := sm.Accessor.RootUUID()
	require.True(t, ok, "root row missing")
	return env
}

func (e *testEnv) stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
}

// body decodes a JSON document the way the HTTP layer does
func body(t *testing.T, doc string) map[string]any {
	t.Helper()
	var out map[string]any
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&out))
	return out
}

func (e *testEnv) mustPost(t *testing.T, path, doc string) string {
	t.Helper()
	uri, err := e.svc.Post(context.Background(), path, body(t, doc))
	require.NoError(t, err)
	return uri
}

func (e *testEnv) mustGet(t *testing.T, path string) map[string]any {
	t.Helper()
	out, err := e.svc.Get(context.Background(), path, nil)
	require.NoError(t, err)
	obj, ok := out.(map[string]any)
	require.True(t, ok, "expected an object, got %T", out)
	return obj
}

func configOf(obj map[string]any) map[string]any {
	cfg, _ := obj["configuration"].(map[string]any)
	return cfg
}
