package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/infrastructure/store"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

func TestConnectionManager_ReconnectsAfterOutage(t *testing.T) {
	env := newTestEnv(t, 0, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Replica.ReadyTimeout = 100 * time.Millisecond
	})
	ctx := context.Background()
	env.mustPost(t, "/system/bridges", `{"configuration":{"name":"br0","datapath_type":""}}`)

	env.store.SetDown(true)
	require.Eventually(t, func() bool { return !env.sm.Connection.Ready() }, time.Second, 5*time.Millisecond)

	_, err := env.svc.Get(ctx, "/system/bridges/br0", nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.GetHTTPStatus(err))

	env.store.SetDown(false)
	require.Eventually(t, env.sm.Connection.Ready, time.Second, 5*time.Millisecond)
	assert.Equal(t, "br0", configOf(env.mustGet(t, "/system/bridges/br0"))["name"])
}

func TestConnectionManager_InitialConnectRetries(t *testing.T) {
	st := store.NewMemoryStore(0)
	st.SetDown(true)

	cfg := testConfig()
	sm := NewServiceManager(cfg, loadTestSchema(t), st, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, sm.Connection.Ready())

	st.SetDown(false)
	require.Eventually(t, sm.Connection.Ready, time.Second, 5*time.Millisecond)
	_, ok := sm.Accessor.RootUUID()
	assert.True(t, ok)
}

func TestConnectionManager_WaitReadyHonoursContext(t *testing.T) {
	st := store.NewMemoryStore(0)
	sm := NewServiceManager(testConfig(), loadTestSchema(t), st, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sm.Connection.WaitReady(ctx), context.Canceled)
}

func TestConnectionManager_CommitFailureTakesReplicaOffline(t *testing.T) {
	env := newTestEnv(t, 0, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Replica.ReconnectInterval = time.Hour
	})

	env.store.FailNext(apperrors.ErrDisconnected)
	_, err := env.svc.Post(context.Background(), "/system/bridges", body(t, `{"configuration":{"name":"br0","datapath_type":""}}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, apperrors.GetHTTPStatus(err))
	assert.False(t, env.sm.Replica.Online())
}
