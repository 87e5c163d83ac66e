package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/internal/infrastructure/store"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

const rootID = "0e9f6f5c-4b44-4c3e-9d38-2f1f4d9c1a10"

func seedRoot(_ *config.Config, st *store.MemoryStore) {
	st.Seed("System", rootID, map[string]any{"hostname": "switch"})
}

func TestCoordinator_OutcomeMapping(t *testing.T) {
	tests := []struct {
		status replica.Status
		code   int
	}{
		{replica.StatusSuccess, 0},
		{replica.StatusUnchanged, 0},
		{replica.StatusTryAgain, http.StatusConflict},
		{replica.StatusError, http.StatusInternalServerError},
		{replica.StatusAborted, http.StatusInternalServerError},
		{replica.StatusNotLocked, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := outcome(tt.status, "detail")
			if tt.code == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsTransaction(err))
			assert.Equal(t, tt.code, apperrors.GetHTTPStatus(err))
		})
	}
}

func TestCoordinator_SeededRootIsKept(t *testing.T) {
	env := newTestEnv(t, 0, seedRoot)

	id, ok := env.sm.Accessor.RootUUID()
	require.True(t, ok)
	assert.Equal(t, rootID, id)
	assert.Equal(t, "switch", configOf(env.mustGet(t, "/system"))["hostname"])
}

func TestCoordinator_Timeout(t *testing.T) {
	env := newTestEnv(t, 300*time.Millisecond, seedRoot, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Transaction.Timeout = 50 * time.Millisecond
	})

	_, err := env.svc.Post(context.Background(), "/system/bridges", body(t, `{"configuration":{"name":"br0","datapath_type":""}}`))
	require.Error(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, apperrors.GetHTTPStatus(err))

	// the commit keeps going and lands once the store answers
	require.Eventually(t, func() bool {
		return len(env.sm.Accessor.Rows("Bridge")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.sm.Metrics.Pending) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCoordinator_ReaperDropsStaleCommits(t *testing.T) {
	env := newTestEnv(t, 3*time.Second, seedRoot, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Transaction.Timeout = 0
		cfg.Transaction.PendingTTL = 10 * time.Millisecond
		cfg.Transaction.ReapSchedule = "@every 1s"
	})

	start := time.Now()
	_, err := env.svc.Post(context.Background(), "/system/bridges", body(t, `{"configuration":{"name":"br0","datapath_type":""}}`))
	require.Error(t, err)
	assert.True(t, apperrors.IsTransaction(err))
	assert.Equal(t, http.StatusInternalServerError, apperrors.GetHTTPStatus(err))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestCoordinator_ShutdownReleasesPending(t *testing.T) {
	env := newTestEnv(t, 2*time.Second, seedRoot, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Transaction.Timeout = 0
	})

	doc := body(t, `{"configuration":{"name":"br0","datapath_type":""}}`)
	errc := make(chan error, 1)
	go func() {
		_, err := env.svc.Post(context.Background(), "/system/bridges", doc)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(env.sm.Metrics.Pending) == 1
	}, time.Second, 5*time.Millisecond)

	env.stop()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.Equal(t, http.StatusConflict, apperrors.GetHTTPStatus(err))
	case <-time.After(time.Second):
		t.Fatal("pending commit was not released on shutdown")
	}
}

func TestCoordinator_SubmitAfterStop(t *testing.T) {
	env := newTestEnv(t, 0)
	env.stop()

	txn := env.sm.Replica.NewTxn()
	_, err := txn.Insert("Syslog_Remote")
	require.NoError(t, err)
	_, err = env.sm.Coordinator.Submit(context.Background(), txn)
	require.Error(t, err)
	// the replica went offline with the session
	assert.Equal(t, http.StatusConflict, apperrors.GetHTTPStatus(err))
}

func TestCoordinator_ContextCancel(t *testing.T) {
	env := newTestEnv(t, time.Second, seedRoot, func(cfg *config.Config, _ *store.MemoryStore) {
		cfg.Transaction.Timeout = 0
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := env.svc.Post(ctx, "/system/bridges", body(t, `{"configuration":{"name":"br0","datapath_type":""}}`))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
