package services

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// ConnectionManager owns the replica session: initial load, health checks and
// reconnects with a fixed backoff
type ConnectionManager struct {
	replica      *replica.Replica
	interval     time.Duration
	readyTimeout time.Duration
	logger       *zap.SugaredLogger

	onConnect []func(ctx context.Context) error
	// hooked is set once the connect hooks of the current session have run
	hooked atomic.Bool
}

// NewConnectionManager creates a new ConnectionManager
func NewConnectionManager(r *replica.Replica, interval, readyTimeout time.Duration, logger *zap.SugaredLogger) *ConnectionManager {
	return &ConnectionManager{
		replica:      r,
		interval:     interval,
		readyTimeout: readyTimeout,
		logger:       ensureLogger(logger),
	}
}

// OnConnect registers a hook run after every successful (re)load. Hooks must
// be registered before Run.
func (m *ConnectionManager) OnConnect(fn func(ctx context.Context) error) {
	m.onConnect = append(m.onConnect, fn)
}

// Connect loads the replica from the store and runs the connect hooks
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.hooked.Store(false)
	if err := m.replica.Load(ctx); err != nil {
		return err
	}
	for _, fn := range m.onConnect {
		if err := fn(ctx); err != nil {
			m.logger.Warnw("Connect hook failed", "error", err)
		}
	}
	m.hooked.Store(true)
	return nil
}

// Ready reports whether the session is established and bootstrapped
func (m *ConnectionManager) Ready() bool {
	return m.hooked.Load() && m.replica.Online()
}

// Run keeps the session alive until ctx is cancelled
func (m *ConnectionManager) Run(ctx context.Context) error {
	if err := m.Connect(ctx); err != nil {
		m.logger.Warnw("Initial connect failed, retrying", "error", err, "interval", m.interval)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.replica.SetOffline("shutting down")
			return nil
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *ConnectionManager) check(ctx context.Context) {
	if !m.replica.Online() {
		if err := m.Connect(ctx); err != nil {
			m.logger.Warnw("Reconnect failed", "error", err)
			return
		}
		m.logger.Infow("Reconnected to store")
		return
	}
	if err := m.replica.Store().Ping(ctx); err != nil {
		m.replica.SetOffline(err.Error())
	}
}

// WaitReady blocks until the session is ready, at most the ready timeout
func (m *ConnectionManager) WaitReady(ctx context.Context) error {
	if m.Ready() {
		return nil
	}
	deadline := time.NewTimer(m.readyTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return apperrors.NewUnavailableError("database session is not established")
		case <-poll.C:
			if m.Ready() {
				return nil
			}
		}
	}
}
