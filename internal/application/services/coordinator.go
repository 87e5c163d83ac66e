package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	apperrors "github.com/ovsrestd/backend/pkg/errors"
)

// pendingCommit is a transaction the store has not confirmed yet
type pendingCommit struct {
	txn    *replica.Txn
	since  time.Time
	done   chan struct{}
	status replica.Status
	detail string
}

func (p *pendingCommit) release(status replica.Status, detail string) {
	p.status = status
	p.detail = detail
	close(p.done)
}

// Coordinator submits transactions and waits for incomplete commits to resolve.
// The pending set is owned by the Run goroutine; registrations and replica
// change notifications reach it over channels.
type Coordinator struct {
	replica *replica.Replica
	metrics *Metrics
	logger  *zap.SugaredLogger

	timeout      time.Duration
	ttl          time.Duration
	reapSchedule string

	register chan *pendingCommit
	changed  chan struct{}
	reap     chan struct{}
	stopped  chan struct{}

	unsubscribe []func()
}

// CoordinatorConfig bounds the pending-commit protocol
type CoordinatorConfig struct {
	Timeout      time.Duration
	PendingTTL   time.Duration
	ReapSchedule string
}

// NewCoordinator creates a coordinator and subscribes it to replica events
func NewCoordinator(r *replica.Replica, cfg CoordinatorConfig, metrics *Metrics, logger *zap.SugaredLogger) *Coordinator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &Coordinator{
		replica:      r,
		metrics:      metrics,
		logger:       ensureLogger(logger),
		timeout:      cfg.Timeout,
		ttl:          cfg.PendingTTL,
		reapSchedule: cfg.ReapSchedule,
		register:     make(chan *pendingCommit),
		changed:      make(chan struct{}, 1),
		reap:         make(chan struct{}, 1),
		stopped:      make(chan struct{}),
	}
	notify := func(context.Context, replica.Event) error {
		select {
		case c.changed <- struct{}{}:
		default:
		}
		return nil
	}
	bus := r.Events()
	for _, et := range []replica.EventType{replica.EventRowsChanged, replica.EventReloaded, replica.EventOffline} {
		c.unsubscribe = append(c.unsubscribe, bus.Subscribe(et, notify))
	}
	return c
}

// Run owns the pending set until ctx is cancelled. Commits still pending at
// shutdown are released with try-again.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer func() {
		for _, fn := range c.unsubscribe {
			fn()
		}
	}()

	pending := make(map[uint64]*pendingCommit)

	var scheduler *cron.Cron
	if c.reapSchedule != "" && c.ttl > 0 {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(c.reapSchedule, func() {
			select {
			case c.reap <- struct{}{}:
			default:
			}
		}); err != nil {
			return fmt.Errorf("invalid reap schedule %q: %w", c.reapSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	resolve := func() {
		for id, p := range pending {
			if st := p.txn.Commit(); st.IsTerminal() {
				p.release(st, p.txn.Detail())
				delete(pending, id)
			}
		}
		c.metrics.Pending.Set(float64(len(pending)))
	}

	for {
		select {
		case <-ctx.Done():
			for id, p := range pending {
				p.release(replica.StatusTryAgain, "shutting down")
				delete(pending, id)
			}
			c.metrics.Pending.Set(0)
			return nil

		case p := <-c.register:
			pending[p.txn.ID()] = p
			// the reply may have landed before registration
			resolve()

		case <-c.changed:
			resolve()

		case <-c.reap:
			c.reapStale(pending)
		}
	}
}

func (c *Coordinator) reapStale(pending map[uint64]*pendingCommit) {
	cutoff := time.Now().Add(-c.ttl)
	for id, p := range pending {
		if p.since.After(cutoff) {
			continue
		}
		c.logger.Warnw("Dropping stale pending transaction", "txn", id, "age", time.Since(p.since))
		p.release(replica.StatusError, "commit was not confirmed in time")
		delete(pending, id)
	}
	c.metrics.Pending.Set(float64(len(pending)))
}

// Submit commits txn and waits for its terminal status. A commit that stays
// incomplete beyond the configured timeout returns a TimeoutError; it remains
// pending until the store answers or the reaper drops it.
func (c *Coordinator) Submit(ctx context.Context, txn *replica.Txn) (replica.Status, error) {
	start := time.Now()
	status := txn.Commit()
	detail := txn.Detail()

	if status == replica.StatusIncomplete {
		p := &pendingCommit{txn: txn, since: start, done: make(chan struct{})}
		select {
		case c.register <- p:
		case <-c.stopped:
			return status, apperrors.NewUnavailableError("transaction coordinator stopped")
		case <-ctx.Done():
			return status, ctx.Err()
		}

		var timer <-chan time.Time
		if c.timeout > 0 {
			t := time.NewTimer(c.timeout)
			defer t.Stop()
			timer = t.C
		}
		select {
		case <-p.done:
			status, detail = p.status, p.detail
		case <-ctx.Done():
			return replica.StatusIncomplete, ctx.Err()
		case <-timer:
			c.logger.Warnw("Commit still pending", "txn", txn.ID(), "waited", c.timeout)
			return replica.StatusIncomplete, apperrors.NewTimeoutError(fmt.Sprintf("transaction %d", txn.ID()))
		}
	}

	c.metrics.Transactions.WithLabelValues(status.String()).Inc()
	c.metrics.CommitDuration.Observe(time.Since(start).Seconds())
	c.logger.Debugw("Transaction finished", "txn", txn.ID(), "status", status.String(), "detail", detail)
	return status, outcome(status, detail)
}

// outcome maps a terminal status to the error reported to the caller
func outcome(status replica.Status, detail string) error {
	if status.IsSuccess() {
		return nil
	}
	return apperrors.NewTransactionError(status.String(), detail)
}
