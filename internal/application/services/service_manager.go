package services

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/pkg/constants"
	"github.com/ovsrestd/backend/pkg/expression"
)

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	Schema  *schema.Schema
	Replica *replica.Replica

	Accessor    *Accessor
	Resolver    *Resolver
	URIs        *URIBuilder
	Rules       *RuleEvaluator
	Verifier    *Verifier
	Reader      *Reader
	Coordinator *Coordinator
	Connection  *ConnectionManager
	Engine      *Engine
	Metrics     *Metrics
	Resources   *ResourceService

	logger *zap.SugaredLogger
}

// NewServiceManager creates a new service manager with all dependencies wired.
// reg may be nil when metrics are not exported.
func NewServiceManager(cfg *config.Config, sch *schema.Schema, st replica.Store, reg prometheus.Registerer, logger *zap.SugaredLogger) *ServiceManager {
	logger = ensureLogger(logger)
	sm := &ServiceManager{
		Schema: sch,
		logger: logger,
	}

	// Initialize services in dependency order. The accessor subscribes to
	// replica events before the coordinator so waiters observe a fresh cache.
	sm.Replica = replica.New(st, sch.IndexColumns(), logger.Named("replica"))
	sm.Accessor = NewAccessor(sch, sm.Replica, logger.Named("accessor"))
	sm.Resolver = NewResolver(sch, sm.Accessor)
	sm.URIs = NewURIBuilder(sch, sm.Accessor, cfg.Server.Prefix)
	sm.Rules = NewRuleEvaluator(expression.NewEngine())
	sm.Verifier = NewVerifier(sch, sm.Accessor, sm.Resolver, sm.Rules, cfg.Server.Prefix)
	sm.Reader = NewReader(sch, sm.Accessor, sm.URIs)

	sm.Metrics = NewMetrics(reg)
	sm.Coordinator = NewCoordinator(sm.Replica, CoordinatorConfig{
		Timeout:      cfg.Transaction.Timeout,
		PendingTTL:   cfg.Transaction.PendingTTL,
		ReapSchedule: cfg.Transaction.ReapSchedule,
	}, sm.Metrics, logger.Named("coordinator"))
	sm.Connection = NewConnectionManager(sm.Replica, cfg.Replica.ReconnectInterval, cfg.Replica.ReadyTimeout, logger.Named("connection"))
	sm.Engine = NewEngine(sch, sm.Replica, sm.Accessor, sm.Verifier, sm.Reader, sm.Coordinator, sm.URIs, logger.Named("engine"))
	sm.Resources = NewResourceService(sm.Connection, sm.Resolver, sm.Reader, sm.Engine)

	sm.Connection.OnConnect(sm.EnsureRoot)
	return sm
}

// Run starts the coordinator and the connection manager and blocks until ctx
// is cancelled or either fails
func (sm *ServiceManager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sm.Coordinator.Run(ctx) })
	g.Go(func() error { return sm.Connection.Run(ctx) })
	return g.Wait()
}

// EnsureRoot inserts the root row when the database has none
func (sm *ServiceManager) EnsureRoot(ctx context.Context) error {
	if _, ok := sm.Accessor.RootUUID(); ok {
		return nil
	}
	txn := sm.Replica.NewTxn()
	id, err := txn.Insert(constants.RootTable)
	if err != nil {
		txn.Abort()
		return fmt.Errorf("creating root row: %w", err)
	}
	if _, err := sm.Coordinator.Submit(ctx, txn); err != nil {
		return fmt.Errorf("creating root row: %w", err)
	}
	sm.logger.Infow("Created root row", "table", constants.RootTable, "uuid", id)
	return nil
}

// Close detaches the read side from the replica and closes the store
func (sm *ServiceManager) Close() error {
	sm.Accessor.Close()
	return sm.Replica.Store().Close()
}

func ensureLogger(logger *zap.SugaredLogger) *zap.SugaredLogger {
	if logger == nil {
		return zap.NewNop().Sugar()
	}
	return logger
}
