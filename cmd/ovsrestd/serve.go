package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovsrestd/backend/internal/application/services"
	"github.com/ovsrestd/backend/internal/config"
	"github.com/ovsrestd/backend/internal/domain/schema"
	"github.com/ovsrestd/backend/internal/infrastructure/replica"
	"github.com/ovsrestd/backend/internal/infrastructure/store"
	"github.com/ovsrestd/backend/internal/interfaces/rest"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) error {
	sch, err := schema.Load(cfg.Schema.Path)
	if err != nil {
		return err
	}
	logger.Infow("Schema loaded", "name", sch.Name, "version", sch.Version, "tables", len(sch.Tables))

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sm := services.NewServiceManager(cfg, sch, st, reg, logger)
	defer func() {
		if err := sm.Close(); err != nil {
			logger.Warnw("Failed to close store", "error", err)
		}
	}()
	if err := sm.Rules.Validate(sch); err != nil {
		return err
	}

	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := rest.NewRouter(rest.RouterConfig{
		Prefix:    cfg.Server.Prefix,
		Resources: sm.Resources,
		Ready:     sm.Connection.Ready,
		Gatherer:  reg,
		Logger:    logger.Named("http"),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sm.Run(gctx)
	})
	g.Go(func() error {
		logger.Infow("Listening", "addr", cfg.Server.Addr, "prefix", cfg.Server.Prefix, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("Server exiting")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (replica.Store, error) {
	switch cfg.Store.Driver {
	case "mysql":
		st, err := store.OpenSQL(ctx, cfg.Store.SQL(), logger.Named("store"))
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established")
		return st, nil
	default:
		return store.NewMemoryStore(cfg.Store.Latency), nil
	}
}
