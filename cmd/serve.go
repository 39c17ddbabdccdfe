package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/okian/datacup/internal/adapters/http/api"
	"github.com/okian/datacup/internal/adapters/http/site"
	"github.com/okian/datacup/internal/adapters/http/swagger"
	"github.com/okian/datacup/internal/adapters/reference"
	app "github.com/okian/datacup/internal/app"
	"github.com/okian/datacup/internal/config"
	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/pkg/logger"
	"github.com/okian/datacup/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 30 * time.Second
	writeTimeout      = 60 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cleanup, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			return serve(cmd.Context(), cfg)
		},
	}
}

// serve runs the API until ctx is canceled, then drains in-flight
// submissions and closes the store.
func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	metrics.Init(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithRefreshInterval(cfg.MetricsRefresh()),
	)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	svc := app.New(
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithReference(reference.NewLoader(cfg.ReferencePath, reference.WithDelimiter(cfg.DelimiterRune()))),
		app.WithEvaluator(evaluation.New(
			evaluation.WithIdentifierColumn(cfg.IdentifierColumn),
			evaluation.WithDelimiter(cfg.DelimiterRune()),
		)),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithStoreTimeout(cfg.StoreTimeout()),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()

	// HTTP mux and routes.
	mux := http.NewServeMux()
	site.Register(ctx, mux)
	swagger.Register(ctx, mux)
	api.NewServer(svc,
		api.WithLeaderboardLimits(cfg.DefaultLeaderboardLimit, cfg.MaxLeaderboardLimit),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
		api.WithAdminToken(cfg.AdminToken),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
		}
		return nil
	})
	if metrics.Enabled() {
		g.Go(func() error {
			runEvery(gctx, metrics.RefreshInterval(), func() {
				updateSystemMetrics()
				svc.GetStats(gctx)
			})
			return nil
		})
	}

	err = g.Wait()
	log.Info(context.WithoutCancel(ctx), "server stopped")
	return err
}

// runEvery calls fn on every tick until ctx is done.
func runEvery(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
