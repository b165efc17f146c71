package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"poolcore/internal/blob"
	"poolcore/internal/config"
	"poolcore/internal/core"
	"poolcore/internal/export"
	"poolcore/internal/httpapi"
	"poolcore/internal/observability"
	"poolcore/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the template backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ln, err := net.Listen("tcp", a.cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", a.cfg.Listen, err)
			}
			return serve(cmd.Context(), a.cfg, a.logger, ln)
		},
	}
}

// serve wires storage, blobs, metrics and the HTTP API and blocks until ctx
// is cancelled, then drains in-flight requests.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger, ln net.Listener) error {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close store", zap.Error(cerr))
		}
	}()
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = ln.Close()
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := observability.NewPrometheusRecorder(reg, "poolcore")
	if err != nil {
		_ = ln.Close()
		return err
	}

	svc := core.NewService(store, core.WithLogger(logger.Named("core")), core.WithMetrics(rec))
	exporter := export.New(store, blobs, export.WithLogger(logger.Named("export")))
	api := httpapi.New(svc,
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithMetrics(rec),
		httpapi.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		httpapi.WithExporter(exporter),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
	)
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	logger.Info("serving",
		zap.String("addr", ln.Addr().String()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("blob", cfg.Blob.Driver))

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("stopped")
	return nil
}
