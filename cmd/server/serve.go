package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zynqcloud/go-attachments/internal/cleanup"
	"github.com/zynqcloud/go-attachments/internal/compress"
	"github.com/zynqcloud/go-attachments/internal/config"
	"github.com/zynqcloud/go-attachments/internal/handler"
	"github.com/zynqcloud/go-attachments/internal/store"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the temp-file sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configFile)
		},
	}
}

func runServe(parent context.Context, configFile string) error {
	cfg, log, err := setup(configFile)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	if cfg.ServiceToken == "" {
		log.Warn("service_token is not set, all requests will be accepted (dev mode only)")
	}

	backend, err := store.NewLocal(cfg.StoragePath, store.WithLogger(log.Named("store")))
	if err != nil {
		log.Error("failed to initialise storage backend", zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.New(cfg, backend, newPipeline(cfg, log), log.Named("http"), reg),
		// Large timeouts accommodate slow disks and large scans.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// shutdownSignals comes from signals.go, extended per platform.
	ctx, stop := signal.NotifyContext(parent, shutdownSignals...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("attachment service starting", zap.String("port", cfg.Port), zap.String("root", backend.Root()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		cleanup.RunPeriodic(gctx, backend.Root(), cfg.Cleanup.TTL, cfg.Cleanup.Interval, log.Named("cleanup"))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown requested, draining connections")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("attachment service stopped")
	return nil
}

// newPipeline returns nil when compression is off so the handler skips it.
func newPipeline(cfg *config.Config, log *zap.Logger) handler.Compressor {
	if !cfg.Compress.Enabled {
		return nil
	}
	opts := []compress.Option{compress.WithLogger(log.Named("compress"))}
	if !cfg.Compress.PDF {
		opts = append(opts, compress.WithPDFOptimizer(nil))
	}
	return compress.New(opts...)
}
