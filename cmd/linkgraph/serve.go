package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"linkgraph/internal/handler"
	"linkgraph/internal/hub"
	"linkgraph/internal/scheduler"
	"linkgraph/internal/watcher"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server, batch scheduler and file watcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveAddr != "" {
			cfg.HTTP.Addr = serveAddr
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		logger := a.logger

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger.Info("starting linkgraph",
			zap.String("addr", cfg.HTTP.Addr),
			zap.String("database", cfg.Database.Path),
			zap.String("lock", cfg.Lock.Backend))

		events := hub.New(logger)
		go events.Run(ctx)
		go events.Forward(ctx, a.bus)

		var w *watcher.Watcher
		if cfg.Watch.Enabled {
			w = watcher.New(cfg.Watch.Debounce.Duration(), logger)
			n, err := w.Load(ctx, a.topologies)
			if err != nil {
				return fmt.Errorf("load watched topologies: %w", err)
			}
			logger.Info("watching topology sources", zap.Int("topologies", n))
			go w.Follow(ctx, a.bus)
			go func() {
				err := w.Watch(ctx, watcher.UpdateOnChange(ctx, a.topologies, logger))
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("file watcher stopped", zap.Error(err))
				}
			}()
		}

		if cfg.Scheduler.Enabled {
			sched := scheduler.New(cfg.Scheduler.Interval.Duration(), logger)
			if w != nil {
				// Topologies added by other processes are picked up on the next tick
				if err := sched.Register("watch", func(ctx context.Context) error {
					_, err := w.Load(ctx, a.topologies)
					return err
				}); err != nil {
					return fmt.Errorf("register watch reload: %w", err)
				}
			}
			batch := scheduler.Batch{
				Updater: a.topologies,
				Sweeper: a.sweeper,
				Logger:  logger,
			}
			if cfg.Mesh.Enabled {
				batch.Mesh = a.mesh
				batch.Organizations = cfg.Mesh.Organizations
				batch.MeshCutoff = cfg.Mesh.Cutoff.Duration()
			}
			if cfg.Scheduler.Snapshots {
				batch.Snapshots = a.topologies
			}
			if err := batch.Register(sched); err != nil {
				return fmt.Errorf("register batch: %w", err)
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()
		}

		api := handler.New(a.topologies, logger)
		api.SetTelemetry(a.mesh)
		api.SetEvents(events)
		api.SetGatherer(a.metrics.Gatherer())

		server := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Routes(),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout.Duration())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", zap.Error(err))
		}
		logger.Info("server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
