package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mnemo-ai/mnemo/internal/alerts"
	"github.com/mnemo-ai/mnemo/internal/api"
	"github.com/mnemo-ai/mnemo/internal/forget"
	"github.com/mnemo-ai/mnemo/internal/sweep"
	"github.com/mnemo-ai/mnemo/internal/taskqueue"
	"github.com/mnemo-ai/mnemo/internal/tools"
	"github.com/mnemo-ai/mnemo/internal/ws"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("serve: opening store: %w", err)
			}
			defer func() { _ = st.Close() }()

			emb, err := newEmbedder(logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			queries := newQueryCache()
			pipeline := newPipeline(st, emb, queries, logger)

			queue := taskqueue.New(taskqueue.Config{
				Workers:        cfg.Queue.Workers,
				Depth:          cfg.Queue.Depth,
				DefaultTimeout: cfg.Queue.DefaultTimeout,
				MaxRetries:     cfg.Queue.MaxRetries,
			}, logger)
			queue.Start(ctx)
			defer queue.Stop(cfg.Queue.DrainTimeout)

			monitor := alerts.NewMonitor(cfg.Alerts, logger)
			svc := tools.New(st, emb, pipeline, queries, queue, monitor, cfg, logger)

			engine := forget.NewEngine(st, cfg.Forget, logger)
			review := forget.NewScheduler(st, cfg.Review, logger)
			sweeper, err := sweep.New(st, queue, engine, review, monitor, queries, cfg.Sweep, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			sweeper.Start()
			defer sweeper.Stop()

			wsHandler := ws.NewHandler(svc, logger)
			srv := api.NewServer(svc, version, cfg.Server, wsHandler, logger)

			httpSrv := &http.Server{
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			// Bind before serving so a taken port stays a startup error.
			ln, err := net.Listen("tcp", cfg.Server.ListenAddr())
			if err != nil {
				return fmt.Errorf("serve: binding %s: %w", cfg.Server.ListenAddr(), err)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server starting", "addr", cfg.Server.ListenAddr())
				if serveErr := httpSrv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: %w: http server: %v", errRuntime, serveErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case serveErr := <-errCh:
				return serveErr
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case Serve returned after Shutdown.
			if serveErr := <-errCh; serveErr != nil {
				return serveErr
			}

			return nil
		},
	}
	return cmd
}
