package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/xraph/relayhub"
	"github.com/xraph/relayhub/api"
	"github.com/xraph/relayhub/observability"
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook intake and admin HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			if err := st.Migrate(ctx); err != nil {
				return err
			}

			limiter := newLimiter(ctx, cfg.RateLimit, logger)
			defer limiter.Close()

			metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
			opts := append([]relayhub.Option{
				relayhub.WithStore(st),
				relayhub.WithLogger(logger),
				relayhub.WithMetrics(metrics),
			}, cfg.HubOptions()...)

			hub, err := relayhub.New(opts...)
			if err != nil {
				return err
			}
			// Workers outlive the signal context so Stop can drain the queue.
			hub.Start(context.WithoutCancel(ctx))

			srv := &http.Server{
				Addr: cfg.Server.Addr,
				Handler: api.NewHandler(hub, api.Config{
					Limiter:      limiter,
					Metrics:      metrics,
					MaxBodyBytes: cfg.Server.MaxBodyBytes,
				}, logger),
				ReadTimeout:       cfg.Server.ReadTimeout,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", cfg.Server.Addr, "version", version)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			case err := <-errCh:
				if err != nil {
					hub.Stop(context.Background())
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http server shutdown failed", "error", err)
			}
			hub.Stop(shutdownCtx)
			return nil
		},
	}
}
