package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/manthysbr/deep-research/internal/core/domain"
	"github.com/manthysbr/deep-research/pkg/kernel"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			k, err := buildApp(ctx, logger, cfg)
			if err != nil {
				return err
			}

			routes, err := apiHandler(ctx, logger, cfg, k)
			if err != nil {
				return err
			}
			httpServer := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           routes,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Jobs run under their own context so that in-flight work is
			// cancelled only after the HTTP server has stopped taking requests.
			jobsCtx, cancelJobs := context.WithCancel(context.Background())
			defer cancelJobs()
			k.executor.Start(jobsCtx)

			g, gCtx := errgroup.WithContext(ctx)

			// 1. Job store janitor
			g.Go(func() error {
				k.store.Run(gCtx, time.Minute)
				return nil
			})

			// 2. API server
			g.Go(func() error {
				logger.Info("starting research api server", "addr", cfg.Server.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("api server failed: %w", err)
				}
				return nil
			})

			// 3. Graceful shutdown
			g.Go(func() error {
				<-gCtx.Done()
				logger.Info("shutting down api server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()

				// Sessions first: SSE and WebSocket handlers only return once
				// their session stream ends.
				k.sessions.CloseAll()
				err := httpServer.Shutdown(shutdownCtx)

				cancelJobs()
				k.executor.Wait()
				logger.Info("kernel stopped")
				return err
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

// apiHandler builds the kernel routes wrapped in CORS.
func apiHandler(ctx context.Context, logger *slog.Logger, cfg *domain.AppConfig, k *app) (http.Handler, error) {
	apiServer := kernel.NewServer(logger, k.executor, k.sessions, kernel.Options{
		SyncWait:       cfg.Server.SyncWait,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Validate:       cfg.Server.OpenAPIValidate,
	})
	routes, err := apiServer.Handler(ctx)
	if err != nil {
		return nil, err
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(routes), nil
}
