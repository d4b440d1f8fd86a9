package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/onboarding-agent/backend/internal/api"
	"github.com/onboarding-agent/backend/internal/ingestion"
	appLogger "github.com/onboarding-agent/backend/pkg/logger"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			appLogger.Info("Starting Nebula Onboarding API server")

			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			if cfg.Ingestion.Interval > 0 {
				sched, err := ingestion.NewScheduler(ctx, cfg.Ingestion.Interval, c.coordinator)
				if err != nil {
					return err
				}
				sched.Start()
				defer func() {
					if err := sched.Shutdown(); err != nil {
						appLogger.Warn("Failed to stop ingestion scheduler", zap.Error(err))
					}
				}()
			}

			if cfg.Ingestion.Watch {
				watcher := ingestion.NewWatcher(cfg.Ingestion.PoliciesDir,
					time.Duration(cfg.Ingestion.DebounceMS)*time.Millisecond, c.coordinator)
				if err := watcher.Start(ctx); err != nil {
					return err
				}
			}

			app, limiter := api.NewApp(api.Config{
				ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
				BodyLimit:         cfg.Server.BodyLimit,
				MaxQueryLength:    cfg.Server.MaxQueryLength,
				AllowOrigins:      cfg.CORS.AllowOrigins,
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				Burst:             cfg.RateLimit.Burst,
				AccessLog:         cfg.Logging.Level == "debug",
				Development:       cfg.Server.Development,
			}, api.Deps{
				Agent:    c.agent,
				Ingester: c.coordinator,
				History:  c.db,
			})
			defer limiter.Stop()

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			appLogger.Info("Server starting", zap.String("address", addr))

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Listen(addr)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			appLogger.Info("Server shutting down gracefully...")
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				appLogger.Warn("Server shutdown incomplete", zap.Error(err))
			}
			appLogger.Info("Server stopped")
			return nil
		},
	}
}
