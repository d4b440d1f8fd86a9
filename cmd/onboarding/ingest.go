package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onboarding-agent/backend/internal/ingestion"
	appLogger "github.com/onboarding-agent/backend/pkg/logger"
)

func newIngestCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Bring the vector index in line with the policy documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.coordinator.Run(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			if !watch {
				return nil
			}

			watcher := ingestion.NewWatcher(cfg.Ingestion.PoliciesDir,
				time.Duration(cfg.Ingestion.DebounceMS)*time.Millisecond, c.coordinator)
			if err := watcher.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			appLogger.Info("Watcher stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-ingest when documents change")
	return cmd
}
