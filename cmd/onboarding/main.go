package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/pkg/config"
	appLogger "github.com/onboarding-agent/backend/pkg/logger"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "onboarding",
		Short:         "Nebula Dynamics onboarding assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ./config.yaml)")

	root.AddCommand(newServeCmd(), newIngestCmd(), newAskCmd())
	return root
}

// setup loads configuration and initializes logging and metrics.
func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	metrics.Init()
	return cfg, nil
}

func main() {
	err := newRootCmd().Execute()
	appLogger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
