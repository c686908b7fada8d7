// Package cmd defines the CLI commands for the scanner executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/config"
	"github.com/knowlet/scanner/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "Discovers and characterizes the API surface of a web application",
		Long: `scanner crawls a web application with a scriptable browser session,
observes the network traffic each page triggers, and actively probes the
discovered endpoints to characterize their behavior. The captured
traffic and per-endpoint statistics feed API description synthesis.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus SCANNER_* env)")

	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newProbeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		logger, logErr := logging.New(true)
		if logErr != nil {
			fmt.Println(err)
			return
		}
		logger.Fatal("command failed", zap.Error(err))
	}
}

// setup loads configuration and builds the logger shared by commands.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
