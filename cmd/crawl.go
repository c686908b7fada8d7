package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/scan"
)

func newCrawlCmd() *cobra.Command {
	var startURL string

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls a site and records its endpoint inventory without probing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if startURL != "" {
				cfg.Crawler.StartURL = startURL
			}
			if cfg.Crawler.StartURL == "" {
				return fmt.Errorf("a start URL is required (--url or crawler.start_url)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner, err := scan.New(cfg, logger, scan.WithCrawlOnly())
			if err != nil {
				return err
			}
			summary, err := runner.Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("crawl finished",
				zap.String("run_id", summary.RunID),
				zap.Bool("aborted", summary.Aborted),
				zap.Int("pages", summary.Pages),
				zap.Int("dead_links", len(summary.DeadLinks)),
				zap.Int("endpoints", summary.Endpoints),
				zap.Int("templates", summary.Templates),
				zap.String("api_prefix", summary.APIPrefix),
				zap.String("har", summary.HARURI))
			for _, dead := range summary.DeadLinks {
				logger.Warn("dead link", zap.String("url", dead))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&startURL, "url", "", "start URL to crawl")
	return cmd
}
