package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/api"
	"github.com/knowlet/scanner/internal/config"
	"github.com/knowlet/scanner/internal/publisher"
	"github.com/knowlet/scanner/internal/scan"
	"github.com/knowlet/scanner/internal/storage"
	"github.com/knowlet/scanner/internal/store"
)

func newScanCmd() *cobra.Command {
	var startURL string
	var seed int64

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Runs the full pipeline: crawl, infer, probe, aggregate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if startURL != "" {
				cfg.Crawler.StartURL = startURL
			}
			if cmd.Flags().Changed("seed") {
				cfg.Probe.Seed = seed
			}
			if cfg.Crawler.StartURL == "" {
				return fmt.Errorf("a start URL is required (--url or crawler.start_url)")
			}

			return runScan(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&startURL, "url", "", "start URL to scan")
	cmd.Flags().Int64Var(&seed, "seed", 0, "variant generation seed for reproducible runs")
	return cmd
}

func runScan(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	opts := []scan.Option{scan.WithRunID(runID)}

	if cfg.DB.DSN != "" {
		resultStore, err := store.New(ctx, store.Config{DSN: cfg.DB.DSN, Table: cfg.DB.Table}, runID)
		if err != nil {
			return err
		}
		defer resultStore.Close()
		opts = append(opts, scan.WithResultStore(resultStore))
	}

	if cfg.Storage.Backend == "gcs" {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		defer client.Close()
		provider, err := storage.NewGCS(client, cfg.Storage.GCSBucket, cfg.Storage.Prefix)
		if err != nil {
			return err
		}
		opts = append(opts, scan.WithArtifactStore(provider))
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close()
		pub, err := publisher.NewPubSub(client)
		if err != nil {
			return err
		}
		opts = append(opts, scan.WithPublisher(pub, cfg.PubSub.TopicName))
	}

	runner, err := scan.New(cfg, logger, opts...)
	if err != nil {
		return err
	}

	if cfg.Server.Enabled {
		srv := api.NewServer(statusFunc(runner), runner.Inventory(), logger)
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		go func() {
			if serveErr := srv.Serve(ctx, addr); serveErr != nil {
				logger.Warn("status server stopped", zap.Error(serveErr))
			}
		}()
		logger.Info("status server listening", zap.String("addr", addr))
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("scan finished",
		zap.String("run_id", summary.RunID),
		zap.Bool("aborted", summary.Aborted),
		zap.Int("pages", summary.Pages),
		zap.Int("dead_links", len(summary.DeadLinks)),
		zap.Int("endpoints", summary.Endpoints),
		zap.Int("templates", summary.Templates),
		zap.Int("variants", summary.Variants),
		zap.Int64("attempts", summary.Attempts),
		zap.String("api_prefix", summary.APIPrefix),
		zap.String("har", summary.HARURI),
		zap.String("stats", summary.StatsURI))
	return nil
}

func statusFunc(runner *scan.Runner) api.StatusFunc {
	return func() api.ScanStatus {
		s := runner.Status()
		return api.ScanStatus{
			RunID:     s.RunID,
			Phase:     s.Phase,
			StartURL:  s.StartURL,
			Pages:     s.Pages,
			DeadLinks: s.DeadLinks,
			Endpoints: s.Endpoints,
			Templates: s.Templates,
			Attempts:  s.Attempts,
		}
	}
}
