package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var specFile string
	var baseURL string
	var seed int64

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Probes endpoints from an OpenAPI document, skipping the crawl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if specFile != "" {
				cfg.Probe.SpecFile = specFile
			}
			if baseURL != "" {
				cfg.Crawler.StartURL = baseURL
			}
			if cmd.Flags().Changed("seed") {
				cfg.Probe.Seed = seed
			}
			if cfg.Probe.SpecFile == "" {
				return fmt.Errorf("an OpenAPI document is required (--openapi or probe.spec_file)")
			}
			if cfg.Crawler.StartURL == "" {
				return fmt.Errorf("a base URL is required (--base-url or crawler.start_url)")
			}

			return runScan(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&specFile, "openapi", "", "path to an OpenAPI YAML document")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "origin the documented paths resolve against")
	cmd.Flags().Int64Var(&seed, "seed", 0, "variant generation seed for reproducible runs")
	return cmd
}
