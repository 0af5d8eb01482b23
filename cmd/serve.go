package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/truesight/crawld/internal/config"
	"github.com/truesight/crawld/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl service with its HTTP API",
		Long: `Starts the long-lived service: the REST API for task and repository
management, the auto-update scheduler, and the Prometheus metrics endpoint.
Blocks until SIGINT or SIGTERM, then drains running crawls.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
