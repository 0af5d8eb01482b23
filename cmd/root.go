// Package cmd defines the CLI commands for the crawld executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "Crawl engine that ingests web content into repositories.",
		Long: `crawld fetches web pages with bounded-depth, same-domain traversal and
persists them as markdown artifacts, one directory-backed repository per
content collection. It can run as a long-lived HTTP service or execute a
single crawl from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (environment variables with the CRAWLD_ prefix override it)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
