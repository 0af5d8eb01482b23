package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/config"
	"github.com/truesight/crawld/internal/crawler"
	"github.com/truesight/crawld/internal/logging"
	"github.com/truesight/crawld/internal/server"
)

const closeTimeout = 15 * time.Second

func newCrawlCmd() *cobra.Command {
	var (
		repoName    string
		seedURLs    []string
		maxDepth    int
		maxThreads  int
		incremental bool
		blocked     []string
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a single crawl and wait for it to finish",
		Long: `Starts one crawl task against the named repository and blocks until it
reaches a terminal state. With --url flags the given seeds are used and
stored on the repository; without them the repository's stored seeds are
reused. Interrupting the command stops the task cleanly.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			// Only forward depth/threads when the flag was given, so an
			// explicit --depth=0 is honored and absence means the default.
			var reqDepth, reqThreads *int
			if cmd.Flags().Changed("depth") {
				reqDepth = &maxDepth
			}
			if cmd.Flags().Changed("threads") {
				reqThreads = &maxThreads
			}
			// One-shot runs never fire scheduled refreshes.
			cfg.Scheduler.Enabled = false

			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
				defer cancel()
				if cerr := app.Close(closeCtx); cerr != nil {
					logging.L.Warn("shutdown incomplete", zap.Error(cerr))
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runCrawl(ctx, app.Engine(), crawler.StartRequest{
				Repository:  repoName,
				URLs:        seedURLs,
				MaxDepth:    reqDepth,
				MaxThreads:  reqThreads,
				Incremental: incremental,
				BlockedURLs: blocked,
			})
		},
	}

	cmd.Flags().StringVarP(&repoName, "repository", "r", "", "repository to crawl into (required)")
	cmd.Flags().StringArrayVarP(&seedURLs, "url", "u", nil,
		"seed URL (repeatable); omit to reuse the repository's stored seeds")
	cmd.Flags().IntVar(&maxDepth, "depth", 0, "maximum link depth (0 crawls only the seeds; omit for the configured default)")
	cmd.Flags().IntVar(&maxThreads, "threads", 0, "worker threads (omit for the configured default)")
	cmd.Flags().BoolVar(&incremental, "incremental", false,
		"skip URLs already recorded in the repository manifest")
	cmd.Flags().StringArrayVar(&blocked, "blocked", nil,
		"blocked URL pattern, regex or literal (repeatable)")
	_ = cmd.MarkFlagRequired("repository")

	return cmd
}

func runCrawl(ctx context.Context, engine *crawler.Engine, req crawler.StartRequest) error {
	var (
		taskID string
		err    error
	)
	if len(req.URLs) == 0 {
		taskID, err = engine.StartStoredCrawl(ctx, req.Repository, req)
	} else {
		taskID, err = engine.StartCrawl(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	logging.L.Info("crawl started",
		zap.String("task_id", taskID),
		zap.String("repository", req.Repository))

	done, err := engine.WaitTask(taskID)
	if err != nil {
		return fmt.Errorf("wait for crawl: %w", err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		logging.L.Warn("interrupted, stopping crawl", zap.String("task_id", taskID))
		if serr := engine.StopTask(taskID); serr != nil {
			logging.L.Warn("stop after interrupt failed", zap.Error(serr))
		}
		<-done
	}

	snap, err := engine.GetStatus(taskID)
	if err != nil {
		return fmt.Errorf("read crawl status: %w", err)
	}
	logging.L.Info("crawl finished",
		zap.String("task_id", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.Int64("total_urls", snap.TotalURLs),
		zap.Int64("crawled_urls", snap.CrawledURLs),
		zap.Int64("failed_urls", snap.FailedURLs))
	if snap.Status != crawler.TaskStatusCompleted {
		return fmt.Errorf("crawl ended with status %s", snap.Status)
	}
	return nil
}
