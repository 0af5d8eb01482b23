// Package scheduler triggers periodic re-crawls of repositories that have
// auto-update enabled. One cron entry per supported frequency fires shortly
// after the period boundary and scans the repository store for due work.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/crawler"
	"github.com/truesight/crawld/internal/repository"
)

const (
	refreshTimeout = 5 * time.Minute
	stampTimeout   = 10 * time.Second
)

// cronSpecs maps each update frequency to its firing schedule. Entries fire
// at 00:01 so the period-start comparison never races the boundary itself.
var cronSpecs = map[repository.Frequency]string{
	repository.FrequencyDaily:   "1 0 * * *",
	repository.FrequencyWeekly:  "1 0 * * 1",
	repository.FrequencyMonthly: "1 0 1 * *",
	repository.FrequencyYearly:  "1 0 1 1 *",
}

// Engine is the slice of the crawl engine the scheduler drives.
type Engine interface {
	StartStoredCrawl(ctx context.Context, name string, req crawler.StartRequest) (string, error)
	ActiveTaskForRepository(name string) (string, bool)
	WaitTask(id string) (<-chan struct{}, error)
	GetStatus(id string) (crawler.TaskSnapshot, error)
}

// RepositoryStore is the slice of the repository layer the scheduler reads
// and stamps.
type RepositoryStore interface {
	GetAll(ctx context.Context) ([]repository.Repository, error)
	StampAutoUpdate(ctx context.Context, name string, at time.Time) error
}

// Scheduler owns the cron runner and the refresh goroutines it spawns.
type Scheduler struct {
	engine Engine
	repos  RepositoryStore
	clock  crawler.Clock
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New registers the four frequency entries and returns a stopped scheduler.
func New(engine Engine, repos RepositoryStore, clk crawler.Clock, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine: engine,
		repos:  repos,
		clock:  clk,
		cron: cron.New(
			cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger)))),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	for freq, spec := range cronSpecs {
		freq := freq
		if _, err := s.cron.AddFunc(spec, func() { s.refresh(freq) }); err != nil {
			cancel()
			return nil, fmt.Errorf("register %s schedule: %w", freq, err)
		}
	}
	return s, nil
}

// Start launches the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("auto update scheduler started",
		zap.Int("entries", len(s.cron.Entries())))
}

// Stop halts the cron runner and waits for in-flight refresh bookkeeping,
// bounded by the context.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	cronDone := s.cron.Stop()
	select {
	case <-cronDone.Done():
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}

	waitDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// refresh scans the store and starts incremental crawls for every repository
// due at this frequency.
func (s *Scheduler) refresh(freq repository.Frequency) {
	ctx, cancel := context.WithTimeout(s.ctx, refreshTimeout)
	defer cancel()

	repos, err := s.repos.GetAll(ctx)
	if err != nil {
		s.logger.Error("auto update scan failed",
			zap.String("frequency", string(freq)),
			zap.Error(err))
		return
	}

	cutoff := periodStart(s.clock.Now(), freq)
	for _, repo := range repos {
		if !due(repo, freq, cutoff) {
			continue
		}
		if taskID, busy := s.engine.ActiveTaskForRepository(repo.Name); busy {
			s.logger.Info("auto update skipped, crawl in flight",
				zap.String("repository", repo.Name),
				zap.String("task_id", taskID))
			continue
		}
		s.startRefresh(ctx, repo.Name)
	}
}

// due reports whether the repository needs a refresh for this period.
func due(repo repository.Repository, freq repository.Frequency, cutoff time.Time) bool {
	if repo.Source != repository.SourceCrawler || !repo.AutoUpdate {
		return false
	}
	if repo.UpdateFrequency != freq {
		return false
	}
	return repo.LastAutoUpdate == nil || repo.LastAutoUpdate.Before(cutoff)
}

// periodStart returns the beginning of the current period at the given
// frequency. Weeks start on Monday to match the weekly cron entry.
func periodStart(now time.Time, freq repository.Frequency) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch freq {
	case repository.FrequencyWeekly:
		offset := (int(day.Weekday()) - int(time.Monday) + 7) % 7
		return day.AddDate(0, 0, -offset)
	case repository.FrequencyMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	case repository.FrequencyYearly:
		return time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	default:
		return day
	}
}

// startRefresh kicks off one incremental crawl and stamps the repository
// once (and only if) the task completes.
func (s *Scheduler) startRefresh(ctx context.Context, name string) {
	taskID, err := s.engine.StartStoredCrawl(ctx, name, crawler.StartRequest{Incremental: true})
	if err != nil {
		s.logger.Error("auto update start failed",
			zap.String("repository", name),
			zap.Error(err))
		return
	}
	s.logger.Info("auto update started",
		zap.String("repository", name),
		zap.String("task_id", taskID))

	done, err := s.engine.WaitTask(taskID)
	if err != nil {
		s.logger.Error("auto update wait failed",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-done:
		case <-s.ctx.Done():
			// Stamp anyway if the task happened to finish first.
			select {
			case <-done:
			default:
				return
			}
		}
		snap, err := s.engine.GetStatus(taskID)
		if err != nil {
			s.logger.Warn("auto update status lookup failed",
				zap.String("task_id", taskID),
				zap.Error(err))
			return
		}
		if snap.Status != crawler.TaskStatusCompleted {
			s.logger.Warn("auto update finished without completing",
				zap.String("repository", name),
				zap.String("task_id", taskID),
				zap.String("status", string(snap.Status)))
			return
		}
		stampCtx, cancel := context.WithTimeout(context.Background(), stampTimeout)
		defer cancel()
		if err := s.repos.StampAutoUpdate(stampCtx, name, s.clock.Now()); err != nil {
			s.logger.Error("stamp auto update failed",
				zap.String("repository", name),
				zap.Error(err))
		}
	}()
}
