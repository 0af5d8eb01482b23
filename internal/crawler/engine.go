package crawler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/progress"
	"github.com/truesight/crawld/internal/repository"
)

// ErrTaskNotFound is returned for status or control requests against an
// unknown task ID.
var ErrTaskNotFound = errors.New("task not found")

const finalizeTimeout = 10 * time.Second

// Deps carries the engine's collaborators. Repositories, Artifacts, Pages and
// Binaries are required; the rest degrade to no-ops when nil.
type Deps struct {
	Repositories RepositoryStore
	Artifacts    ArtifactStore
	Pages        PageFetcher
	Binaries     BinaryFetcher
	FetchLog     FetchLog
	Publisher    Publisher
	Hub          *progress.Hub
	Hasher       Hasher
	Clock        Clock
	IDs          IDGenerator
	Logger       *zap.Logger
}

// Engine owns every crawl task in the process. Each task gets its own
// frontier, visited set and worker pool; the engine only shares the stores
// and fetchers across them.
type Engine struct {
	opts      Options
	repos     RepositoryStore
	artifacts ArtifactStore
	pages     PageFetcher
	binaries  BinaryFetcher
	fetchLog  FetchLog
	publisher Publisher
	hub       *progress.Hub
	retry     *RetryPolicy
	hasher    Hasher
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*Task
}

// NewEngine validates dependencies and returns a ready engine.
func NewEngine(opts Options, deps Deps) (*Engine, error) {
	if deps.Repositories == nil {
		return nil, errors.New("repository store is required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	if deps.Pages == nil {
		return nil, errors.New("page fetcher is required")
	}
	if deps.Binaries == nil {
		return nil, errors.New("binary fetcher is required")
	}
	if deps.Hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.FetchLog == nil {
		deps.FetchLog = NoopFetchLog{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		opts:       opts,
		repos:      deps.Repositories,
		artifacts:  deps.Artifacts,
		pages:      deps.Pages,
		binaries:   deps.Binaries,
		fetchLog:   deps.FetchLog,
		publisher:  deps.Publisher,
		hub:        deps.Hub,
		retry:      NewRetryPolicy(opts),
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		ids:        deps.IDs,
		logger:     deps.Logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		tasks:      make(map[string]*Task),
	}, nil
}

// StartCrawl launches a new crawl task and returns its ID. The crawl itself
// runs asynchronously; orchestration failures surface on the task as status
// failed, not as an error here.
func (e *Engine) StartCrawl(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.Repository) == "" {
		return "", errors.New("repository name is required")
	}
	if len(req.URLs) == 0 {
		return "", errors.New("at least one url is required")
	}

	seen := make(map[string]struct{}, len(req.URLs))
	normalized := make([]string, 0, len(req.URLs))
	for _, u := range req.URLs {
		u = NormalizeURL(strings.TrimSpace(u))
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		normalized = append(normalized, u)
	}
	if len(normalized) == 0 {
		return "", errors.New("no usable urls in request")
	}
	req.URLs = normalized

	// Absent values take the defaults; an explicit depth of zero means
	// seeds only. A thread count below one cannot make progress, so those
	// fall back too.
	maxDepth := e.opts.DefaultMaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
		if maxDepth < 0 {
			maxDepth = 0
		}
	}
	maxThreads := e.opts.DefaultMaxThreads
	if req.MaxThreads != nil && *req.MaxThreads > 0 {
		maxThreads = *req.MaxThreads
	}

	repo, err := e.repos.Get(ctx, req.Repository)
	switch {
	case err == nil:
		if repo.Source != repository.SourceCrawler || repo.DirectImport {
			return "", fmt.Errorf("repository %s: %w", req.Repository, repository.ErrNotCrawler)
		}
	case errors.Is(err, repository.ErrNotFound):
		// Created during the run.
	default:
		return "", fmt.Errorf("look up repository %s: %w", req.Repository, err)
	}

	e.mu.Lock()
	id := e.newTaskID()
	t := newTask(e.baseCtx, id, req, maxDepth, maxThreads, e.clock)
	e.tasks[id] = t
	e.mu.Unlock()

	e.logger.Info("starting crawl task",
		zap.String("task_id", id),
		zap.String("repository", req.Repository),
		zap.Strings("urls", req.URLs),
		zap.Int("max_depth", maxDepth),
		zap.Int("max_threads", maxThreads),
		zap.Bool("incremental", req.Incremental))

	go e.runTask(t)
	return id, nil
}

// StartStoredCrawl re-crawls an existing repository, falling back to its
// stored seed URLs when the request carries none.
func (e *Engine) StartStoredCrawl(ctx context.Context, name string, req StartRequest) (string, error) {
	repo, err := e.repos.Get(ctx, name)
	if err != nil {
		return "", fmt.Errorf("look up repository %s: %w", name, err)
	}
	if repo.Source != repository.SourceCrawler || repo.DirectImport {
		return "", fmt.Errorf("repository %s: %w", name, repository.ErrNotCrawler)
	}
	req.Repository = name
	if len(req.URLs) == 0 {
		req.URLs = repo.URLs
	}
	if len(req.URLs) == 0 {
		return "", fmt.Errorf("repository %s has no stored seed urls", name)
	}
	return e.StartCrawl(ctx, req)
}

// newTaskID derives a crawl_<unix> identifier, suffixed when several tasks
// start within the same second. Caller holds e.mu.
func (e *Engine) newTaskID() string {
	base := fmt.Sprintf("crawl_%d", e.clock.Now().Unix())
	if _, exists := e.tasks[base]; !exists {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if _, exists := e.tasks[candidate]; !exists {
			return candidate
		}
	}
}

func (e *Engine) runTask(t *Task) {
	defer close(t.done)

	e.emitTaskStage(t, progress.StageTaskStart, "")

	if err := e.prepareRepository(t); err != nil {
		e.logger.Error("task orchestration failed",
			zap.String("task_id", t.id),
			zap.String("repository", t.repository),
			zap.Error(err))
		t.fail(err.Error())
		e.finalize(t)
		return
	}

	e.seed(t)

	var wg sync.WaitGroup
	for i := 0; i < t.maxThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.runWorker(t)
		}()
	}
	go e.runMonitor(t)

	wg.Wait()
	t.complete()
	e.finalize(t)
}

// prepareRepository makes sure the target repository exists and records the
// seed URLs for later incremental runs. Failures here abort the task.
func (e *Engine) prepareRepository(t *Task) error {
	repo, err := e.repos.Get(t.ctx, t.repository)
	if errors.Is(err, repository.ErrNotFound) {
		repo, err = e.repos.Create(t.ctx, repository.Repository{
			Name:   t.repository,
			Source: repository.SourceCrawler,
			URLs:   t.seedURLs,
			Status: repository.StatusIncomplete,
		})
		if err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load repository: %w", err)
	}
	if repo.Source != repository.SourceCrawler || repo.DirectImport {
		return repository.ErrNotCrawler
	}
	if err := e.repos.UpdateStatus(t.ctx, t.repository, repository.StatusIncomplete); err != nil {
		return fmt.Errorf("mark repository incomplete: %w", err)
	}
	if err := e.repos.UpdateSeedURLs(t.ctx, t.repository, t.seedURLs); err != nil {
		e.logger.Warn("persisting seed urls failed",
			zap.String("repository", t.repository),
			zap.Error(err))
	}
	return nil
}

// seed pre-marks already crawled URLs for incremental runs, then pushes the
// seeds. The manifest is authoritative; decoding artifact filenames is a
// lossy fallback for repositories that predate it.
func (e *Engine) seed(t *Task) {
	if t.incremental {
		manifest, err := e.repos.LoadManifest(t.ctx, t.repository)
		if err != nil {
			e.logger.Warn("manifest load failed, falling back to filename scan",
				zap.String("repository", t.repository),
				zap.Error(err))
		}
		if len(manifest) > 0 {
			for crawled := range manifest {
				t.visited.MarkIfAbsent(crawled)
			}
		} else {
			names, err := e.repos.ListArtifacts(t.ctx, t.repository, []string{".txt", ".pdf", ".html"})
			if err != nil {
				e.logger.Warn("artifact scan failed, incremental dedupe disabled",
					zap.String("repository", t.repository),
					zap.Error(err))
			}
			for _, name := range names {
				candidate, ok := FilenameToURL(name)
				if !ok {
					continue
				}
				t.visited.MarkIfAbsent(candidate)
				t.visited.MarkIfAbsent("http://" + candidate)
				t.visited.MarkIfAbsent("https://" + candidate)
			}
		}
		e.logger.Info("incremental pre-scan complete",
			zap.String("task_id", t.id),
			zap.String("repository", t.repository),
			zap.Int("known_urls", t.visited.Len()))
	}

	for _, u := range t.seedURLs {
		t.frontier.Push(u, 0, 0)
		t.totalURLs.Add(1)
	}
}

// finalize runs exactly once per task, after the pool has drained or the
// task failed to start. It settles repository status, emits the terminal
// progress stage and publishes the completion event.
func (e *Engine) finalize(t *Task) {
	snap := t.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	switch snap.Status {
	case TaskStatusCompleted:
		if err := e.repos.UpdateStatus(ctx, t.repository, repository.StatusComplete); err != nil && !errors.Is(err, repository.ErrNotFound) {
			e.logger.Warn("marking repository complete failed",
				zap.String("repository", t.repository),
				zap.Error(err))
		}
	case TaskStatusFailed:
		if err := e.repos.UpdateStatus(ctx, t.repository, repository.StatusError); err != nil && !errors.Is(err, repository.ErrNotFound) {
			e.logger.Warn("marking repository errored failed",
				zap.String("repository", t.repository),
				zap.Error(err))
		}
	case TaskStatusStopped:
		// A stop leaves the repository as it was.
	}

	stage := progress.StageTaskDone
	switch snap.Status {
	case TaskStatusFailed:
		stage = progress.StageTaskError
	case TaskStatusStopped:
		stage = progress.StageTaskStopped
	}
	e.emitTaskStage(t, stage, snap.Error)

	if e.publisher != nil {
		evt := TaskEvent{
			TaskID:      snap.ID,
			Repository:  snap.Repository,
			Status:      snap.Status,
			TotalURLs:   snap.TotalURLs,
			CrawledURLs: snap.CrawledURLs,
			FailedURLs:  snap.FailedURLs,
			StartedAt:   snap.StartedAt,
		}
		if snap.FinishedAt != nil {
			evt.FinishedAt = *snap.FinishedAt
		}
		if err := e.publisher.Publish(ctx, evt); err != nil {
			e.logger.Warn("publishing task event failed",
				zap.String("task_id", snap.ID),
				zap.Error(err))
		}
	}

	e.logger.Info("crawl task finished",
		zap.String("task_id", snap.ID),
		zap.String("repository", snap.Repository),
		zap.String("status", string(snap.Status)),
		zap.Int64("total_urls", snap.TotalURLs),
		zap.Int64("crawled_urls", snap.CrawledURLs),
		zap.Int64("failed_urls", snap.FailedURLs))
}

func (e *Engine) emitTaskStage(t *Task, stage progress.Stage, note string) {
	var dur time.Duration
	snap := t.Snapshot()
	if snap.FinishedAt != nil {
		dur = snap.FinishedAt.Sub(snap.StartedAt)
	}
	e.hub.Emit(progress.Event{
		TaskID:     t.id,
		Repository: t.repository,
		TS:         e.clock.Now().UTC(),
		Stage:      stage,
		Dur:        dur,
		Note:       note,
	})
}

func (e *Engine) task(id string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t, nil
}

// GetStatus returns a snapshot of the task's observable state.
func (e *Engine) GetStatus(id string) (TaskSnapshot, error) {
	t, err := e.task(id)
	if err != nil {
		return TaskSnapshot{}, err
	}
	return t.Snapshot(), nil
}

// StopTask cancels a running or paused task.
func (e *Engine) StopTask(id string) error {
	t, err := e.task(id)
	if err != nil {
		return err
	}
	return t.Stop()
}

// PauseTask suspends dequeuing on a running task.
func (e *Engine) PauseTask(id string) error {
	t, err := e.task(id)
	if err != nil {
		return err
	}
	return t.Pause()
}

// ResumeTask restarts dequeuing on a paused task.
func (e *Engine) ResumeTask(id string) error {
	t, err := e.task(id)
	if err != nil {
		return err
	}
	return t.Resume()
}

// ListTasks returns snapshots of all known tasks, newest first.
func (e *Engine) ListTasks() []TaskSnapshot {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	snaps := make([]TaskSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].StartedAt.Equal(snaps[j].StartedAt) {
			return snaps[i].ID > snaps[j].ID
		}
		return snaps[i].StartedAt.After(snaps[j].StartedAt)
	})
	return snaps
}

// ActiveTaskForRepository returns the ID of a live task writing into the
// repository, if any.
func (e *Engine) ActiveTaskForRepository(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, t := range e.tasks {
		if t.repository == name && !t.Status().Terminal() {
			return id, true
		}
	}
	return "", false
}

// WaitTask returns a channel that closes once the task has fully finished,
// including finalization.
func (e *Engine) WaitTask(id string) (<-chan struct{}, error) {
	t, err := e.task(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// Close stops every live task and waits for their finalization, bounded by
// the context.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	tasks := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.Unlock()

	for _, t := range tasks {
		if !t.Status().Terminal() {
			if err := t.Stop(); err != nil && !t.Status().Terminal() {
				e.logger.Warn("stopping task during shutdown failed",
					zap.String("task_id", t.id),
					zap.Error(err))
			}
		}
	}

	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			e.baseCancel()
			return fmt.Errorf("engine close wait: %w", ctx.Err())
		}
	}

	e.baseCancel()
	return nil
}
