package crawler_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/clock/system"
	"github.com/truesight/crawld/internal/crawler"
	"github.com/truesight/crawld/internal/hash/sha256"
	"github.com/truesight/crawld/internal/id/uuid"
	memorypublisher "github.com/truesight/crawld/internal/publisher/memory"
	"github.com/truesight/crawld/internal/repository"
	memorystorage "github.com/truesight/crawld/internal/storage/memory"
)

const waitTimeout = 5 * time.Second

func intptr(v int) *int { return &v }

// fakeSite serves canned pages and PDFs and records every fetch.
type fakeSite struct {
	mu      sync.Mutex
	pages   map[string]crawler.Page
	pdfs    map[string][]byte
	errOnce map[string]error
	gate    chan struct{} // when set, FetchPage blocks until closed or ctx done
	fetched []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:   make(map[string]crawler.Page),
		pdfs:    make(map[string][]byte),
		errOnce: make(map[string]error),
	}
}

func (s *fakeSite) addPage(url, text string, links ...string) {
	s.pages[url] = crawler.Page{
		URL:        url,
		Text:       text,
		Links:      links,
		StatusCode: 200,
		Bytes:      int64(len(text)),
	}
}

func (s *fakeSite) record(url string) {
	s.mu.Lock()
	s.fetched = append(s.fetched, url)
	s.mu.Unlock()
}

func (s *fakeSite) fetchedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetched...)
}

func (s *fakeSite) fetchCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, u := range s.fetched {
		if u == url {
			n++
		}
	}
	return n
}

func (s *fakeSite) FetchPage(ctx context.Context, pageURL string) (crawler.Page, error) {
	s.record(pageURL)

	s.mu.Lock()
	gate := s.gate
	if err, ok := s.errOnce[pageURL]; ok {
		delete(s.errOnce, pageURL)
		s.mu.Unlock()
		return crawler.Page{}, err
	}
	page, ok := s.pages[pageURL]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return crawler.Page{}, fmt.Errorf("fetch %s: %w", pageURL, ctx.Err())
		}
	}
	if !ok {
		return crawler.Page{StatusCode: 404}, fmt.Errorf("fetch %s: not found", pageURL)
	}
	return page, nil
}

func (s *fakeSite) FetchBinary(_ context.Context, fileURL string) (crawler.BinaryResult, error) {
	s.record(fileURL)
	s.mu.Lock()
	data, ok := s.pdfs[fileURL]
	s.mu.Unlock()
	if !ok {
		return crawler.BinaryResult{}, fmt.Errorf("fetch %s: not found", fileURL)
	}
	return crawler.BinaryResult{
		Body:        io.NopCloser(bytes.NewReader(data)),
		StatusCode:  200,
		ContentType: "application/pdf",
	}, nil
}

type engineFixture struct {
	engine    *crawler.Engine
	site      *fakeSite
	repos     *repository.MemoryStore
	artifacts *memorystorage.ArtifactStore
	fetchLog  *memorystorage.FetchLog
	publisher *memorypublisher.Publisher
}

func newEngineFixture(t *testing.T, opts crawler.Options) *engineFixture {
	t.Helper()
	f := &engineFixture{
		site:      newFakeSite(),
		repos:     repository.NewMemoryStore(),
		artifacts: memorystorage.NewArtifactStore(),
		fetchLog:  memorystorage.NewFetchLog(),
		publisher: memorypublisher.New(),
	}
	engine, err := crawler.NewEngine(opts, crawler.Deps{
		Repositories: f.repos,
		Artifacts:    f.artifacts,
		Pages:        f.site,
		Binaries:     f.site,
		FetchLog:     f.fetchLog,
		Publisher:    f.publisher,
		Hasher:       sha256.New(),
		Clock:        system.New(),
		IDs:          uuid.New(),
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	f.engine = engine
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = engine.Close(ctx)
	})
	return f
}

func (f *engineFixture) waitDone(t *testing.T, taskID string) crawler.TaskSnapshot {
	t.Helper()
	done, err := f.engine.WaitTask(taskID)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatalf("task %s did not finish in time", taskID)
	}
	snap, err := f.engine.GetStatus(taskID)
	require.NoError(t, err)
	return snap
}

func TestCrawlSameDomainBFS(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.addPage("http://a.com/x", "page x",
		"http://a.com/y", "http://a.com/z", "http://b.com/w")
	f.site.addPage("http://a.com/y", "page y", "http://a.com/deep")
	f.site.addPage("http://a.com/z", "page z")
	f.site.addPage("http://a.com/deep", "too deep")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "docs",
		URLs:       []string{"a.com/x"},
		MaxDepth:   intptr(1),
		MaxThreads: intptr(3),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.NotNil(t, snap.FinishedAt)
	require.Equal(t, int64(3), snap.TotalURLs)
	require.Equal(t, int64(3), snap.CrawledURLs)
	require.Equal(t, int64(0), snap.FailedURLs)
	require.Empty(t, snap.CurrentURLs)

	fetched := f.site.fetchedURLs()
	require.ElementsMatch(t, []string{"http://a.com/x", "http://a.com/y", "http://a.com/z"}, fetched)
	require.NotContains(t, fetched, "http://b.com/w", "cross-domain link must never be fetched")
	require.NotContains(t, fetched, "http://a.com/deep", "depth bound must hold")

	// Artifacts landed under the codec names.
	_, ok := f.artifacts.Get("docs", "a_com_x.txt")
	require.True(t, ok)
	_, ok = f.artifacts.Get("docs", "a_com_y.txt")
	require.True(t, ok)

	// The repository was created on demand and marked complete.
	repo, err := f.repos.Get(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, repository.StatusComplete, repo.Status)
	require.Equal(t, []string{"http://a.com/x"}, repo.URLs)

	// Completion was published.
	events := f.publisher.Events()
	require.Len(t, events, 1)
	require.Equal(t, taskID, events[0].TaskID)
	require.Equal(t, crawler.TaskStatusCompleted, events[0].Status)
}

func TestCrawlDepthZeroFetchesOnlySeeds(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.addPage("http://a.com/x", "page x", "http://a.com/y")
	f.site.addPage("http://a.com/y", "page y")

	// An explicit zero is not the same as an absent depth: the seeds are
	// persisted but none of their links are enqueued.
	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "shallow",
		URLs:       []string{"http://a.com/x"},
		MaxDepth:   intptr(0),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, int64(1), snap.TotalURLs)
	require.Equal(t, int64(1), snap.CrawledURLs)
	require.Equal(t, []string{"http://a.com/x"}, f.site.fetchedURLs())

	_, ok := f.artifacts.Get("shallow", "a_com_x.txt")
	require.True(t, ok)
	_, ok = f.artifacts.Get("shallow", "a_com_y.txt")
	require.False(t, ok)
}

func TestCrawlDefaultDepthWhenUnset(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{DefaultMaxDepth: 1, DefaultMaxThreads: 2})
	f.site.addPage("http://a.com/x", "page x", "http://a.com/y")
	f.site.addPage("http://a.com/y", "page y", "http://a.com/deep")
	f.site.addPage("http://a.com/deep", "too deep")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "defaulted",
		URLs:       []string{"http://a.com/x"},
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, 1, snap.MaxDepth)
	fetched := f.site.fetchedURLs()
	require.ElementsMatch(t, []string{"http://a.com/x", "http://a.com/y"}, fetched)
}

func TestCrawlDedupNeverFetchesTwice(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	// x and y link to each other and to themselves.
	f.site.addPage("http://a.com/x", "x", "http://a.com/x", "http://a.com/y")
	f.site.addPage("http://a.com/y", "y", "http://a.com/x", "http://a.com/y")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "loop",
		URLs:       []string{"http://a.com/x"},
		MaxDepth:   intptr(5),
		MaxThreads: intptr(4),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, 1, f.site.fetchCount("http://a.com/x"))
	require.Equal(t, 1, f.site.fetchCount("http://a.com/y"))
	require.LessOrEqual(t, snap.CrawledURLs+snap.FailedURLs, snap.TotalURLs)
}

func TestCrawlBlockedPageTraversedNotPersisted(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.addPage("http://a.com/private", "secret", "http://a.com/public")
	f.site.addPage("http://a.com/public", "open content")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository:  "filtered",
		URLs:        []string{"http://a.com/private"},
		MaxDepth:    intptr(1),
		BlockedURLs: []string{"/private"},
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)

	// The blocked page was fetched for its links but never written.
	require.Equal(t, 1, f.site.fetchCount("http://a.com/private"))
	_, ok := f.artifacts.Get("filtered", "a_com_private.txt")
	require.False(t, ok)

	// Its link survived and was persisted.
	_, ok = f.artifacts.Get("filtered", "a_com_public.txt")
	require.True(t, ok)
	require.Equal(t, int64(1), snap.CrawledURLs)

	var blocked int
	for _, rec := range f.fetchLog.ByTask(taskID) {
		if rec.Outcome == crawler.OutcomeBlocked {
			blocked++
			require.Equal(t, "http://a.com/private", rec.URL)
		}
	}
	require.Equal(t, 1, blocked)
}

func TestCrawlPDFBypassesBlocklist(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.pdfs["http://a.com/report.pdf"] = []byte("%PDF-1.7 payload")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository:  "papers",
		URLs:        []string{"http://a.com/report.pdf"},
		MaxDepth:    intptr(2),
		BlockedURLs: []string{`\.pdf$`},
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, int64(1), snap.CrawledURLs)

	data, ok := f.artifacts.Get("papers", "a_com_report_pdf.pdf")
	require.True(t, ok)
	require.Equal(t, []byte("%PDF-1.7 payload"), data)

	recs := f.fetchLog.ByTask(taskID)
	require.Len(t, recs, 1)
	require.Equal(t, crawler.OutcomePDF, recs[0].Outcome)
}

func TestCrawlIncrementalSkipsManifestURLs(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	ctx := context.Background()
	_, err := f.repos.Create(ctx, repository.Repository{
		Name:   "docs",
		Source: repository.SourceCrawler,
	})
	require.NoError(t, err)
	require.NoError(t, f.repos.AppendManifest(ctx, "docs", "http://a.com/x", "a_com_x.txt"))

	f.site.addPage("http://a.com/x", "already crawled")
	f.site.addPage("http://a.com/new", "fresh content")

	taskID, err := f.engine.StartCrawl(ctx, crawler.StartRequest{
		Repository:  "docs",
		URLs:        []string{"http://a.com/x", "http://a.com/new"},
		MaxDepth:    intptr(1),
		Incremental: true,
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, int64(1), snap.CrawledURLs)
	require.Zero(t, f.site.fetchCount("http://a.com/x"), "manifested URL must not be refetched")
	require.Equal(t, 1, f.site.fetchCount("http://a.com/new"))
}

func TestCrawlIncrementalFilenameFallback(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	ctx := context.Background()
	_, err := f.repos.Create(ctx, repository.Repository{
		Name:   "legacy",
		Source: repository.SourceCrawler,
	})
	require.NoError(t, err)
	// No manifest entry; only a pre-manifest artifact whose name decodes.
	f.repos.RecordArtifact("legacy", "www_example_com.txt")

	f.site.addPage("http://www.example.com", "front page")

	taskID, err := f.engine.StartCrawl(ctx, crawler.StartRequest{
		Repository:  "legacy",
		URLs:        []string{"www.example.com"},
		Incremental: true,
		MaxDepth:    intptr(1),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Zero(t, f.site.fetchCount("http://www.example.com"))
	require.Equal(t, int64(0), snap.CrawledURLs)
}

func TestCrawlStopCancelsPromptly(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	gate := make(chan struct{})
	f.site.gate = gate
	f.site.addPage("http://a.com/x", "x", "http://a.com/y")
	f.site.addPage("http://a.com/y", "y")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "stopped",
		URLs:       []string{"http://a.com/x"},
		MaxDepth:   intptr(3),
		MaxThreads: intptr(2),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.site.fetchCount("http://a.com/x") == 1
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, f.engine.StopTask(taskID))
	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusStopped, snap.Status)

	// The in-flight fetch aborted via context; nothing new started after.
	require.Zero(t, f.site.fetchCount("http://a.com/y"))

	// A stop leaves the repository incomplete.
	repo, err := f.repos.Get(context.Background(), "stopped")
	require.NoError(t, err)
	require.Equal(t, repository.StatusIncomplete, repo.Status)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	require.Equal(t, crawler.TaskStatusStopped, events[0].Status)
}

func TestCrawlPauseRetainsFrontier(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	gate := make(chan struct{})
	f.site.gate = gate
	f.site.addPage("http://a.com/x", "x", "http://a.com/y", "http://a.com/z")
	f.site.addPage("http://a.com/y", "y")
	f.site.addPage("http://a.com/z", "z")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "paused",
		URLs:       []string{"http://a.com/x"},
		MaxDepth:   intptr(1),
		MaxThreads: intptr(1),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.site.fetchCount("http://a.com/x") == 1
	}, waitTimeout, 5*time.Millisecond)

	require.NoError(t, f.engine.PauseTask(taskID))

	// Let the in-flight fetch finish and enqueue its links.
	f.site.mu.Lock()
	f.site.gate = nil
	f.site.mu.Unlock()
	close(gate)

	// While paused, nothing new is dequeued.
	time.Sleep(250 * time.Millisecond)
	require.Zero(t, f.site.fetchCount("http://a.com/y"))
	require.Zero(t, f.site.fetchCount("http://a.com/z"))
	snap, err := f.engine.GetStatus(taskID)
	require.NoError(t, err)
	require.Equal(t, crawler.TaskStatusPaused, snap.Status)

	require.NoError(t, f.engine.ResumeTask(taskID))
	snap = f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, 1, f.site.fetchCount("http://a.com/y"))
	require.Equal(t, 1, f.site.fetchCount("http://a.com/z"))
}

func TestCrawlFailedURLDoesNotAbortTask(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.addPage("http://a.com/x", "x", "http://a.com/gone", "http://a.com/y")
	f.site.addPage("http://a.com/y", "y")
	// a.com/gone has no page registered: every fetch of it fails.

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "partial",
		URLs:       []string{"http://a.com/x"},
		MaxDepth:   intptr(1),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, int64(2), snap.CrawledURLs)
	require.Equal(t, int64(1), snap.FailedURLs)
	require.Equal(t, int64(3), snap.TotalURLs)
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{RetryFailedURLs: true, MaxRetries: 2})
	f.site.addPage("http://a.com/flaky", "recovered")
	f.site.errOnce["http://a.com/flaky"] = errors.New("connection reset")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "retry",
		URLs:       []string{"http://a.com/flaky"},
		MaxDepth:   intptr(1),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, int64(1), snap.CrawledURLs)
	require.Equal(t, int64(0), snap.FailedURLs, "a recovered URL is not a failure")
	require.Equal(t, 2, f.site.fetchCount("http://a.com/flaky"))
}

func TestInactivityMonitorForcesCompletion(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{
		CheckInterval:     20 * time.Millisecond,
		InactivityTimeout: 80 * time.Millisecond,
	})
	f.site.gate = make(chan struct{}) // every fetch hangs until cancelled
	f.site.addPage("http://a.com/slow", "never delivered")

	taskID, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "stalled",
		URLs:       []string{"http://a.com/slow"},
		MaxDepth:   intptr(1),
	})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status,
		"the monitor force-completes a quiet task")
	require.NotNil(t, snap.FinishedAt)

	repo, err := f.repos.Get(context.Background(), "stalled")
	require.NoError(t, err)
	require.Equal(t, repository.StatusComplete, repo.Status)
}

func TestStartCrawlValidation(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	ctx := context.Background()

	_, err := f.engine.StartCrawl(ctx, crawler.StartRequest{URLs: []string{"http://a.com"}})
	require.Error(t, err)

	_, err = f.engine.StartCrawl(ctx, crawler.StartRequest{Repository: "docs"})
	require.Error(t, err)

	// Upload-sourced repositories cannot be crawled into.
	_, err = f.repos.Create(ctx, repository.Repository{Name: "uploads", Source: repository.SourceUpload})
	require.NoError(t, err)
	_, err = f.engine.StartCrawl(ctx, crawler.StartRequest{
		Repository: "uploads",
		URLs:       []string{"http://a.com"},
	})
	require.ErrorIs(t, err, repository.ErrNotCrawler)
}

func TestStartStoredCrawlUsesSavedSeeds(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	ctx := context.Background()
	_, err := f.repos.Create(ctx, repository.Repository{
		Name:   "docs",
		Source: repository.SourceCrawler,
		URLs:   []string{"http://a.com/x"},
	})
	require.NoError(t, err)
	f.site.addPage("http://a.com/x", "stored seed")

	taskID, err := f.engine.StartStoredCrawl(ctx, "docs", crawler.StartRequest{MaxDepth: intptr(1)})
	require.NoError(t, err)

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusCompleted, snap.Status)
	require.Equal(t, 1, f.site.fetchCount("http://a.com/x"))

	_, err = f.engine.StartStoredCrawl(ctx, "missing", crawler.StartRequest{})
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetStatusUnknownTask(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	_, err := f.engine.GetStatus("crawl_0")
	require.ErrorIs(t, err, crawler.ErrTaskNotFound)
	require.ErrorIs(t, f.engine.StopTask("crawl_0"), crawler.ErrTaskNotFound)
}

func TestListTasksNewestFirst(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, crawler.Options{})
	f.site.addPage("http://a.com/1", "one")
	f.site.addPage("http://a.com/2", "two")

	first, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "r1", URLs: []string{"http://a.com/1"}, MaxDepth: intptr(1),
	})
	require.NoError(t, err)
	f.waitDone(t, first)

	second, err := f.engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "r2", URLs: []string{"http://a.com/2"}, MaxDepth: intptr(1),
	})
	require.NoError(t, err)
	f.waitDone(t, second)

	tasks := f.engine.ListTasks()
	require.Len(t, tasks, 2)
	ids := []string{tasks[0].ID, tasks[1].ID}
	require.ElementsMatch(t, []string{first, second}, ids)
	require.NotEqual(t, first, second, "ids within one second get a suffix")
}

func TestOrchestrationFailureMarksTaskFailed(t *testing.T) {
	t.Parallel()

	f := &engineFixture{
		site:      newFakeSite(),
		repos:     repository.NewMemoryStore(),
		artifacts: memorystorage.NewArtifactStore(),
		fetchLog:  memorystorage.NewFetchLog(),
		publisher: memorypublisher.New(),
	}
	engine, err := crawler.NewEngine(crawler.Options{}, crawler.Deps{
		Repositories: &failingCreateStore{MemoryStore: f.repos},
		Artifacts:    f.artifacts,
		Pages:        f.site,
		Binaries:     f.site,
		FetchLog:     f.fetchLog,
		Publisher:    f.publisher,
		Hasher:       sha256.New(),
		Clock:        system.New(),
		IDs:          uuid.New(),
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	f.engine = engine
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = engine.Close(ctx)
	})

	taskID, err := engine.StartCrawl(context.Background(), crawler.StartRequest{
		Repository: "doomed",
		URLs:       []string{"http://a.com"},
	})
	require.NoError(t, err, "orchestration failures surface on the task, not here")

	snap := f.waitDone(t, taskID)
	require.Equal(t, crawler.TaskStatusFailed, snap.Status)
	require.Contains(t, snap.Error, "create repository")
	require.Empty(t, f.site.fetchedURLs())

	events := f.publisher.Events()
	require.Len(t, events, 1)
	require.Equal(t, crawler.TaskStatusFailed, events[0].Status)
}

// failingCreateStore refuses repository creation to exercise the task
// failure path.
type failingCreateStore struct {
	*repository.MemoryStore
}

func (s *failingCreateStore) Create(context.Context, repository.Repository) (repository.Repository, error) {
	return repository.Repository{}, errors.New("disk full")
}
