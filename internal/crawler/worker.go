package crawler

import (
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/progress"
)

const idlePollInterval = 50 * time.Millisecond

// runWorker drains the task frontier until the work is exhausted or the task
// context is cancelled. Pausing stops dequeuing; the item a worker already
// holds is always finished.
func (e *Engine) runWorker(t *Task) {
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		if err := t.waitWhilePaused(); err != nil {
			return
		}

		item, ok := t.frontier.TryPop()
		if !ok {
			if t.frontier.Exhausted() {
				return
			}
			select {
			case <-t.ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		e.processItem(t, item)
		t.frontier.Done()
	}
}

func (e *Engine) processItem(t *Task, item frontierItem) {
	// First attempts pass through the visited gate; retries already own
	// their URL.
	if item.attempt == 0 && !t.visited.MarkIfAbsent(item.url) {
		return
	}

	t.addCurrent(item.url)
	defer t.removeCurrent(item.url)

	if IsPDF(item.url) {
		e.fetchPDF(t, item)
		return
	}
	e.fetchPage(t, item)
}

// fetchPDF streams a PDF straight into the artifact store. PDFs are kept
// even when the blocklist matches, and they never contribute links.
func (e *Engine) fetchPDF(t *Task, item frontierItem) {
	start := e.clock.Now()
	res, err := e.binaries.FetchBinary(t.ctx, item.url)
	if err != nil {
		e.handleFetchError(t, item, 0, err, start)
		return
	}
	defer res.Body.Close()

	dur := e.clock.Now().Sub(start)
	if res.StatusCode >= 400 {
		e.countFailure(t, item, res.StatusCode, dur, "pdf fetch returned error status")
		return
	}

	filename := URLToFilename(item.url) + ".pdf"
	body := &countingReader{r: res.Body}
	if _, err := e.artifacts.WriteArtifact(t.ctx, t.repository, filename, "application/pdf", body); err != nil {
		e.logger.Warn("pdf artifact write failed",
			zap.String("task_id", t.id),
			zap.String("url", item.url),
			zap.Error(err))
		e.countFailure(t, item, res.StatusCode, e.clock.Now().Sub(start), "artifact write failed")
		return
	}

	if err := e.repos.AppendManifest(t.ctx, t.repository, item.url, filename); err != nil {
		e.logger.Warn("manifest append failed",
			zap.String("repository", t.repository),
			zap.String("url", item.url),
			zap.Error(err))
	}

	t.touchArtifact()
	t.crawledURLs.Add(1)
	dur = e.clock.Now().Sub(start)
	e.recordFetch(t, item, OutcomePDF, res.StatusCode, body.n, "", dur)
	e.emitFetchDone(t, item.url, res.StatusCode, body.n, dur, string(OutcomePDF))
	e.emitArtifactWritten(t, item.url, filename, body.n)
}

// fetchPage fetches an HTML page, persists its text unless the URL is
// blocked or the page is empty, and feeds eligible links back into the
// frontier. Blocked pages are still traversed.
func (e *Engine) fetchPage(t *Task, item frontierItem) {
	start := e.clock.Now()
	page, err := e.pages.FetchPage(t.ctx, item.url)
	if err != nil {
		e.handleFetchError(t, item, page.StatusCode, err, start)
		return
	}
	dur := e.clock.Now().Sub(start)

	blocked := t.blocklist.Blocked(item.url)
	outcome := OutcomeEmpty
	var hash string
	switch {
	case blocked:
		outcome = OutcomeBlocked
	case strings.TrimSpace(page.Text) != "":
		filename := URLToFilename(item.url) + ".txt"
		if _, err := e.artifacts.WriteArtifact(t.ctx, t.repository, filename, "text/plain; charset=utf-8", strings.NewReader(page.Text)); err != nil {
			e.logger.Warn("text artifact write failed",
				zap.String("task_id", t.id),
				zap.String("url", item.url),
				zap.Error(err))
			e.countFailure(t, item, page.StatusCode, dur, "artifact write failed")
			e.enqueueLinks(t, item, page.Links)
			return
		}
		if err := e.repos.AppendManifest(t.ctx, t.repository, item.url, filename); err != nil {
			e.logger.Warn("manifest append failed",
				zap.String("repository", t.repository),
				zap.String("url", item.url),
				zap.Error(err))
		}
		t.touchArtifact()
		t.crawledURLs.Add(1)
		outcome = OutcomeSaved
		if h, err := e.hasher.Hash([]byte(page.Text)); err == nil {
			hash = h
		}
		e.emitArtifactWritten(t, item.url, filename, int64(len(page.Text)))
	}

	e.enqueueLinks(t, item, page.Links)
	e.recordFetch(t, item, outcome, page.StatusCode, page.Bytes, hash, dur)
	e.emitFetchDone(t, item.url, page.StatusCode, page.Bytes, dur, string(outcome))
}

// enqueueLinks pushes same-host links one level deeper. Depth-limited and
// deduplicated against the visited set; the pop-time gate is authoritative
// for races.
func (e *Engine) enqueueLinks(t *Task, item frontierItem, links []string) {
	if item.depth >= t.maxDepth {
		return
	}
	pageHost := Host(item.url)
	for _, link := range links {
		link = NormalizeURL(link)
		if !ShouldCrawl(link, pageHost) {
			continue
		}
		if t.visited.Seen(link) {
			continue
		}
		t.frontier.Push(link, item.depth+1, 0)
		t.totalURLs.Add(1)
	}
}

// handleFetchError either schedules a retry or counts the URL as failed.
// The backoff sleep is context-aware so a stop is never delayed by it.
func (e *Engine) handleFetchError(t *Task, item frontierItem, statusCode int, err error, start time.Time) {
	dur := e.clock.Now().Sub(start)
	if e.retry.ShouldRetry(err, item.attempt) {
		delay := e.retry.Backoff(item.attempt)
		e.logger.Debug("retrying url",
			zap.String("task_id", t.id),
			zap.String("url", item.url),
			zap.Int("attempt", item.attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		e.recordFetch(t, item, OutcomeFailed, statusCode, 0, "", dur)
		select {
		case <-t.ctx.Done():
			return
		case <-time.After(delay):
		}
		t.frontier.Push(item.url, item.depth, item.attempt+1)
		return
	}

	e.logger.Debug("url failed",
		zap.String("task_id", t.id),
		zap.String("url", item.url),
		zap.Int("attempt", item.attempt+1),
		zap.Error(err))
	e.countFailure(t, item, statusCode, dur, err.Error())
}

func (e *Engine) countFailure(t *Task, item frontierItem, statusCode int, dur time.Duration, note string) {
	t.failedURLs.Add(1)
	e.recordFetch(t, item, OutcomeFailed, statusCode, 0, "", dur)
	e.emitFetchDone(t, item.url, statusCode, 0, dur, note)
}

func (e *Engine) recordFetch(t *Task, item frontierItem, outcome FetchOutcome, statusCode int, bytes int64, hash string, dur time.Duration) {
	id, err := e.ids.NewID()
	if err != nil {
		e.logger.Debug("fetch record id generation failed", zap.Error(err))
	}
	rec := FetchRecord{
		ID:         id,
		TaskID:     t.id,
		Repository: t.repository,
		URL:        item.url,
		Depth:      item.depth,
		Outcome:    outcome,
		StatusCode: statusCode,
		Bytes:      bytes,
		Hash:       hash,
		Duration:   dur,
		FetchedAt:  e.clock.Now(),
	}
	if err := e.fetchLog.Record(t.ctx, rec); err != nil {
		e.logger.Debug("fetch log record failed",
			zap.String("task_id", t.id),
			zap.String("url", item.url),
			zap.Error(err))
	}
}

func (e *Engine) emitFetchDone(t *Task, rawURL string, statusCode int, bytes int64, dur time.Duration, note string) {
	site := Host(rawURL)
	if site == "" {
		site = "unknown"
	}
	e.hub.Emit(progress.Event{
		TaskID:      t.id,
		Repository:  t.repository,
		TS:          e.clock.Now().UTC(),
		Stage:       progress.StageFetchDone,
		Site:        site,
		URL:         rawURL,
		Bytes:       bytes,
		StatusClass: progress.ClassifyStatus(statusCode),
		Dur:         dur,
		Note:        note,
	})
}

func (e *Engine) emitArtifactWritten(t *Task, rawURL, filename string, bytes int64) {
	e.hub.Emit(progress.Event{
		TaskID:     t.id,
		Repository: t.repository,
		TS:         e.clock.Now().UTC(),
		Stage:      progress.StageArtifactWritten,
		Site:       Host(rawURL),
		URL:        rawURL,
		Bytes:      bytes,
		Note:       filename,
	})
}

// countingReader tracks how many bytes passed through so streamed artifacts
// can report their size without buffering.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
