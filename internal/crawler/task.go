package crawler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Task is one crawl run. Counters use atomics because every worker updates
// them; the status word and the timestamps sit behind the mutex so state
// transitions stay first-wins.
type Task struct {
	id          string
	repository  string
	seedURLs    []string
	maxDepth    int
	maxThreads  int
	incremental bool
	startedAt   time.Time

	totalURLs   atomic.Int64
	crawledURLs atomic.Int64
	failedURLs  atomic.Int64

	mu         sync.Mutex
	status     TaskStatus
	finishedAt *time.Time
	errMsg     string
	current    map[string]struct{}
	lastWrite  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	frontier  *Frontier
	visited   *VisitedSet
	blocklist *Blocklist
	clock     Clock
}

var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	TaskStatusRunning: {
		TaskStatusPaused:    {},
		TaskStatusStopped:   {},
		TaskStatusCompleted: {},
		TaskStatusFailed:    {},
	},
	TaskStatusPaused: {
		TaskStatusRunning: {},
		TaskStatusStopped: {},
	},
}

func newTask(parent context.Context, id string, req StartRequest, maxDepth, maxThreads int, clock Clock) *Task {
	ctx, cancel := context.WithCancel(parent)
	now := clock.Now()
	return &Task{
		id:          id,
		repository:  req.Repository,
		seedURLs:    append([]string(nil), req.URLs...),
		maxDepth:    maxDepth,
		maxThreads:  maxThreads,
		incremental: req.Incremental,
		startedAt:   now,
		status:      TaskStatusRunning,
		current:     make(map[string]struct{}),
		lastWrite:   now,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		frontier:    NewFrontier(),
		visited:     NewVisitedSet(),
		blocklist:   NewBlocklist(req.BlockedURLs),
		clock:       clock,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Repository returns the repository the task writes into.
func (t *Task) Repository() string { return t.repository }

// Context is cancelled once the task reaches a terminal state.
func (t *Task) Context() context.Context { return t.ctx }

// Done is closed after the task has fully finished, including repository
// status updates and event publication.
func (t *Task) Done() <-chan struct{} { return t.done }

// Status returns the current task state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// transition moves the task to the requested state if the state machine
// allows it. The first terminal transition wins; later ones are ignored.
func (t *Task) transition(to TaskStatus, errMsg string) bool {
	t.mu.Lock()
	targets, ok := allowedTransitions[t.status]
	if ok {
		_, ok = targets[to]
	}
	if !ok {
		t.mu.Unlock()
		return false
	}
	t.status = to
	if to == TaskStatusFailed {
		t.errMsg = errMsg
	}
	if to.Terminal() {
		now := t.clock.Now()
		t.finishedAt = &now
	}
	t.mu.Unlock()

	if to.Terminal() {
		t.cancel()
	}
	return true
}

// Pause suspends dequeuing. In-flight fetches finish and the queue survives.
func (t *Task) Pause() error {
	if !t.transition(TaskStatusPaused, "") {
		return fmt.Errorf("task %s is %s, only a running task can be paused", t.id, t.Status())
	}
	return nil
}

// Resume lets a paused task dequeue again. The artifact clock is reset so
// time spent paused does not count toward the inactivity timeout.
func (t *Task) Resume() error {
	if !t.transition(TaskStatusRunning, "") {
		return fmt.Errorf("task %s is %s, only a paused task can be resumed", t.id, t.Status())
	}
	t.touchArtifact()
	return nil
}

// Stop cancels the task. Queued URLs are abandoned.
func (t *Task) Stop() error {
	if !t.transition(TaskStatusStopped, "") {
		return fmt.Errorf("task %s is %s and cannot be stopped", t.id, t.Status())
	}
	return nil
}

func (t *Task) complete() bool { return t.transition(TaskStatusCompleted, "") }

func (t *Task) fail(errMsg string) bool { return t.transition(TaskStatusFailed, errMsg) }

// waitWhilePaused blocks the calling worker until the task leaves the paused
// state or its context is cancelled.
func (t *Task) waitWhilePaused() error {
	for {
		if t.Status() != TaskStatusPaused {
			return nil
		}
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (t *Task) addCurrent(rawURL string) {
	t.mu.Lock()
	t.current[rawURL] = struct{}{}
	t.mu.Unlock()
}

func (t *Task) removeCurrent(rawURL string) {
	t.mu.Lock()
	delete(t.current, rawURL)
	t.mu.Unlock()
}

// touchArtifact records that an artifact just landed on disk. The inactivity
// monitor keys off this timestamp, not off fetch traffic.
func (t *Task) touchArtifact() {
	now := t.clock.Now()
	t.mu.Lock()
	t.lastWrite = now
	t.mu.Unlock()
}

func (t *Task) lastArtifactAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastWrite
}

// Snapshot copies the observable task state for status reporting.
func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	current := make([]string, 0, len(t.current))
	for u := range t.current {
		current = append(current, u)
	}
	status := t.status
	var finished *time.Time
	if t.finishedAt != nil {
		f := *t.finishedAt
		finished = &f
	}
	errMsg := t.errMsg
	t.mu.Unlock()

	sort.Strings(current)
	return TaskSnapshot{
		ID:          t.id,
		Repository:  t.repository,
		URLs:        append([]string(nil), t.seedURLs...),
		Status:      status,
		MaxDepth:    t.maxDepth,
		MaxThreads:  t.maxThreads,
		Incremental: t.incremental,
		StartedAt:   t.startedAt,
		FinishedAt:  finished,
		TotalURLs:   t.totalURLs.Load(),
		CrawledURLs: t.crawledURLs.Load(),
		FailedURLs:  t.failedURLs.Load(),
		CurrentURLs: current,
		Error:       errMsg,
	}
}
