package crawler

import (
	"time"
)

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values reported by GetStatus.
const (
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusStopped   TaskStatus = "stopped"
)

// Terminal reports whether the status is absorbing. Terminal tasks never
// transition again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusStopped:
		return true
	default:
		return false
	}
}

// StartRequest carries the per-task configuration for StartCrawl. Nil
// MaxDepth and MaxThreads fall back to the engine defaults; an explicit
// zero MaxDepth crawls the seeds only.
type StartRequest struct {
	Repository  string   `json:"repository_name"`
	URLs        []string `json:"urls"`
	MaxDepth    *int     `json:"max_depth,omitempty"`
	MaxThreads  *int     `json:"max_threads,omitempty"`
	Incremental bool     `json:"incremental"`
	BlockedURLs []string `json:"blocked_urls"`
}

// TaskSnapshot is a point-in-time copy of a task's observable state.
type TaskSnapshot struct {
	ID          string     `json:"task_id"`
	Repository  string     `json:"repository_name"`
	URLs        []string   `json:"urls"`
	Status      TaskStatus `json:"status"`
	MaxDepth    int        `json:"max_depth"`
	MaxThreads  int        `json:"max_threads"`
	Incremental bool       `json:"incremental"`
	StartedAt   time.Time  `json:"start_time"`
	FinishedAt  *time.Time `json:"end_time,omitempty"`
	TotalURLs   int64      `json:"total_urls"`
	CrawledURLs int64      `json:"crawled_urls"`
	FailedURLs  int64      `json:"failed_urls"`
	CurrentURLs []string   `json:"current_urls"`
	Error       string     `json:"error,omitempty"`
}

// Page is the result of fetching and converting a single HTML page.
type Page struct {
	URL        string
	Title      string
	Text       string
	RawHTML    []byte
	Links      []string
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// FetchOutcome classifies what happened to a single URL.
type FetchOutcome string

// Outcomes recorded in the fetch log.
const (
	OutcomeSaved   FetchOutcome = "saved"
	OutcomeBlocked FetchOutcome = "blocked"
	OutcomePDF     FetchOutcome = "pdf"
	OutcomeEmpty   FetchOutcome = "empty"
	OutcomeFailed  FetchOutcome = "failed"
)

// FetchRecord is the audit entry written for every processed URL.
type FetchRecord struct {
	ID         string
	TaskID     string
	Repository string
	URL        string
	Depth      int
	Outcome    FetchOutcome
	StatusCode int
	Bytes      int64
	Hash       string
	Duration   time.Duration
	FetchedAt  time.Time
}

// TaskEvent is published when a task reaches a terminal state.
type TaskEvent struct {
	TaskID      string     `json:"task_id"`
	Repository  string     `json:"repository_name"`
	Status      TaskStatus `json:"status"`
	TotalURLs   int64      `json:"total_urls"`
	CrawledURLs int64      `json:"crawled_urls"`
	FailedURLs  int64      `json:"failed_urls"`
	StartedAt   time.Time  `json:"start_time"`
	FinishedAt  time.Time  `json:"end_time"`
}

// Options holds engine-level knobs. Zero values fall back to the documented
// defaults via withDefaults.
type Options struct {
	// DefaultMaxDepth bounds BFS depth when a request does not set one.
	DefaultMaxDepth int
	// DefaultMaxThreads sizes the per-task worker pool.
	DefaultMaxThreads int
	// CheckInterval is the inactivity monitor tick.
	CheckInterval time.Duration
	// InactivityTimeout force-completes a task with no artifact writes for
	// this long.
	InactivityTimeout time.Duration
	// RetryFailedURLs re-enqueues failed URLs up to MaxRetries attempts.
	RetryFailedURLs bool
	MaxRetries      int
}

func (o Options) withDefaults() Options {
	if o.DefaultMaxDepth <= 0 {
		o.DefaultMaxDepth = 3
	}
	if o.DefaultMaxThreads <= 0 {
		o.DefaultMaxThreads = 10
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 30 * time.Second
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 180 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	return o
}
