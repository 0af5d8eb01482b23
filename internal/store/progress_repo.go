package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("progress record not found")

// TaskRunStatus mirrors the task_runs status column.
type TaskRunStatus string

// Task run statuses persisted in task_runs.status.
const (
	RunRunning   TaskRunStatus = "running"
	RunCompleted TaskRunStatus = "completed"
	RunFailed    TaskRunStatus = "failed"
	RunStopped   TaskRunStatus = "stopped"
)

// TaskRun models the task_runs table for API responses.
type TaskRun struct {
	// TaskID is the crawl identifier shared with the engine (crawl_<unix>).
	TaskID string
	// Repository names the repository the run wrote into.
	Repository string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run reaches a terminal status.
	FinishedAt *time.Time
	// Status is running/completed/failed/stopped.
	Status TaskRunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// SiteStats captures per-site aggregation for a task run.
type SiteStats struct {
	// TaskID is the owning crawl run.
	TaskID string
	// Site is the normalized host label (e.g., example.com).
	Site string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Visits counts completed fetches for the site.
	Visits int64
	// BytesTotal accumulates response bytes.
	BytesTotal int64
	// Fetch2xx-5xx hold per-status counts for diagnostics.
	Fetch2xx int64
	Fetch3xx int64
	Fetch4xx int64
	Fetch5xx int64
}

// ProgressRepository persists incremental crawl run progress.
type ProgressRepository interface {
	// UpsertTaskStart inserts (or idempotently updates) the started_at timestamp.
	UpsertTaskStart(ctx context.Context, taskID, repository string, startedAt time.Time) error
	// CompleteTask marks the run finished with the provided status and error.
	CompleteTask(ctx context.Context, taskID string, finishedAt time.Time, status TaskRunStatus, errMsg *string) error
	// UpsertSiteStats applies visit/byte deltas per (task, site, statusClass).
	UpsertSiteStats(
		ctx context.Context,
		taskID string,
		site string,
		deltaVisits int64,
		deltaBytes int64,
		statusClass string,
		at time.Time,
	) error

	// GetTask loads a single task run or returns ErrNotFound.
	GetTask(ctx context.Context, taskID string) (TaskRun, error)
	// ListTasks returns task runs filtered by optional status plus limit/offset.
	ListTasks(ctx context.Context, status *TaskRunStatus, limit, offset int) ([]TaskRun, error)
	// ListTaskSites returns aggregated site stats for one task run.
	ListTaskSites(ctx context.Context, taskID string, limit, offset int) ([]SiteStats, error)
}
