package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truesight/crawld/internal/store"
)

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ProgressStore implements store.ProgressRepository using Postgres.
type ProgressStore struct {
	pool querier
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(ctx context.Context, dsn string) (*ProgressStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &ProgressStore{pool: pool}, nil
}

// NewProgressStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProgressStoreWithPool(pool querier) (*ProgressStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ProgressStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *ProgressStore) Close() {
	s.pool.Close()
}

// UpsertTaskStart inserts or refreshes a task run's start row.
func (s *ProgressStore) UpsertTaskStart(ctx context.Context, taskID, repository string, startedAt time.Time) error {
	query := `
		INSERT INTO task_runs (task_id, repository, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_id) DO UPDATE
		SET started_at = EXCLUDED.started_at, status = EXCLUDED.status
		WHERE task_runs.status <> EXCLUDED.status;
	`
	_, err := s.pool.Exec(ctx, query, taskID, repository, startedAt, store.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to upsert task start: %w", err)
	}
	return nil
}

// CompleteTask marks a task run finished with a status and optional error message.
func (s *ProgressStore) CompleteTask(
	ctx context.Context,
	taskID string,
	finishedAt time.Time,
	status store.TaskRunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE task_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE task_id = $4;
	`
	_, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, taskID)
	if err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// UpsertSiteStats updates the statistics for a given site within a task run.
func (s *ProgressStore) UpsertSiteStats(
	ctx context.Context,
	taskID string,
	site string,
	deltaVisits,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	var query string
	switch statusClass {
	case "2xx":
		query = `UPDATE site_stats SET visits = visits + $1,
			bytes_total = bytes_total + $2,
			fetch_2xx = fetch_2xx + $1,
			last_update = $3
			WHERE task_id = $4 AND site = $5;`
	case "3xx":
		query = `UPDATE site_stats SET visits = visits + $1,
			bytes_total = bytes_total + $2,
			fetch_3xx = fetch_3xx + $1,
			last_update = $3
			WHERE task_id = $4 AND site = $5;`
	case "4xx":
		query = `UPDATE site_stats SET visits = visits + $1,
			bytes_total = bytes_total + $2,
			fetch_4xx = fetch_4xx + $1,
			last_update = $3
			WHERE task_id = $4 AND site = $5;`
	case "5xx":
		query = `UPDATE site_stats SET visits = visits + $1,
			bytes_total = bytes_total + $2,
			fetch_5xx = fetch_5xx + $1,
			last_update = $3
			WHERE task_id = $4 AND site = $5;`
	case "other":
		query = `UPDATE site_stats SET visits = visits + $1,
			bytes_total = bytes_total + $2,
			last_update = $3
			WHERE task_id = $4 AND site = $5;`
	default:
		return fmt.Errorf("unknown status class: %s", statusClass)
	}

	res, err := s.pool.Exec(ctx, query, deltaVisits, deltaBytes, at, taskID, site)
	if err != nil {
		return fmt.Errorf("failed to update site stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var fetch2xx, fetch3xx, fetch4xx, fetch5xx int64
		switch statusClass {
		case "2xx":
			fetch2xx = deltaVisits
		case "3xx":
			fetch3xx = deltaVisits
		case "4xx":
			fetch4xx = deltaVisits
		case "5xx":
			fetch5xx = deltaVisits
		}

		query = `
			INSERT INTO site_stats (task_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (task_id, site) DO NOTHING;
		`
		_, err = s.pool.Exec(
			ctx,
			query,
			taskID,
			site,
			at,
			deltaVisits,
			deltaBytes,
			fetch2xx,
			fetch3xx,
			fetch4xx,
			fetch5xx,
		)
		if err != nil {
			return fmt.Errorf("failed to insert site stats: %w", err)
		}
	}
	return nil
}

// GetTask retrieves a single task run by its ID.
func (s *ProgressStore) GetTask(ctx context.Context, taskID string) (store.TaskRun, error) {
	query := `
		SELECT task_id, repository, started_at, finished_at, status, error_message
		FROM task_runs
		WHERE task_id = $1;
	`
	var run store.TaskRun
	err := s.pool.QueryRow(ctx, query, taskID).Scan(
		&run.TaskID,
		&run.Repository,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.TaskRun{}, store.ErrNotFound
		}
		return store.TaskRun{}, fmt.Errorf("failed to get task: %w", err)
	}
	return run, nil
}

// ListTasks retrieves a list of task runs, with optional status filtering.
func (s *ProgressStore) ListTasks(
	ctx context.Context,
	status *store.TaskRunStatus,
	limit,
	offset int,
) ([]store.TaskRun, error) {
	query := `
		SELECT task_id, repository, started_at, finished_at, status, error_message
		FROM task_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var runs []store.TaskRun
	for rows.Next() {
		var run store.TaskRun
		err := rows.Scan(
			&run.TaskID,
			&run.Repository,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListTaskSites retrieves aggregated site statistics for a given task run.
func (s *ProgressStore) ListTaskSites(
	ctx context.Context,
	taskID string,
	limit,
	offset int,
) ([]store.SiteStats, error) {
	query := `
		SELECT task_id, site, last_update, visits, bytes_total, fetch_2xx, fetch_3xx, fetch_4xx, fetch_5xx
		FROM site_stats
		WHERE task_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.pool.Query(ctx, query, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list task sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var stat store.SiteStats
		err := rows.Scan(
			&stat.TaskID,
			&stat.Site,
			&stat.LastUpdate,
			&stat.Visits,
			&stat.BytesTotal,
			&stat.Fetch2xx,
			&stat.Fetch3xx,
			&stat.Fetch4xx,
			&stat.Fetch5xx,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan site stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
