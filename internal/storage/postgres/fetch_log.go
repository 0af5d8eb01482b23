// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truesight/crawld/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// FetchLogConfig controls the Postgres connection pool used for fetch rows.
type FetchLogConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// FetchLogStore appends one row per fetch attempt into Postgres. Rows are
// written with time-ordered IDs so the table stays roughly insertion-sorted.
type FetchLogStore struct {
	pool  execCloser
	table string
}

// NewFetchLogStore creates a Postgres-backed FetchLogStore using the provided config.
func NewFetchLogStore(ctx context.Context, cfg FetchLogConfig) (*FetchLogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "fetch_log"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &FetchLogStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewFetchLogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFetchLogStoreWithPool(pool execCloser, table string) (*FetchLogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fetch_log"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FetchLogStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *FetchLogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Record inserts a fetch row into Postgres.
func (s *FetchLogStore) Record(ctx context.Context, rec crawler.FetchRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("fetch log store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	task_id,
	repository,
	url,
	depth,
	outcome,
	status_code,
	bytes,
	content_hash,
	duration_ms,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		rec.ID,
		rec.TaskID,
		rec.Repository,
		rec.URL,
		rec.Depth,
		string(rec.Outcome),
		rec.StatusCode,
		rec.Bytes,
		rec.Hash,
		rec.Duration.Milliseconds(),
		rec.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}
