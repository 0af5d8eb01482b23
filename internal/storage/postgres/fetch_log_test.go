package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/truesight/crawld/internal/crawler"
)

func TestFetchLogRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchLogStoreWithPool(mock, "fetch_log")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	rec := crawler.FetchRecord{
		ID:         "0190a1b2-uuid-v7",
		TaskID:     "crawl_1700000000",
		Repository: "docs",
		URL:        "https://example.com/docs",
		Depth:      1,
		Outcome:    crawler.OutcomeSaved,
		StatusCode: 200,
		Bytes:      2048,
		Hash:       "abc123",
		Duration:   250 * time.Millisecond,
		FetchedAt:  now,
	}

	mock.ExpectExec("INSERT INTO fetch_log").
		WithArgs(
			rec.ID,
			rec.TaskID,
			rec.Repository,
			rec.URL,
			rec.Depth,
			string(rec.Outcome),
			rec.StatusCode,
			rec.Bytes,
			rec.Hash,
			int64(250),
			rec.FetchedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Record(context.Background(), rec)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchLogRecordRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewFetchLogStoreWithPool(mock, "")
	require.NoError(t, err)

	err = store.Record(context.Background(), crawler.FetchRecord{TaskID: "crawl_1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewFetchLogStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewFetchLogStoreWithPool(mock, "drop table; --")
	require.Error(t, err)
}
