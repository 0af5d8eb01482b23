package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truesight/crawld/internal/crawler"
)

func TestFetchLogRecordAndQuery(t *testing.T) {
	log := NewFetchLog()
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, crawler.FetchRecord{TaskID: "crawl_1", URL: "http://a.com/x", Outcome: crawler.OutcomeSaved}))
	require.NoError(t, log.Record(ctx, crawler.FetchRecord{TaskID: "crawl_2", URL: "http://b.com/y", Outcome: crawler.OutcomeFailed}))
	require.NoError(t, log.Record(ctx, crawler.FetchRecord{TaskID: "crawl_1", URL: "http://a.com/z", Outcome: crawler.OutcomeBlocked}))

	assert.Len(t, log.Records(), 3)

	byTask := log.ByTask("crawl_1")
	require.Len(t, byTask, 2)
	assert.Equal(t, "http://a.com/x", byTask[0].URL)
	assert.Equal(t, "http://a.com/z", byTask[1].URL)

	assert.Empty(t, log.ByTask("unknown"))
}

func TestFetchLogCopiesOnRead(t *testing.T) {
	log := NewFetchLog()
	require.NoError(t, log.Record(context.Background(), crawler.FetchRecord{TaskID: "crawl_1", URL: "http://a.com"}))

	got := log.Records()
	got[0].URL = "mutated"

	assert.Equal(t, "http://a.com", log.Records()[0].URL)
}
