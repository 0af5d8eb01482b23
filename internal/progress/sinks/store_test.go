package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truesight/crawld/internal/progress"
	"github.com/truesight/crawld/internal/store"
)

// TestStoreSinkPersistsEvents ensures visits/bytes are collapsed per site before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	taskID := "crawl_1700000300"
	now := time.Now()

	batch := []progress.Event{
		{TaskID: taskID, Repository: "docs", Stage: progress.StageTaskStart, TS: now},
		{
			TaskID:      taskID,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			Bytes:       100,
			StatusClass: progress.Status2xx,
			TS:          now.Add(1 * time.Second),
		},
		{
			TaskID:      taskID,
			Stage:       progress.StageFetchDone,
			Site:        "example.com",
			Bytes:       50,
			StatusClass: progress.Status2xx,
			TS:          now.Add(2 * time.Second),
		},
		{TaskID: taskID, Stage: progress.StageTaskDone, TS: now.Add(3 * time.Second), Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunCompleted, repo.completeStatuses[0])
	require.Len(t, repo.siteStats, 1)
	stats := repo.siteStats[0]
	require.Equal(t, int64(2), stats.deltaVisits)
	require.Equal(t, int64(150), stats.deltaBytes)
}

// TestStoreSinkStoppedStatus maps a stop event onto the stopped run status.
func TestStoreSinkStoppedStatus(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{}
	sink := NewStoreSink(repo, nil)
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: "crawl_1700000400", Stage: progress.StageTaskStopped, TS: now},
	}))
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunStopped, repo.completeStatuses[0])
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeProgressRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{TaskID: "crawl_1700000500", Stage: progress.StageTaskStart, TS: time.Now()},
	})
	require.Error(t, err)
}

type fakeProgressRepo struct {
	fail             bool
	starts           []string
	completes        []string
	completeStatuses []store.TaskRunStatus
	siteStats        []siteCall
}

type siteCall struct {
	taskID      string
	site        string
	deltaVisits int64
	deltaBytes  int64
	statusClass string
}

func (f *fakeProgressRepo) UpsertTaskStart(_ context.Context, taskID, repository string, startedAt time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	_ = repository
	_ = startedAt
	f.starts = append(f.starts, taskID)
	return nil
}

func (f *fakeProgressRepo) CompleteTask(
	_ context.Context,
	taskID string,
	finishedAt time.Time,
	status store.TaskRunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("complete")
	}
	_ = finishedAt
	_ = errMsg
	f.completes = append(f.completes, taskID)
	f.completeStatuses = append(f.completeStatuses, status)
	return nil
}

func (f *fakeProgressRepo) UpsertSiteStats(
	_ context.Context,
	taskID string,
	site string,
	deltaVisits int64,
	deltaBytes int64,
	statusClass string,
	at time.Time,
) error {
	if f.fail {
		return assertErr("site")
	}
	_ = at
	f.siteStats = append(f.siteStats, siteCall{
		taskID:      taskID,
		site:        site,
		deltaVisits: deltaVisits,
		deltaBytes:  deltaBytes,
		statusClass: statusClass,
	})
	return nil
}

func (f *fakeProgressRepo) GetTask(context.Context, string) (store.TaskRun, error) {
	return store.TaskRun{}, assertErr("read")
}

func (f *fakeProgressRepo) ListTasks(context.Context, *store.TaskRunStatus, int, int) ([]store.TaskRun, error) {
	return nil, assertErr("list")
}

func (f *fakeProgressRepo) ListTaskSites(context.Context, string, int, int) ([]store.SiteStats, error) {
	return nil, assertErr("sites")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
