package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/progress"
	"github.com/truesight/crawld/internal/store"
)

// StoreSink persists progress deltas via a store.ProgressRepository. It
// batches site-level counters to reduce write amplification.
type StoreSink struct {
	repo   store.ProgressRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ProgressRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageTaskStart, progress.StageTaskDone, progress.StageTaskError, progress.StageTaskStopped:
			if err := s.handleTaskEvent(ctx, evt); err != nil {
				return err
			}
		case progress.StageFetchDone:
			s.recordSiteStats(stats, evt)
		}
	}

	for key, delta := range stats {
		if delta.visits == 0 && delta.bytes == 0 {
			continue
		}
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.taskID,
			key.site,
			delta.visits,
			delta.bytes,
			key.statusClass,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleTaskEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageTaskStart:
		if err := s.repo.UpsertTaskStart(ctx, evt.TaskID, evt.Repository, evt.TS); err != nil {
			return fmt.Errorf("upsert task start: %w", err)
		}
	case progress.StageTaskDone:
		if err := s.repo.CompleteTask(ctx, evt.TaskID, evt.TS, store.RunCompleted, nil); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
	case progress.StageTaskError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteTask(ctx, evt.TaskID, evt.TS, store.RunFailed, note); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
	case progress.StageTaskStopped:
		if err := s.repo.CompleteTask(ctx, evt.TaskID, evt.TS, store.RunStopped, nil); err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordSiteStats(stats map[statsKey]*statsDelta, evt progress.Event) {
	if evt.Site == "" {
		return
	}
	key := statsKey{
		taskID:      evt.TaskID,
		site:        evt.Site,
		statusClass: string(evt.StatusClass),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.visits++
	stat.bytes += evt.Bytes
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	taskID      string
	site        string
	statusClass string
}

type statsDelta struct {
	visits int64
	bytes  int64
	at     time.Time
}
