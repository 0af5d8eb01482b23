package memory

import (
	"context"
	"sync"

	"github.com/truesight/crawld/internal/crawler"
)

// FetchLog keeps fetch records in memory. It is the default fetch log when
// no database is configured and doubles as the audit surface in tests.
type FetchLog struct {
	mu      sync.RWMutex
	records []crawler.FetchRecord
}

// NewFetchLog creates an empty in-memory fetch log.
func NewFetchLog() *FetchLog {
	return &FetchLog{}
}

// Record appends a fetch record.
func (l *FetchLog) Record(_ context.Context, rec crawler.FetchRecord) error {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
	return nil
}

// Records returns a copy of everything recorded so far.
func (l *FetchLog) Records() []crawler.FetchRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]crawler.FetchRecord, len(l.records))
	copy(out, l.records)
	return out
}

// ByTask returns the records for one task, in insertion order.
func (l *FetchLog) ByTask(taskID string) []crawler.FetchRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []crawler.FetchRecord
	for _, rec := range l.records {
		if rec.TaskID == taskID {
			out = append(out, rec)
		}
	}
	return out
}
