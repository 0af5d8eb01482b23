package crawler

import (
	"time"

	"go.uber.org/zap"
)

// runMonitor force-completes a task once artifact writes go quiet for the
// configured timeout. It keys off the last artifact write, not off fetch
// traffic, so a task spinning on failing URLs still times out. Paused tasks
// are never considered stale.
func (e *Engine) runMonitor(t *Task) {
	ticker := time.NewTicker(e.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}

		status := t.Status()
		if status.Terminal() {
			return
		}
		if status == TaskStatusPaused {
			continue
		}

		idle := e.clock.Now().Sub(t.lastArtifactAt())
		if idle < e.opts.InactivityTimeout {
			continue
		}

		if t.complete() {
			e.logger.Warn("force-completing task after artifact inactivity",
				zap.String("task_id", t.id),
				zap.String("repository", t.repository),
				zap.Duration("idle", idle),
				zap.Duration("timeout", e.opts.InactivityTimeout))
		}
		return
	}
}
