// Package recovery rebuilds the scheduler's work set after a restart so
// messages posted during downtime get backed up without re-scanning
// full histories.
package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"penpreserve/database"
	"penpreserve/models"
)

// TaskQueue is the scheduler surface the recovery pass seeds.
type TaskQueue interface {
	Enqueue(task models.ScanTask)
}

// Manager computes per-scope resume points at boot.
type Manager struct {
	store        *database.Store
	queue        TaskQueue
	safetyMargin time.Duration
}

// NewManager builds a recovery manager. safetyMargin backs the resume
// point off the recorded shutdown time to tolerate clock skew.
func NewManager(store *database.Store, queue TaskQueue, safetyMargin time.Duration) *Manager {
	return &Manager{store: store, queue: queue, safetyMargin: safetyMargin}
}

// ResumePoint computes where a scope's scan should pick up: the later
// of its own checkpoint and the last recorded shutdown minus the safety
// margin. Recovery is per config; a scope enabled minutes before a
// crash resumes from its own checkpoint, not anyone else's.
func ResumePoint(cfg *models.BackupConfig, lastShutdown time.Time, margin time.Duration) time.Time {
	if lastShutdown.IsZero() {
		return cfg.LastCheckpoint
	}
	adjusted := lastShutdown.Add(-margin)
	if cfg.LastCheckpoint.After(adjusted) {
		return cfg.LastCheckpoint
	}
	return adjusted
}

// SeedScheduler reads the last shutdown time and enqueues one immediate
// task per active configuration. Returns the number of seeded tasks.
func (m *Manager) SeedScheduler(ctx context.Context) (int, error) {
	lastShutdown, err := m.store.LastShutdownTime(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read last shutdown time: %w", err)
	}
	if lastShutdown.IsZero() {
		log.Println("No previous shutdown recorded; seeding scopes from their own checkpoints.")
	} else {
		log.Printf("Last shutdown at %s; recovering downtime window.", lastShutdown.Format(time.RFC3339))
	}

	configs, err := m.store.ListActiveConfigs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active configs: %w", err)
	}

	now := time.Now()
	for _, cfg := range configs {
		task := models.ScanTask{
			Config:     *cfg,
			NextRunAt:  now,
			Historical: !cfg.InitialScanDone,
		}
		// A scope that never finished its first scan replays full
		// history; the downtime window only applies after that.
		if cfg.InitialScanDone {
			task.ResumeAfter = ResumePoint(cfg, lastShutdown, m.safetyMargin)
		}
		m.queue.Enqueue(task)
	}
	log.Printf("Recovery seeded %d scan task(s).", len(configs))
	return len(configs), nil
}
