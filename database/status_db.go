package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Bot status lives in a single fixed row; these accessors are the only
// readers and writers.

// RecordStartup stores the process start time.
func (s *Store) RecordStartup(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO bot_status (id, started_at) VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET started_at = excluded.started_at`,
		toMillis(t))
	if err != nil {
		return fmt.Errorf("failed to record startup time: %w", err)
	}
	return nil
}

// RecordShutdown stores the clean shutdown time consulted by the next
// boot's recovery pass.
func (s *Store) RecordShutdown(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO bot_status (id, stopped_at) VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET stopped_at = excluded.stopped_at`,
		toMillis(t))
	if err != nil {
		return fmt.Errorf("failed to record shutdown time: %w", err)
	}
	return nil
}

// LastShutdownTime returns the last recorded shutdown time. The zero
// time means no clean shutdown was ever recorded.
func (s *Store) LastShutdownTime(ctx context.Context) (time.Time, error) {
	var stopped sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT stopped_at FROM bot_status WHERE id = 1`).Scan(&stopped)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query shutdown time: %w", err)
	}
	if !stopped.Valid {
		return time.Time{}, nil
	}
	return fromMillis(stopped.Int64), nil
}

// UpdateLastActivity stores the time of the most recent processed
// message. Advisory only; failures are the caller's to log and ignore.
func (s *Store) UpdateLastActivity(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO bot_status (id, last_activity) VALUES (1, ?)
        ON CONFLICT(id) DO UPDATE SET last_activity = excluded.last_activity`,
		toMillis(t))
	if err != nil {
		return fmt.Errorf("failed to update last activity time: %w", err)
	}
	return nil
}
