package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"penpreserve/models"
)

const configColumns = `id, guild_id, channel_id, thread_id, author_id, title, state, initial_scan_done, created_at, last_checkpoint`

func scanConfig(row interface{ Scan(...any) error }) (*models.BackupConfig, error) {
	var cfg models.BackupConfig
	var initialDone int
	var createdAt, checkpoint int64
	var state string
	err := row.Scan(
		&cfg.ID,
		&cfg.Scope.GuildID,
		&cfg.Scope.ChannelID,
		&cfg.Scope.ThreadID,
		&cfg.Scope.AuthorID,
		&cfg.Title,
		&state,
		&initialDone,
		&createdAt,
		&checkpoint,
	)
	if err != nil {
		return nil, err
	}
	cfg.State = models.ConfigState(state)
	cfg.InitialScanDone = initialDone != 0
	cfg.CreatedAt = fromMillis(createdAt)
	cfg.LastCheckpoint = fromMillis(checkpoint)
	return &cfg, nil
}

// CreateConfig inserts a new backup configuration in the enabling state.
func (s *Store) CreateConfig(ctx context.Context, scope models.BackupScope, title string) (*models.BackupConfig, error) {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO backup_configs (guild_id, channel_id, thread_id, author_id, title, state, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scope.GuildID, scope.ChannelID, scope.ThreadID, scope.AuthorID, title, string(models.StateEnabling), toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to insert backup config for %s: %w", scope, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new config id: %w", err)
	}
	return &models.BackupConfig{
		ID:        id,
		Scope:     scope,
		Title:     title,
		State:     models.StateEnabling,
		CreatedAt: now,
	}, nil
}

// GetConfig returns the configuration for a scope, or nil if none exists.
func (s *Store) GetConfig(ctx context.Context, scope models.BackupScope) (*models.BackupConfig, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT `+configColumns+` FROM backup_configs
        WHERE guild_id = ? AND channel_id = ? AND thread_id = ? AND author_id = ?`,
		scope.GuildID, scope.ChannelID, scope.ThreadID, scope.AuthorID)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup config for %s: %w", scope, err)
	}
	return cfg, nil
}

// GetConfigByID returns a configuration by its row id, or nil.
func (s *Store) GetConfigByID(ctx context.Context, id int64) (*models.BackupConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+configColumns+` FROM backup_configs WHERE id = ?`, id)
	cfg, err := scanConfig(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup config %d: %w", id, err)
	}
	return cfg, nil
}

func (s *Store) queryConfigs(ctx context.Context, query string, args ...any) ([]*models.BackupConfig, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.BackupConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// ListActiveConfigs returns every configuration that should be scanned:
// enabled scopes and freshly granted scopes still in the enabling state.
func (s *Store) ListActiveConfigs(ctx context.Context) ([]*models.BackupConfig, error) {
	return s.queryConfigs(ctx, `
        SELECT `+configColumns+` FROM backup_configs
        WHERE state IN (?, ?) ORDER BY id`,
		string(models.StateEnabled), string(models.StateEnabling))
}

// ListConfigsByAuthor returns all non-disabled configurations owned by an author.
func (s *Store) ListConfigsByAuthor(ctx context.Context, authorID string) ([]*models.BackupConfig, error) {
	return s.queryConfigs(ctx, `
        SELECT `+configColumns+` FROM backup_configs
        WHERE author_id = ? AND state != ? ORDER BY id`,
		authorID, string(models.StateDisabled))
}

// ListConfigsByLocation returns the configurations targeting a location,
// used to refresh stored titles when thread metadata changes.
func (s *Store) ListConfigsByLocation(ctx context.Context, guildID, channelID, threadID string) ([]*models.BackupConfig, error) {
	return s.queryConfigs(ctx, `
        SELECT `+configColumns+` FROM backup_configs
        WHERE guild_id = ? AND channel_id = ? AND thread_id = ? AND state != ?`,
		guildID, channelID, threadID, string(models.StateDisabled))
}

// SetConfigState updates the lifecycle state of a configuration.
func (s *Store) SetConfigState(ctx context.Context, id int64, state models.ConfigState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE backup_configs SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("failed to set state %s on config %d: %w", state, id, err)
	}
	return nil
}

// MarkInitialScanDone records completion of the first historical scan and
// collapses the enabling state into enabled.
func (s *Store) MarkInitialScanDone(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE backup_configs SET initial_scan_done = 1,
            state = CASE WHEN state = ? THEN ? ELSE state END
        WHERE id = ?`,
		string(models.StateEnabling), string(models.StateEnabled), id)
	if err != nil {
		return fmt.Errorf("failed to mark initial scan done on config %d: %w", id, err)
	}
	return nil
}

// AdvanceCheckpoint moves a configuration's checkpoint forward to t.
// The MAX guard keeps checkpoints monotonic under retried batches.
func (s *Store) AdvanceCheckpoint(ctx context.Context, id int64, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE backup_configs SET last_checkpoint = MAX(last_checkpoint, ?) WHERE id = ?`,
		toMillis(t), id)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint on config %d: %w", id, err)
	}
	return nil
}

// UpdateConfigTitle refreshes the stored title for a configuration.
func (s *Store) UpdateConfigTitle(ctx context.Context, id int64, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE backup_configs SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return fmt.Errorf("failed to update title on config %d: %w", id, err)
	}
	return nil
}

// DeleteConfig removes a configuration and cascades to its message and
// file backup rows in one transaction.
func (s *Store) DeleteConfig(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
        DELETE FROM file_backups WHERE message_backup_id IN
            (SELECT id FROM message_backups WHERE config_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete file backups for config %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM message_backups WHERE config_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete message backups for config %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM backup_configs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete config %d: %w", id, err)
	}
	return tx.Commit()
}
