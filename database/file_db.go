package database

import (
	"context"
	"fmt"
	"time"

	"penpreserve/models"
)

// InsertFileBackup records a stored attachment. Callers insert only
// after the remote upload succeeded, so every row references durable
// remote bytes.
func (s *Store) InsertFileBackup(ctx context.Context, fb *models.FileBackup) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO file_backups (message_backup_id, original_filename, stored_filename, file_size, source_url, remote_path, status, backed_up)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.MessageBackupID, fb.OriginalFilename, fb.StoredFilename, fb.Size,
		fb.SourceURL, fb.RemotePath, models.FileStatusUploaded, toMillis(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to insert file backup %s: %w", fb.OriginalFilename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new file backup id: %w", err)
	}
	return id, nil
}

// ListFilesByConfig returns all stored attachments for a configuration,
// newest first.
func (s *Store) ListFilesByConfig(ctx context.Context, configID int64) ([]*models.FileBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT fb.id, fb.message_backup_id, fb.original_filename, fb.stored_filename, fb.file_size, fb.source_url, fb.remote_path, fb.status, fb.backed_up
        FROM file_backups fb
        JOIN message_backups mb ON mb.id = fb.message_backup_id
        WHERE mb.config_id = ?
        ORDER BY fb.backed_up DESC`, configID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files for config %d: %w", configID, err)
	}
	defer rows.Close()

	var files []*models.FileBackup
	for rows.Next() {
		var fb models.FileBackup
		var backedUp int64
		if err := rows.Scan(&fb.ID, &fb.MessageBackupID, &fb.OriginalFilename, &fb.StoredFilename,
			&fb.Size, &fb.SourceURL, &fb.RemotePath, &fb.Status, &backedUp); err != nil {
			return nil, fmt.Errorf("failed to scan file backup: %w", err)
		}
		fb.BackedUp = fromMillis(backedUp)
		files = append(files, &fb)
	}
	return files, rows.Err()
}

// GetBackupStats aggregates message and file counts. With configID 0 the
// stats cover every configuration.
func (s *Store) GetBackupStats(ctx context.Context, configID int64) (*models.BackupStats, error) {
	var stats models.BackupStats
	var err error

	if configID != 0 {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM message_backups WHERE config_id = ?`, configID).Scan(&stats.MessageCount)
		if err == nil {
			err = s.db.QueryRowContext(ctx, `
                SELECT COUNT(*), COALESCE(SUM(fb.file_size), 0)
                FROM file_backups fb
                JOIN message_backups mb ON mb.id = fb.message_backup_id
                WHERE mb.config_id = ?`, configID).Scan(&stats.FileCount, &stats.TotalBytes)
		}
		stats.ConfigCount = 1
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM backup_configs WHERE state != ?`,
			string(models.StateDisabled)).Scan(&stats.ConfigCount)
		if err == nil {
			err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM message_backups`).Scan(&stats.MessageCount)
		}
		if err == nil {
			err = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM file_backups`).Scan(&stats.FileCount, &stats.TotalBytes)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query backup stats: %w", err)
	}
	return &stats, nil
}
