package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"penpreserve/models"
)

// InsertMessageBackup records one backed-up message. The second return
// value reports whether a new row was written; a duplicate
// (config_id, message_id) pair is silently ignored so overlapping scan
// and recovery passes record each message exactly once.
func (s *Store) InsertMessageBackup(ctx context.Context, mb *models.MessageBackup) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT OR IGNORE INTO message_backups (config_id, message_id, content, posted_at, backed_up, pending_attachments)
        VALUES (?, ?, ?, ?, ?, ?)`,
		mb.ConfigID, mb.MessageID, mb.Content, toMillis(mb.PostedAt), toMillis(time.Now()), mb.PendingAttachments)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert message backup %s: %w", mb.MessageID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read insert result for %s: %w", mb.MessageID, err)
	}
	if affected == 0 {
		// Already backed up; fetch the existing row id for callers that
		// need to attach files to it.
		var id int64
		err := s.db.QueryRowContext(ctx,
			`SELECT id FROM message_backups WHERE config_id = ? AND message_id = ?`,
			mb.ConfigID, mb.MessageID).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("failed to look up existing backup %s: %w", mb.MessageID, err)
		}
		return id, false, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read new backup id for %s: %w", mb.MessageID, err)
	}
	return id, true, nil
}

// HasMessageBackup reports whether a message is already recorded for a
// configuration.
func (s *Store) HasMessageBackup(ctx context.Context, configID int64, messageID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM message_backups WHERE config_id = ? AND message_id = ?`,
		configID, messageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check message backup %s: %w", messageID, err)
	}
	return true, nil
}

// UpdateMessageContent refreshes the stored content of a backed-up
// message after an edit.
func (s *Store) UpdateMessageContent(ctx context.Context, configID int64, messageID, content string) error {
	_, err := s.db.ExecContext(ctx, `
        UPDATE message_backups SET content = ?, backed_up = ? WHERE config_id = ? AND message_id = ?`,
		content, toMillis(time.Now()), configID, messageID)
	if err != nil {
		return fmt.Errorf("failed to update message content %s: %w", messageID, err)
	}
	return nil
}

// SetPendingAttachments stores the JSON list of attachments whose upload
// failed, for the reconciliation job to retry. An empty string clears it.
func (s *Store) SetPendingAttachments(ctx context.Context, messageBackupID int64, pending string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_backups SET pending_attachments = ? WHERE id = ?`,
		pending, messageBackupID)
	if err != nil {
		return fmt.Errorf("failed to set pending attachments on backup %d: %w", messageBackupID, err)
	}
	return nil
}

// PendingReconciliation pairs a message backup carrying failed uploads
// with its owning configuration.
type PendingReconciliation struct {
	Message models.MessageBackup
	Config  models.BackupConfig
}

// ListPendingReconciliations returns message backups that still have
// attachments waiting for a retried upload, restricted to scopes that
// are not disabled.
func (s *Store) ListPendingReconciliations(ctx context.Context) ([]PendingReconciliation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT mb.id, mb.config_id, mb.message_id, mb.content, mb.posted_at, mb.backed_up, mb.pending_attachments,
               `+prefixedConfigColumns("bc")+`
        FROM message_backups mb
        JOIN backup_configs bc ON bc.id = mb.config_id
        WHERE mb.pending_attachments != '' AND bc.state != ?
        ORDER BY mb.posted_at`,
		string(models.StateDisabled))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reconciliations: %w", err)
	}
	defer rows.Close()

	var pending []PendingReconciliation
	for rows.Next() {
		var p PendingReconciliation
		var postedAt, backedUp int64
		var initialDone int
		var createdAt, checkpoint int64
		var state string
		err := rows.Scan(
			&p.Message.ID, &p.Message.ConfigID, &p.Message.MessageID, &p.Message.Content,
			&postedAt, &backedUp, &p.Message.PendingAttachments,
			&p.Config.ID, &p.Config.Scope.GuildID, &p.Config.Scope.ChannelID,
			&p.Config.Scope.ThreadID, &p.Config.Scope.AuthorID, &p.Config.Title,
			&state, &initialDone, &createdAt, &checkpoint,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending reconciliation: %w", err)
		}
		p.Message.PostedAt = fromMillis(postedAt)
		p.Message.BackedUp = fromMillis(backedUp)
		p.Config.State = models.ConfigState(state)
		p.Config.InitialScanDone = initialDone != 0
		p.Config.CreatedAt = fromMillis(createdAt)
		p.Config.LastCheckpoint = fromMillis(checkpoint)
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

func prefixedConfigColumns(alias string) string {
	return alias + `.id, ` + alias + `.guild_id, ` + alias + `.channel_id, ` + alias + `.thread_id, ` +
		alias + `.author_id, ` + alias + `.title, ` + alias + `.state, ` + alias + `.initial_scan_done, ` +
		alias + `.created_at, ` + alias + `.last_checkpoint`
}
