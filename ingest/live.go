package ingest

import (
	"context"
	"log"
	"time"

	"penpreserve/models"
)

// BackupLiveMessage records a single freshly observed message for an
// enabled scope. The checkpoint stays untouched: checkpoints belong to
// scan batches, and the dedup index makes the overlap harmless when the
// next batch covers the same window.
func (p *Pipeline) BackupLiveMessage(ctx context.Context, cfg *models.BackupConfig, msg models.PlatformMessage) error {
	if msg.AuthorID != cfg.Scope.AuthorID {
		return nil
	}
	if cfg.Scope.Kind() == models.ScopeKindThread && msg.ID != cfg.Scope.ThreadID && len(msg.Attachments) == 0 {
		return nil
	}

	if err := p.backupMessage(ctx, cfg, msg); err != nil {
		return err
	}
	if err := p.store.UpdateLastActivity(ctx, time.Now()); err != nil {
		log.Printf("Could not update last activity time: %v", err)
	}
	return nil
}

// BackupEditedMessage refreshes the stored content of an edited message
// that was already backed up, or records it as new when it was not.
func (p *Pipeline) BackupEditedMessage(ctx context.Context, cfg *models.BackupConfig, msg models.PlatformMessage) error {
	exists, err := p.store.HasMessageBackup(ctx, cfg.ID, msg.ID)
	if err != nil {
		return err
	}
	if !exists {
		return p.BackupLiveMessage(ctx, cfg, msg)
	}

	content := msg.Content
	if cfg.Scope.Kind() == models.ScopeKindThread && msg.ID != cfg.Scope.ThreadID {
		return nil
	}
	return p.store.UpdateMessageContent(ctx, cfg.ID, msg.ID, content)
}
