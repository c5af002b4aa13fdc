// Package ingest runs scan batches: it fetches a scope's new messages
// through the rate limiter, filters them to the authorized author,
// records them exactly once and ships attachments to remote storage.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"penpreserve/database"
	"penpreserve/models"
	"penpreserve/webdav"
)

// Platform is the chat platform surface the pipeline consumes.
type Platform interface {
	FetchMessages(ctx context.Context, channelID string, after time.Time, limit int) ([]models.PlatformMessage, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*models.PlatformMessage, error)
	ChannelTitle(ctx context.Context, channelID string) (string, error)
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

// Uploader is the remote object store surface the pipeline consumes.
type Uploader interface {
	Put(ctx context.Context, remotePath string, data []byte) error
}

// Pipeline executes scan batches for due scopes. Batches for one scope
// run sequentially (the scheduler enforces that); the pipeline itself
// keeps no mutable state, so batches for different scopes can run
// concurrently.
type Pipeline struct {
	store    *database.Store
	platform Platform
	uploader Uploader

	allowedExts map[string]bool
	maxFileSize int64
	maxHistory  int
}

// NewPipeline builds a pipeline with the given attachment constraints.
func NewPipeline(store *database.Store, platform Platform, uploader Uploader, allowedExts []string, maxFileSize int64, maxHistory int) *Pipeline {
	exts := make(map[string]bool, len(allowedExts))
	for _, e := range allowedExts {
		exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	return &Pipeline{
		store:       store,
		platform:    platform,
		uploader:    uploader,
		allowedExts: exts,
		maxFileSize: maxFileSize,
		maxHistory:  maxHistory,
	}
}

// RunBatch runs one scan batch for the task's scope. Messages are
// processed oldest first and the checkpoint advances to the newest
// successfully processed message, so an interrupted batch resumes where
// it stopped. Per-attachment failures never abort the batch.
func (p *Pipeline) RunBatch(ctx context.Context, task models.ScanTask) error {
	// Reload the config: the permission state or checkpoint may have
	// moved since the task was queued.
	cfg, err := p.store.GetConfigByID(ctx, task.Config.ID)
	if err != nil {
		return err
	}
	if cfg == nil || cfg.State == models.StateDisabled {
		return nil
	}

	after := cfg.LastCheckpoint
	if task.ResumeAfter.After(after) {
		after = task.ResumeAfter
	}

	if cfg.Scope.Kind() == models.ScopeKindThread && !cfg.InitialScanDone {
		if err := p.captureThreadOpening(ctx, cfg); err != nil {
			return err
		}
	}

	msgs, err := p.platform.FetchMessages(ctx, cfg.Scope.LocationID(), after, p.maxHistory)
	if err != nil {
		return fmt.Errorf("batch fetch for %s failed: %w", cfg.Scope, err)
	}

	var newest time.Time
	interrupted := false
	for _, msg := range msgs {
		// Finish the current message on shutdown, never start another.
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		if msg.AuthorID != cfg.Scope.AuthorID {
			// Not ours; counts as processed for checkpoint purposes.
			newest = msg.Timestamp
			continue
		}

		if cfg.Scope.Kind() == models.ScopeKindThread && msg.ID != cfg.Scope.ThreadID && len(msg.Attachments) == 0 {
			// Thread scopes keep only the opening post's text; later
			// posts matter only for their attachments.
			newest = msg.Timestamp
			continue
		}

		if err := p.backupMessage(ctx, cfg, msg); err != nil {
			// Storage trouble: stop here so the checkpoint does not
			// move past an unrecorded message.
			log.Printf("Batch for %s stopped at message %s: %v", cfg.Scope, msg.ID, err)
			p.advanceCheckpoint(cfg, newest)
			return err
		}
		newest = msg.Timestamp
	}

	p.advanceCheckpoint(cfg, newest)

	if !interrupted && !cfg.InitialScanDone {
		if err := p.store.MarkInitialScanDone(ctx, cfg.ID); err != nil {
			return err
		}
		log.Printf("Initial scan finished for %s (%d messages fetched)", cfg.Scope, len(msgs))
	}

	if err := p.store.UpdateLastActivity(context.WithoutCancel(ctx), time.Now()); err != nil {
		log.Printf("Could not update last activity time: %v", err)
	}
	return nil
}

func (p *Pipeline) advanceCheckpoint(cfg *models.BackupConfig, newest time.Time) {
	if newest.IsZero() {
		return
	}
	// Checkpoint durability outlives a cancelled batch context.
	if err := p.store.AdvanceCheckpoint(context.Background(), cfg.ID, newest); err != nil {
		log.Printf("Could not advance checkpoint for %s: %v", cfg.Scope, err)
	}
}

// captureThreadOpening stores the thread title and the opening post
// during the first scan of a thread scope. The opening post shares its
// id with the thread, and dedup keeps it single even when scans overlap.
func (p *Pipeline) captureThreadOpening(ctx context.Context, cfg *models.BackupConfig) error {
	title, err := p.platform.ChannelTitle(ctx, cfg.Scope.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to read thread title for %s: %w", cfg.Scope, err)
	}
	if title != "" && title != cfg.Title {
		if err := p.store.UpdateConfigTitle(ctx, cfg.ID, title); err != nil {
			return err
		}
		cfg.Title = title
	}

	opening, err := p.platform.FetchMessage(ctx, cfg.Scope.ThreadID, cfg.Scope.ThreadID)
	if err != nil {
		return fmt.Errorf("failed to fetch opening post for %s: %w", cfg.Scope, err)
	}
	if opening == nil || opening.AuthorID != cfg.Scope.AuthorID {
		return nil
	}
	return p.backupMessage(ctx, cfg, *opening)
}

// backupMessage records one message and its attachments. The returned
// error covers storage failures only; attachment validation and upload
// problems are handled per item.
func (p *Pipeline) backupMessage(ctx context.Context, cfg *models.BackupConfig, msg models.PlatformMessage) error {
	content := msg.Content
	if cfg.Scope.Kind() == models.ScopeKindThread && msg.ID != cfg.Scope.ThreadID {
		// Only the opening post's text is kept for thread scopes.
		content = ""
	}

	backupID, inserted, err := p.store.InsertMessageBackup(ctx, &models.MessageBackup{
		ConfigID:  cfg.ID,
		MessageID: msg.ID,
		Content:   content,
		PostedAt:  msg.Timestamp,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Seen before; recovery and live scanning can cover the same
		// window, so this is routine.
		return nil
	}

	if msg.AuthorName != "" {
		if err := p.store.UpsertAuthor(ctx, models.Author{ID: msg.AuthorID, Username: msg.AuthorName}); err != nil {
			log.Printf("Could not refresh author cache for %s: %v", msg.AuthorID, err)
		}
	}

	var failed []models.PlatformAttachment
	uploaded := 0
	for _, att := range msg.Attachments {
		switch p.processAttachment(ctx, cfg, msg, backupID, att) {
		case attachmentUploaded:
			uploaded++
		case attachmentFailed:
			failed = append(failed, att)
		case attachmentSkipped:
			// Disallowed or oversized; logged, never retried.
		}
	}

	if len(failed) > 0 {
		pending, err := json.Marshal(failed)
		if err != nil {
			return fmt.Errorf("failed to encode pending attachments for %s: %w", msg.ID, err)
		}
		if err := p.store.SetPendingAttachments(ctx, backupID, string(pending)); err != nil {
			return err
		}
		log.Printf("Message %s recorded with %d attachment(s) pending reconciliation", msg.ID, len(failed))
	}
	if len(msg.Attachments) > 0 {
		log.Printf("Message %s backed up: %d/%d attachments stored", msg.ID, uploaded, len(msg.Attachments))
	}
	return nil
}

type attachmentResult int

const (
	attachmentUploaded attachmentResult = iota
	attachmentSkipped
	attachmentFailed
)

// processAttachment validates, downloads and uploads one attachment,
// recording the file row only after the upload succeeded.
func (p *Pipeline) processAttachment(ctx context.Context, cfg *models.BackupConfig, msg models.PlatformMessage, backupID int64, att models.PlatformAttachment) attachmentResult {
	if !p.extensionAllowed(att.Filename) {
		log.Printf("Skipping attachment %s on %s: extension not allowed", att.Filename, msg.ID)
		return attachmentSkipped
	}
	if p.maxFileSize > 0 && att.Size > p.maxFileSize {
		log.Printf("Skipping attachment %s on %s: %d bytes exceeds ceiling %d", att.Filename, msg.ID, att.Size, p.maxFileSize)
		return attachmentSkipped
	}

	data, err := p.platform.DownloadAttachment(ctx, att.URL)
	if err != nil {
		log.Printf("Download failed for %s on %s: %v", att.Filename, msg.ID, err)
		return attachmentFailed
	}
	if p.maxFileSize > 0 && int64(len(data)) > p.maxFileSize {
		log.Printf("Skipping attachment %s on %s: actual size %d exceeds ceiling", att.Filename, msg.ID, len(data))
		return attachmentSkipped
	}

	remotePath := webdav.AttachmentPath(cfg.Scope.GuildID, cfg.Scope.AuthorID, cfg.Scope.LocationID(), att.Filename, msg.Timestamp)
	if err := p.uploader.Put(ctx, remotePath, data); err != nil {
		log.Printf("Upload failed for %s on %s: %v", att.Filename, msg.ID, err)
		return attachmentFailed
	}

	_, err = p.store.InsertFileBackup(ctx, &models.FileBackup{
		MessageBackupID:  backupID,
		OriginalFilename: att.Filename,
		StoredFilename:   path.Base(remotePath),
		Size:             int64(len(data)),
		SourceURL:        att.URL,
		RemotePath:       remotePath,
	})
	if err != nil {
		log.Printf("Could not record file backup for %s on %s: %v", att.Filename, msg.ID, err)
		return attachmentFailed
	}
	return attachmentUploaded
}

func (p *Pipeline) extensionAllowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	return p.allowedExts[ext]
}
