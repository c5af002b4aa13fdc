package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"penpreserve/models"
)

// ReconcilePending retries the upload of attachments that failed during
// earlier batches. Attachments that succeed move into file_backups and
// off the pending list; the rest stay queued for the next pass.
func (p *Pipeline) ReconcilePending(ctx context.Context) error {
	pending, err := p.store.ListPendingReconciliations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending reconciliations: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	log.Printf("Reconciling %d message(s) with failed attachment uploads", len(pending))

	for _, item := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var atts []models.PlatformAttachment
		if err := json.Unmarshal([]byte(item.Message.PendingAttachments), &atts); err != nil {
			log.Printf("Dropping unreadable pending list on backup %d: %v", item.Message.ID, err)
			if err := p.store.SetPendingAttachments(ctx, item.Message.ID, ""); err != nil {
				return err
			}
			continue
		}

		msg := models.PlatformMessage{
			ID:        item.Message.MessageID,
			AuthorID:  item.Config.Scope.AuthorID,
			Timestamp: item.Message.PostedAt,
		}

		var stillFailed []models.PlatformAttachment
		for _, att := range atts {
			if p.processAttachment(ctx, &item.Config, msg, item.Message.ID, att) == attachmentFailed {
				stillFailed = append(stillFailed, att)
			}
		}

		remaining := ""
		if len(stillFailed) > 0 {
			data, err := json.Marshal(stillFailed)
			if err != nil {
				return fmt.Errorf("failed to encode remaining attachments for %s: %w", msg.ID, err)
			}
			remaining = string(data)
			log.Printf("Message %s still has %d attachment(s) pending", msg.ID, len(stillFailed))
		}
		if err := p.store.SetPendingAttachments(ctx, item.Message.ID, remaining); err != nil {
			return err
		}
	}
	return nil
}
