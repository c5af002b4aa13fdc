// Package permission owns the backup-config lifecycle. Transitions are
// idempotent: an authorization webhook delivered twice must not
// double-schedule a scan or error out.
package permission

import (
	"context"
	"log"
	"time"

	"penpreserve/database"
	"penpreserve/models"
	"penpreserve/platform"
)

// Outcome is the typed result of a lifecycle transition. The webhook
// handler reports these verbatim.
type Outcome string

const (
	OutcomeEnabling       Outcome = "enabling"
	OutcomeAlreadyEnabled Outcome = "already_enabled"
	OutcomeDisabling      Outcome = "disabling"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeForbidden      Outcome = "forbidden"
	OutcomeDeleted        Outcome = "deleted"
)

// TaskQueue is the scheduler surface the state machine drives.
type TaskQueue interface {
	Enqueue(task models.ScanTask)
	Remove(scope models.BackupScope)
}

// Collaborator is the platform surface used for derived fields and
// confirmation notices.
type Collaborator interface {
	AuthorNames(ctx context.Context, guildID, userID string) (username, displayName string, err error)
	ChannelTitle(ctx context.Context, channelID string) (string, error)
	SendNotice(ctx context.Context, channelID, authorID string, kind platform.NoticeKind, delay time.Duration) error
}

// Manager is the permission state machine.
type Manager struct {
	store       *database.Store
	queue       TaskQueue
	collab      Collaborator
	noticeDelay time.Duration
}

// NewManager wires the state machine to its storage, scheduler and
// platform collaborators.
func NewManager(store *database.Store, queue TaskQueue, collab Collaborator, noticeDelay time.Duration) *Manager {
	return &Manager{store: store, queue: queue, collab: collab, noticeDelay: noticeDelay}
}

// Grant enables backup for a scope. A new scope gets an immediate full
// historical scan; a re-enabled scope resumes from its own checkpoint.
// Granting an already enabled scope is a no-op.
func (m *Manager) Grant(ctx context.Context, scope models.BackupScope, advisory *models.PermissionAuthor) (Outcome, error) {
	m.refreshAuthor(ctx, scope, advisory)

	cfg, err := m.store.GetConfig(ctx, scope)
	if err != nil {
		return "", err
	}

	switch {
	case cfg == nil:
		title := m.resolveTitle(ctx, scope)
		cfg, err = m.store.CreateConfig(ctx, scope, title)
		if err != nil {
			return "", err
		}
		log.Printf("Backup enabled for %s (config %d), scheduling historical scan", scope, cfg.ID)

	case cfg.State == models.StateDisabled:
		state := models.StateEnabled
		if !cfg.InitialScanDone {
			state = models.StateEnabling
		}
		if err := m.store.SetConfigState(ctx, cfg.ID, state); err != nil {
			return "", err
		}
		cfg.State = state
		log.Printf("Backup re-enabled for %s (config %d), resuming from checkpoint", scope, cfg.ID)

	default:
		// Enabled or enabling already; duplicate delivery.
		return OutcomeAlreadyEnabled, nil
	}

	m.queue.Enqueue(models.ScanTask{
		Config:     *cfg,
		NextRunAt:  time.Now(),
		Historical: !cfg.InitialScanDone,
	})
	m.sendNotice(ctx, scope, platform.NoticeEnabled)
	return OutcomeEnabling, nil
}

// Revoke disables backup for a scope. Unknown or already disabled
// scopes report not_found without error.
func (m *Manager) Revoke(ctx context.Context, scope models.BackupScope) (Outcome, error) {
	cfg, err := m.store.GetConfig(ctx, scope)
	if err != nil {
		return "", err
	}
	if cfg == nil || cfg.State == models.StateDisabled {
		return OutcomeNotFound, nil
	}

	if err := m.store.SetConfigState(ctx, cfg.ID, models.StateDisabled); err != nil {
		return "", err
	}
	m.queue.Remove(scope)
	log.Printf("Backup disabled for %s (config %d)", scope, cfg.ID)

	m.sendNotice(ctx, scope, platform.NoticeDisabled)
	return OutcomeDisabling, nil
}

// Delete removes a scope's configuration and every backed-up row under
// it. Only the owning author may delete, unless admin is set.
func (m *Manager) Delete(ctx context.Context, scope models.BackupScope, requesterID string, admin bool) (Outcome, error) {
	cfg, err := m.store.GetConfig(ctx, scope)
	if err != nil {
		return "", err
	}
	if cfg == nil {
		return OutcomeNotFound, nil
	}
	if requesterID != scope.AuthorID && !admin {
		return OutcomeForbidden, nil
	}

	if err := m.store.DeleteConfig(ctx, cfg.ID); err != nil {
		return "", err
	}
	m.queue.Remove(scope)
	log.Printf("Backup deleted for %s (config %d)", scope, cfg.ID)
	return OutcomeDeleted, nil
}

// refreshAuthor updates the advisory name cache, preferring live
// platform data over whatever the webhook payload claimed.
func (m *Manager) refreshAuthor(ctx context.Context, scope models.BackupScope, advisory *models.PermissionAuthor) {
	author := models.Author{ID: scope.AuthorID}
	if username, display, err := m.collab.AuthorNames(ctx, scope.GuildID, scope.AuthorID); err == nil {
		author.Username = username
		author.DisplayName = display
	} else if advisory != nil {
		author.Username = advisory.Username
		author.DisplayName = advisory.DisplayName
	} else {
		return
	}
	if err := m.store.UpsertAuthor(ctx, author); err != nil {
		log.Printf("Could not refresh author cache for %s: %v", scope.AuthorID, err)
	}
}

func (m *Manager) resolveTitle(ctx context.Context, scope models.BackupScope) string {
	title, err := m.collab.ChannelTitle(ctx, scope.LocationID())
	if err != nil {
		log.Printf("Could not resolve title for %s: %v", scope, err)
		return ""
	}
	return title
}

func (m *Manager) sendNotice(ctx context.Context, scope models.BackupScope, kind platform.NoticeKind) {
	if err := m.collab.SendNotice(ctx, scope.LocationID(), scope.AuthorID, kind, m.noticeDelay); err != nil {
		log.Printf("Could not send notice for %s: %v", scope, err)
	}
}
