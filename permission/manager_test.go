package permission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"penpreserve/database"
	"penpreserve/models"
	"penpreserve/platform"
)

type fakeQueue struct {
	enqueued []models.ScanTask
	removed  []models.BackupScope
}

func (f *fakeQueue) Enqueue(task models.ScanTask)    { f.enqueued = append(f.enqueued, task) }
func (f *fakeQueue) Remove(scope models.BackupScope) { f.removed = append(f.removed, scope) }

type fakeCollab struct {
	notices []platform.NoticeKind
}

func (f *fakeCollab) AuthorNames(ctx context.Context, guildID, userID string) (string, string, error) {
	return "writer", "The Writer", nil
}

func (f *fakeCollab) ChannelTitle(ctx context.Context, channelID string) (string, error) {
	return "story-thread", nil
}

func (f *fakeCollab) SendNotice(ctx context.Context, channelID, authorID string, kind platform.NoticeKind, delay time.Duration) error {
	f.notices = append(f.notices, kind)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *database.Store, *fakeQueue, *fakeCollab) {
	t.Helper()
	store, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	queue := &fakeQueue{}
	collab := &fakeCollab{}
	return NewManager(store, queue, collab, time.Minute), store, queue, collab
}

func testScope() models.BackupScope {
	return models.BackupScope{GuildID: "g1", ChannelID: "c1", AuthorID: "a1"}
}

func TestGrantCreatesConfigAndSchedulesHistoricalScan(t *testing.T) {
	m, store, queue, collab := newTestManager(t)
	ctx := context.Background()

	outcome, err := m.Grant(ctx, testScope(), nil)
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if outcome != OutcomeEnabling {
		t.Fatalf("outcome = %s, want enabling", outcome)
	}

	cfg, _ := store.GetConfig(ctx, testScope())
	if cfg == nil || cfg.State != models.StateEnabling {
		t.Fatalf("config = %+v, want enabling state", cfg)
	}
	if cfg.Title != "story-thread" {
		t.Fatalf("title = %q, want resolved channel title", cfg.Title)
	}

	if len(queue.enqueued) != 1 || !queue.enqueued[0].Historical {
		t.Fatalf("enqueued = %+v, want one historical task", queue.enqueued)
	}
	if len(collab.notices) != 1 || collab.notices[0] != platform.NoticeEnabled {
		t.Fatalf("notices = %v, want one enabled notice", collab.notices)
	}

	// Advisory author data was refreshed from the live platform.
	author, _ := store.GetAuthor(ctx, "a1")
	if author == nil || author.Username != "writer" {
		t.Fatalf("author cache = %+v", author)
	}
}

func TestGrantTwiceIsIdempotent(t *testing.T) {
	m, _, queue, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Grant(ctx, testScope(), nil); err != nil {
		t.Fatalf("first Grant failed: %v", err)
	}
	outcome, err := m.Grant(ctx, testScope(), nil)
	if err != nil {
		t.Fatalf("second Grant failed: %v", err)
	}
	if outcome != OutcomeAlreadyEnabled {
		t.Fatalf("outcome = %s, want already_enabled", outcome)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("duplicate grant scheduled %d tasks, want 1", len(queue.enqueued))
	}
}

func TestRevokeDisablesAndDeregisters(t *testing.T) {
	m, store, queue, collab := newTestManager(t)
	ctx := context.Background()

	m.Grant(ctx, testScope(), nil)
	outcome, err := m.Revoke(ctx, testScope())
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if outcome != OutcomeDisabling {
		t.Fatalf("outcome = %s, want disabling", outcome)
	}

	cfg, _ := store.GetConfig(ctx, testScope())
	if cfg.State != models.StateDisabled {
		t.Fatalf("state = %s, want disabled", cfg.State)
	}
	if len(queue.removed) != 1 {
		t.Fatalf("removed = %v, want the revoked scope", queue.removed)
	}
	if collab.notices[len(collab.notices)-1] != platform.NoticeDisabled {
		t.Fatalf("notices = %v, want trailing disabled notice", collab.notices)
	}
}

func TestRevokeUnknownScopeIsNotFound(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	outcome, err := m.Revoke(context.Background(), testScope())
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Fatalf("outcome = %s, want not_found", outcome)
	}
}

func TestRegrantAfterRevokeKeepsCheckpoint(t *testing.T) {
	m, store, queue, _ := newTestManager(t)
	ctx := context.Background()

	m.Grant(ctx, testScope(), nil)
	cfg, _ := store.GetConfig(ctx, testScope())
	store.MarkInitialScanDone(ctx, cfg.ID)
	checkpoint := time.UnixMilli(9_000_000)
	store.AdvanceCheckpoint(ctx, cfg.ID, checkpoint)

	m.Revoke(ctx, testScope())
	outcome, err := m.Grant(ctx, testScope(), nil)
	if err != nil {
		t.Fatalf("re-grant failed: %v", err)
	}
	if outcome != OutcomeEnabling {
		t.Fatalf("outcome = %s, want enabling", outcome)
	}

	got, _ := store.GetConfig(ctx, testScope())
	if got.State != models.StateEnabled {
		t.Fatalf("re-enabled state = %s, want enabled (initial scan already done)", got.State)
	}
	if !got.LastCheckpoint.Equal(checkpoint) {
		t.Fatalf("checkpoint = %v, want preserved %v", got.LastCheckpoint, checkpoint)
	}

	last := queue.enqueued[len(queue.enqueued)-1]
	if last.Historical {
		t.Fatal("re-enabled scope must resume, not replay history")
	}
}

func TestDeleteRequiresOwnerOrAdmin(t *testing.T) {
	m, store, queue, _ := newTestManager(t)
	ctx := context.Background()

	m.Grant(ctx, testScope(), nil)

	outcome, err := m.Delete(ctx, testScope(), "intruder", false)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if outcome != OutcomeForbidden {
		t.Fatalf("outcome = %s, want forbidden", outcome)
	}
	if cfg, _ := store.GetConfig(ctx, testScope()); cfg == nil {
		t.Fatal("forbidden delete removed the config")
	}

	outcome, err = m.Delete(ctx, testScope(), "intruder", true)
	if err != nil {
		t.Fatalf("admin Delete failed: %v", err)
	}
	if outcome != OutcomeDeleted {
		t.Fatalf("outcome = %s, want deleted", outcome)
	}
	if cfg, _ := store.GetConfig(ctx, testScope()); cfg != nil {
		t.Fatal("config survived admin delete")
	}
	if len(queue.removed) == 0 {
		t.Fatal("deleted scope not deregistered from the scheduler")
	}
}

func TestDeleteUnknownScopeIsNotFound(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	outcome, err := m.Delete(context.Background(), testScope(), "a1", false)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if outcome != OutcomeNotFound {
		t.Fatalf("outcome = %s, want not_found", outcome)
	}
}
