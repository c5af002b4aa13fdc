package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"penpreserve/database"
	"penpreserve/models"
)

type fakePlatform struct {
	messages []models.PlatformMessage
	titles   map[string]string
	files    map[string][]byte

	downloadErr error
	fetched     int
}

func (f *fakePlatform) FetchMessages(ctx context.Context, channelID string, after time.Time, limit int) ([]models.PlatformMessage, error) {
	f.fetched++
	var out []models.PlatformMessage
	for _, m := range f.messages {
		if !after.IsZero() && !m.Timestamp.After(after) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakePlatform) FetchMessage(ctx context.Context, channelID, messageID string) (*models.PlatformMessage, error) {
	for _, m := range f.messages {
		if m.ID == messageID {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakePlatform) ChannelTitle(ctx context.Context, channelID string) (string, error) {
	return f.titles[channelID], nil
}

func (f *fakePlatform) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.files[url]
	if !ok {
		return nil, errors.New("no such file")
	}
	return data, nil
}

type fakeUploader struct {
	stored  map[string][]byte
	failOn  map[string]bool
	uploads int
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{stored: make(map[string][]byte), failOn: make(map[string]bool)}
}

func (f *fakeUploader) Put(ctx context.Context, remotePath string, data []byte) error {
	f.uploads++
	for frag := range f.failOn {
		if strings.Contains(remotePath, frag) {
			return errors.New("upload refused")
		}
	}
	f.stored[remotePath] = data
	return nil
}

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	store, err := database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func at(sec int64) time.Time { return time.UnixMilli(sec * 1000) }

func msg(id, author string, ts time.Time, atts ...models.PlatformAttachment) models.PlatformMessage {
	return models.PlatformMessage{ID: id, AuthorID: author, Content: "content-" + id, Timestamp: ts, Attachments: atts}
}

func channelTask(t *testing.T, store *database.Store) models.ScanTask {
	t.Helper()
	cfg, err := store.CreateConfig(context.Background(),
		models.BackupScope{GuildID: "g1", ChannelID: "c1", AuthorID: "a1"}, "general")
	if err != nil {
		t.Fatalf("CreateConfig failed: %v", err)
	}
	return models.ScanTask{Config: *cfg, Historical: true}
}

func TestRunBatchFiltersOtherAuthorsButAdvancesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{messages: []models.PlatformMessage{
		msg("m1", "a1", at(10)),
		msg("m2", "other", at(20)),
		msg("m3", "other", at(30)),
	}}
	p := NewPipeline(store, plat, newFakeUploader(), nil, 0, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	ctx := context.Background()
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m1"); !ok {
		t.Fatal("own message m1 not backed up")
	}
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m2"); ok {
		t.Fatal("foreign message m2 must not be backed up")
	}

	cfg, _ := store.GetConfigByID(ctx, task.Config.ID)
	if !cfg.LastCheckpoint.Equal(at(30)) {
		t.Fatalf("checkpoint = %v, want %v (trailing foreign messages count as processed)", cfg.LastCheckpoint, at(30))
	}
	if cfg.State != models.StateEnabled || !cfg.InitialScanDone {
		t.Fatalf("config after first batch = %+v, want enabled with initial scan done", cfg)
	}
}

func TestRunBatchResumesFromCheckpoint(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{messages: []models.PlatformMessage{
		msg("m1", "a1", at(10)),
		msg("m2", "a1", at(20)),
	}}
	p := NewPipeline(store, plat, newFakeUploader(), nil, 0, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}

	// Newer message appears; the next batch must only see it.
	plat.messages = append(plat.messages, msg("m3", "a1", at(30)))
	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}

	ctx := context.Background()
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m3"); !ok {
		t.Fatal("m3 not picked up on resume")
	}
	stats, _ := store.GetBackupStats(ctx, task.Config.ID)
	if stats.MessageCount != 3 {
		t.Fatalf("message count = %d, want 3 (no duplicates)", stats.MessageCount)
	}
}

func TestRunBatchSkipsDisabledConfig(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{messages: []models.PlatformMessage{msg("m1", "a1", at(10))}}
	p := NewPipeline(store, plat, newFakeUploader(), nil, 0, 0)
	task := channelTask(t, store)

	store.SetConfigState(context.Background(), task.Config.ID, models.StateDisabled)
	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch on disabled config failed: %v", err)
	}
	if plat.fetched != 0 {
		t.Fatal("disabled config must not be fetched")
	}
}

func TestRunBatchUploadsAttachments(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{
		messages: []models.PlatformMessage{
			msg("m1", "a1", at(10), models.PlatformAttachment{ID: "f1", Filename: "pic.png", Size: 3, URL: "u1"}),
		},
		files: map[string][]byte{"u1": []byte("abc")},
	}
	up := newFakeUploader()
	p := NewPipeline(store, plat, up, []string{"png"}, 1024, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	files, _ := store.ListFilesByConfig(context.Background(), task.Config.ID)
	if len(files) != 1 {
		t.Fatalf("file rows = %d, want 1", len(files))
	}
	if files[0].Status != models.FileStatusUploaded || files[0].Size != 3 {
		t.Fatalf("unexpected file row: %+v", files[0])
	}
	if _, ok := up.stored[files[0].RemotePath]; !ok {
		t.Fatalf("remote path %s not uploaded", files[0].RemotePath)
	}
}

func TestRunBatchSkipsDisallowedAndOversized(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{
		messages: []models.PlatformMessage{
			msg("m1", "a1", at(10),
				models.PlatformAttachment{ID: "f1", Filename: "run.exe", Size: 3, URL: "u1"},
				models.PlatformAttachment{ID: "f2", Filename: "big.png", Size: 2048, URL: "u2"},
			),
		},
		files: map[string][]byte{"u1": []byte("abc"), "u2": make([]byte, 2048)},
	}
	p := NewPipeline(store, plat, newFakeUploader(), []string{"png"}, 1024, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	ctx := context.Background()
	files, _ := store.ListFilesByConfig(ctx, task.Config.ID)
	if len(files) != 0 {
		t.Fatalf("skipped attachments produced file rows: %+v", files)
	}
	// Skips are final: nothing goes to reconciliation either.
	pending, _ := store.ListPendingReconciliations(ctx)
	if len(pending) != 0 {
		t.Fatalf("skipped attachments marked pending: %+v", pending)
	}
	// The message text itself is still kept.
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m1"); !ok {
		t.Fatal("message with skipped attachments not backed up")
	}
}

func TestRunBatchFailedUploadGoesPendingAndCheckpointAdvances(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{
		messages: []models.PlatformMessage{
			msg("m1", "a1", at(10), models.PlatformAttachment{ID: "f1", Filename: "pic.png", Size: 3, URL: "u1"}),
			msg("m2", "a1", at(20)),
		},
		files: map[string][]byte{"u1": []byte("abc")},
	}
	up := newFakeUploader()
	up.failOn["pic.png"] = true
	p := NewPipeline(store, plat, up, []string{"png"}, 1024, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	ctx := context.Background()
	pending, _ := store.ListPendingReconciliations(ctx)
	if len(pending) != 1 || pending[0].Message.MessageID != "m1" {
		t.Fatalf("pending set = %+v, want m1", pending)
	}
	files, _ := store.ListFilesByConfig(ctx, task.Config.ID)
	if len(files) != 0 {
		t.Fatalf("failed upload produced file rows: %+v", files)
	}
	cfg, _ := store.GetConfigByID(ctx, task.Config.ID)
	if !cfg.LastCheckpoint.Equal(at(20)) {
		t.Fatalf("checkpoint = %v, want %v (upload failures do not block the batch)", cfg.LastCheckpoint, at(20))
	}
}

func TestReconcilePendingRetriesUploads(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{
		messages: []models.PlatformMessage{
			msg("m1", "a1", at(10), models.PlatformAttachment{ID: "f1", Filename: "pic.png", Size: 3, URL: "u1"}),
		},
		files: map[string][]byte{"u1": []byte("abc")},
	}
	up := newFakeUploader()
	up.failOn["pic.png"] = true
	p := NewPipeline(store, plat, up, []string{"png"}, 1024, 0)
	task := channelTask(t, store)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	// Storage recovers; the reconciliation pass drains the backlog.
	delete(up.failOn, "pic.png")
	if err := p.ReconcilePending(context.Background()); err != nil {
		t.Fatalf("ReconcilePending failed: %v", err)
	}

	ctx := context.Background()
	pending, _ := store.ListPendingReconciliations(ctx)
	if len(pending) != 0 {
		t.Fatalf("backlog not drained: %+v", pending)
	}
	files, _ := store.ListFilesByConfig(ctx, task.Config.ID)
	if len(files) != 1 {
		t.Fatalf("file rows after reconciliation = %d, want 1", len(files))
	}
}

func TestThreadScopeKeepsOpeningPostTextOnly(t *testing.T) {
	store := newTestStore(t)
	cfg, err := store.CreateConfig(context.Background(),
		models.BackupScope{GuildID: "g1", ChannelID: "c1", ThreadID: "t1", AuthorID: "a1"}, "")
	if err != nil {
		t.Fatalf("CreateConfig failed: %v", err)
	}

	plat := &fakePlatform{
		titles: map[string]string{"t1": "My Story"},
		messages: []models.PlatformMessage{
			msg("t1", "a1", at(10)), // opening post shares the thread id
			msg("m2", "a1", at(20)), // plain reply, no attachments
			msg("m3", "a1", at(30), models.PlatformAttachment{ID: "f1", Filename: "page.png", Size: 3, URL: "u1"}),
		},
		files: map[string][]byte{"u1": []byte("abc")},
	}
	p := NewPipeline(store, plat, newFakeUploader(), []string{"png"}, 1024, 0)

	if err := p.RunBatch(context.Background(), models.ScanTask{Config: *cfg, Historical: true}); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	ctx := context.Background()
	if ok, _ := store.HasMessageBackup(ctx, cfg.ID, "t1"); !ok {
		t.Fatal("opening post not backed up")
	}
	if ok, _ := store.HasMessageBackup(ctx, cfg.ID, "m2"); ok {
		t.Fatal("plain reply must not be backed up in a thread scope")
	}
	if ok, _ := store.HasMessageBackup(ctx, cfg.ID, "m3"); !ok {
		t.Fatal("reply with attachment not backed up")
	}

	got, _ := store.GetConfigByID(ctx, cfg.ID)
	if got.Title != "My Story" {
		t.Fatalf("thread title = %q, want My Story", got.Title)
	}

	// A second scan must not duplicate the opening post.
	if err := p.RunBatch(context.Background(), models.ScanTask{Config: *got}); err != nil {
		t.Fatalf("second RunBatch failed: %v", err)
	}
	stats, _ := store.GetBackupStats(ctx, cfg.ID)
	if stats.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2 (opening post kept once)", stats.MessageCount)
	}
}

func TestBackupLiveMessageAndEdit(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{}
	p := NewPipeline(store, plat, newFakeUploader(), nil, 0, 0)
	task := channelTask(t, store)
	cfg, _ := store.GetConfigByID(context.Background(), task.Config.ID)

	live := msg("m1", "a1", at(10))
	if err := p.BackupLiveMessage(context.Background(), cfg, live); err != nil {
		t.Fatalf("BackupLiveMessage failed: %v", err)
	}

	// Live capture never moves the checkpoint.
	got, _ := store.GetConfigByID(context.Background(), cfg.ID)
	if !got.LastCheckpoint.IsZero() {
		t.Fatalf("live backup moved the checkpoint to %v", got.LastCheckpoint)
	}

	// Foreign authors are ignored.
	if err := p.BackupLiveMessage(context.Background(), cfg, msg("m2", "other", at(20))); err != nil {
		t.Fatalf("BackupLiveMessage failed: %v", err)
	}
	if ok, _ := store.HasMessageBackup(context.Background(), cfg.ID, "m2"); ok {
		t.Fatal("foreign live message must not be backed up")
	}

	// Edits refresh stored content in place.
	edited := live
	edited.Content = "rewritten"
	if err := p.BackupEditedMessage(context.Background(), cfg, edited); err != nil {
		t.Fatalf("BackupEditedMessage failed: %v", err)
	}
	stats, _ := store.GetBackupStats(context.Background(), cfg.ID)
	if stats.MessageCount != 1 {
		t.Fatalf("edit created a new row, message count = %d", stats.MessageCount)
	}
}

func TestRunBatchHonorsResumeAfter(t *testing.T) {
	store := newTestStore(t)
	plat := &fakePlatform{messages: []models.PlatformMessage{
		msg("m1", "a1", at(10)),
		msg("m2", "a1", at(20)),
	}}
	p := NewPipeline(store, plat, newFakeUploader(), nil, 0, 0)
	task := channelTask(t, store)
	task.ResumeAfter = at(15)

	if err := p.RunBatch(context.Background(), task); err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	ctx := context.Background()
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m1"); ok {
		t.Fatal("message before the resume bound must not be fetched")
	}
	if ok, _ := store.HasMessageBackup(ctx, task.Config.ID, "m2"); !ok {
		t.Fatal("message after the resume bound not backed up")
	}
}
