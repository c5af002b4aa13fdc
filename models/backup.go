package models

import "time"

// BackupConfig is one row of backup_configs: a single authorized scope.
type BackupConfig struct {
	ID              int64
	Scope           BackupScope
	Title           string
	State           ConfigState
	InitialScanDone bool
	CreatedAt       time.Time
	// LastCheckpoint is the timestamp of the newest fully processed
	// message for this scope. Zero if the scope was never scanned.
	LastCheckpoint time.Time
}

// MessageBackup is one backed-up message.
type MessageBackup struct {
	ID        int64
	ConfigID  int64
	MessageID string
	Content   string
	PostedAt  time.Time
	BackedUp  time.Time
	// PendingAttachments holds a JSON array of attachment references
	// whose upload failed and is retried by the reconciliation job.
	PendingAttachments string
}

// FileBackup is one stored attachment. Rows exist only for uploads that
// succeeded; failed uploads stay on the parent message's pending list.
type FileBackup struct {
	ID               int64
	MessageBackupID  int64
	OriginalFilename string
	StoredFilename   string
	Size             int64
	SourceURL        string
	RemotePath       string
	Status           string
	BackedUp         time.Time
}

// FileUploadStatus value for file_backups rows.
const FileStatusUploaded = "uploaded"

// Author is the advisory display-name cache for a backed-up author.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	UpdatedAt   time.Time
}

// ScanTask is one unit of scheduling work. Tasks are rebuilt from
// backup_configs on startup, never persisted verbatim.
type ScanTask struct {
	Config    BackupConfig
	NextRunAt time.Time
	// Historical marks scopes that have not finished their first full
	// scan; they are dispatched ahead of live-monitoring scopes.
	Historical bool
	// ResumeAfter, when set, overrides the fetch window's lower bound.
	// The recovery pass uses it to start from the pre-crash shutdown
	// time without trusting a possibly stale checkpoint.
	ResumeAfter time.Time
}

// BackupStats aggregates counts for status and list commands.
type BackupStats struct {
	ConfigCount  int64
	MessageCount int64
	FileCount    int64
	TotalBytes   int64
}
