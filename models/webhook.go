package models

// PermissionEvent is the body of the license-permission webhook. Only
// the identifying fields and the backup_allowed flag are authoritative;
// usernames and titles are derived live from the platform.
type PermissionEvent struct {
	EventType     string `json:"event_type"`
	Timestamp     string `json:"timestamp"`
	GuildID       string `json:"guild_id"`
	ChannelID     string `json:"channel_id"`
	ThreadID      string `json:"thread_id,omitempty"`
	AuthorID      string `json:"author_id"`
	BackupAllowed bool   `json:"backup_allowed"`

	// Optional advisory block kept from the v1 payload shape. Used to
	// seed the author cache, never for backup decisions.
	Author *PermissionAuthor `json:"author,omitempty"`
}

// PermissionAuthor is the advisory author block of a permission event.
type PermissionAuthor struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Scope extracts the backup scope a permission event targets. A thread
// id equal to the channel id means a channel-level grant.
func (e PermissionEvent) Scope() BackupScope {
	threadID := e.ThreadID
	if threadID == e.ChannelID {
		threadID = ""
	}
	return BackupScope{
		GuildID:   e.GuildID,
		ChannelID: e.ChannelID,
		ThreadID:  threadID,
		AuthorID:  e.AuthorID,
	}
}
