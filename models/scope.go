package models

import "fmt"

// ScopeKind determines which capture rules apply to a backup scope.
type ScopeKind string

const (
	// ScopeKindThread backs up the thread title and opening post once,
	// plus every attachment the owning author posts in the thread.
	ScopeKindThread ScopeKind = "thread"
	// ScopeKindChannel backs up every qualifying message and attachment.
	ScopeKindChannel ScopeKind = "channel"
)

// ConfigState is the lifecycle state of a backup configuration.
type ConfigState string

const (
	StateEnabling ConfigState = "enabling" // created, first historical scan pending
	StateEnabled  ConfigState = "enabled"
	StateDisabled ConfigState = "disabled"
)

// BackupScope identifies one backup target. ThreadID is empty for
// channel-level scopes. The tuple (guild, channel, thread, author) is
// unique per configuration.
type BackupScope struct {
	GuildID   string
	ChannelID string
	ThreadID  string
	AuthorID  string
}

// Kind reports the capture rules for this scope.
func (s BackupScope) Kind() ScopeKind {
	if s.ThreadID != "" {
		return ScopeKindThread
	}
	return ScopeKindChannel
}

// LocationID is the channel the scope's messages actually live in: the
// thread for thread scopes, the channel otherwise.
func (s BackupScope) LocationID() string {
	if s.ThreadID != "" {
		return s.ThreadID
	}
	return s.ChannelID
}

// Key returns a stable map key for the scope.
func (s BackupScope) Key() string {
	return fmt.Sprintf("%s:%s:%s:%s", s.GuildID, s.ChannelID, s.ThreadID, s.AuthorID)
}

func (s BackupScope) String() string {
	if s.ThreadID != "" {
		return fmt.Sprintf("guild %s thread %s author %s", s.GuildID, s.ThreadID, s.AuthorID)
	}
	return fmt.Sprintf("guild %s channel %s author %s", s.GuildID, s.ChannelID, s.AuthorID)
}
