package command

import "github.com/bwmarrin/discordgo"

// BackupStatusCommand defines the structure for the /backup-status command.
type BackupStatusCommand struct{}

// Definition returns the application command definition.
func (c *BackupStatusCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "backup-status",
		Description: "Show the backup status for your content in this channel",
	}
}

// MyBackupsCommand defines the structure for the /my-backups command.
type MyBackupsCommand struct{}

// Definition returns the application command definition.
func (c *MyBackupsCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "my-backups",
		Description: "List every backup configured for your content",
	}
}

// DownloadCommand defines the structure for the /download command.
type DownloadCommand struct{}

// Definition returns the application command definition.
func (c *DownloadCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "download",
		Description: "List the files stored for your backup in this channel",
	}
}

// DisableBackupCommand defines the structure for the /disable-backup command.
type DisableBackupCommand struct{}

// Definition returns the application command definition.
func (c *DisableBackupCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "disable-backup",
		Description: "Stop backing up your content in this channel",
	}
}

// DeleteBackupCommand defines the structure for the /delete-backup command.
type DeleteBackupCommand struct{}

// Definition returns the application command definition.
func (c *DeleteBackupCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "delete-backup",
		Description: "Delete your backup in this channel, including stored data",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "author",
				Description: "Owner of the backup to delete (admins only)",
				Type:        discordgo.ApplicationCommandOptionUser,
				Required:    false,
			},
		},
	}
}
