package handlers

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"penpreserve/bot"
	"penpreserve/permission"
	"penpreserve/utils"

	"github.com/bwmarrin/discordgo"
)

const commandTimeout = 30 * time.Second

// HandleBackupStatus handles the logic for the /backup-status command.
func HandleBackupStatus(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	scope, err := interactionScope(s, i, interactionUserID(i))
	if err != nil {
		log.Printf("backup-status failed: %v", err)
		respondEphemeral(s, i, "Could not resolve this channel.")
		return
	}

	cfg, err := b.Store.GetConfig(ctx, scope)
	if err != nil {
		log.Printf("backup-status failed for %s: %v", scope, err)
		respondEphemeral(s, i, "Could not look up your backup.")
		return
	}
	if cfg == nil {
		respondEphemeral(s, i, "No backup is configured for your content here.")
		return
	}

	stats, err := b.Store.GetBackupStats(ctx, cfg.ID)
	if err != nil {
		log.Printf("backup-status stats failed for config %d: %v", cfg.ID, err)
		respondEphemeral(s, i, "Could not load backup statistics.")
		return
	}

	checkpoint := "never scanned"
	if !cfg.LastCheckpoint.IsZero() {
		checkpoint = cfg.LastCheckpoint.Format(time.RFC3339)
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title: "Backup Status",
		Color: utils.ColorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Title", Value: orDash(cfg.Title), Inline: true},
			{Name: "State", Value: string(cfg.State), Inline: true},
			{Name: "Scope", Value: string(cfg.Scope.Kind()), Inline: true},
			{Name: "Messages", Value: fmt.Sprintf("%d", stats.MessageCount), Inline: true},
			{Name: "Files", Value: fmt.Sprintf("%d", stats.FileCount), Inline: true},
			{Name: "Stored", Value: utils.FormatBytes(stats.TotalBytes), Inline: true},
			{Name: "Backed up through", Value: checkpoint},
		},
	})
}

// HandleMyBackups handles the logic for the /my-backups command.
func HandleMyBackups(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	userID := interactionUserID(i)
	configs, err := b.Store.ListConfigsByAuthor(ctx, userID)
	if err != nil {
		log.Printf("my-backups failed for %s: %v", userID, err)
		respondEphemeral(s, i, "Could not list your backups.")
		return
	}
	if len(configs) == 0 {
		respondEphemeral(s, i, "You have no backups configured.")
		return
	}

	var sb strings.Builder
	for _, cfg := range configs {
		fmt.Fprintf(&sb, "- **%s** (%s, %s) in <#%s>\n",
			orDash(cfg.Title), cfg.Scope.Kind(), cfg.State, cfg.Scope.LocationID())
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Your Backups (%d)", len(configs)),
		Color:       utils.ColorInfo,
		Description: sb.String(),
	})
}

// HandleDownload handles the logic for the /download command.
func HandleDownload(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	scope, err := interactionScope(s, i, interactionUserID(i))
	if err != nil {
		log.Printf("download failed: %v", err)
		respondEphemeral(s, i, "Could not resolve this channel.")
		return
	}

	cfg, err := b.Store.GetConfig(ctx, scope)
	if err != nil {
		log.Printf("download failed for %s: %v", scope, err)
		respondEphemeral(s, i, "Could not look up your backup.")
		return
	}
	if cfg == nil {
		respondEphemeral(s, i, "No backup is configured for your content here.")
		return
	}

	files, err := b.Store.ListFilesByConfig(ctx, cfg.ID)
	if err != nil {
		log.Printf("download failed listing files for config %d: %v", cfg.ID, err)
		respondEphemeral(s, i, "Could not list stored files.")
		return
	}
	if len(files) == 0 {
		respondEphemeral(s, i, "No files have been stored for this backup yet.")
		return
	}

	const maxListed = 20
	var sb strings.Builder
	for idx, f := range files {
		if idx == maxListed {
			fmt.Fprintf(&sb, "… and %d more\n", len(files)-maxListed)
			break
		}
		fmt.Fprintf(&sb, "`%s` (%s)\n", f.RemotePath, utils.FormatBytes(f.Size))
	}

	respondEmbed(s, i, &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Stored Files (%d)", len(files)),
		Color:       utils.ColorInfo,
		Description: sb.String(),
	})
}

// HandleDisableBackup handles the logic for the /disable-backup command.
func HandleDisableBackup(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	scope, err := interactionScope(s, i, interactionUserID(i))
	if err != nil {
		log.Printf("disable-backup failed: %v", err)
		respondEphemeral(s, i, "Could not resolve this channel.")
		return
	}

	outcome, err := b.Permission.Revoke(ctx, scope)
	if err != nil {
		log.Printf("disable-backup failed for %s: %v", scope, err)
		utils.Error("permission", "disable", err.Error())
		respondEphemeral(s, i, "Could not disable the backup.")
		return
	}

	switch outcome {
	case permission.OutcomeDisabling:
		respondEphemeral(s, i, "Backup disabled. Stored data is kept until you delete it.")
	case permission.OutcomeNotFound:
		respondEphemeral(s, i, "No active backup is configured for your content here.")
	default:
		respondEphemeral(s, i, fmt.Sprintf("Backup state: %s", outcome))
	}
}

// HandleDeleteBackup handles the logic for the /delete-backup command.
func HandleDeleteBackup(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	requesterID := interactionUserID(i)
	targetID := requesterID
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "author" {
			targetID = opt.UserValue(nil).ID
		}
	}

	admin := b.Auth.IsAdmin(requesterID)
	if targetID != requesterID && !admin {
		respondEphemeral(s, i, "Only admins may delete another author's backup.")
		return
	}

	scope, err := interactionScope(s, i, targetID)
	if err != nil {
		log.Printf("delete-backup failed: %v", err)
		respondEphemeral(s, i, "Could not resolve this channel.")
		return
	}

	outcome, err := b.Permission.Delete(ctx, scope, requesterID, admin)
	if err != nil {
		log.Printf("delete-backup failed for %s: %v", scope, err)
		utils.Error("permission", "delete", err.Error())
		respondEphemeral(s, i, "Could not delete the backup.")
		return
	}

	switch outcome {
	case permission.OutcomeDeleted:
		respondEphemeral(s, i, "Backup deleted. All stored records for this scope were removed.")
	case permission.OutcomeNotFound:
		respondEphemeral(s, i, "No backup is configured for that author here.")
	case permission.OutcomeForbidden:
		respondEphemeral(s, i, "You may only delete your own backup.")
	default:
		respondEphemeral(s, i, fmt.Sprintf("Backup state: %s", outcome))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
