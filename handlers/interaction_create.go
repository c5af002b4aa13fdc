package handlers

import (
	"fmt"
	"log"

	"penpreserve/bot"
	"penpreserve/models"

	"github.com/bwmarrin/discordgo"
)

// InteractionCreate handles slash command interactions.
func InteractionCreate(b *bot.Bot) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		CommandDispatcher(b, s, i)
	}
}

// CommandDispatcher routes an application command interaction to its
// handler.
func CommandDispatcher(b *bot.Bot, s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.ApplicationCommandData().Name {
	case "backup-status":
		HandleBackupStatus(b, s, i)
	case "my-backups":
		HandleMyBackups(b, s, i)
	case "download":
		HandleDownload(b, s, i)
	case "disable-backup":
		HandleDisableBackup(b, s, i)
	case "delete-backup":
		HandleDeleteBackup(b, s, i)
	default:
		respondEphemeral(s, i, "Unknown command.")
	}
}

// interactionScope resolves the backup scope the interaction was issued
// from. Inside a thread the scope targets the thread; anywhere else it
// targets the channel.
func interactionScope(s *discordgo.Session, i *discordgo.InteractionCreate, authorID string) (models.BackupScope, error) {
	channelID, threadID, err := resolveLocation(s, i.ChannelID)
	if err != nil {
		return models.BackupScope{}, fmt.Errorf("failed to resolve channel %s: %w", i.ChannelID, err)
	}
	return models.BackupScope{
		GuildID:   i.GuildID,
		ChannelID: channelID,
		ThreadID:  threadID,
		AuthorID:  authorID,
	}, nil
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("Failed to respond to interaction: %v", err)
	}
}

func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Printf("Failed to respond to interaction: %v", err)
	}
}
