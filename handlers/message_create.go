package handlers

import (
	"context"
	"log"
	"time"

	"penpreserve/bot"
	"penpreserve/models"
	"penpreserve/platform"

	"github.com/bwmarrin/discordgo"
)

const liveBackupTimeout = 2 * time.Minute

// MessageCreate backs up freshly posted messages for every enabled
// scope watching the channel or thread they landed in.
func MessageCreate(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		handleLiveMessage(b, s, m.Message, false)
	}
}

// MessageUpdate refreshes the stored content of edited messages.
func MessageUpdate(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageUpdate) {
	return func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		handleLiveMessage(b, s, m.Message, true)
	}
}

func handleLiveMessage(b *bot.Bot, s *discordgo.Session, m *discordgo.Message, edit bool) {
	if m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), liveBackupTimeout)
	defer cancel()

	channelID, threadID, err := resolveLocation(s, m.ChannelID)
	if err != nil {
		log.Printf("Live backup could not resolve channel %s: %v", m.ChannelID, err)
		return
	}

	configs, err := b.Store.ListConfigsByLocation(ctx, m.GuildID, channelID, threadID)
	if err != nil {
		log.Printf("Live backup lookup failed for channel %s: %v", m.ChannelID, err)
		return
	}
	if len(configs) == 0 {
		return
	}

	msg := platform.ConvertMessage(m)
	for _, cfg := range configs {
		if cfg.State == models.StateDisabled {
			continue
		}
		if edit {
			err = b.Pipeline.BackupEditedMessage(ctx, cfg, msg)
		} else {
			err = b.Pipeline.BackupLiveMessage(ctx, cfg, msg)
		}
		if err != nil {
			log.Printf("Live backup failed for %s: %v", cfg.Scope, err)
		}
	}
}

// resolveLocation splits a raw channel id into its (channel, thread)
// pair. For a plain channel the thread id is empty.
func resolveLocation(s *discordgo.Session, channelID string) (string, string, error) {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID)
	}
	if err != nil {
		return "", "", err
	}
	if ch.IsThread() {
		return ch.ParentID, ch.ID, nil
	}
	return channelID, "", nil
}
