package platform

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"
)

// NoticeKind selects the wording and color of a confirmation notice.
type NoticeKind int

const (
	NoticeEnabled NoticeKind = iota
	NoticeDisabled
)

// SendNotice posts a confirmation embed in the given channel or thread
// and schedules its deletion after delay. Deletion is fire-and-forget:
// a failure to delete is logged, never surfaced.
func (c *Client) SendNotice(ctx context.Context, channelID, authorID string, kind NoticeKind, delay time.Duration) error {
	embed := noticeEmbed(authorID, kind, delay)

	route := "POST:channels/" + channelID + "/messages"
	var msg *discordgo.Message
	err := c.call(ctx, route, func() error {
		var err error
		msg, err = c.session.ChannelMessageSendEmbed(channelID, embed)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to send notice to %s: %w", channelID, err)
	}

	if delay > 0 {
		go c.deleteAfter(channelID, msg.ID, delay)
	}
	return nil
}

func (c *Client) deleteAfter(channelID, messageID string, delay time.Duration) {
	time.Sleep(delay)
	if err := c.session.ChannelMessageDelete(channelID, messageID); err != nil {
		log.Printf("Could not delete notice %s in %s: %v", messageID, channelID, err)
	}
}

func noticeEmbed(authorID string, kind NoticeKind, delay time.Duration) *discordgo.MessageEmbed {
	mention := fmt.Sprintf("<@%s>", authorID)
	var embed *discordgo.MessageEmbed
	switch kind {
	case NoticeEnabled:
		embed = &discordgo.MessageEmbed{
			Title:       "Backup enabled",
			Description: mention + " backup has been enabled here per your license authorization.",
			Color:       0x00ff00,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "What gets backed up",
					Value: "Your own messages and attachments in this location. Content from other participants is never stored.",
				},
			},
		}
	default:
		embed = &discordgo.MessageEmbed{
			Title:       "Backup paused",
			Description: mention + " backup has been paused here per your license settings.",
			Color:       0xffa500,
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "What this means",
					Value: "New content is no longer backed up. Existing backups are kept and backup can be re-enabled at any time.",
				},
			},
		}
	}
	embed.Timestamp = time.Now().Format(time.RFC3339)
	if delay > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("This notice deletes itself in %d minutes", int(delay.Minutes())),
		}
	}
	return embed
}
