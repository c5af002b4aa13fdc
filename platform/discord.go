// Package platform wraps the Discord session behind the small surface
// the backup engine consumes: paginated history fetches, attachment
// downloads, name lookups and self-deleting notices. Every outbound API
// call goes through the shared rate limiter.
package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"penpreserve/models"
	"penpreserve/ratelimit"

	"github.com/bwmarrin/discordgo"
)

const fetchPageSize = 100

// Client is the Discord implementation of the chat platform
// collaborator.
type Client struct {
	session    *discordgo.Session
	limiter    *ratelimit.Limiter
	httpClient *http.Client
}

// NewClient wraps a Discord session with the shared rate limiter.
func NewClient(session *discordgo.Session, limiter *ratelimit.Limiter) *Client {
	return &Client{
		session:    session,
		limiter:    limiter,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// call runs one discordgo call under the limiter, translating Discord
// rate-limit rejections into the limiter's error type.
func (c *Client) call(ctx context.Context, route string, fn func() error) error {
	return c.limiter.Do(ctx, route, func() error {
		err := fn()
		var rle *discordgo.RateLimitError
		if errors.As(err, &rle) {
			return &ratelimit.RateLimitedError{RetryAfter: rle.RetryAfter}
		}
		return err
	})
}

// timeToSnowflake converts a timestamp to the smallest Discord snowflake
// created at or after it, for use as a history cursor.
func timeToSnowflake(t time.Time) string {
	const discordEpochMillis = 1420070400000
	ms := t.UnixMilli() - discordEpochMillis
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}

// FetchMessages returns up to limit messages in channelID posted
// strictly after the given time, oldest first. A zero time starts from
// the beginning of the channel's history.
func (c *Client) FetchMessages(ctx context.Context, channelID string, after time.Time, limit int) ([]models.PlatformMessage, error) {
	route := "GET:channels/" + channelID + "/messages"
	afterID := "0"
	if !after.IsZero() {
		afterID = timeToSnowflake(after)
	}

	var collected []models.PlatformMessage
	for limit <= 0 || len(collected) < limit {
		pageSize := fetchPageSize
		if limit > 0 && limit-len(collected) < pageSize {
			pageSize = limit - len(collected)
		}

		var page []*discordgo.Message
		err := c.call(ctx, route, func() error {
			var err error
			page, err = c.session.ChannelMessages(channelID, pageSize, "", afterID, "")
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch messages from %s: %w", channelID, err)
		}
		if len(page) == 0 {
			break
		}

		// The API hands pages back newest first; track the newest id as
		// the next cursor and convert everything.
		maxID := afterID
		for _, m := range page {
			if snowflakeLess(maxID, m.ID) {
				maxID = m.ID
			}
			// Skip anything at or before the cursor; the snowflake
			// cursor is inclusive-exclusive at millisecond precision.
			if !after.IsZero() && !m.Timestamp.After(after) {
				continue
			}
			collected = append(collected, ConvertMessage(m))
		}
		afterID = maxID

		if len(page) < pageSize {
			break
		}
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})
	if limit > 0 && len(collected) > limit {
		collected = collected[:limit]
	}
	return collected, nil
}

func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// FetchMessage returns a single message by id, or nil if it no longer
// exists.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*models.PlatformMessage, error) {
	route := "GET:channels/" + channelID + "/messages/id"
	var msg *discordgo.Message
	err := c.call(ctx, route, func() error {
		var err error
		msg, err = c.session.ChannelMessage(channelID, messageID)
		return err
	})
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch message %s from %s: %w", messageID, channelID, err)
	}

	pm := ConvertMessage(msg)
	return &pm, nil
}

// ConvertMessage reduces a gateway or REST message to the fields the
// pipeline consumes.
func ConvertMessage(m *discordgo.Message) models.PlatformMessage {
	pm := models.PlatformMessage{
		ID:        m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		pm.AuthorID = m.Author.ID
		pm.AuthorName = m.Author.Username
	}
	for _, a := range m.Attachments {
		pm.Attachments = append(pm.Attachments, models.PlatformAttachment{
			ID:       a.ID,
			Filename: a.Filename,
			Size:     int64(a.Size),
			URL:      a.URL,
		})
	}
	return pm
}

// ChannelTitle returns the display name of a channel or thread.
func (c *Client) ChannelTitle(ctx context.Context, channelID string) (string, error) {
	route := "GET:channels/" + channelID
	var ch *discordgo.Channel
	err := c.call(ctx, route, func() error {
		var err error
		ch, err = c.session.Channel(channelID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch channel %s: %w", channelID, err)
	}
	return ch.Name, nil
}

// AuthorNames fetches the current username and display name of a guild
// member, for the advisory author cache.
func (c *Client) AuthorNames(ctx context.Context, guildID, userID string) (username, displayName string, err error) {
	route := "GET:guilds/" + guildID + "/members"
	var member *discordgo.Member
	err = c.call(ctx, route, func() error {
		var err error
		member, err = c.session.GuildMember(guildID, userID)
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch member %s in guild %s: %w", userID, guildID, err)
	}
	if member.User != nil {
		username = member.User.Username
	}
	displayName = member.Nick
	if displayName == "" {
		displayName = username
	}
	return username, displayName, nil
}

// DownloadAttachment fetches attachment bytes from the platform CDN.
func (c *Client) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment download returned HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment body: %w", err)
	}
	return data, nil
}
