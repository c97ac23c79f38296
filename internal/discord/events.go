package discord

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/keshon/heartflow/internal/mind"
)

// toEvent normalizes a guild message. Direct messages, bots and empty
// messages without attachments are skipped.
func toEvent(botID string, m *discordgo.MessageCreate) (mind.Event, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return mind.Event{}, false
	}
	if m.Author.ID == botID || m.Author.Bot || m.GuildID == "" {
		return mind.Event{}, false
	}

	hasImage := false
	for _, a := range m.Attachments {
		if strings.HasPrefix(a.ContentType, "image/") {
			hasImage = true
			break
		}
	}
	text := strings.TrimSpace(m.ContentWithMentionsReplaced())
	if text == "" && !hasImage {
		return mind.Event{}, false
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return mind.Event{
		MessageID:   m.ID,
		GroupID:     m.GuildID,
		SenderID:    m.Author.ID,
		SenderName:  displayName(m),
		Text:        text,
		RawText:     m.Content,
		Mentioned:   mentionsBot(botID, m),
		HasImage:    hasImage,
		Destination: m.ChannelID,
		Timestamp:   ts,
	}, true
}

// mentionsBot is true for an explicit @mention or a reply to one of the bot's messages.
func mentionsBot(botID string, m *discordgo.MessageCreate) bool {
	for _, u := range m.Mentions {
		if u.ID == botID {
			return true
		}
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil && ref.Author.ID == botID {
		return true
	}
	return false
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.DisplayName()
}
