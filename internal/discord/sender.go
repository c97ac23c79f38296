package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const maxMessageLength = 2000

// Sender delivers engine replies to channels, split into Discord-sized chunks.
type Sender struct {
	send  func(channelID, content string) error
	pause time.Duration
}

func NewSender(s *discordgo.Session) *Sender {
	return &Sender{
		send: func(channelID, content string) error {
			_, err := s.ChannelMessageSend(channelID, content)
			return err
		},
		pause: 200 * time.Millisecond,
	}
}

func (s *Sender) Send(ctx context.Context, channelID, text string) error {
	for i, chunk := range splitMessage(text, maxMessageLength) {
		if i > 0 && s.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pause):
			}
		}
		if err := s.send(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts msg at line breaks where possible so that no chunk
// exceeds limit runes.
func splitMessage(msg string, limit int) []string {
	var result []string
	msg = strings.TrimSpace(msg)
	for {
		r := []rune(msg)
		if len(r) <= limit {
			break
		}
		head := string(r[:limit])
		cut := strings.LastIndex(head, "\n")
		if cut <= 0 {
			cut = len(head)
		}
		result = append(result, strings.TrimSpace(msg[:cut]))
		msg = strings.TrimSpace(msg[cut:])
	}
	if msg != "" {
		result = append(result, msg)
	}
	return result
}
