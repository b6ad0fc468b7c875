package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// maxMessageLen is Discord's limit for one message.
const maxMessageLen = 2000

// Notifier posts operator notifications to a Discord channel.
type Notifier struct {
	Session   *discordgo.Session
	ChannelID string
}

// NewNotifier creates a Notifier for a bot token.
func NewNotifier(token, channelID string) (*Notifier, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	return &Notifier{Session: dg, ChannelID: channelID}, nil
}

// Notify sends text to the channel, truncated to Discord's message limit.
func (n *Notifier) Notify(ctx context.Context, text string) error {
	if n.ChannelID == "" {
		return fmt.Errorf("discord: no channel configured")
	}
	if _, err := n.Session.ChannelMessageSend(n.ChannelID, Truncate(text, maxMessageLen), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Truncate shortens s to at most limit runes, marking the cut with "…".
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}
	return string(r[:limit-1]) + "…"
}
