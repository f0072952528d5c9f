// Package discord is the Discord chat-bot channel adapter: one bot
// session routing DMs and mentions into the channel Manager, with
// 2000-char chunked sending.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/castellan-dev/castellan/internal/channels"
	"github.com/castellan-dev/castellan/internal/config"
)

const discordMaxMessageLen = 2000

// Channel is the Discord adapter: one bot session, routing every DM and
// mention into the Manager's InboundHandler.
type Channel struct {
	session        *discordgo.Session
	cfg            config.DiscordConfig
	inbound        channels.InboundHandler
	botUserID      string
	requireMention bool
}

// New creates a Discord channel from config. inbound is called for every
// accepted message; the Manager supplies its own routing closure.
func New(cfg config.DiscordConfig, inbound channels.InboundHandler) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{session: session, cfg: cfg, inbound: inbound, requireMention: true}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord: open session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("discord: fetch bot identity: %w", err)
	}
	c.botUserID = user.ID
	slog.Info("discord channel started", "username", user.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

// Send delivers text to a Discord channel, splitting on the 2000-char API
// limit at the nearest newline.
func (c *Channel) Send(_ context.Context, chatID, text string) error {
	for len(text) > 0 {
		chunk := text
		if len(chunk) > discordMaxMessageLen {
			cutAt := discordMaxMessageLen
			if idx := lastNewline(text[:discordMaxMessageLen]); idx > discordMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if _, err := c.session.ChannelMessageSend(chatID, chunk); err != nil {
			return fmt.Errorf("discord: send: %w", err)
		}
	}
	return nil
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}
	if !c.guildAllowed(m.GuildID) {
		return
	}
	isDM := m.GuildID == ""
	if !isDM && c.requireMention && !c.mentionsBot(m.Mentions) {
		return
	}
	c.inbound(context.Background(), "discord", m.ChannelID, m.Author.ID, m.Content)
}

func (c *Channel) mentionsBot(mentions []*discordgo.User) bool {
	for _, u := range mentions {
		if u.ID == c.botUserID {
			return true
		}
	}
	return false
}

func (c *Channel) guildAllowed(guildID string) bool {
	if guildID == "" || len(c.cfg.GuildAllow) == 0 {
		return true
	}
	for _, g := range c.cfg.GuildAllow {
		if g == guildID {
			return true
		}
	}
	return false
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
