// Package telegram is the Telegram chat-bot channel adapter: a telego
// long-polling loop routing accepted messages into the channel Manager.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/castellan-dev/castellan/internal/channels"
	"github.com/castellan-dev/castellan/internal/config"
)

const telegramMaxMessageLen = 4096

// Channel is the Telegram adapter: one bot polling for updates via long
// polling, routing every accepted message into the Manager.
type Channel struct {
	bot        *telego.Bot
	cfg        config.TelegramConfig
	allowList  channels.AllowList
	inbound    channels.InboundHandler
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, inbound channels.InboundHandler) (*Channel, error) {
	bot, err := telego.NewBot(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Channel{bot: bot, cfg: cfg, allowList: channels.AllowList(cfg.AllowFrom), inbound: inbound}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("telegram: start long polling: %w", err)
	}

	slog.Info("telegram channel started", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		<-c.pollDone
	}
	return nil
}

// Send delivers text to a Telegram chat, splitting on the 4096-char API
// limit at the nearest newline.
func (c *Channel) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}

	for len(text) > 0 {
		chunk := text
		if len(chunk) > telegramMaxMessageLen {
			cutAt := telegramMaxMessageLen
			if idx := lastNewline(text[:telegramMaxMessageLen]); idx > telegramMaxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(id), chunk)); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}

func (c *Channel) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	if c.cfg.DMPolicy == "disabled" {
		return
	}
	senderID := strconv.FormatInt(m.From.ID, 10)
	if c.cfg.DMPolicy == "allowlist" && !c.allowList.Allowed(senderID) {
		return
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	c.inbound(context.Background(), "telegram", chatID, senderID, m.Text)
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
