// Package channels provides the minimal chat-bot channel abstraction the
// Agent Runner is exercised through from outside a cron trigger or the
// HTTP/WebSocket surfaces: a fixed, config-declared channel set routed
// by one Manager.
package channels

import (
	"context"
	"strings"
)

// Channel is what a chat-bot adapter (Discord, Telegram, ...) implements
// to plug into the Manager. Send delivers one outbound text response;
// inbound messages flow the other way through the InboundHandler the
// adapter was constructed with.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, chatID, text string) error
}

// InboundHandler is how a Channel hands a received message to the Manager
// for routing into the Agent Runner. senderID identifies the sending user
// on the channel's own id space; chatID identifies the conversation the
// response must be sent back into.
type InboundHandler func(ctx context.Context, channelName, chatID, senderID, text string)

// AllowList matches a sender id against a channel's configured allowlist,
// supporting the compound "id|username" form Telegram/Discord senders are
// sometimes given. An empty allowlist allows every sender.
type AllowList []string

// Allowed reports whether senderID passes list. Empty list means open.
func (list AllowList) Allowed(senderID string) bool {
	if len(list) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range list {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}
