package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/castellan-dev/castellan/internal/runner"
	"github.com/castellan-dev/castellan/internal/store"
)

// Manager owns the registered chat-bot channels and routes their inbound
// messages into the Agent Runner, one thread per (channel, chatID) pair,
// with plain request/response delivery.
type Manager struct {
	stores *store.Stores
	runner *runner.Runner

	mu           sync.Mutex
	channels     map[string]Channel
	defaultAgent map[string]string
	threads      map[string]string // "channel:chatID" -> threadID
	limiter      *WebhookRateLimiter
}

func NewManager(stores *store.Stores, r *runner.Runner) *Manager {
	return &Manager{
		stores:       stores,
		runner:       r,
		channels:     make(map[string]Channel),
		defaultAgent: make(map[string]string),
		threads:      make(map[string]string),
		limiter:      NewWebhookRateLimiter(),
	}
}

// Register adds a channel, bound to the agent that answers its messages
// when no thread already routes the conversation elsewhere.
func (m *Manager) Register(ch Channel, defaultAgentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	m.defaultAgent[ch.Name()] = defaultAgentID
}

// StartAll brings every registered channel up concurrently; the first
// failure cancels the remaining starts and is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	chs := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		chs = append(chs, c)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range chs {
		c := c
		g.Go(func() error {
			if err := c.Start(gctx); err != nil {
				return fmt.Errorf("channels: start %s: %w", c.Name(), err)
			}
			slog.Info("channel started", "channel", c.Name())
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	chs := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		chs = append(chs, c)
	}
	m.mu.Unlock()

	for _, c := range chs {
		if err := c.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", c.Name(), "error", err)
		}
	}
}

// HandleInbound is the InboundHandler every registered Channel calls on a
// received message: it resolves (or creates) the bound thread and runs
// the full Agent Runner pipeline over it, delivering the response — or
// any out-of-band notify_user call — back through the originating
// channel's Send.
func (m *Manager) HandleInbound(ctx context.Context, channelName, chatID, senderID, text string) {
	if !m.limiter.Allow(channelName + ":" + senderID) {
		slog.Warn("channel inbound rate-limited", "channel", channelName, "sender", senderID)
		return
	}

	m.mu.Lock()
	ch := m.channels[channelName]
	agentID := m.defaultAgent[channelName]
	m.mu.Unlock()
	if ch == nil || agentID == "" {
		return
	}

	threadID, err := m.threadFor(ctx, channelName, chatID, agentID)
	if err != nil {
		slog.Error("channels: resolve thread failed", "channel", channelName, "chat", chatID, "error", err)
		return
	}

	deliver := func(respText string) {
		if respText == "" {
			return
		}
		for _, chunk := range splitForChat(respText, chatMessageLimit) {
			if sendErr := ch.Send(ctx, chatID, chunk); sendErr != nil {
				slog.Error("channels: send failed", "channel", channelName, "chat", chatID, "error", sendErr)
				return
			}
		}
	}

	_, err = m.runner.Run(ctx, agentID, threadID, text, runner.Options{
		Source: "user",
		Callbacks: runner.Callbacks{
			OnResponse:   func(_, _, _, respText string) { deliver(respText) },
			OnNotifyUser: func(_, _, _, respText string) { deliver(respText) },
		},
	})
	if err != nil {
		slog.Error("channels: run failed", "channel", channelName, "agent", agentID, "error", err)
		deliver(fmt.Sprintf("sorry, something went wrong: %v", err))
	}
}

// threadFor maps a (channel, chatID) pair onto a thread id, creating one
// on first contact. The mapping itself lives only in memory: a restart
// starts a fresh thread per conversation, since no persisted entity
// carries an external chat key to resume across process restarts.
func (m *Manager) threadFor(ctx context.Context, channelName, chatID, agentID string) (string, error) {
	key := channelName + ":" + chatID

	m.mu.Lock()
	if id, ok := m.threads[key]; ok {
		m.mu.Unlock()
		return id, nil
	}
	m.mu.Unlock()

	manifest, err := m.stores.Threads.Create(ctx, store.Manifest{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Channel: channelName,
	})
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.threads[key] = manifest.ID
	m.mu.Unlock()
	return manifest.ID, nil
}
