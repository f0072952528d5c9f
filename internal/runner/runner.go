// Package runner implements the Agent Runner: the central per-turn
// pipeline every entry point into the daemon (channel message, trigger
// fire, task nudge, ask_agent delegation) eventually calls — load
// context, build the system prompt, call the engine, persist the result,
// all under the thread's lock.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/tools"
	"github.com/castellan-dev/castellan/internal/trust"
)

// ErrAgentNotFound is returned (wrapping store.ErrAgentNotFound) when the
// referenced agent does not exist — the Runner's own fail-fast check
// ahead of acquiring the thread lock.
var ErrAgentNotFound = errors.New("runner: agent not found")

// Overrides lets a caller reshape one turn without mutating the agent or
// thread record: a background-mode prompt addition, a raw system-prompt
// suffix, or an explicit model override.
type Overrides struct {
	Background         bool
	SystemPromptSuffix string
	Model              string
}

// Callbacks are the Runner-level lifecycle hooks, a superset of
// engine.Callbacks: OnResponse/OnError fire once per turn, after the
// pipeline has already persisted whatever they describe, so a channel
// adapter subscribing to them never observes a state the log doesn't also
// have. OnNotifyUser fires on each notify_user tool call, during the
// engine run, and nothing is persisted for it.
type Callbacks struct {
	OnThinking         func(text string)
	OnAssistantMessage func(text string)
	OnToolUse          func(name string, args map[string]interface{})
	OnToolUseSummary   func(name string, summary string)
	OnEvent            func(kind string, payload map[string]interface{})

	OnResponse   func(agentID, threadID, channel, text string)
	OnError      func(agentID, threadID, channel, message string)
	OnNotifyUser func(agentID, threadID, channel, text string)
}

func (c Callbacks) toEngine() engine.Callbacks {
	return engine.Callbacks{
		OnThinking:         c.OnThinking,
		OnAssistantMessage: c.OnAssistantMessage,
		OnToolUse:          c.OnToolUse,
		OnToolUseSummary:   c.OnToolUseSummary,
		OnEvent:            c.OnEvent,
	}
}

// Options configures one Run call beyond the bare (agentID, threadID,
// message) triple.
type Options struct {
	ExtraServers []string
	AskDepth     int
	Source       string // "user" | "trigger" | "task" | "delegation"
	SourceID     string
	Overrides    Overrides
	Callbacks    Callbacks
}

// Result is what Run returns on success, including on a clean abort
// (text is empty in that case).
type Result struct {
	Text string
}

// Runner wires together every component the turn pipeline touches. A
// single Runner is shared by every channel, the schedulers, and the
// delegation tool.
type Runner struct {
	Stores   *store.Stores
	Engine   engine.Engine
	Tools    *tools.Registry
	Bus      *bus.Bus
	Delegations *tools.DelegationTracker

	WorkspaceDir string
	Directories  []string

	// ExtraCapabilityServers maps a capability name to operator-configured
	// extra tool-server namespaces (external stdio servers), fed into
	// trust.Resolve's context each turn.
	ExtraCapabilityServers map[string][]string

	MaxDepth      int
	MaxConcurrent int
	MaxTurns      int

	// Now is overridable for deterministic tests; defaults to time.Now().
	Now func() time.Time
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// RunAgentFn returns the tools.RunAgentFn closure the delegation tool
// server calls to reenter the Runner for an ask_agent call, without
// internal/tools importing internal/runner.
func (r *Runner) RunAgentFn() tools.RunAgentFn {
	return func(ctx context.Context, targetAgentID, threadID, message string, depth int) (string, error) {
		res, err := r.Run(ctx, targetAgentID, threadID, message, Options{
			AskDepth: depth,
			Source:   "delegation",
		})
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

// Run executes the turn pipeline for one (agentID, threadID, message)
// call, holding the thread's lock for the entire duration.
func (r *Runner) Run(ctx context.Context, agentID, threadID, message string, opts Options) (Result, error) {
	ctx, span := otel.Tracer("castellan/runner").Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("thread.id", threadID),
		attribute.String("turn.source", opts.Source),
		attribute.Int("turn.ask_depth", opts.AskDepth),
	))
	res, err := r.run(ctx, agentID, threadID, message, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return res, err
}

func (r *Runner) run(ctx context.Context, agentID, threadID, message string, opts Options) (Result, error) {
	agent, err := r.Stores.Agents.GetByID(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrAgentNotFound) {
			return Result{}, fmt.Errorf("%w: %s: %w", ErrAgentNotFound, agentID, err)
		}
		return Result{}, fmt.Errorf("runner: load agent %s: %w", agentID, err)
	}

	var result Result
	var titleCandidate *titleJob

	err = r.Stores.Threads.WithLock(ctx, threadID, func(ctx context.Context) error {
		manifest, err := r.Stores.Threads.Get(ctx, threadID)
		if err != nil {
			return fmt.Errorf("runner: load manifest %s: %w", threadID, err)
		}

		level := agent.Trust
		if level == "" {
			level = store.TrustSandbox
		}

		// An unknown capability must fail the turn before the user message
		// is ever appended: validate ahead of any log mutation.
		if err := trust.ValidateCapabilities(agent.Capabilities); err != nil {
			return fmt.Errorf("runner: resolve trust for %s: %w", agentID, err)
		}

		if err := r.appendUserMessage(ctx, threadID, message); err != nil {
			return err
		}

		maxDepth := r.MaxDepth
		if maxDepth <= 0 {
			maxDepth = 3
		}
		// The "agents" capability (and its agents-delegate server) is
		// omitted once this turn is already at the depth cap, so the model
		// never sees ask_agent offered only to have it fail at call time.
		hasRunAgentFn := opts.AskDepth < maxDepth
		res, err := trust.Resolve(level, agent.Capabilities, trust.Context{
			HasRunAgentFn:            hasRunAgentFn,
			HasDelegates:             len(agent.AllowedDelegates) > 0,
			ExtraServersByCapability: r.ExtraCapabilityServers,
		})
		if err != nil {
			return fmt.Errorf("runner: resolve trust for %s: %w", agentID, err)
		}
		res.Servers = mergeServers(res.Servers, opts.ExtraServers)

		var task *store.Task
		if manifest.TaskID != "" {
			t, err := r.Stores.Tasks.Get(ctx, manifest.TaskID)
			if err == nil {
				task = &t
			}
		}

		directories := mergeServers(r.Directories, agent.Directories)
		systemPrompt := buildSystemPrompt(agent, res, manifest.Channel, directories, manifest, task, r.now(), opts.Overrides.Background, opts.Overrides.SystemPromptSuffix)

		history, err := r.Stores.Threads.LoadMessages(ctx, threadID)
		if err != nil {
			return fmt.Errorf("runner: load history %s: %w", threadID, err)
		}
		// Drop the message we just appended: req.Message carries it
		// separately, so the engine never sees it twice.
		if n := len(history); n > 0 {
			history = history[:n-1]
		}

		toolDefs, err := r.buildTools(ctx, agent, manifest, opts, res)
		if err != nil {
			return fmt.Errorf("runner: build tools for %s: %w", agentID, err)
		}

		model := opts.Overrides.Model
		if model == "" {
			model = agent.Model
		}

		req := engine.Request{
			SystemPrompt:    systemPrompt,
			History:         history,
			Message:         message,
			Tools:           toolDefs,
			AllowedTools:    res.AllowedTools,
			DisallowedTools: res.DisallowedTools,
			Mode:            res.PermissionMode,
			Model:           model,
			MaxTurns:        r.MaxTurns,
			Subagents:       agent.Subagents,
			SessionID:       manifest.SessionID,
			Callbacks:       opts.Callbacks.toEngine(),
		}

		started := r.now()
		engineResult, runErr := r.Engine.Run(ctx, req)

		if runErr != nil {
			return r.handleEngineError(ctx, agentID, threadID, manifest.Channel, runErr, opts.Callbacks)
		}

		titleCandidate = r.handleEngineSuccess(ctx, agentID, threadID, &manifest, engineResult, model, r.now().Sub(started), opts.Callbacks)
		result = Result{Text: engineResult.Text}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if titleCandidate != nil {
		go r.generateTitle(*titleCandidate)
	}

	return result, nil
}

func (r *Runner) appendUserMessage(ctx context.Context, threadID, message string) error {
	return r.Stores.Threads.AppendMessage(ctx, store.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      store.RoleUser,
		Content:   message,
		CreatedAt: r.now(),
	})
}

// mergeServers unions base and extra, with extra winning no conflicts
// arise (server names are opaque strings, not key/value pairs), and
// de-duplicates.
func mergeServers(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range extra {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// handleEngineError finishes a failed turn. Aborted turns leave a
// distinct, non-error trace; any other failure is logged to the thread
// and re-raised.
func (r *Runner) handleEngineError(ctx context.Context, agentID, threadID, channel string, runErr error, cb Callbacks) error {
	if errors.Is(runErr, engine.ErrAborted) {
		_ = r.Stores.Threads.AppendMessage(ctx, store.Message{
			ID:        uuid.NewString(),
			ThreadID:  threadID,
			Role:      store.RoleAssistant,
			Content:   "(stopped by user)",
			CreatedAt: r.now(),
		})
		r.touchManifest(ctx, threadID, "")
		return nil
	}

	_ = r.Stores.Threads.AppendMessage(ctx, store.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      store.RoleAssistant,
		Content:   fmt.Sprintf("(error: %s)", runErr.Error()),
		CreatedAt: r.now(),
	})
	r.touchManifest(ctx, threadID, "")
	if cb.OnError != nil {
		cb.OnError(agentID, threadID, channel, runErr.Error())
	}
	r.publish(threadID, store.EventThreadError, map[string]interface{}{
		"agentId": agentID,
		"channel": channel,
		"message": runErr.Error(),
	})
	return runErr
}

// publish fans a turn event out to whatever channel adapters are
// subscribed right now; delivery is synchronous and best-effort.
func (r *Runner) publish(threadID string, kind store.EventKind, payload map[string]interface{}) {
	if r.Bus == nil {
		return
	}
	r.Bus.Publish(bus.Event{ThreadID: threadID, Kind: kind, Payload: payload})
}

type titleJob struct {
	threadID string
	agentID  string
	prompt   string
}

// handleEngineSuccess persists a completed turn's outputs. Returns a
// non-nil titleJob when the manifest qualifies for fire-and-forget title
// generation outside the lock.
func (r *Runner) handleEngineSuccess(ctx context.Context, agentID, threadID string, manifest *store.Manifest, res *engine.Result, model string, elapsed time.Duration, cb Callbacks) *titleJob {
	now := r.now()

	if res.Usage != (engine.Usage{}) {
		_ = r.Stores.Usage.Append(ctx, store.UsageRecord{
			ID:                  uuid.NewString(),
			ThreadID:            threadID,
			AgentID:             agentID,
			Model:               model,
			InputTokens:         res.Usage.InputTokens,
			OutputTokens:        res.Usage.OutputTokens,
			CacheReadTokens:     res.Usage.CacheReadTokens,
			CacheCreationTokens: res.Usage.CacheCreationTokens,
			CostUSD:             res.Usage.CostUSD,
			Turns:               res.Turns,
			DurationMillis:      elapsed.Milliseconds(),
			CreatedAt:           now,
		})
	}

	text := res.Text
	if text == "" {
		text = "(empty response)"
	}
	_ = r.Stores.Threads.AppendMessage(ctx, store.Message{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Role:      store.RoleAssistant,
		Content:   text,
		CreatedAt: now,
	})

	// Never downgrade a newer sessionId to an older one observed across a
	// retried call.
	nextSession := manifest.SessionID
	if res.SessionID != "" {
		nextSession = res.SessionID
	}
	manifest.SessionID = nextSession
	manifest.UpdatedAt = now
	_ = r.Stores.Threads.UpdateManifest(ctx, *manifest)

	if cb.OnResponse != nil {
		cb.OnResponse(agentID, threadID, manifest.Channel, text)
	}
	r.publish(threadID, store.EventThreadResponse, map[string]interface{}{
		"agentId": agentID,
		"channel": manifest.Channel,
		"text":    text,
	})

	var job *titleJob
	if manifest.Title == "" {
		history, err := r.Stores.Threads.LoadMessages(ctx, threadID)
		if err == nil && countUserMessages(history) >= 2 {
			job = &titleJob{threadID: threadID, agentID: agentID, prompt: titlePrompt(history, text)}
		}
	}
	return job
}

func countUserMessages(msgs []store.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == store.RoleUser {
			n++
		}
	}
	return n
}

func titlePrompt(history []store.Message, lastResponse string) string {
	var lastTwoUser []string
	for i := len(history) - 1; i >= 0 && len(lastTwoUser) < 2; i-- {
		if history[i].Role == store.RoleUser {
			lastTwoUser = append([]string{history[i].Content}, lastTwoUser...)
		}
	}
	prompt := "Write a short (under 6 words) title summarizing this exchange, with no quotes or trailing punctuation:\n\n"
	for _, u := range lastTwoUser {
		prompt += "User: " + u + "\n"
	}
	prompt += "Assistant: " + lastResponse
	return prompt
}

// touchManifest bumps updatedAt without touching anything else; used on
// both error branches of step 8.
func (r *Runner) touchManifest(ctx context.Context, threadID, _ string) {
	m, err := r.Stores.Threads.Get(ctx, threadID)
	if err != nil {
		return
	}
	m.UpdatedAt = r.now()
	_ = r.Stores.Threads.UpdateManifest(ctx, m)
}

// generateTitle runs outside the thread lock: it reads/writes the
// manifest without re-acquiring the lock, accepting a benign race
// against further turns because writing a title is idempotent.
func (r *Runner) generateTitle(job titleJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res, err := r.Engine.Run(ctx, engine.Request{
		SystemPrompt: "You generate short thread titles. Respond with the title only.",
		Message:      job.prompt,
		MaxTokens:    32,
		MaxTurns:     1,
	})
	if err != nil || res.Text == "" {
		if err != nil {
			slog.Warn("title generation failed", "thread", job.threadID, "error", err)
		}
		return
	}

	manifest, err := r.Stores.Threads.Get(ctx, job.threadID)
	if err != nil {
		return
	}
	if manifest.Title != "" {
		return
	}
	manifest.Title = res.Text
	manifest.UpdatedAt = r.now()
	if err := r.Stores.Threads.UpdateManifest(ctx, manifest); err != nil {
		slog.Warn("title save failed", "thread", job.threadID, "error", err)
	}
}
