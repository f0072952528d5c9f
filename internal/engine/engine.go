// Package engine is the Engine Adapter: the black-box boundary between
// internal/runner's turn pipeline and whatever LLM API actually produces
// a response. The contract is text in, text + resumable session handle +
// usage out, with streaming callbacks and session-resume-retry-once
// built in.
package engine

import (
	"context"
	"errors"

	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/trust"
)

// ErrAborted is returned when ctx is canceled mid-turn. The Runner treats
// this distinctly from any other error (records "(stopped by user)",
// fires no onResponse callback).
var ErrAborted = errors.New("engine: turn aborted")

// ErrSessionExpired signals that SessionID in a Request could not be
// resumed by the underlying engine. The WithSessionResume decorator retries
// once with the session id cleared when the Request carried a SessionID;
// without one, or when the retry fails the same way, this error reaches
// the caller.
var ErrSessionExpired = errors.New("engine: session could not be resumed")

// ToolDefinition is what the Runner hands the engine for one turn, after
// internal/trust.Resolve and internal/tools have built the concrete tool
// list. Handler is the engine's only way to actually exercise a tool: the
// engine treats the model's tool_use request as an instruction to call
// Handler and feed its result back, looping until the model produces a
// final text response or MaxTurns is exhausted. A nil Handler is only
// valid for tools the engine itself implements natively (none, today).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     func(ctx context.Context, args map[string]interface{}) (content string, isError bool)
}

// Callbacks lets the Runner observe a turn as it streams, independent of
// the final Result. Any of these may be nil.
type Callbacks struct {
	OnThinking         func(text string)
	OnAssistantMessage func(text string)
	OnToolUse          func(name string, args map[string]interface{})
	OnToolUseSummary   func(name string, summary string)
	// OnEvent receives every raw lifecycle occurrence the other callbacks
	// already decompose (thinking/assistant-text/tool-use/tool-summary),
	// tagged by kind, for a caller that wants one firehose instead of four
	// narrower hooks. AnthropicEngine calls neither OnEvent nor OnThinking.
	OnEvent func(kind string, payload map[string]interface{})
}

// DefaultMaxTurns bounds the tool-use loop inside Run when req.MaxTurns is
// unset, so a misbehaving or looping tool can't run the engine forever.
const DefaultMaxTurns = 24

// Request is one turn's worth of input to the engine.
type Request struct {
	SystemPrompt string
	History      []store.Message
	Message      string
	Tools        []ToolDefinition
	AllowedTools    []string
	DisallowedTools []string
	Mode         trust.PermissionMode
	Model        string
	MaxTokens    int
	MaxTurns     int
	Temperature  float64

	// Subagents are named sub-personas forwarded to engines that
	// understand them; adapters without native sub-persona support
	// ignore the field.
	Subagents []store.Subagent

	// SessionID resumes a prior engine-native session when non-empty. If
	// the engine can't resume it, Run retries once with SessionID cleared
	// rather than failing the turn.
	SessionID string

	Callbacks Callbacks
}

// Usage carries one turn's token accounting, named onto
// store.UsageRecord's fields. CostUSD is zero when the underlying API
// doesn't report cost.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
	CostUSD             float64
}

// Result is what Run returns on success. Turns counts the model
// round-trips the tool-use loop consumed, 1 for a pure-text response.
type Result struct {
	Text      string
	SessionID string
	Usage     Usage
	Turns     int
}

// Engine is the adapter boundary. Run blocks until the turn completes,
// is aborted (ctx canceled — returns ErrAborted), or fails.
type Engine interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// checkAbort turns a canceled context into ErrAborted instead of letting
// the underlying HTTP client's generic "context canceled" error leak
// through — the Runner matches on ErrAborted specifically.
func checkAbort(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrAborted
	default:
		return nil
	}
}
