package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/castellan-dev/castellan/internal/store"
)

const (
	defaultAnthropicModel   = "claude-sonnet-4-5-20250929"
	anthropicAPIBase        = "https://api.anthropic.com/v1"
	anthropicAPIVersion     = "2023-06-01"
	anthropicDefaultTimeout = 120 * time.Second
)

// AnthropicEngine talks to the Anthropic Messages API directly, streaming
// the response over SSE and driving the tool-use loop itself so that, from
// the Runner's point of view, the whole exchange is one black-box Run
// call. This adapter is stateless —
// the full message history is resent every turn, so SessionID is accepted
// for interface conformance but never set or consumed; only an engine
// backed by a natively session-aware API would populate it.
type AnthropicEngine struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retry        RetryConfig
}

type AnthropicOption func(*AnthropicEngine)

func WithAnthropicModel(model string) AnthropicOption {
	return func(e *AnthropicEngine) { e.defaultModel = model }
}

func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(e *AnthropicEngine) { e.baseURL = url }
}

func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(e *AnthropicEngine) { e.retry = cfg }
}

func NewAnthropicEngine(apiKey string, opts ...AnthropicOption) *AnthropicEngine {
	e := &AnthropicEngine{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultAnthropicModel,
		client:       &http.Client{Timeout: anthropicDefaultTimeout},
		retry:        DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// anthropicBlock is a tagged union covering every content-block shape the
// Messages API sends or accepts: plain text, a model-issued tool_use
// request, and a tool_result we feed back after running a handler.
type anthropicBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	IsError   bool                   `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string            `json:"role"`
	Content []anthropicBlock  `json:"content"`
}

type anthropicTool struct {
	Type        string                 `json:"type,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// nativeAnthropicTools maps the resolver's built-in tool names onto the
// Messages API's own server-side tool types, for the handful Anthropic
// exposes natively. Names with no entry here (read_file, write_file,
// list_files, read_notebook, write_notebook, shell) are an engine's own
// local filesystem/shell tools — out of this adapter's scope.
var nativeAnthropicTools = map[string]anthropicTool{
	"web_search": {Type: "web_search_20250305", Name: "web_search"},
	"web_fetch":  {Type: "web_fetch_20250910", Name: "web_fetch"},
}

// resolveNativeTools turns the Resolution's allow/deny built-in tool
// names into the subset of native Anthropic server tools to declare this
// turn.
func resolveNativeTools(allowed, disallowed []string) []anthropicTool {
	deny := make(map[string]bool, len(disallowed))
	for _, d := range disallowed {
		deny[d] = true
	}
	var out []anthropicTool
	for _, name := range allowed {
		if deny[name] {
			continue
		}
		if t, ok := nativeAnthropicTools[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage   *anthropicUsage `json:"usage"`
	Message *struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

// streamResult is one Messages API call's worth of output, before the
// Runner-facing Result's tool loop has been resolved.
type streamResult struct {
	text       string
	toolUses   []anthropicBlock
	usage      Usage
	stopReason string
}

func historyToMessages(history []store.Message, userMessage string) []anthropicMessage {
	msgs := make([]anthropicMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "assistant"
		}
		if m.Role == store.RoleSystem {
			continue
		}
		msgs = append(msgs, anthropicMessage{Role: role, Content: []anthropicBlock{{Type: "text", Text: m.Content}}})
	}
	msgs = append(msgs, anthropicMessage{Role: "user", Content: []anthropicBlock{{Type: "text", Text: userMessage}}})
	return msgs
}

// Run drives the full turn: one or more Messages API calls, executing any
// tool_use blocks the model emits against req.Tools' handlers and feeding
// the results back, until the model stops asking for tools or MaxTurns is
// exhausted. SessionID is accepted and ignored — see the type doc comment.
func (e *AnthropicEngine) Run(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = e.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	tools := resolveNativeTools(req.AllowedTools, req.DisallowedTools)
	handlers := make(map[string]func(context.Context, map[string]interface{}) (string, bool), len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
		if t.Handler != nil {
			handlers[t.Name] = t.Handler
		}
	}

	messages := historyToMessages(req.History, req.Message)
	var total Usage
	var finalText string
	turns := 0

	for turn := 0; turn < maxTurns; turn++ {
		turns++
		body := anthropicRequest{
			Model:       model,
			System:      req.SystemPrompt,
			Messages:    messages,
			Tools:       tools,
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
			Stream:      true,
		}

		var sr *streamResult
		err := retryDo(ctx, e.retry, isRetryableStatus, func() error {
			r, err := e.stream(ctx, body, req.Callbacks)
			if err != nil {
				return err
			}
			sr = r
			return nil
		})
		if err != nil {
			return nil, err
		}

		total.InputTokens += sr.usage.InputTokens
		total.OutputTokens += sr.usage.OutputTokens
		total.CacheReadTokens += sr.usage.CacheReadTokens
		total.CacheCreationTokens += sr.usage.CacheCreationTokens
		finalText = sr.text

		if len(sr.toolUses) == 0 {
			break
		}

		assistantBlocks := make([]anthropicBlock, 0, len(sr.toolUses)+1)
		if sr.text != "" {
			assistantBlocks = append(assistantBlocks, anthropicBlock{Type: "text", Text: sr.text})
		}
		assistantBlocks = append(assistantBlocks, sr.toolUses...)
		messages = append(messages, anthropicMessage{Role: "assistant", Content: assistantBlocks})

		resultBlocks := make([]anthropicBlock, 0, len(sr.toolUses))
		for _, tu := range sr.toolUses {
			if err := checkAbort(ctx); err != nil {
				return nil, err
			}
			if req.Callbacks.OnToolUse != nil {
				req.Callbacks.OnToolUse(tu.Name, tu.Input)
			}
			handler, ok := handlers[tu.Name]
			var content string
			var isError bool
			if !ok {
				content, isError = fmt.Sprintf("no handler registered for tool %q", tu.Name), true
			} else {
				content, isError = handler(ctx, tu.Input)
			}
			if req.Callbacks.OnToolUseSummary != nil {
				req.Callbacks.OnToolUseSummary(tu.Name, summarize(content))
			}
			resultBlocks = append(resultBlocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: tu.ID,
				Content:   content,
				IsError:   isError,
			})
		}
		messages = append(messages, anthropicMessage{Role: "user", Content: resultBlocks})
	}

	return &Result{Text: finalText, Usage: total, Turns: turns}, nil
}

func summarize(content string) string {
	const max = 160
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}

func (e *AnthropicEngine) stream(ctx context.Context, body anthropicRequest, cb Callbacks) (*streamResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", e.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrAborted
		}
		return nil, &statusError{err: fmt.Errorf("engine: request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &statusError{code: resp.StatusCode, err: fmt.Errorf("engine: status %d: %s", resp.StatusCode, string(data))}
	}

	var textBuf strings.Builder
	var usage Usage
	var toolUses []anthropicBlock
	// blockKinds/blockJSON track in-progress content blocks by index, since
	// tool_use input arrives as incremental partial_json deltas.
	blockKinds := map[int]*anthropicBlock{}
	blockJSON := map[int]*strings.Builder{}
	var stopReason string

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := checkAbort(ctx); err != nil {
			return nil, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				usage.InputTokens = ev.Message.Usage.InputTokens
				usage.CacheReadTokens = ev.Message.Usage.CacheReadInputTokens
				usage.CacheCreationTokens = ev.Message.Usage.CacheCreationInputTokens
			}
		case "content_block_start":
			if ev.ContentBlock == nil {
				break
			}
			if ev.ContentBlock.Type == "tool_use" {
				blockKinds[ev.Index] = &anthropicBlock{Type: "tool_use", ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				blockJSON[ev.Index] = &strings.Builder{}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					textBuf.WriteString(ev.Delta.Text)
					if cb.OnAssistantMessage != nil {
						cb.OnAssistantMessage(ev.Delta.Text)
					}
				}
			case "input_json_delta":
				if b, ok := blockJSON[ev.Index]; ok {
					b.WriteString(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if blk, ok := blockKinds[ev.Index]; ok {
				raw := blockJSON[ev.Index].String()
				var input map[string]interface{}
				if raw == "" {
					input = map[string]interface{}{}
				} else if err := json.Unmarshal([]byte(raw), &input); err != nil {
					input = map[string]interface{}{}
				}
				blk.Input = input
				toolUses = append(toolUses, *blk)
			}
		case "message_delta":
			if ev.Usage != nil {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
			if ev.Delta.StopReason != "" {
				stopReason = ev.Delta.StopReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("engine: read stream: %w", err)
	}

	return &streamResult{text: textBuf.String(), toolUses: toolUses, usage: usage, stopReason: stopReason}, nil
}

// statusError wraps a non-2xx or transport failure so isRetryableStatus
// can decide without re-parsing the error string.
type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

func isRetryableStatus(err error) bool {
	var se *statusError
	if !asStatusError(err, &se) {
		return false
	}
	return se.code == 0 || se.code == http.StatusTooManyRequests || se.code >= 500
}

func asStatusError(err error, target **statusError) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	*target = se
	return true
}
