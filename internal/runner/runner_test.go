package runner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/bus"
	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/store/file"
	"github.com/castellan-dev/castellan/internal/tools"
)

// fakeEngine is the test double for engine.Engine: tests drive it by
// queuing one result or error per Run call.
type fakeEngine struct {
	results []*engine.Result
	errs    []error
	calls   []engine.Request
}

func (f *fakeEngine) Run(ctx context.Context, req engine.Request) (*engine.Result, error) {
	f.calls = append(f.calls, req)
	i := len(f.calls) - 1
	var res *engine.Result
	var err error
	if i < len(f.results) {
		res = f.results[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if res == nil && err == nil {
		res = &engine.Result{Text: "ok"}
	}
	return res, err
}

func newTestRunner(t *testing.T, eng engine.Engine) (*Runner, *store.Stores) {
	t.Helper()
	stores, err := file.New(store.Config{Mode: "standalone", WorkDir: t.TempDir()})
	require.NoError(t, err)

	r := &Runner{
		Stores:      stores,
		Engine:      eng,
		Tools:       tools.NewRegistry(),
		Bus:         bus.New(),
		Delegations: tools.NewDelegationTracker(4),
		MaxDepth:    3,
		Now:         func() time.Time { return time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC) },
	}
	return r, stores
}

func mustCreateAgent(t *testing.T, stores *store.Stores, id string, trust store.TrustLevel, caps []store.Capability) store.Agent {
	t.Helper()
	a, err := stores.Agents.Create(context.Background(), store.Agent{
		ID:           id,
		Key:          id,
		Name:         id,
		Trust:        trust,
		Capabilities: caps,
		Model:        "test-model",
	})
	require.NoError(t, err)
	return a
}

func mustCreateThread(t *testing.T, stores *store.Stores, agentID string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := stores.Threads.Create(context.Background(), store.Manifest{
		ID:      id,
		AgentID: agentID,
		Channel: "cli",
	})
	require.NoError(t, err)
	return id
}

// Happy turn: user append, assistant append, session id, usage, callback.
func TestRunHappyTurnAppendsMessagesAndSession(t *testing.T) {
	eng := &fakeEngine{results: []*engine.Result{{Text: "hi", SessionID: "S1", Usage: engine.Usage{InputTokens: 10, OutputTokens: 5}}}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	var responded string
	res, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{
		Callbacks: Callbacks{OnResponse: func(_, _, _, text string) { responded = text }},
	})
	require.NoError(t, err)
	require.Equal(t, "hi", res.Text)
	require.Equal(t, "hi", responded)

	msgs, err := stores.Threads.LoadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, store.RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, store.RoleAssistant, msgs[1].Role)
	require.Equal(t, "hi", msgs[1].Content)

	manifest, err := stores.Threads.Get(context.Background(), threadID)
	require.NoError(t, err)
	require.Equal(t, "S1", manifest.SessionID)

	usage, err := stores.Usage.Query(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, 10, usage[0].InputTokens)
}

// Abort mid-turn leaves "(stopped by user)" and never fires
// onResponse.
func TestRunAbortLeavesStoppedMessage(t *testing.T) {
	eng := &fakeEngine{errs: []error{engine.ErrAborted}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	responded := false
	res, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{
		Callbacks: Callbacks{OnResponse: func(_, _, _, _ string) { responded = true }},
	})
	require.NoError(t, err)
	require.Equal(t, "", res.Text)
	require.False(t, responded)

	msgs, err := stores.Threads.LoadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "(stopped by user)", msgs[1].Content)
}

// A non-abort engine error is recorded as "(error: ...)", emits onError,
// and is re-raised to the caller.
func TestRunEngineErrorRecordsAndReraises(t *testing.T) {
	eng2 := &fakeEngine{errs: []error{errBoom}}
	r, stores := newTestRunner(t, eng2)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	var errored string
	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{
		Callbacks: Callbacks{OnError: func(_, _, _, msg string) { errored = msg }},
	})
	require.Error(t, err)
	require.Equal(t, "boom", errored)

	msgs, loadErr := stores.Threads.LoadMessages(context.Background(), threadID)
	require.NoError(t, loadErr)
	require.Len(t, msgs, 2)
	require.Equal(t, "(error: boom)", msgs[1].Content)
}

// An unknown capability fails the turn before the user
// message is appended to the log.
func TestRunUnknownCapabilityFailsBeforeAppend(t *testing.T) {
	eng := &fakeEngine{}
	r, stores := newTestRunner(t, eng)
	// Agents.Create rejects unknown capabilities, so the record is written
	// straight to an agents.json the Runner's agent store then reads.
	dir := t.TempDir()
	data, merr := json.Marshal([]store.Agent{{ID: "weird", Key: "weird", Name: "weird", Trust: store.TrustSandbox, Capabilities: []store.Capability{"teleportation"}}})
	require.NoError(t, merr)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents.json"), data, 0o644))
	stores.Agents = file.NewAgentStore(dir)
	threadID := mustCreateThread(t, stores, "weird")

	_, err := r.Run(context.Background(), "weird", threadID, "hello", Options{})
	require.Error(t, err)

	msgs, loadErr := stores.Threads.LoadMessages(context.Background(), threadID)
	require.NoError(t, loadErr)
	require.Empty(t, msgs)
}

func TestRunAgentNotFoundFailsFast(t *testing.T) {
	eng := &fakeEngine{}
	r, stores := newTestRunner(t, eng)
	threadID := mustCreateThread(t, stores, "ghost")

	_, err := r.Run(context.Background(), "ghost", threadID, "hello", Options{})
	require.ErrorIs(t, err, ErrAgentNotFound)
}

// Empty engine text is substituted with a placeholder rather than an
// empty assistant message.
func TestRunEmptyResponseSubstituted(t *testing.T) {
	eng := &fakeEngine{results: []*engine.Result{{Text: ""}}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.NoError(t, err)

	msgs, err := stores.Threads.LoadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Equal(t, "(empty response)", msgs[1].Content)
}

// A newer sessionId never gets overwritten by an older/empty one.
func TestRunNeverDowngradesSessionID(t *testing.T) {
	eng := &fakeEngine{results: []*engine.Result{{Text: "ok", SessionID: ""}}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	manifest, err := stores.Threads.Get(context.Background(), threadID)
	require.NoError(t, err)
	manifest.SessionID = "S-OLD"
	require.NoError(t, stores.Threads.UpdateManifest(context.Background(), manifest))

	_, err = r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.NoError(t, err)

	manifest, err = stores.Threads.Get(context.Background(), threadID)
	require.NoError(t, err)
	require.Equal(t, "S-OLD", manifest.SessionID)
}

// A successful turn publishes thread:response on the bus; an aborted one
// publishes nothing.
func TestRunPublishesResponseOnBus(t *testing.T) {
	eng := &fakeEngine{results: []*engine.Result{{Text: "hi"}}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	var events []bus.Event
	r.Bus.Subscribe("test", func(ev bus.Event) { events = append(events, ev) })

	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.EventThreadResponse, events[0].Kind)
	require.Equal(t, threadID, events[0].ThreadID)
	require.Equal(t, "hi", events[0].Payload["text"])
}

func TestRunPublishesErrorOnBus(t *testing.T) {
	eng := &fakeEngine{errs: []error{errBoom}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	var events []bus.Event
	r.Bus.Subscribe("test", func(ev bus.Event) { events = append(events, ev) })

	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.Error(t, err)
	require.Len(t, events, 1)
	require.Equal(t, store.EventThreadError, events[0].Kind)
}

func TestRunAbortPublishesNothingOnBus(t *testing.T) {
	eng := &fakeEngine{errs: []error{engine.ErrAborted}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	var events []bus.Event
	r.Bus.Subscribe("test", func(ev bus.Event) { events = append(events, ev) })

	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.NoError(t, err)
	require.Empty(t, events)
}

// The usage record carries the turn's model tag and round-trip count.
func TestRunRecordsUsageMetadata(t *testing.T) {
	eng := &fakeEngine{results: []*engine.Result{{
		Text:  "hi",
		Turns: 3,
		Usage: engine.Usage{InputTokens: 10, OutputTokens: 5, CacheCreationTokens: 2},
	}}}
	r, stores := newTestRunner(t, eng)
	mustCreateAgent(t, stores, "assistant", store.TrustControlled, nil)
	threadID := mustCreateThread(t, stores, "assistant")

	_, err := r.Run(context.Background(), "assistant", threadID, "hello", Options{})
	require.NoError(t, err)

	usage, err := stores.Usage.Query(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	require.Len(t, usage, 1)
	require.Equal(t, "test-model", usage[0].Model)
	require.Equal(t, 3, usage[0].Turns)
	require.Equal(t, 2, usage[0].CacheCreationTokens)
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
