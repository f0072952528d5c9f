// Package tools implements the tool-server factories and the ask_agent
// delegation path. A capability name resolves, through a fixed registry,
// to a Server: a named bundle of engine tool definitions with handlers
// closed over the turn's runtime context. Built-in factories are
// in-process; external stdio servers register through the same registry.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/castellan-dev/castellan/internal/engine"
	"github.com/castellan-dev/castellan/internal/store"
)

// Server is a named collection of tools offered to the engine for one
// turn. Tool names are later namespaced to mcp__<server>__<tool> by the
// Runner, so a factory names its tools plainly here.
type Server struct {
	Name  string
	Tools []engine.ToolDefinition
}

// RunAgentFn is how the ask-agent factory reenters the Agent Runner for a
// delegated turn, without internal/tools importing internal/runner (which
// imports internal/tools). The Runner supplies the concrete closure; the
// tool server itself creates the target thread and
// passes its id here so the nested turn runs under the target's own lock.
type RunAgentFn func(ctx context.Context, targetAgentID, threadID, message string, depth int) (string, error)

// FactoryContext carries the one turn's runtime collaborators a capability
// factory might need. Not every factory reads every field.
type FactoryContext struct {
	Agent        store.Agent
	ThreadID     string
	Channel      string
	WorkspaceDir string
	Directories  []string
	Stores       *store.Stores

	AskDepth      int
	MaxDepth      int
	RunAgentFn    RunAgentFn
	Delegations   *DelegationTracker
	MaxConcurrent int

	Now func() time.Time
}

func (c FactoryContext) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now().UTC()
}

// Factory builds a Server for one turn given the resolved context. Returning
// an error fails the whole turn (mirrors CapabilityUnknown's "fail before
// the engine is called" policy extended to factory construction errors).
type Factory func(ctx context.Context, fctx FactoryContext) (Server, error)

// Registry is the fixed capability/server-name → Factory map the Runner
// consults once per turn for every namespace trust.Resolve returned.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds the registry with every built-in factory registered
// under the namespace name trust.Resolve emits for it.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("memory", MemoryFactory)
	r.Register("history", HistoryFactory)
	r.Register("tasks", TasksFactory)
	r.Register("notes", NotesFactory)
	r.Register("self", SelfFactory)
	r.Register("media", MediaFactory)
	r.Register("secrets", SecretsFactory)
	r.Register("agent-management", AgentManagementFactory)
	r.Register("triggers", TriggersFactory)
	r.Register("browser", BrowserFactory)
	r.Register("agents-delegate", DelegateFactory)
	r.Register("usage", UsageFactory)
	r.Register("suggest-edit", SuggestEditFactory)
	r.Register("agents", AgentsFactory)
	return r
}

// Register adds or replaces the factory for name. Exported so an operator
// build can add extra namespaces (config.TrustConfig.ExtraServersByCapability)
// without forking the package.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs the named server. An unknown name is a programmer error
// (trust.Resolve only ever emits names this registry knows about), so it
// returns a plain error rather than a typed sentinel.
func (r *Registry) Build(ctx context.Context, name string, fctx FactoryContext) (Server, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return Server{}, fmt.Errorf("tools: no factory registered for server %q", name)
	}
	return f(ctx, fctx)
}

// DelegationTracker caps the number of concurrently outstanding ask_agent
// calls issued BY a given source agent, independent of the depth cap, so
// one turn can't fan out an unbounded number of simultaneous delegations
// even though depth alone would allow a few more levels.
type DelegationTracker struct {
	mu   sync.Mutex
	load map[string]int
	max  int
}

func NewDelegationTracker(max int) *DelegationTracker {
	if max <= 0 {
		max = 4
	}
	return &DelegationTracker{load: make(map[string]int), max: max}
}

// TryAcquire reserves one delegation slot for sourceAgentID, reporting
// false if the source is already at its concurrent cap.
func (t *DelegationTracker) TryAcquire(sourceAgentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.load[sourceAgentID] >= t.max {
		return false
	}
	t.load[sourceAgentID]++
	return true
}

// Release frees the slot reserved by a prior successful TryAcquire.
func (t *DelegationTracker) Release(sourceAgentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.load[sourceAgentID] > 0 {
		t.load[sourceAgentID]--
	}
}

// textResult is the common success shape every factory's handlers return
// through engine.ToolDefinition.Handler.
func textResult(s string) (string, bool) { return s, false }

func errResult(format string, args ...interface{}) (string, bool) {
	return fmt.Sprintf(format, args...), true
}
