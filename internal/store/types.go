// Package store defines the persistent entities of the orchestration core
// (agents, threads, triggers, tasks, usage records) and the storage
// interfaces the rest of the daemon programs against. Two concrete
// implementations exist: internal/store/file (standalone mode) and
// internal/store/pg (managed mode, Postgres-backed).
package store

import (
	"fmt"
	"time"
)

// TrustLevel is one of the three fixed trust tiers the resolver
// (internal/trust) maps onto a permission mode and tool allow-list.
type TrustLevel string

const (
	TrustSandbox      TrustLevel = "sandbox"
	TrustControlled   TrustLevel = "controlled"
	TrustUnrestricted TrustLevel = "unrestricted"
)

// Capability names a discrete slice of the tool surface an agent may be
// granted in addition to its trust level's baseline. Unknown names are a
// validation error, never a silent no-op (CapabilityUnknown).
type Capability string

const (
	CapMemory           Capability = "memory"
	CapHistory          Capability = "history"
	CapTasks            Capability = "tasks"
	CapNotes            Capability = "notes"
	CapSelf             Capability = "self"
	CapMedia            Capability = "media"
	CapSecrets          Capability = "secrets"
	CapAgents           Capability = "agents"
	CapAgentManagement  Capability = "agent-management"
	CapTriggers         Capability = "triggers"
	CapBrowser          Capability = "browser"
)

// KnownCapabilities is the full valid set. internal/trust.ValidateCapabilities
// rejects anything outside it.
var KnownCapabilities = map[Capability]bool{
	CapMemory: true, CapHistory: true, CapTasks: true, CapNotes: true,
	CapSelf: true, CapMedia: true, CapSecrets: true, CapAgents: true,
	CapAgentManagement: true, CapTriggers: true, CapBrowser: true,
}

// Two agent IDs are protected: they always exist, cannot be deleted, and
// their trust-relevant fields cannot be mutated by an agent-sourced call
// (only by an operator through the store's direct API).
const (
	ProtectedAgentChiefOfStaff = "chief-of-staff"
	ProtectedAgentBuilder      = "agent-builder"
)

func IsProtectedAgentID(id string) bool {
	return id == ProtectedAgentChiefOfStaff || id == ProtectedAgentBuilder
}

// Responsibility is one prompt fragment an agent carries in its system
// prompt and may rewrite about itself through the self capability —
// unlike trust or capabilities, which only an operator may change.
type Responsibility struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Subagent is a named sub-persona forwarded verbatim to the engine; the
// core never interprets the prompt, it only stores and transports it.
type Subagent struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Agent is a configured persona: prompt fragments, a trust level, a set
// of capabilities, and an allow-list of agents it may delegate to.
type Agent struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`

	// Identity and Instructions are the two prompt fragments a modern
	// definition carries; SystemPrompt is the legacy single-role form and
	// is only consulted when both are empty.
	Identity         string           `json:"identity,omitempty"`
	Instructions     string           `json:"instructions,omitempty"`
	SystemPrompt     string           `json:"systemPrompt,omitempty"`
	Responsibilities []Responsibility `json:"responsibilities,omitempty"`

	Trust        TrustLevel   `json:"trust"`
	Capabilities []Capability `json:"capabilities"`

	// Directories lists additional filesystem roots this agent may touch,
	// resolved under the workspace or the user's home at runtime.
	Directories []string `json:"directories,omitempty"`

	// AllowedDelegates lists agent IDs this agent may ask_agent into, or
	// ["*"] to allow any agent. Nil/empty means no delegation rights.
	AllowedDelegates []string `json:"allowedDelegates"`

	Subagents []Subagent `json:"subagents,omitempty"`

	Model string `json:"model,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one entry in a thread's append-only log.
type Message struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"toolName,omitempty"`
	ToolCallID string   `json:"toolCallId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EventKind enumerates the Event Bus's fixed name set.
type EventKind string

const (
	EventThreadResponse EventKind = "thread:response"
	EventThreadError    EventKind = "thread:error"
	EventThreadFile     EventKind = "thread:file"
	EventThreadNote     EventKind = "thread:note"
	EventThreadPin      EventKind = "thread:pin"
	EventCoworkUpdate   EventKind = "cowork:update"
)

// Event is a durable record of something the Runner emitted during a turn,
// independent of whether any subscriber was listening (the bus itself is
// not durable, but the thread's event log is).
type Event struct {
	ID        string                 `json:"id"`
	ThreadID  string                 `json:"threadId"`
	Kind      EventKind              `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Manifest is a thread's small mutable header: everything about a thread
// that is NOT an append-only log entry. Manifest writes use a temp-file +
// rename so a crash mid-write never leaves a half-written manifest.
type Manifest struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agentId"`
	Channel    string     `json:"channel"`
	Title      string     `json:"title"`
	SpawnedBy  string     `json:"spawnedBy,omitempty"`  // parent thread ID, for ask_agent children
	SpawnDepth int        `json:"spawnDepth"`
	SessionID  string     `json:"sessionId,omitempty"`  // engine-native session handle, if resumable
	TaskID     string     `json:"taskId,omitempty"`     // bound Task, if this thread carries one forward
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Trigger is a cron-scheduled turn injection, the Trigger Scheduler's
// input. LastRun is persisted before the turn fires, so a crash between
// persisting and firing yields "fired once", never "fired twice".
type Trigger struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agentId"`
	ThreadID   string     `json:"threadId,omitempty"`
	CronExpr   string     `json:"cronExpr"`
	Timezone   string     `json:"timezone"`
	Prompt     string     `json:"prompt"`
	Enabled    bool       `json:"enabled"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusWaiting  TaskStatus = "waiting"
	TaskStatusDone     TaskStatus = "done"
	TaskStatusCanceled TaskStatus = "canceled"
)

// IsTerminal reports whether s leaves the live task set. Terminal tasks
// move to the append-only history log and never come back.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusCanceled
}

// OwnerUser is the distinguished Task owner meaning "a human owns this";
// the Task Scheduler never nudges user-owned tasks.
const OwnerUser = "user"

// Step is one node of a Task's subtask DAG. TaskID, when set, links the
// step to a subtask; canceling the parent cascades to every linked
// subtask still in the live set.
type Step struct {
	Title  string `json:"title"`
	Done   bool   `json:"done"`
	TaskID string `json:"taskId,omitempty"`
}

// Resource is an external reference attached to a Task (a URL, a file
// path); the core stores them opaquely.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Path  string `json:"path,omitempty"`
}

// Task is a standing unit of work owned by the user or by an agent; the
// Task Scheduler periodically nudges agent-owned active tasks forward by
// injecting a prompt into the bound thread. Transitions run only along
// active → waiting|done|canceled and waiting → active|done|canceled;
// terminal tasks leave the live collection for the history log.
type Task struct {
	ID           string     `json:"id"`
	Subject      string     `json:"subject"`
	Description  string     `json:"description,omitempty"`
	Owner        string     `json:"owner"` // "user" or an agent id
	CreatedBy    string     `json:"createdBy"`
	Status       TaskStatus `json:"status"`
	Steps        []Step     `json:"steps,omitempty"`
	Resources    []Resource `json:"resources,omitempty"`
	ParentTaskID string     `json:"parentTaskId,omitempty"`
	ThreadID     string     `json:"threadId,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// ValidateTaskTransition enforces the status graph. Same-status writes
// are allowed (field updates that don't move the task).
func ValidateTaskTransition(from, to TaskStatus) error {
	if from == to {
		return nil
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: task is already %s", ErrValidation, from)
	}
	switch to {
	case TaskStatusActive, TaskStatusWaiting, TaskStatusDone, TaskStatusCanceled:
		return nil
	default:
		return fmt.Errorf("%w: unknown task status %q", ErrValidation, to)
	}
}

// UsageRecord is one append-only accounting line for a completed turn.
type UsageRecord struct {
	ID                  string    `json:"id"`
	ThreadID            string    `json:"threadId"`
	AgentID             string    `json:"agentId"`
	Model               string    `json:"model,omitempty"`
	InputTokens         int       `json:"inputTokens"`
	OutputTokens        int       `json:"outputTokens"`
	CacheReadTokens     int       `json:"cacheReadTokens"`
	CacheCreationTokens int       `json:"cacheCreationTokens"`
	CostUSD             float64   `json:"costUsd"`
	Turns               int       `json:"turns"`
	DurationMillis      int64     `json:"durationMillis"`
	CreatedAt           time.Time `json:"createdAt"`
}
