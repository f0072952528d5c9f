// Package protocol defines the wire method and event names exposed by the
// cowork WebSocket channel (internal/gateway) and the HTTP+SSE channel
// (internal/http), so both surfaces agree on naming without importing one
// another.
package protocol

// ProtocolVersion is bumped whenever a method or event's payload shape
// changes incompatibly.
const ProtocolVersion = 1

// RPC method names.
const (
	MethodThreadSend    = "thread.send"
	MethodThreadHistory = "thread.history"
	MethodThreadAbort   = "thread.abort"
	MethodThreadList    = "thread.list"

	MethodAgentsList   = "agents.list"
	MethodAgentsCreate = "agents.create"
	MethodAgentsUpdate = "agents.update"
	MethodAgentsDelete = "agents.delete"

	MethodTriggersList   = "triggers.list"
	MethodTriggersCreate = "triggers.create"
	MethodTriggersUpdate = "triggers.update"
	MethodTriggersDelete = "triggers.delete"

	MethodTasksList    = "tasks.list"
	MethodTasksHistory = "tasks.history"
	MethodTasksCreate  = "tasks.create"
	MethodTasksUpdate  = "tasks.update"
	MethodTasksClose   = "tasks.close"

	MethodUsageQuery = "usage.query"
)
