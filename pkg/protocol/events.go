package protocol

// WebSocket event names pushed from server to cowork clients. These mirror
// the Event Bus's fixed kind set (internal/bus) one-for-one, plus a
// connection-lifecycle pair the bus itself doesn't emit.
const (
	EventThreadResponse = "thread:response"
	EventThreadError    = "thread:error"
	EventThreadFile     = "thread:file"
	EventThreadNote     = "thread:note"
	EventThreadPin      = "thread:pin"
	EventCoworkUpdate   = "cowork:update"

	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)
