package store

// Stores is the top-level container for every storage backend the daemon
// wires together at startup. Both implementations (internal/store/file for
// standalone mode, internal/store/pg for managed mode) populate every
// field; there is no managed-only subset.
type Stores struct {
	Threads  ThreadStore
	Agents   AgentStore
	Triggers TriggerStore
	Tasks    TaskStore
	Usage    UsageStore
}

// Config selects which concrete Stores to build (internal/store/file.New
// or internal/store/pg.New consume this).
type Config struct {
	Mode        string // "standalone" | "managed"
	WorkDir     string
	PostgresDSN string
}
