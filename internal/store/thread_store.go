package store

import "context"

// ThreadStore is the append-only per-thread log plus its small mutable
// manifest header. Every method that mutates a thread must
// be called while holding that thread's lock via WithLock; implementations
// do not take their own internal per-thread lock beyond what's needed for
// map/index safety, by design — serialization is the caller's
// responsibility, exactly one layer up, in internal/runner.
type ThreadStore interface {
	Create(ctx context.Context, m Manifest) (Manifest, error)
	Get(ctx context.Context, threadID string) (Manifest, error)
	List(ctx context.Context, agentID string) ([]Manifest, error)
	UpdateManifest(ctx context.Context, m Manifest) error
	Delete(ctx context.Context, threadID string) error

	AppendMessage(ctx context.Context, msg Message) error
	LoadMessages(ctx context.Context, threadID string) ([]Message, error)

	AppendEvent(ctx context.Context, ev Event) error
	LoadEvents(ctx context.Context, threadID string) ([]Event, error)

	// WithLock serializes every mutation of a single thread behind a FIFO
	// per-thread lock, the only concurrency primitive the core relies on.
	// fn observes the thread's state as of the moment the lock was
	// acquired; suspension (e.g. on an engine call) inside fn is expected
	// and does not block other threads.
	WithLock(ctx context.Context, threadID string, fn func(ctx context.Context) error) error
}
