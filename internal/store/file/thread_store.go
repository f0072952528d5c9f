package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/castellan-dev/castellan/internal/store"
)

// ThreadStore is the standalone-mode store.ThreadStore: one subdirectory
// per thread under <workDir>/threads/<id>/, holding manifest.json
// (rewritten atomically on every UpdateManifest) plus messages.jsonl and
// events.jsonl (append-only).
type ThreadStore struct {
	dir   string
	locks *lockRegistry
}

func NewThreadStore(workDir string) *ThreadStore {
	return &ThreadStore{
		dir:   filepath.Join(workDir, "threads"),
		locks: newLockRegistry(),
	}
}

func (s *ThreadStore) threadDir(id string) string { return filepath.Join(s.dir, id) }
func (s *ThreadStore) manifestPath(id string) string {
	return filepath.Join(s.threadDir(id), "manifest.json")
}
func (s *ThreadStore) messagesPath(id string) string {
	return filepath.Join(s.threadDir(id), "messages.jsonl")
}
func (s *ThreadStore) eventsPath(id string) string {
	return filepath.Join(s.threadDir(id), "events.jsonl")
}

func (s *ThreadStore) Create(ctx context.Context, m store.Manifest) (store.Manifest, error) {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := writeJSONAtomic(s.manifestPath(m.ID), m); err != nil {
		return store.Manifest{}, err
	}
	return m, nil
}

func (s *ThreadStore) Get(ctx context.Context, threadID string) (store.Manifest, error) {
	var m store.Manifest
	if err := readJSON(s.manifestPath(threadID), &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.Manifest{}, store.ErrThreadNotFound
		}
		return store.Manifest{}, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	return m, nil
}

func (s *ThreadStore) List(ctx context.Context, agentID string) ([]store.Manifest, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []store.Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.Get(ctx, e.Name())
		if err != nil {
			continue
		}
		if agentID == "" || m.AgentID == agentID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *ThreadStore) UpdateManifest(ctx context.Context, m store.Manifest) error {
	m.UpdatedAt = time.Now().UTC()
	return writeJSONAtomic(s.manifestPath(m.ID), m)
}

func (s *ThreadStore) Delete(ctx context.Context, threadID string) error {
	if err := os.RemoveAll(s.threadDir(threadID)); err != nil {
		return fmt.Errorf("file store: delete thread %s: %w", threadID, err)
	}
	return nil
}

func (s *ThreadStore) AppendMessage(ctx context.Context, msg store.Message) error {
	return appendJSONLine(s.messagesPath(msg.ThreadID), msg)
}

func (s *ThreadStore) LoadMessages(ctx context.Context, threadID string) ([]store.Message, error) {
	return readJSONLines[store.Message](s.messagesPath(threadID))
}

func (s *ThreadStore) AppendEvent(ctx context.Context, ev store.Event) error {
	return appendJSONLine(s.eventsPath(ev.ThreadID), ev)
}

func (s *ThreadStore) LoadEvents(ctx context.Context, threadID string) ([]store.Event, error) {
	return readJSONLines[store.Event](s.eventsPath(threadID))
}

// WithLock acquires the thread's FIFO mutex, runs fn, and always releases
// it afterward even if fn panics or returns an error. Suspension inside fn
// (e.g. an in-flight engine call) only blocks other callers targeting the
// same thread ID.
func (s *ThreadStore) WithLock(ctx context.Context, threadID string, fn func(ctx context.Context) error) error {
	l := s.locks.acquire(threadID)
	defer s.locks.release(threadID, l)
	return fn(ctx)
}
