package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/castellan-dev/castellan/internal/store"
)

// TriggerStore keeps all triggers in a single triggers.json index,
// rewritten atomically. SetLastRun changes only LastRun and UpdatedAt, but
// under the same lock and with the same full-file rewrite as trigger CRUD.
type TriggerStore struct {
	path string
	mu   sync.Mutex
}

func NewTriggerStore(workDir string) *TriggerStore {
	return &TriggerStore{path: filepath.Join(workDir, "triggers.json")}
}

func (s *TriggerStore) load() (map[string]store.Trigger, error) {
	var list []store.Trigger
	if err := readJSON(s.path, &list); err != nil {
		if os.IsNotExist(err) {
			return map[string]store.Trigger{}, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	m := make(map[string]store.Trigger, len(list))
	for _, t := range list {
		m[t.ID] = t
	}
	return m, nil
}

func (s *TriggerStore) save(m map[string]store.Trigger) error {
	list := make([]store.Trigger, 0, len(m))
	for _, t := range m {
		list = append(list, t)
	}
	return writeJSONAtomic(s.path, list)
}

func (s *TriggerStore) Create(ctx context.Context, t store.Trigger) (store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Trigger{}, err
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	m[t.ID] = t
	if err := s.save(m); err != nil {
		return store.Trigger{}, err
	}
	return t, nil
}

func (s *TriggerStore) Get(ctx context.Context, id string) (store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Trigger{}, err
	}
	t, ok := m[id]
	if !ok {
		return store.Trigger{}, store.ErrTriggerNotFound
	}
	return t, nil
}

func (s *TriggerStore) List(ctx context.Context) ([]store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]store.Trigger, 0, len(m))
	for _, t := range m {
		out = append(out, t)
	}
	return out, nil
}

func (s *TriggerStore) ListEnabled(ctx context.Context) ([]store.Trigger, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TriggerStore) Update(ctx context.Context, t store.Trigger) (store.Trigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Trigger{}, err
	}
	current, ok := m[t.ID]
	if !ok {
		return store.Trigger{}, store.ErrTriggerNotFound
	}
	t.CreatedAt = current.CreatedAt
	// LastRun only moves through SetLastRun; a field edit never rewinds
	// or advances the at-most-once bookkeeping.
	t.LastRun = current.LastRun
	t.UpdatedAt = time.Now().UTC()
	m[t.ID] = t
	if err := s.save(m); err != nil {
		return store.Trigger{}, err
	}
	return t, nil
}

func (s *TriggerStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return store.ErrTriggerNotFound
	}
	delete(m, id)
	return s.save(m)
}

func (s *TriggerStore) SetLastRun(ctx context.Context, id string, lastRun *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	t, ok := m[id]
	if !ok {
		return store.ErrTriggerNotFound
	}
	t.LastRun = lastRun
	t.UpdatedAt = time.Now().UTC()
	m[id] = t
	return s.save(m)
}
