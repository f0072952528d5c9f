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

// AgentStore keeps every agent record in a single agents.json index file,
// rewritten atomically on each mutation — the whole-file-snapshot
// technique from internal/sessions.Manager.Save, appropriate here because
// the agent catalog is small and read far more often than written.
type AgentStore struct {
	path string
	mu   sync.Mutex
}

func NewAgentStore(workDir string) *AgentStore {
	return &AgentStore{path: filepath.Join(workDir, "agents.json")}
}

func (s *AgentStore) load() (map[string]store.Agent, error) {
	var list []store.Agent
	if err := readJSON(s.path, &list); err != nil {
		if os.IsNotExist(err) {
			return map[string]store.Agent{}, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	m := make(map[string]store.Agent, len(list))
	for _, a := range list {
		m[a.ID] = a
	}
	return m, nil
}

func (s *AgentStore) save(m map[string]store.Agent) error {
	list := make([]store.Agent, 0, len(m))
	for _, a := range m {
		list = append(list, a)
	}
	return writeJSONAtomic(s.path, list)
}

func (s *AgentStore) Create(ctx context.Context, a store.Agent) (store.Agent, error) {
	if err := store.ValidateAgent(a); err != nil {
		return store.Agent{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Agent{}, err
	}
	if _, exists := m[a.ID]; exists {
		return store.Agent{}, fmt.Errorf("%w: agent %s already exists", store.ErrValidation, a.ID)
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	m[a.ID] = a
	if err := s.save(m); err != nil {
		return store.Agent{}, err
	}
	return a, nil
}

func (s *AgentStore) Get(ctx context.Context, key string) (store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Agent{}, err
	}
	for _, a := range m {
		if a.Key == key {
			return a, nil
		}
	}
	return store.Agent{}, store.ErrAgentNotFound
}

func (s *AgentStore) GetByID(ctx context.Context, id string) (store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Agent{}, err
	}
	a, ok := m[id]
	if !ok {
		return store.Agent{}, store.ErrAgentNotFound
	}
	return a, nil
}

func (s *AgentStore) List(ctx context.Context) ([]store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]store.Agent, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	return out, nil
}

func (s *AgentStore) Update(ctx context.Context, a store.Agent, opts store.UpdateOpts) (store.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Agent{}, err
	}
	current, ok := m[a.ID]
	if !ok {
		return store.Agent{}, store.ErrAgentNotFound
	}
	next, err := store.ApplyProtectedFieldPolicy(current, a, opts)
	if err != nil {
		return store.Agent{}, err
	}
	if err := store.ValidateAgent(next); err != nil {
		return store.Agent{}, err
	}
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	m[a.ID] = next
	if err := s.save(m); err != nil {
		return store.Agent{}, err
	}
	return next, nil
}

func (s *AgentStore) Delete(ctx context.Context, id string) error {
	if store.IsProtectedAgentID(id) {
		return store.ErrProtectedAgent
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return store.ErrAgentNotFound
	}
	delete(m, id)
	return s.save(m)
}
