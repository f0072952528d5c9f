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

// TaskStore keeps the live task set in a single index file, rewritten
// atomically per mutation (tasks change shape rarely enough that a full
// rewrite is cheap relative to the scheduler's hourly tick), and closed
// tasks in tasks_history.jsonl, append-only — a terminal task never
// reenters the live file.
type TaskStore struct {
	path        string
	historyPath string
	mu          sync.Mutex
}

func NewTaskStore(workDir string) *TaskStore {
	return &TaskStore{
		path:        filepath.Join(workDir, "tasks.json"),
		historyPath: filepath.Join(workDir, "tasks_history.jsonl"),
	}
}

func (s *TaskStore) load() (map[string]store.Task, error) {
	var list []store.Task
	if err := readJSON(s.path, &list); err != nil {
		if os.IsNotExist(err) {
			return map[string]store.Task{}, nil
		}
		return nil, fmt.Errorf("%w: %v", store.ErrStoreCorruption, err)
	}
	m := make(map[string]store.Task, len(list))
	for _, t := range list {
		m[t.ID] = t
	}
	return m, nil
}

func (s *TaskStore) save(m map[string]store.Task) error {
	list := make([]store.Task, 0, len(m))
	for _, t := range m {
		list = append(list, t)
	}
	return writeJSONAtomic(s.path, list)
}

func (s *TaskStore) Create(ctx context.Context, t store.Task) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Task{}, err
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.Status = store.TaskStatusActive
	}
	if t.Status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: cannot create a task in terminal status %s", store.ErrValidation, t.Status)
	}
	if t.Owner == "" {
		t.Owner = store.OwnerUser
	}
	m[t.ID] = t
	if err := s.save(m); err != nil {
		return store.Task{}, err
	}
	return t, nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Task{}, err
	}
	t, ok := m[id]
	if !ok {
		return store.Task{}, store.ErrTaskNotFound
	}
	return t, nil
}

func (s *TaskStore) ListActive(ctx context.Context) ([]store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []store.Task
	for _, t := range m {
		if t.Status == store.TaskStatusActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TaskStore) ListByOwner(ctx context.Context, owner string) ([]store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return nil, err
	}
	var out []store.Task
	for _, t := range m {
		if t.Owner == owner {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TaskStore) Update(ctx context.Context, t store.Task) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Task{}, err
	}
	current, ok := m[t.ID]
	if !ok {
		return store.Task{}, store.ErrTaskNotFound
	}
	if t.Status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: terminal transitions go through Close", store.ErrValidation)
	}
	if err := store.ValidateTaskTransition(current.Status, t.Status); err != nil {
		return store.Task{}, err
	}
	t.CreatedAt = current.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	m[t.ID] = t
	if err := s.save(m); err != nil {
		return store.Task{}, err
	}
	return t, nil
}

func (s *TaskStore) Close(ctx context.Context, id string, status store.TaskStatus) (store.Task, error) {
	if !status.IsTerminal() {
		return store.Task{}, fmt.Errorf("%w: Close requires done or canceled, got %s", store.ErrValidation, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return store.Task{}, err
	}
	closed, err := s.closeLocked(m, id, status)
	if err != nil {
		return store.Task{}, err
	}
	if err := s.save(m); err != nil {
		return store.Task{}, err
	}
	return closed, nil
}

// closeLocked removes id from the live map and appends it to history,
// recursing into step-linked subtasks when the closure is a
// cancellation. Subtasks already closed (or never created) are skipped.
func (s *TaskStore) closeLocked(m map[string]store.Task, id string, status store.TaskStatus) (store.Task, error) {
	t, ok := m[id]
	if !ok {
		return store.Task{}, store.ErrTaskNotFound
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	delete(m, id)
	if err := appendJSONLine(s.historyPath, t); err != nil {
		return store.Task{}, err
	}
	if status == store.TaskStatusCanceled {
		for _, step := range t.Steps {
			if step.TaskID == "" {
				continue
			}
			if _, ok := m[step.TaskID]; !ok {
				continue
			}
			if _, err := s.closeLocked(m, step.TaskID, store.TaskStatusCanceled); err != nil {
				return store.Task{}, err
			}
		}
	}
	return t, nil
}

func (s *TaskStore) ListHistory(ctx context.Context) ([]store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readJSONLines[store.Task](s.historyPath)
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(m, id)
	return s.save(m)
}
