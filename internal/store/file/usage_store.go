package file

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/castellan-dev/castellan/internal/store"
)

// UsageStore is a single append-only usage.jsonl file. Unlike the other
// file stores, it never rewrites — usage records are immutable, so
// O_APPEND is sufficient and cheaper than snapshot-and-rename.
type UsageStore struct {
	path string
	mu   sync.Mutex
}

func NewUsageStore(workDir string) *UsageStore {
	return &UsageStore{path: filepath.Join(workDir, "usage.jsonl")}
}

func (s *UsageStore) Append(ctx context.Context, r store.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendJSONLine(s.path, r)
}

func (s *UsageStore) Query(ctx context.Context, filter store.UsageFilter) ([]store.UsageRecord, error) {
	s.mu.Lock()
	all, err := readJSONLines[store.UsageRecord](s.path)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []store.UsageRecord
	for i := len(all) - 1; i >= 0; i-- {
		r := all[i]
		if filter.AgentID != "" && r.AgentID != filter.AgentID {
			continue
		}
		if filter.ThreadID != "" && r.ThreadID != filter.ThreadID {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *UsageStore) SumByAgent(ctx context.Context, agentID string) (store.UsageTotals, error) {
	records, err := s.Query(ctx, store.UsageFilter{AgentID: agentID})
	if err != nil {
		return store.UsageTotals{}, err
	}
	var t store.UsageTotals
	for _, r := range records {
		t.InputTokens += int64(r.InputTokens)
		t.OutputTokens += int64(r.OutputTokens)
		t.CacheReadTokens += int64(r.CacheReadTokens)
		t.CacheCreationTokens += int64(r.CacheCreationTokens)
		t.CostUSD += r.CostUSD
		t.TurnCount++
	}
	return t, nil
}
